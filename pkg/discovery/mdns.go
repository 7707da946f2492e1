package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/rlink-protocol/rlink-go/pkg/transport"
)

// Default resolver parameters.
const (
	DefaultBrowseTimeout = 5 * time.Second
	DefaultCacheTTL      = 2 * time.Minute
)

// BrowseFunc streams answers for service to found until ctx ends. It must
// not block sending once ctx is done.
type BrowseFunc func(ctx context.Context, service string, found chan<- ServiceEntry) error

// ResolverConfig configures an MDNSResolver.
type ResolverConfig struct {
	// Interface limits browsing to one network interface.
	// Empty means all interfaces.
	Interface string

	// BrowseTimeout bounds one lookup. Default: 5 seconds.
	BrowseTimeout time.Duration

	// CacheTTL is how long a resolved address is reused. Zero takes the
	// default; a negative value disables caching.
	CacheTTL time.Duration

	// Browse replaces the zeroconf browser. Set this in tests.
	Browse BrowseFunc

	Logger *slog.Logger
}

type cacheEntry struct {
	addr    string
	expires time.Time
}

// MDNSResolver resolves DNS-SD instance hosts using zeroconf.
type MDNSResolver struct {
	config ResolverConfig
	browse BrowseFunc
	logger *slog.Logger

	mu    sync.Mutex
	cache map[ServiceName]cacheEntry
}

// NewMDNSResolver creates a new mDNS resolver.
func NewMDNSResolver(config ResolverConfig) *MDNSResolver {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	r := &MDNSResolver{
		config: config,
		browse: config.Browse,
		logger: config.Logger,
		cache:  make(map[ServiceName]cacheEntry),
	}
	if r.browse == nil {
		r.browse = r.zeroconfBrowse
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Resolve implements transport.Resolver. Hosts that are not DNS-SD
// instance names are returned unchanged.
func (r *MDNSResolver) Resolve(ctx context.Context, host, port string) (string, error) {
	name, ok := ParseServiceHost(host)
	if !ok {
		return host, nil
	}
	if addr, ok := r.cached(name, time.Now()); ok {
		return addr, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.BrowseTimeout)
	defer cancel()

	found := make(chan ServiceEntry)
	errc := make(chan error, 1)
	go func() { errc <- r.browse(ctx, name.Service, found) }()

	for {
		select {
		case entry := <-found:
			if !strings.EqualFold(entry.Instance, name.Instance) {
				continue
			}
			addr := preferredAddress(entry.Addrs)
			if addr == "" {
				continue
			}
			r.store(name, addr, time.Now())
			r.logger.Debug("resolved service instance",
				"host", host, "addr", addr, "advertised_port", entry.Port, "port", port)
			return addr, nil

		case err := <-errc:
			if err != nil {
				return "", fmt.Errorf("discovery: browse %s: %w", name.Service, err)
			}
			// Browsing continues in the background until ctx ends.
			errc = nil

		case <-ctx.Done():
			return "", fmt.Errorf("%w: %s", ErrNotFound, host)
		}
	}
}

// Flush drops every cached address.
func (r *MDNSResolver) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.cache)
}

func (r *MDNSResolver) cached(name ServiceName, now time.Time) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[name]
	if !ok || !now.Before(e.expires) {
		delete(r.cache, name)
		return "", false
	}
	return e.addr, true
}

func (r *MDNSResolver) store(name ServiceName, addr string, now time.Time) {
	if r.config.CacheTTL < 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[name] = cacheEntry{addr: addr, expires: now.Add(r.config.CacheTTL)}
}

// zeroconfBrowse browses with zeroconf and converts its entries.
func (r *MDNSResolver) zeroconfBrowse(ctx context.Context, service string, found chan<- ServiceEntry) error {
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		gone := removed
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				select {
				case found <- entryFromZeroconf(entry, service):
				case <-ctx.Done():
					return
				}
			case _, ok := <-gone:
				if !ok {
					gone = nil
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return zeroconf.Browse(ctx, service, Domain, entries, removed, r.browserOptions()...)
}

// browserOptions returns zeroconf client options based on config.
func (r *MDNSResolver) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if r.config.Interface != "" {
		iface, err := net.InterfaceByName(r.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		} else {
			r.logger.Warn("mdns interface not found", "interface", r.config.Interface, "err", err)
		}
	}
	return opts
}

func entryFromZeroconf(entry *zeroconf.ServiceEntry, service string) ServiceEntry {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return ServiceEntry{
		Instance: entry.Instance,
		Service:  service,
		Host:     entry.HostName,
		Port:     uint16(entry.Port),
		Text:     entry.Text,
		Addrs:    addrs,
	}
}

var _ transport.Resolver = (*MDNSResolver)(nil)
