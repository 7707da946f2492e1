package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rlink-protocol/rlink-go/pkg/log"
	"github.com/rlink-protocol/rlink-go/pkg/packet"
)

// Default connection parameters.
const (
	DefaultConnectTimeout   = 30 * time.Second
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultWriteTimeout     = 30 * time.Second
	DefaultUserAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// Transport is the capability set every variant implements.
//
// Connect, Init, Deinit, Reset and Destroy are called by the owning
// session's server goroutine while it holds the session's usage lock
// exclusively. Receive and Dispatch run on the same goroutine without the
// lock. Transmit may be called from any goroutine with the lock held shared.
type Transport interface {
	// Kind returns the variant tag.
	Kind() Kind

	// URL returns the full endpoint descriptor.
	URL() string

	// Schedule returns the shared timestamps and timing parameters.
	Schedule() *Schedule

	// Socket returns the underlying connection, if one exists.
	Socket() (net.Conn, bool)

	// Connect obtains a live connection for Init. Variants whose
	// connections live inside a client stack return nil.
	Connect(ctx context.Context) (net.Conn, error)

	// Init binds conn and performs any handshake. Ownership of conn passes
	// to the transport on entry; on failure it has been closed and the
	// transport is back in its pre-init state.
	Init(ctx context.Context, s Session, conn net.Conn) error

	// Deinit tears down the live connection, keeping configuration.
	Deinit(s Session) error

	// Reset returns the transport to a pre-connection state for a fresh
	// attempt without freeing it.
	Reset()

	// Destroy releases everything. The transport is unusable afterwards.
	Destroy(s Session)

	// Dispatch receives and routes packets until the transport fails or
	// ctx ends.
	Dispatch(ctx context.Context, s Session) (DispatchResult, error)

	// Transmit sends exactly one packet. A supplied completion is always
	// resolved before Transmit returns.
	Transmit(ctx context.Context, s Session, p packet.Packet, c packet.Completion) error

	// Receive blocks until one complete packet is available. It returns
	// ErrNoPacket for an empty poll, ErrExpired at the expiration deadline,
	// and a classified *Error otherwise.
	Receive(ctx context.Context, s Session) (packet.Packet, error)

	// Info returns a snapshot for listing.
	Info() Info
}

// Session is what a transport needs from its owning session.
type Session interface {
	// ID returns the session identifier.
	ID() string

	// Codec returns the packet codec.
	Codec() packet.Codec

	// Encrypt seals an encoded packet. Callers already hold the session's
	// usage lock shared.
	Encrypt(plaintext []byte) ([]byte, error)

	// Decrypt opens a received frame. It takes the usage lock shared.
	Decrypt(ciphertext []byte) ([]byte, error)

	// Deliver hands a received packet to the dispatch layer.
	Deliver(ctx context.Context, p packet.Packet) error
}

// DispatchResult tells the session how a dispatch loop ended.
type DispatchResult uint8

const (
	// DispatchContinue means the transport is healthy; the loop ended
	// because the session asked it to.
	DispatchContinue DispatchResult = iota

	// DispatchStop means the transport failed or expired; the session
	// must evaluate failover.
	DispatchStop
)

// String returns the result name.
func (r DispatchResult) String() string {
	if r == DispatchStop {
		return "stop"
	}
	return "continue"
}

// Dialer opens network connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Resolver maps a descriptor host to a dialable host before connecting.
type Resolver interface {
	Resolve(ctx context.Context, host, port string) (string, error)
}

// Proxy is an HTTP proxy with optional credentials.
type Proxy struct {
	// URL is the proxy address, e.g. "http://proxy:8080".
	URL  string
	User string
	Pass string
}

// url returns the proxy URL with credentials attached.
func (p *Proxy) url() (*url.URL, error) {
	raw := p.URL
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy %q has no host", p.URL)
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Pass)
	}
	return u, nil
}

// Options configures a transport. Zero values take defaults, except
// Timeouts: a zero CommsTimeout disables the idle timeout and a zero
// RetryTotal allows a single connect attempt. Use DefaultTimeouts for
// the stock timings.
type Options struct {
	Timeouts Timeouts

	// TLSConfig is cloned for TLS kinds. When nil and a pin is set,
	// chain verification is skipped and the pin alone authenticates the
	// peer.
	TLSConfig *tls.Config

	// Pin is the expected SHA-1 of the peer's leaf certificate.
	Pin Pin

	// Request/response and WebSocket kinds only.
	UserAgent string
	Proxy     *Proxy
	Headers   http.Header

	// Stream kind only: a bound socket belongs to the caller and is
	// detached rather than closed.
	Bound bool

	Dialer         Dialer
	Resolver       Resolver
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	MaxPacketSize  uint32

	// Idle poll bounds for the request/response kind.
	PollMin time.Duration
	PollMax time.Duration

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.MaxPacketSize == 0 {
		o.MaxPacketSize = DefaultMaxMessageSize
	}
	if o.Dialer == nil {
		o.Dialer = &net.Dialer{Timeout: o.ConnectTimeout, KeepAlive: 30 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.ProtocolLogger = log.OrNoop(o.ProtocolLogger)
	return o
}

// Info is a point-in-time description of a transport.
type Info struct {
	Kind          Kind
	URL           string
	Connected     bool
	ConnectionID  string
	RemoteAddr    string
	LastPacket    time.Time
	ExpirationEnd time.Time
	Timeouts      Timeouts
	Pinned        bool
	Proxy         string
}

// New parses raw and constructs the matching transport variant.
// A malformed descriptor yields a ConfigurationError and no transport.
func New(raw string, opts Options) (Transport, error) {
	d, err := ParseDescriptor(raw)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	if opts.Proxy != nil && d.Kind == KindStream {
		return nil, NewError(ConfigurationError, "new", raw, fmt.Errorf("proxy not supported for %s", d.Scheme))
	}
	var proxy *url.URL
	if opts.Proxy != nil {
		if proxy, err = opts.Proxy.url(); err != nil {
			return nil, NewError(ConfigurationError, "new", raw, fmt.Errorf("proxy: %w", err))
		}
	}

	switch d.Kind {
	case KindStream:
		return newStream(d, opts), nil
	case KindHTTP:
		return newHTTP(d, opts, proxy), nil
	case KindWebSocket:
		return newWebSocket(d, opts, proxy), nil
	default:
		return nil, NewError(ConfigurationError, "new", raw, ErrUnsupportedScheme)
	}
}
