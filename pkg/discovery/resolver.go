package discovery

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/rlink-protocol/rlink-go/pkg/transport"
)

// Domain is the mDNS browse domain.
const Domain = "local."

// ErrNotFound is returned when no instance answered before the timeout.
var ErrNotFound = errors.New("discovery: service not found")

// ServiceName is a parsed DNS-SD instance host.
type ServiceName struct {
	Instance string // e.g. "ops-controller"
	Service  string // e.g. "_rlink._tcp"
}

// String returns the host form of n.
func (n ServiceName) String() string {
	return n.Instance + "." + n.Service + ".local"
}

// ParseServiceHost splits host into instance and service type. It reports
// false for hosts that are not DNS-SD instance names.
func ParseServiceHost(host string) (ServiceName, bool) {
	host = strings.TrimSuffix(host, ".")
	const suffix = ".local"
	if len(host) <= len(suffix) || !strings.EqualFold(host[len(host)-len(suffix):], suffix) {
		return ServiceName{}, false
	}
	rest := host[:len(host)-len(suffix)]

	i := strings.Index(rest, "._")
	if i <= 0 {
		return ServiceName{}, false
	}
	service := rest[i+1:]
	labels := strings.Split(service, ".")
	if len(labels) != 2 || len(labels[0]) < 2 || labels[0][0] != '_' {
		return ServiceName{}, false
	}
	switch strings.ToLower(labels[1]) {
	case "_tcp", "_udp":
	default:
		return ServiceName{}, false
	}
	return ServiceName{Instance: rest[:i], Service: strings.ToLower(service)}, true
}

// ServiceEntry is one browse answer.
type ServiceEntry struct {
	Instance string
	Service  string
	Host     string
	Port     uint16
	Text     []string
	Addrs    []string
}

// preferredAddress returns the first IPv4 address, or the first address.
func preferredAddress(addrs []string) string {
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a
		}
	}
	if len(addrs) > 0 {
		return addrs[0]
	}
	return ""
}

// StaticResolver maps host names to fixed addresses. Unmapped hosts go
// to Next, or are returned unchanged when Next is nil.
type StaticResolver struct {
	Hosts map[string]string
	Next  transport.Resolver
}

// Resolve implements transport.Resolver.
func (r *StaticResolver) Resolve(ctx context.Context, host, port string) (string, error) {
	for name, addr := range r.Hosts {
		if strings.EqualFold(name, host) {
			return addr, nil
		}
	}
	if r.Next != nil {
		return r.Next.Resolve(ctx, host, port)
	}
	return host, nil
}

var _ transport.Resolver = (*StaticResolver)(nil)
