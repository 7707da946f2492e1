package transport

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Descriptor is a parsed endpoint descriptor such as
// "tls://controller.example:4444" or "https://controller.example/abc/".
type Descriptor struct {
	Raw    string
	Kind   Kind
	Scheme string
	TLS    bool
	Host   string
	Port   string

	// Path includes the query string, if any. Empty for stream kinds.
	Path string
}

// ParseDescriptor parses raw into a Descriptor.
// Malformed input yields a ConfigurationError.
func ParseDescriptor(raw string) (Descriptor, error) {
	fail := func(format string, args ...any) (Descriptor, error) {
		return Descriptor{}, NewError(ConfigurationError, "parse", raw,
			fmt.Errorf("%w: %s", ErrInvalidDescriptor, fmt.Sprintf(format, args...)))
	}

	if strings.TrimSpace(raw) == "" {
		return fail("empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fail("%v", err)
	}

	scheme := strings.ToLower(u.Scheme)
	info, ok := schemes[scheme]
	if !ok {
		return Descriptor{}, NewError(ConfigurationError, "parse", raw,
			fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme))
	}
	if u.User != nil {
		return fail("credentials in descriptor")
	}

	host := u.Hostname()
	if host == "" {
		return fail("missing host")
	}

	port := u.Port()
	if port == "" {
		if info.defaultPort == "" {
			return fail("%s requires an explicit port", scheme)
		}
		port = info.defaultPort
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return fail("bad port %q", port)
	}

	d := Descriptor{
		Raw:    raw,
		Kind:   info.kind,
		Scheme: scheme,
		TLS:    info.tls,
		Host:   host,
		Port:   port,
	}

	if info.kind != KindStream {
		d.Path = u.EscapedPath()
		if d.Path == "" {
			d.Path = "/"
		}
		if u.RawQuery != "" {
			d.Path += "?" + u.RawQuery
		}
	} else if p := u.EscapedPath(); p != "" && p != "/" {
		return fail("stream descriptor has a path")
	}

	return d, nil
}

// Address returns host:port.
func (d Descriptor) Address() string {
	return net.JoinHostPort(d.Host, d.Port)
}

// URL returns the request URL for HTTP and WebSocket kinds.
func (d Descriptor) URL() string {
	return d.Scheme + "://" + d.Address() + d.Path
}

// String returns the raw descriptor.
func (d Descriptor) String() string {
	return d.Raw
}
