package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rlink-protocol/rlink-go/pkg/crypto"
	"github.com/rlink-protocol/rlink-go/pkg/transport"
)

// Default timings in seconds.
const (
	DefaultCommsTimeout = 300
	DefaultRetryTotal   = 3600
	DefaultRetryWait    = 10
)

// DiscoveryMDNS enables DNS-SD host resolution.
const DiscoveryMDNS = "mdns"

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the agent configuration.
type Config struct {
	Session    SessionConfig     `yaml:"session" toml:"session"`
	Transports []TransportConfig `yaml:"transports" toml:"transports"`

	// Hosts maps descriptor hosts to fixed addresses ahead of discovery.
	Hosts map[string]string `yaml:"hosts,omitempty" toml:"hosts,omitempty"`
}

// SessionConfig holds session-wide settings.
type SessionConfig struct {
	// Expiration is seconds from start until the session terminates.
	// Zero means never.
	Expiration int `yaml:"expiration" toml:"expiration"`

	// Cipher names the negotiated cipher. Empty sends plaintext.
	Cipher string `yaml:"cipher,omitempty" toml:"cipher,omitempty"`
	// CipherKey is the hex negotiation initializer.
	CipherKey string `yaml:"cipher_key,omitempty" toml:"cipher_key,omitempty"`

	LogLevel    string `yaml:"log_level,omitempty" toml:"log_level,omitempty"`
	ProtocolLog string `yaml:"protocol_log,omitempty" toml:"protocol_log,omitempty"`
	// ProtocolLogMaxSize rotates the capture file past this many bytes.
	ProtocolLogMaxSize int64 `yaml:"protocol_log_max_size,omitempty" toml:"protocol_log_max_size,omitempty"`
	ProtocolLogBackups int   `yaml:"protocol_log_backups,omitempty" toml:"protocol_log_backups,omitempty"`

	Metrics     bool   `yaml:"metrics" toml:"metrics"`
	MetricsAddr string `yaml:"metrics_addr,omitempty" toml:"metrics_addr,omitempty"`

	Discovery string `yaml:"discovery,omitempty" toml:"discovery,omitempty"`
	Interface string `yaml:"interface,omitempty" toml:"interface,omitempty"`
}

// TransportConfig describes one transport. Nil timings take defaults.
type TransportConfig struct {
	URL          string `yaml:"url" toml:"url"`
	CommsTimeout *int   `yaml:"comms_timeout,omitempty" toml:"comms_timeout,omitempty"`
	RetryTotal   *int   `yaml:"retry_total,omitempty" toml:"retry_total,omitempty"`
	RetryWait    *int   `yaml:"retry_wait,omitempty" toml:"retry_wait,omitempty"`

	UserAgent string            `yaml:"user_agent,omitempty" toml:"user_agent,omitempty"`
	Proxy     *ProxyConfig      `yaml:"proxy,omitempty" toml:"proxy,omitempty"`
	CertPin   string            `yaml:"cert_pin,omitempty" toml:"cert_pin,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty" toml:"headers,omitempty"`

	MaxPacketSize uint32 `yaml:"max_packet_size,omitempty" toml:"max_packet_size,omitempty"`
}

// ProxyConfig is an HTTP proxy with optional credentials.
type ProxyConfig struct {
	Host string `yaml:"host" toml:"host"`
	User string `yaml:"user,omitempty" toml:"user,omitempty"`
	Pass string `yaml:"pass,omitempty" toml:"pass,omitempty"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Session.LogLevel == "" {
		c.Session.LogLevel = "info"
	}
	for i := range c.Transports {
		t := &c.Transports[i]
		t.URL = strings.TrimSpace(t.URL)
		if t.CommsTimeout == nil {
			t.CommsTimeout = intPtr(DefaultCommsTimeout)
		}
		if t.RetryTotal == nil {
			t.RetryTotal = intPtr(DefaultRetryTotal)
		}
		if t.RetryWait == nil {
			t.RetryWait = intPtr(DefaultRetryWait)
		}
		if t.UserAgent == "" {
			t.UserAgent = transport.DefaultUserAgent
		}
	}
}

// Validate checks the configuration. Every failure wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	if len(c.Transports) == 0 {
		fail("at least one transport is required")
	}
	if c.Session.Expiration < 0 {
		fail("session.expiration must not be negative")
	}
	if _, err := c.LogLevel(); err != nil {
		fail("session.log_level: %v", err)
	}
	if c.Session.ProtocolLogMaxSize < 0 || c.Session.ProtocolLogBackups < 0 {
		fail("session.protocol_log rotation limits must not be negative")
	}
	switch c.Session.Discovery {
	case "", DiscoveryMDNS:
	default:
		fail("session.discovery: unknown resolver %q", c.Session.Discovery)
	}
	if c.Session.Cipher != "" {
		if key, err := c.CipherInitializer(); err != nil {
			fail("session.cipher_key: %v", err)
		} else if _, err := crypto.Negotiate(c.Session.Cipher, key); err != nil {
			fail("session.cipher: %v", err)
		}
	}

	for i, t := range c.Transports {
		d, err := transport.ParseDescriptor(t.URL)
		if err != nil {
			fail("transports[%d].url: %v", i, err)
			continue
		}
		for name, v := range map[string]*int{
			"comms_timeout": t.CommsTimeout,
			"retry_total":   t.RetryTotal,
			"retry_wait":    t.RetryWait,
		} {
			if v != nil && *v < 0 {
				fail("transports[%d].%s must not be negative", i, name)
			}
		}
		if t.CertPin != "" {
			if _, err := transport.ParsePin(t.CertPin); err != nil {
				fail("transports[%d].cert_pin: %v", i, err)
			}
		}
		if t.Proxy != nil {
			if d.Kind == transport.KindStream {
				fail("transports[%d].proxy: not supported for %s", i, d.Scheme)
			} else if strings.TrimSpace(t.Proxy.Host) == "" {
				fail("transports[%d].proxy.host is required", i)
			}
		}
	}
	return errors.Join(errs...)
}

// LogLevel parses session.log_level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if c.Session.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.Session.LogLevel)); err != nil {
		return 0, err
	}
	return level, nil
}

// CipherInitializer decodes session.cipher_key.
func (c *Config) CipherInitializer() ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(c.Session.CipherKey))
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if len(key) == 0 {
		return nil, errors.New("required when a cipher is set")
	}
	return key, nil
}

// Timeouts returns the timing parameters of transport i.
func (c *Config) Timeouts(i int) transport.Timeouts {
	t := c.Transports[i]
	return transport.Timeouts{
		CommsTimeout: seconds(t.CommsTimeout, DefaultCommsTimeout),
		RetryTotal:   seconds(t.RetryTotal, DefaultRetryTotal),
		RetryWait:    seconds(t.RetryWait, DefaultRetryWait),
		Expiration:   time.Duration(c.Session.Expiration) * time.Second,
	}
}

// TransportOptions converts each transport entry to transport.Options, in
// order. Loggers, dialers and resolvers are left for the caller.
func (c *Config) TransportOptions() ([]transport.Options, error) {
	out := make([]transport.Options, 0, len(c.Transports))
	for i, t := range c.Transports {
		opts := transport.Options{
			Timeouts:      c.Timeouts(i),
			UserAgent:     t.UserAgent,
			MaxPacketSize: t.MaxPacketSize,
		}
		if t.CertPin != "" {
			pin, err := transport.ParsePin(t.CertPin)
			if err != nil {
				return nil, fmt.Errorf("%w: transports[%d].cert_pin: %v", ErrInvalidConfig, i, err)
			}
			opts.Pin = pin
		}
		if t.Proxy != nil {
			opts.Proxy = &transport.Proxy{URL: t.Proxy.Host, User: t.Proxy.User, Pass: t.Proxy.Pass}
		}
		if len(t.Headers) > 0 {
			opts.Headers = make(http.Header, len(t.Headers))
			for k, v := range t.Headers {
				opts.Headers.Set(k, v)
			}
		}
		out = append(out, opts)
	}
	return out, nil
}

func seconds(v *int, def int) time.Duration {
	if v == nil {
		return time.Duration(def) * time.Second
	}
	return time.Duration(*v) * time.Second
}

func intPtr(v int) *int { return &v }
