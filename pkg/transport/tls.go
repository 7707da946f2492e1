package transport

import (
	"crypto/sha1"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// PinSize is the length of a certificate pin in bytes.
const PinSize = sha1.Size

// Pin is the SHA-1 hash of a peer's leaf certificate (DER).
// The zero value means no pin is configured.
type Pin [PinSize]byte

// ParsePin decodes a 40-character hex pin. Colons and spaces are ignored.
// An empty string yields the zero Pin.
func ParsePin(s string) (Pin, error) {
	var p Pin
	s = strings.NewReplacer(":", "", " ", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return p, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return p, fmt.Errorf("pin: %w", err)
	}
	if len(b) != PinSize {
		return p, fmt.Errorf("pin: got %d bytes, want %d", len(b), PinSize)
	}
	copy(p[:], b)
	return p, nil
}

// PinOf returns the pin of cert.
func PinOf(cert *x509.Certificate) Pin {
	return Pin(sha1.Sum(cert.Raw))
}

// IsZero reports whether no pin is set.
func (p Pin) IsZero() bool {
	return p == Pin{}
}

// String returns the hex encoding.
func (p Pin) String() string {
	return hex.EncodeToString(p[:])
}

// Matches reports whether cert hashes to p.
func (p Pin) Matches(cert *x509.Certificate) bool {
	got := PinOf(cert)
	return subtle.ConstantTimeCompare(got[:], p[:]) == 1
}

// VerifyPin returns a tls.Config VerifyConnection callback that rejects any
// peer whose leaf certificate does not match pin. It fails closed: a
// handshake without a peer certificate is rejected.
func VerifyPin(pin Pin) func(tls.ConnectionState) error {
	return func(state tls.ConnectionState) error {
		if len(state.PeerCertificates) == 0 {
			return fmt.Errorf("%w: no peer certificate", ErrPinMismatch)
		}
		leaf := state.PeerCertificates[0]
		if !pin.Matches(leaf) {
			return fmt.Errorf("%w: got %s", ErrPinMismatch, PinOf(leaf))
		}
		return nil
	}
}

// pinGuard records a pin rejection so it can be recognised after the
// client stack has wrapped the handshake error.
type pinGuard struct {
	failed atomic.Bool
}

func (g *pinGuard) verify(pin Pin) func(tls.ConnectionState) error {
	check := VerifyPin(pin)
	return func(state tls.ConnectionState) error {
		if err := check(state); err != nil {
			g.failed.Store(true)
			return err
		}
		return nil
	}
}

// clientTLSConfig builds the TLS configuration for connecting to host.
//
// The base config is cloned. With a pin and no base config, chain
// verification is skipped and the pin authenticates the peer; with both,
// chain verification and the pin must pass.
func clientTLSConfig(base *tls.Config, host string, pin Pin, guard *pinGuard) *tls.Config {
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.X25519,
				tls.CurveP256,
			},
		}
		if !pin.IsZero() {
			cfg.InsecureSkipVerify = true
		}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	if !pin.IsZero() {
		verify := VerifyPin(pin)
		if guard != nil {
			verify = guard.verify(pin)
		}
		if prev := cfg.VerifyConnection; prev != nil {
			cfg.VerifyConnection = func(state tls.ConnectionState) error {
				if err := prev(state); err != nil {
					return err
				}
				return verify(state)
			}
		} else {
			cfg.VerifyConnection = verify
		}
	}
	return cfg
}

// isTLSError reports whether err came from a TLS handshake.
func isTLSError(err error) bool {
	var (
		recErr    tls.RecordHeaderError
		verifyErr *tls.CertificateVerificationError
		alertErr  tls.AlertError
		unknownCA x509.UnknownAuthorityError
		hostErr   x509.HostnameError
		invalid   x509.CertificateInvalidError
	)
	return errors.As(err, &recErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &unknownCA) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalid)
}
