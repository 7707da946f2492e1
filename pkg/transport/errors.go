package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// ErrorKind classifies transport failures for the retry state machine.
type ErrorKind int

const (
	// ConnectFailure means no live connection could be obtained.
	ConnectFailure ErrorKind = iota + 1

	// HandshakeFailure means TLS negotiation or certificate-pin
	// verification failed.
	HandshakeFailure

	// IoTimeout means no traffic arrived within the comms timeout.
	IoTimeout

	// IoFailure means a read or write failed mid-stream.
	IoFailure

	// ConfigurationError means the transport could not be constructed.
	ConfigurationError
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case ConnectFailure:
		return "ConnectFailure"
	case HandshakeFailure:
		return "HandshakeFailure"
	case IoTimeout:
		return "IoTimeout"
	case IoFailure:
		return "IoFailure"
	case ConfigurationError:
		return "ConfigurationError"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Transport status errors. These are not failures of the connection and
// carry no ErrorKind.
var (
	// ErrNoPacket means a poll completed without data.
	ErrNoPacket = errors.New("transport: no packet")

	// ErrExpired means the absolute expiration deadline was reached.
	ErrExpired = errors.New("transport: session expired")
)

// Transport errors.
var (
	ErrPinMismatch       = errors.New("transport: certificate pin mismatch")
	ErrNotInitialized    = errors.New("transport: not initialized")
	ErrDestroyed         = errors.New("transport: destroyed")
	ErrUnsupportedScheme = errors.New("transport: unsupported scheme")
	ErrInvalidDescriptor = errors.New("transport: invalid endpoint descriptor")
	ErrPeerClosed        = errors.New("transport: peer closed connection")
	ErrHTTPStatus        = errors.New("transport: unexpected http status")
)

// Error is a classified transport failure.
type Error struct {
	Kind ErrorKind
	Op   string // operation: "connect", "init", "receive", "transmit", ...
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("transport: %s %s: %s: %v", e.Op, e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("transport: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError returns a classified transport error.
func NewError(kind ErrorKind, op, url string, err error) *Error {
	return &Error{Kind: kind, Op: op, URL: url, Err: err}
}

// KindOf returns the ErrorKind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Recoverable reports whether the retry state machine may handle err.
// Configuration errors and expiration are terminal; every other
// classified failure is recoverable.
func Recoverable(err error) bool {
	if err == nil || errors.Is(err, ErrExpired) {
		return false
	}
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	return k != ConfigurationError
}

// ioError classifies a read or write error.
// Timeouts become IoTimeout; everything else becomes IoFailure.
func ioError(op, url string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	if isTimeout(err) {
		return NewError(IoTimeout, op, url, err)
	}
	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: %w", ErrPeerClosed, err)
	}
	return NewError(IoFailure, op, url, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

var errCommsTimeout = errors.New("no traffic within comms timeout")
