package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", NewError(HandshakeFailure, "init", "tls://h:1", base))

	kind, ok := KindOf(err)
	if !ok || kind != HandshakeFailure {
		t.Fatalf("KindOf = %v, %v", kind, ok)
	}
	if !errors.Is(err, base) {
		t.Error("Error does not unwrap to the cause")
	}
	if got := err.Error(); got != "wrapped: transport: init tls://h:1: HandshakeFailure: boom" {
		t.Errorf("Error() = %q", got)
	}
	if _, ok := KindOf(base); ok {
		t.Error("plain error reported a kind")
	}
}

func TestRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connect", NewError(ConnectFailure, "connect", "", io.EOF), true},
		{"handshake", NewError(HandshakeFailure, "init", "", ErrPinMismatch), true},
		{"timeout", NewError(IoTimeout, "receive", "", os.ErrDeadlineExceeded), true},
		{"io", NewError(IoFailure, "receive", "", io.EOF), true},
		{"config", NewError(ConfigurationError, "parse", "", ErrInvalidDescriptor), false},
		{"expired", ErrExpired, false},
		{"unclassified", errors.New("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Recoverable(tt.err); got != tt.want {
				t.Errorf("Recoverable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIOErrorClassification(t *testing.T) {
	if err := ioError("receive", "", os.ErrDeadlineExceeded); !IsKind(err, IoTimeout) {
		t.Errorf("deadline exceeded classified as %v", err)
	}
	if err := ioError("receive", "", context.DeadlineExceeded); !IsKind(err, IoTimeout) {
		t.Errorf("context deadline classified as %v", err)
	}
	err := ioError("receive", "", io.EOF)
	if !IsKind(err, IoFailure) || !errors.Is(err, ErrPeerClosed) {
		t.Errorf("EOF classified as %v", err)
	}
	already := NewError(HandshakeFailure, "init", "", io.EOF)
	if err := ioError("receive", "", already); err != error(already) {
		t.Errorf("classified error rewrapped: %v", err)
	}
	if ioError("receive", "", nil) != nil {
		t.Error("nil error classified")
	}
}

func TestErrorKindString(t *testing.T) {
	for k, want := range map[ErrorKind]string{
		ConnectFailure:     "ConnectFailure",
		HandshakeFailure:   "HandshakeFailure",
		IoTimeout:          "IoTimeout",
		IoFailure:          "IoFailure",
		ConfigurationError: "ConfigurationError",
		ErrorKind(42):      "ErrorKind(42)",
	} {
		if k.String() != want {
			t.Errorf("String() = %q, want %q", k.String(), want)
		}
	}
}
