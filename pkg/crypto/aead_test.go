package crypto

import (
	"bytes"
	"errors"
	"slices"
	"testing"
)

var testInitializer = []byte("0123456789abcdef0123456789abcdef")

func TestNegotiate(t *testing.T) {
	t.Run("Known", func(t *testing.T) {
		ctx, err := Negotiate(" ChaCha20-Poly1305 ", testInitializer)
		if err != nil {
			t.Fatalf("Negotiate: %v", err)
		}
		if ctx.Name() != CipherXChaCha20Poly1305 {
			t.Errorf("Name() = %q", ctx.Name())
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := Negotiate("rot13", testInitializer)
		if !errors.Is(err, ErrUnknownCipher) {
			t.Errorf("error = %v, want ErrUnknownCipher", err)
		}
	})

	t.Run("ShortInitializer", func(t *testing.T) {
		_, err := Negotiate(CipherXChaCha20Poly1305, []byte("short"))
		if !errors.Is(err, ErrShortInitializer) {
			t.Errorf("error = %v, want ErrShortInitializer", err)
		}
	})

	t.Run("Listed", func(t *testing.T) {
		if !slices.Contains(Ciphers(), CipherXChaCha20Poly1305) {
			t.Errorf("Ciphers() = %v, missing %q", Ciphers(), CipherXChaCha20Poly1305)
		}
	})
}

func TestAEADSealOpen(t *testing.T) {
	sender, err := NewAEAD(testInitializer)
	if err != nil {
		t.Fatalf("NewAEAD: %v", err)
	}
	receiver, err := NewAEAD(testInitializer)
	if err != nil {
		t.Fatalf("NewAEAD: %v", err)
	}

	msg := []byte("packet body")
	sealed, err := sender.Seal(msg)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(sealed, msg) {
		t.Error("sealed output contains plaintext")
	}

	opened, err := receiver.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, msg) {
		t.Errorf("Open = %q, want %q", opened, msg)
	}

	// Two seals of the same message differ (random nonce).
	again, _ := sender.Seal(msg)
	if bytes.Equal(again, sealed) {
		t.Error("two seals produced identical output")
	}
}

func TestAEADTamper(t *testing.T) {
	a, _ := NewAEAD(testInitializer)
	sealed, _ := a.Seal([]byte("payload"))
	sealed[len(sealed)-1] ^= 0x01

	if _, err := a.Open(sealed); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("Open tampered error = %v, want ErrOpenFailed", err)
	}
	if _, err := a.Open([]byte{1, 2, 3}); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("Open short error = %v, want ErrCiphertextTooShort", err)
	}
}

func TestAEADRekey(t *testing.T) {
	a, _ := NewAEAD(testInitializer)
	b, _ := NewAEAD(testInitializer)

	old, _ := a.Seal([]byte("before"))

	if err := a.Rekey([]byte("material")); err != nil {
		t.Fatalf("Rekey: %v", err)
	}
	if a.Generation() != 1 {
		t.Errorf("Generation() = %d, want 1", a.Generation())
	}

	// Old ciphertext no longer opens under the new key.
	if _, err := a.Open(old); err == nil {
		t.Error("pre-rekey ciphertext opened after rekey")
	}

	// Peer applying the same rekey can talk again.
	if err := b.Rekey([]byte("material")); err != nil {
		t.Fatalf("peer Rekey: %v", err)
	}
	sealed, _ := a.Seal([]byte("after"))
	got, err := b.Open(sealed)
	if err != nil {
		t.Fatalf("Open after rekey: %v", err)
	}
	if string(got) != "after" {
		t.Errorf("Open = %q", got)
	}
}
