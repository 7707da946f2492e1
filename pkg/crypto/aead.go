package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// CipherXChaCha20Poly1305 is the name of the AEAD cipher.
	CipherXChaCha20Poly1305 = "chacha20-poly1305"

	// MinInitializerSize is the minimum initializer length in bytes.
	MinInitializerSize = 16

	sessionKeyInfo = "rlink session key"
	rekeyInfo      = "rlink rekey"
)

func init() {
	Register(CipherXChaCha20Poly1305, func(initializer []byte) (Context, error) {
		return NewAEAD(initializer)
	})
}

// AEAD is an XChaCha20-Poly1305 session context.
//
// Each sealed message is nonce(24) || ciphertext+tag. Nonces are random,
// which XChaCha20's 192-bit nonce makes safe without a counter.
type AEAD struct {
	key        []byte
	aead       cipher.AEAD
	generation atomic.Uint32
}

// NewAEAD derives a session key from initializer with HKDF-SHA256.
func NewAEAD(initializer []byte) (*AEAD, error) {
	if len(initializer) < MinInitializerSize {
		return nil, fmt.Errorf("%w: %d < %d", ErrShortInitializer, len(initializer), MinInitializerSize)
	}
	key, err := deriveKey(initializer, sessionKeyInfo)
	if err != nil {
		return nil, err
	}
	a := &AEAD{}
	if err := a.setKey(key); err != nil {
		return nil, err
	}
	return a, nil
}

// Name returns the cipher name.
func (a *AEAD) Name() string {
	return CipherXChaCha20Poly1305
}

// Generation returns the number of completed rekeys.
func (a *AEAD) Generation() uint32 {
	return a.generation.Load()
}

// Seal encrypts plaintext with a fresh random nonce.
func (a *AEAD) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, a.aead.NonceSize(), a.aead.NonceSize()+len(plaintext)+a.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	return a.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a message produced by Seal.
func (a *AEAD) Open(ciphertext []byte) ([]byte, error) {
	ns := a.aead.NonceSize()
	if len(ciphertext) < ns+a.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := a.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}

// Rekey derives a new key from the current key and material.
func (a *AEAD) Rekey(material []byte) error {
	secret := make([]byte, 0, len(a.key)+len(material))
	secret = append(secret, a.key...)
	secret = append(secret, material...)
	key, err := deriveKey(secret, rekeyInfo)
	if err != nil {
		return err
	}
	if err := a.setKey(key); err != nil {
		return err
	}
	a.generation.Add(1)
	return nil
}

func (a *AEAD) setKey(key []byte) error {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("crypto: init cipher: %w", err)
	}
	a.key = key
	a.aead = aead
	return nil
}

func deriveKey(secret []byte, info string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	return key, nil
}

// Compile-time interface satisfaction check.
var _ Context = (*AEAD)(nil)
