package crypto

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Cryptographic context errors.
var (
	ErrUnknownCipher      = errors.New("crypto: unknown cipher")
	ErrShortInitializer   = errors.New("crypto: initializer too short")
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	ErrOpenFailed         = errors.New("crypto: message authentication failed")
)

// Context holds the keying material and algorithm selection for a session.
// The session treats it as an opaque handle.
//
// Seal and Open may run concurrently with each other. Rekey must not run
// concurrently with either; the owning session serializes it.
type Context interface {
	// Name returns the negotiated cipher name.
	Name() string

	// Seal encrypts and authenticates plaintext.
	Seal(plaintext []byte) ([]byte, error)

	// Open authenticates and decrypts ciphertext produced by the peer's Seal.
	Open(ciphertext []byte) ([]byte, error)

	// Rekey replaces the current key with one derived from it and material.
	Rekey(material []byte) error
}

// Factory creates a Context from the negotiation initializer.
type Factory func(initializer []byte) (Context, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a cipher available to Negotiate under name.
// Registering the same name twice replaces the earlier factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[normalize(name)] = f
}

// Negotiate creates a Context for the named cipher.
func Negotiate(name string, initializer []byte) (Context, error) {
	registryMu.RLock()
	f, ok := registry[normalize(name)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCipher, name)
	}
	return f(initializer)
}

// Ciphers returns the registered cipher names in sorted order.
func Ciphers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
