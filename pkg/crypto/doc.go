// Package crypto provides the session cryptographic context.
//
// The communications core only negotiates and holds a Context; it never
// inspects keys. A Context is created once per session by Negotiate and may
// be rotated with Rekey.
//
// The built-in cipher, registered as "chacha20-poly1305", uses
// XChaCha20-Poly1305 keyed by HKDF-SHA256 over the negotiation initializer.
package crypto
