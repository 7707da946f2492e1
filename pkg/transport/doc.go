// Package transport provides the interchangeable transports that carry an
// rlink session.
//
// Every variant implements the Transport capability set: connect, init,
// deinit, reset, destroy, dispatch, transmit and receive, plus a shared
// Schedule of timestamps, timeouts and retry budget. The variants form a
// closed set selected by the endpoint descriptor scheme:
//
//	tcp://host:port, tls://host:port    StreamTransport
//	http://host/path, https://host/path HTTPTransport
//	ws://host/path, wss://host/path     WebSocketTransport
//
// # Stream Framing
//
//	┌────────────────────────────────┐
//	│   Encrypted packet             │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│   TLS (optional)               │
//	├────────────────────────────────┤
//	│   TCP                          │
//	└────────────────────────────────┘
//
// The HTTP variant sends one packet per POST body and polls with empty
// POSTs; an empty response or 204 means no packet. The WebSocket variant
// sends one packet per binary message.
//
// # Deadlines
//
// A receive waits until the sooner of the idle deadline (last packet plus
// comms timeout) and the absolute expiration deadline. Reaching the
// expiration yields ErrExpired; reaching the idle deadline yields an
// IoTimeout error.
//
// # Certificate Pinning
//
// A Pin is the SHA-1 of the peer's leaf certificate. When set, the TLS
// handshake fails with a HandshakeFailure wrapping ErrPinMismatch if the
// peer presents a different certificate. The check always runs during
// Init.
package transport
