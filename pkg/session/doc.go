// Package session owns the controller relationship of an agent.
//
// A Session holds the active transport, an optional pending replacement,
// a failover chain and the cryptographic context. Run drives the
// connection state machine:
//
//	CONNECTING -> ACTIVE -> RETRYING -> (ACTIVE | SWITCHING | TERMINATED)
//	                     -> SWITCHING -> CONNECTING
//
// Failures in ACTIVE move to RETRYING, which resets and re-initializes the
// same transport every retry_wait until retry_total is spent. An exhausted
// window promotes the pending transport (SWITCHING) or terminates the
// session. Reaching the expiration deadline terminates the session from
// any state.
//
// A single usage lock serializes transport transitions and rekeying
// against Transmit. Transmit holds the lock shared for the duration of the
// send; Receive takes it only while decrypting.
package session
