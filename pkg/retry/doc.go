// Package retry provides the timing primitives used by the failover state
// machine and the request/response idle poller.
//
// # Backoff
//
// Backoff grows a delay exponentially with jitter:
//
//	actual_delay = base_delay + random(0, base_delay * jitter)
//
// The HTTP transport uses it between empty polls, starting at 50ms and
// capping at 5s. Traffic resets it.
//
// # Budget
//
// Budget tracks one reconnect window. The window opens when an active
// transport fails and is bounded by the transport's retry total. Waits
// between attempts are clipped to what remains of the window, so the time
// spent retrying never exceeds the total by more than one wait.
package retry
