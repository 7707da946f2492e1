package session

import "errors"

// Session errors.
var (
	ErrClosed           = errors.New("session: closed")
	ErrRunning          = errors.New("session: already running")
	ErrNoTransport      = errors.New("session: no transport")
	ErrNoPending        = errors.New("session: no pending transport")
	ErrNoCipher         = errors.New("session: no cipher negotiated")
	ErrNotActive        = errors.New("session: not active")
	ErrRetriesExhausted = errors.New("session: retries exhausted")
)

// Dispatch and connect interruption causes.
var (
	errSwitchRequested = errors.New("transport switch requested")
	errSleepRequested  = errors.New("sleep requested")
	errWindowClosed    = errors.New("retry window closed")
)

// State is the session's connection state.
type State uint8

const (
	// StateConnecting means init is in progress on the active transport.
	StateConnecting State = iota

	// StateActive means the active transport is initialized and its
	// dispatch loop is running.
	StateActive

	// StateRetrying means the active transport failed and is being reset
	// and re-initialized within its retry budget.
	StateRetrying

	// StateSwitching means the pending transport is being promoted.
	StateSwitching

	// StateTerminated means the session ended and released its transports.
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateRetrying:
		return "RETRYING"
	case StateSwitching:
		return "SWITCHING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}
