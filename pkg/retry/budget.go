package retry

import "time"

// Budget tracks one reconnect window of at most Total.
//
// A zero Total allows exactly one attempt. Budget is not safe for
// concurrent use; the session's server goroutine owns it.
type Budget struct {
	Total time.Duration

	begin    time.Time
	attempts int
}

// NewBudget returns a budget for a window of total.
func NewBudget(total time.Duration) *Budget {
	if total < 0 {
		total = 0
	}
	return &Budget{Total: total}
}

// Begin opens the window at now and clears the attempt count.
func (b *Budget) Begin(now time.Time) {
	b.begin = now
	b.attempts = 0
}

// Started reports whether Begin has been called.
func (b *Budget) Started() bool {
	return !b.begin.IsZero()
}

// Attempt records one reconnect attempt and returns its 1-based number.
func (b *Budget) Attempt() int {
	b.attempts++
	return b.attempts
}

// Attempts returns the attempts recorded since Begin.
func (b *Budget) Attempts() int {
	return b.attempts
}

// Elapsed returns time spent in the window.
func (b *Budget) Elapsed(now time.Time) time.Duration {
	if b.begin.IsZero() {
		return 0
	}
	d := now.Sub(b.begin)
	if d < 0 {
		return 0
	}
	return d
}

// Remaining returns the unspent part of the window.
func (b *Budget) Remaining(now time.Time) time.Duration {
	r := b.Total - b.Elapsed(now)
	if r < 0 {
		return 0
	}
	return r
}

// Exhausted reports whether another attempt is out of budget. The first
// attempt of a window is always allowed.
func (b *Budget) Exhausted(now time.Time) bool {
	if b.attempts == 0 {
		return false
	}
	return b.Remaining(now) <= 0
}

// Wait returns how long to wait before the next attempt: zero for the
// first attempt, otherwise wait clipped to the remaining window.
func (b *Budget) Wait(now time.Time, wait time.Duration) time.Duration {
	if b.attempts == 0 || wait <= 0 {
		return 0
	}
	if r := b.Remaining(now); wait > r {
		return r
	}
	return wait
}
