package transport

import (
	"sync"
	"time"
)

// Default timing parameters.
const (
	DefaultCommsTimeout = 300 * time.Second
	DefaultRetryTotal   = 3600 * time.Second
	DefaultRetryWait    = 10 * time.Second
)

// Timeouts are the externally configured timing parameters of a transport.
// A zero CommsTimeout disables the idle timeout. A zero Expiration means
// the transport never expires.
type Timeouts struct {
	CommsTimeout time.Duration
	RetryTotal   time.Duration
	RetryWait    time.Duration

	// Expiration is the offset from Start after which the session must
	// terminate regardless of health.
	Expiration time.Duration
}

// DefaultTimeouts returns the default timing parameters.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		CommsTimeout: DefaultCommsTimeout,
		RetryTotal:   DefaultRetryTotal,
		RetryWait:    DefaultRetryWait,
	}
}

// DeadlineKind says which deadline Deadline returned.
type DeadlineKind uint8

const (
	// DeadlineNone means neither deadline is set.
	DeadlineNone DeadlineKind = iota
	// DeadlineComms means the idle timeout is sooner.
	DeadlineComms
	// DeadlineExpiration means the absolute expiration is sooner.
	DeadlineExpiration
)

// Schedule holds the timestamps and timing parameters shared by every
// transport variant. It is safe for concurrent use.
type Schedule struct {
	mu sync.Mutex

	startTime     time.Time
	lastPacket    time.Time
	expirationEnd time.Time
	timeouts      Timeouts
}

// NewSchedule returns a schedule with the given timing parameters.
func NewSchedule(t Timeouts) *Schedule {
	return &Schedule{timeouts: sanitize(t)}
}

func sanitize(t Timeouts) Timeouts {
	if t.CommsTimeout < 0 {
		t.CommsTimeout = 0
	}
	if t.RetryTotal < 0 {
		t.RetryTotal = 0
	}
	if t.RetryWait < 0 {
		t.RetryWait = 0
	}
	if t.Expiration < 0 {
		t.Expiration = 0
	}
	return t
}

// Start records the creation time and computes the expiration deadline.
// Calling Start again leaves the original deadline in place.
func (s *Schedule) Start(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.startTime.IsZero() {
		return
	}
	s.startTime = now
	s.lastPacket = now
	if s.timeouts.Expiration > 0 && s.expirationEnd.IsZero() {
		s.expirationEnd = now.Add(s.timeouts.Expiration)
	}
}

// SetExpirationEnd sets the absolute expiration deadline directly.
// A zero time clears it.
func (s *Schedule) SetExpirationEnd(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expirationEnd = t
}

// MarkPacket records a successful receive at now.
func (s *Schedule) MarkPacket(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPacket = now
}

// StartTime returns the time Start was first called.
func (s *Schedule) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTime
}

// LastPacket returns the time of the last successful receive.
func (s *Schedule) LastPacket() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPacket
}

// ExpirationEnd returns the absolute expiration deadline (zero if none).
func (s *Schedule) ExpirationEnd() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expirationEnd
}

// Timeouts returns the current timing parameters.
func (s *Schedule) Timeouts() Timeouts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeouts
}

// Update replaces the timing parameters. A changed Expiration is applied
// relative to the original start time.
func (s *Schedule) Update(t Timeouts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t = sanitize(t)
	if t.Expiration != s.timeouts.Expiration && !s.startTime.IsZero() {
		if t.Expiration > 0 {
			s.expirationEnd = s.startTime.Add(t.Expiration)
		} else {
			s.expirationEnd = time.Time{}
		}
	}
	s.timeouts = t
}

// Deadline returns the sooner of the idle deadline (last packet plus the
// comms timeout) and the absolute expiration deadline.
func (s *Schedule) Deadline() (time.Time, DeadlineKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadlineLocked()
}

func (s *Schedule) deadlineLocked() (time.Time, DeadlineKind) {
	var comms time.Time
	if s.timeouts.CommsTimeout > 0 && !s.lastPacket.IsZero() {
		comms = s.lastPacket.Add(s.timeouts.CommsTimeout)
	}
	switch {
	case comms.IsZero() && s.expirationEnd.IsZero():
		return time.Time{}, DeadlineNone
	case comms.IsZero():
		return s.expirationEnd, DeadlineExpiration
	case s.expirationEnd.IsZero():
		return comms, DeadlineComms
	case !s.expirationEnd.After(comms):
		return s.expirationEnd, DeadlineExpiration
	default:
		return comms, DeadlineComms
	}
}

// Expired reports whether the expiration deadline has been reached.
func (s *Schedule) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.expirationEnd.IsZero() && !now.Before(s.expirationEnd)
}

// CommsTimedOut reports whether the idle deadline has passed.
func (s *Schedule) CommsTimedOut(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timeouts.CommsTimeout <= 0 || s.lastPacket.IsZero() {
		return false
	}
	return !now.Before(s.lastPacket.Add(s.timeouts.CommsTimeout))
}

// Check returns ErrExpired if the transport has expired, an IoTimeout
// error if the idle deadline passed, or nil.
func (s *Schedule) Check(now time.Time, op, url string) error {
	if s.Expired(now) {
		return ErrExpired
	}
	if s.CommsTimedOut(now) {
		return NewError(IoTimeout, op, url, errCommsTimeout)
	}
	return nil
}

// Restart resets the idle clock after a successful init.
func (s *Schedule) Restart(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPacket = now
}
