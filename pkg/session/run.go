package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rlink-protocol/rlink-go/pkg/retry"
	"github.com/rlink-protocol/rlink-go/pkg/transport"
)

// Run drives the state machine on the calling goroutine until the session
// terminates or ctx ends. It returns nil for a requested shutdown and the
// terminal reason otherwise: transport.ErrExpired, an error wrapping
// ErrRetriesExhausted and the last transport failure, or a
// non-recoverable transport error. Every transport has been released when
// Run returns.
func (s *Session) Run(ctx context.Context) error {
	s.ctlMu.Lock()
	switch {
	case s.closed:
		s.ctlMu.Unlock()
		return ErrClosed
	case s.running:
		s.ctlMu.Unlock()
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.running = true
	s.stopRun = cancel
	s.ctlMu.Unlock()

	err := s.serve(ctx)

	s.release()
	s.setState(StateTerminated, err)
	if err != nil {
		s.logger.Error("session terminated", "err", err)
	} else {
		s.logger.Info("session closed")
	}

	s.ctlMu.Lock()
	s.running = false
	s.closed = true
	s.ctlMu.Unlock()
	s.finish()
	return err
}

func (s *Session) serve(ctx context.Context) error {
	var (
		budget  *retry.Budget
		lastErr error
		next    = StateConnecting
	)

	for {
		if ctx.Err() != nil {
			return nil
		}

		t := s.Transport()
		sched := t.Schedule()
		sched.Start(time.Now())
		if sched.Expired(time.Now()) {
			return transport.ErrExpired
		}

		switch next {
		case StateConnecting, StateRetrying:
			s.setState(next, lastErr)

			if s.takeSwitch() && s.promote(errSwitchRequested) {
				budget, lastErr, next = nil, nil, StateConnecting
				continue
			}

			now := time.Now()
			timeouts := sched.Timeouts()
			if budget == nil {
				budget = retry.NewBudget(timeouts.RetryTotal)
				budget.Begin(now)
			}
			if budget.Exhausted(now) {
				s.logger.Warn("retry budget exhausted",
					"transport", t.URL(),
					"attempts", budget.Attempts(),
					"elapsed", budget.Elapsed(now))
				budget = nil
				if s.promote(lastErr) {
					lastErr, next = nil, StateConnecting
					continue
				}
				return exhausted(lastErr)
			}

			if wait := clipToExpiry(sched, budget.Wait(now, timeouts.RetryWait)); wait > 0 {
				if err := s.sleep(ctx, wait); err != nil {
					continue
				}
			}

			attempt := budget.Attempt()
			if next == StateRetrying {
				s.metrics.RetryAttempt(t.Kind().String())
			}
			err := s.connect(ctx, t, sched, budget)
			if err == nil {
				s.logger.Debug("transport initialized", "transport", t.URL(), "attempt", attempt)
				budget, lastErr, next = nil, nil, StateActive
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, transport.ErrExpired) || !transport.Recoverable(err) {
				return err
			}
			s.recordError(t, err)
			s.logger.Warn("connect attempt failed", "transport", t.URL(), "attempt", attempt, "err", err)
			lastErr, next = err, StateRetrying

		case StateActive:
			s.setState(StateActive, nil)
			res, err := s.dispatchActive(ctx, t)
			if ctx.Err() != nil {
				s.deinit(t)
				return nil
			}

			switch {
			case errors.Is(err, transport.ErrExpired):
				s.deinit(t)
				return transport.ErrExpired

			case errors.Is(err, errSwitchRequested):
				s.takeSwitch()
				s.deinit(t)
				s.promote(err)
				budget, lastErr, next = nil, nil, StateConnecting

			case errors.Is(err, errSleepRequested):
				d := s.takeSleep()
				s.deinit(t)
				s.setState(StateConnecting, err)
				s.logger.Info("sleeping", "transport", t.URL(), "duration", d)
				_ = s.sleep(ctx, clipToExpiry(sched, d))
				budget, lastErr, next = nil, nil, StateConnecting

			case res == transport.DispatchContinue && !isKinded(err):
				// Interrupted without a failure; keep dispatching.

			default:
				if transport.IsKind(err, transport.ConfigurationError) {
					s.deinit(t)
					return err
				}
				s.recordError(t, err)
				s.logger.Warn("transport failed", "transport", t.URL(), "result", res.String(), "err", err)
				s.deinit(t)
				budget, lastErr, next = nil, err, StateRetrying
			}
		}
	}
}

// dispatchActive runs t's dispatch loop with a context the control plane
// can cancel.
func (s *Session) dispatchActive(ctx context.Context, t transport.Transport) (transport.DispatchResult, error) {
	dctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s.ctlMu.Lock()
	s.interrupt = cancel
	s.dispatchOn = t
	switch {
	case s.switchReq:
		cancel(errSwitchRequested)
	case s.sleepReq > 0:
		cancel(errSleepRequested)
	}
	s.ctlMu.Unlock()

	res, err := t.Dispatch(dctx, s)

	s.ctlMu.Lock()
	s.interrupt = nil
	s.dispatchOn = nil
	s.ctlMu.Unlock()
	return res, err
}

// connect resets t and brings it up again. The usage lock is held for
// Reset and Init but not while dialing. The attempt ends no later than
// the expiration or the end of the retry window, whichever is sooner.
func (s *Session) connect(ctx context.Context, t transport.Transport, sched *transport.Schedule, budget *retry.Budget) error {
	actx, cancel := attemptContext(ctx, sched, budget)
	defer cancel()

	err := s.bringUp(actx, t)
	if err == nil || ctx.Err() != nil {
		return err
	}
	switch cause := context.Cause(actx); {
	case errors.Is(cause, transport.ErrExpired):
		return transport.ErrExpired
	case errors.Is(cause, errWindowClosed) && !isKinded(err):
		return transport.NewError(transport.ConnectFailure, "connect", t.URL(), fmt.Errorf("%w: %w", errWindowClosed, err))
	}
	return err
}

func (s *Session) bringUp(ctx context.Context, t transport.Transport) error {
	s.mu.Lock()
	t.Reset()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		c, err := t.Connect(ctx)
		if err != nil {
			return err
		}
		conn = c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return t.Init(ctx, s, conn)
}

// attemptContext bounds one connect attempt. A window with nothing left
// only happens on its first attempt, which runs unbounded by the window.
func attemptContext(ctx context.Context, sched *transport.Schedule, budget *retry.Budget) (context.Context, context.CancelFunc) {
	now := time.Now()
	var (
		deadline time.Time
		cause    error
	)
	if left := budget.Remaining(now); left > 0 {
		deadline, cause = now.Add(left), errWindowClosed
	}
	if end := sched.ExpirationEnd(); !end.IsZero() && (deadline.IsZero() || !end.After(deadline)) {
		deadline, cause = end, transport.ErrExpired
	}
	if deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadlineCause(ctx, deadline, cause)
}

func (s *Session) deinit(t transport.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := t.Deinit(s); err != nil {
		s.logger.Debug("deinit", "transport", t.URL(), "err", err)
	}
}

// promote destroys the active transport and makes the pending one active.
// The next chained transport becomes pending.
func (s *Session) promote(reason error) bool {
	if s.Pending() == nil {
		return false
	}
	s.setState(StateSwitching, reason)

	s.mu.Lock()
	if s.pending == nil {
		s.mu.Unlock()
		return false
	}
	old := s.active
	old.Destroy(s)
	s.active = s.pending
	s.pending = nil
	if len(s.chain) > 0 {
		s.pending, s.chain = s.chain[0], s.chain[1:]
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	next := s.active
	s.mu.Unlock()

	s.metrics.Failover()
	s.logger.Info("transport promoted", "from", old.URL(), "to", next.URL())
	return true
}

func (s *Session) takeSwitch() bool {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	v := s.switchReq
	s.switchReq = false
	return v
}

func (s *Session) takeSleep() time.Duration {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	d := s.sleepReq
	s.sleepReq = 0
	return d
}

func (s *Session) recordError(t transport.Transport, err error) {
	if k, ok := transport.KindOf(err); ok {
		s.metrics.TransportError(t.Kind().String(), k.String())
	}
}

// clipToExpiry shortens d so a wait never runs past the expiration.
func clipToExpiry(sched *transport.Schedule, d time.Duration) time.Duration {
	end := sched.ExpirationEnd()
	if end.IsZero() {
		return d
	}
	if left := time.Until(end); left < d {
		return max(left, 0)
	}
	return d
}

func exhausted(last error) error {
	if last == nil {
		return ErrRetriesExhausted
	}
	return fmt.Errorf("%w: %w", ErrRetriesExhausted, last)
}

func isKinded(err error) bool {
	_, ok := transport.KindOf(err)
	return ok
}
