package transport

import (
	"context"
	"errors"
	"time"

	"github.com/rlink-protocol/rlink-go/pkg/retry"
)

// dispatch is the receive loop shared by every variant. poll paces empty
// polls for request/response transports and is nil for streaming ones.
//
// It returns DispatchContinue with the context cause when ctx ends, and
// DispatchStop with the failure otherwise.
func dispatch(ctx context.Context, t Transport, s Session, poll *retry.Backoff) (DispatchResult, error) {
	sched := t.Schedule()
	for {
		if ctx.Err() != nil {
			return DispatchContinue, context.Cause(ctx)
		}
		if sched.Expired(time.Now()) {
			return DispatchStop, ErrExpired
		}

		p, err := t.Receive(ctx, s)
		switch {
		case err == nil:
			if poll != nil {
				poll.Reset()
			}
			if err := s.Deliver(ctx, p); err != nil {
				if ctx.Err() != nil {
					return DispatchContinue, context.Cause(ctx)
				}
				return DispatchStop, err
			}

		case errors.Is(err, ErrNoPacket):
			if err := sched.Check(time.Now(), "receive", t.URL()); err != nil {
				return DispatchStop, err
			}
			if poll == nil {
				continue
			}
			wait := poll.Next()
			if d, kind := sched.Deadline(); kind != DeadlineNone {
				if left := time.Until(d); left < wait {
					wait = max(left, 0)
				}
			}
			if err := sleepCtx(ctx, wait); err != nil {
				return DispatchContinue, err
			}

		default:
			if ctx.Err() != nil {
				return DispatchContinue, context.Cause(ctx)
			}
			return DispatchStop, err
		}
	}
}
