// Package poll implements the bounded wait used wherever the sessions must
// observe remote UI state or the filesystem: check, sleep, re-check, give up.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when a condition never held within its policy.
var ErrExhausted = errors.New("poll: condition not met within bounds")

// Policy bounds a poll loop. A zero MaxWait or MaxAttempts leaves that
// dimension unbounded; at least one of them (or the context) must end the loop.
type Policy struct {
	Interval    time.Duration
	MaxWait     time.Duration
	MaxAttempts int
}

// Check reports whether the awaited condition holds. A non-nil error stops
// polling immediately and is returned unchanged, except that a check which
// runs into the policy's own MaxWait deadline reports ErrExhausted.
type Check func(ctx context.Context) (bool, error)

// Until runs check at once and then every p.Interval until it reports true,
// fails, or the policy is exhausted.
func Until(ctx context.Context, p Policy, check Check) error {
	return UntilNotified(ctx, p, nil, check)
}

// UntilNotified is Until with an extra wake channel: a receive on wake
// triggers the next check early. A nil channel never fires.
func UntilNotified(ctx context.Context, p Policy, wake <-chan struct{}, check Check) error {
	var deadline time.Time
	if p.MaxWait > 0 {
		deadline = time.Now().Add(p.MaxWait)
	}

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		ok, err := runCheck(ctx, deadline, check)
		if err != nil {
			if !deadline.IsZero() && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				return ErrExhausted
			}
			return err
		}
		if ok {
			return nil
		}

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return ErrExhausted
		}

		sleep := p.Interval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ErrExhausted
			}
			if sleep <= 0 || sleep > remaining {
				sleep = remaining
			}
		}

		timer.Reset(sleep)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-wake:
			if !timer.Stop() {
				<-timer.C
			}
		}
	}
}

// runCheck bounds a single check by the policy deadline so a stalled call
// cannot outlive MaxWait.
func runCheck(ctx context.Context, deadline time.Time, check Check) (bool, error) {
	if deadline.IsZero() {
		return check(ctx)
	}
	checkCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	return check(checkCtx)
}
