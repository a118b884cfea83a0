package messenger

import "context"

type opLockKey struct{}

// acquireOpLock serializes operations on one session. A context that already
// holds this session's lock passes straight through, so guarded operations can
// call each other. Waiting for the lock respects ctx.
func (s *Session) acquireOpLock(ctx context.Context) (context.Context, func(), error) {
	if held, _ := ctx.Value(opLockKey{}).(*Session); held == s {
		return ctx, func() {}, nil
	}
	select {
	case s.opLock <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	return context.WithValue(ctx, opLockKey{}, s), func() { <-s.opLock }, nil
}
