package browser

import (
	"context"
)

// CombineContext creates a context derived from sessionCtx (inheriting its
// values, including the chromedp context) that is also cancelled when opCtx
// is done. The cause of the cancellation is opCtx's error, so callers can tell
// a deadline from an explicit cancel with context.Cause.
func CombineContext(sessionCtx context.Context, opCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancelCause(sessionCtx)
	stop := context.AfterFunc(opCtx, func() {
		cancel(context.Cause(opCtx))
	})
	return combinedCtx, func() {
		stop()
		cancel(context.Canceled)
	}
}
