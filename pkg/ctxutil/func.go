package ctxutil

import (
	"context"
)

// WithAbortFunc returns a cancellable child of parent. fn runs once with the
// cancellation cause if the context is cancelled before finish is called.
// Calling finish unregisters fn and releases the context.
func WithAbortFunc(parent context.Context, fn func(cause error)) (ctx context.Context, abort context.CancelCauseFunc, finish func()) {
	ctx, cancel := context.WithCancelCause(parent)
	stop := context.AfterFunc(ctx, func() {
		fn(context.Cause(ctx))
	})

	finish = func() {
		stop()
		cancel(nil)
	}
	return ctx, cancel, finish
}
