package registry

import "context"

// ProgressReporter emits notifications/progress correlated to the request
// being handled. Sessions inject one into the handler context when the
// caller supplied a progress token.
type ProgressReporter interface {
	Report(ctx context.Context, progress, total float64) error
}

type progressKey struct{}

// WithProgressReporter returns a context carrying pr.
func WithProgressReporter(ctx context.Context, pr ProgressReporter) context.Context {
	if pr == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, pr)
}

// ProgressFrom retrieves the reporter stored in ctx, if any.
func ProgressFrom(ctx context.Context) (ProgressReporter, bool) {
	pr, ok := ctx.Value(progressKey{}).(ProgressReporter)
	return pr, ok && pr != nil
}
