package engine

import "context"

// Notifier sends notifications to the peer.
type Notifier interface {
	Notify(ctx context.Context, method string, params any) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, method string, params any) error

func (f NotifierFunc) Notify(ctx context.Context, method string, params any) error {
	return f(ctx, method, params)
}
