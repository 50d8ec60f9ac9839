package registry

import (
	"sync"
)

// ChangeNotifier is an in-process pub-sub for list change events. Each
// subscriber gets a channel buffered with capacity 1; signals coalesce when a
// subscriber falls behind.
type ChangeNotifier struct {
	mu     sync.RWMutex
	subs   []chan struct{}
	closed bool
}

// Notify signals every subscriber without blocking.
func (cn *ChangeNotifier) Notify() {
	cn.mu.RLock()
	defer cn.mu.RUnlock()

	if cn.closed {
		return
	}
	for _, ch := range cn.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscriber returns a channel that receives a signal whenever Notify is
// called. The channel is closed when the notifier is closed.
func (cn *ChangeNotifier) Subscriber() <-chan struct{} {
	cn.mu.Lock()
	defer cn.mu.Unlock()

	ch := make(chan struct{}, 1)
	if cn.closed {
		close(ch)
		return ch
	}
	cn.subs = append(cn.subs, ch)
	return ch
}

// Unsubscribe detaches ch. It is a no-op for unknown channels.
func (cn *ChangeNotifier) Unsubscribe(ch <-chan struct{}) {
	cn.mu.Lock()
	defer cn.mu.Unlock()

	for i, c := range cn.subs {
		if c == ch {
			cn.subs = append(cn.subs[:i], cn.subs[i+1:]...)
			return
		}
	}
}

// Close closes every subscriber channel. Later subscribers receive an
// already-closed channel.
func (cn *ChangeNotifier) Close() {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return
	}
	cn.closed = true
	subs := cn.subs
	cn.subs = nil
	cn.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}
