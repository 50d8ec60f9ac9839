// Package outbound correlates locally originated JSON-RPC requests with the
// responses a peer eventually sends back.
package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/mcp-hub-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-hub-go/mcp"
)

// Transport abstracts how requests and cancellations reach the peer.
type Transport interface {
	// SendRequest emits the request. The pending entry for its id is
	// registered before SendRequest is called so no response can be missed.
	SendRequest(ctx context.Context, req *jsonrpc.Request) error
	// SendCancelled emits notifications/cancelled for the given id.
	SendCancelled(ctx context.Context, id *jsonrpc.RequestID, reason string) error
}

var (
	// ErrDispatcherClosed indicates the dispatcher is closed.
	ErrDispatcherClosed = errors.New("dispatcher closed")
	// ErrRemoteCancelled indicates the peer cancelled the request.
	ErrRemoteCancelled = errors.New("remote cancelled")
)

type pendingCall struct {
	respCh chan *jsonrpc.Response
	errCh  chan error
}

// Dispatcher coordinates outgoing JSON-RPC requests with correlation,
// cancellation, and response routing. It is transport-agnostic and safe for
// concurrent use; ids are unique per dispatcher.
type Dispatcher struct {
	t Transport

	mu       sync.Mutex
	pending  map[string]*pendingCall // id.Key() -> call
	closeErr error                   // non-nil once closed

	nextID atomic.Int64
}

// New constructs a Dispatcher using the provided transport.
func New(t Transport) *Dispatcher {
	return &Dispatcher{t: t, pending: make(map[string]*pendingCall)}
}

// Call sends a JSON-RPC request and waits for a response or context
// cancellation. When ctx ends first a best-effort cancellation is sent to
// the peer, the pending entry is dropped and the context error is returned;
// a response arriving later is discarded.
func (d *Dispatcher) Call(ctx context.Context, method string, params any) (*jsonrpc.Response, error) {
	id := jsonrpc.NewRequestID(d.nextID.Add(1))
	key := id.Key()

	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	pc := &pendingCall{respCh: make(chan *jsonrpc.Response, 1), errCh: make(chan error, 1)}
	d.mu.Lock()
	if err := d.closeErr; err != nil {
		d.mu.Unlock()
		return nil, err
	}
	d.pending[key] = pc
	d.mu.Unlock()

	if err := d.t.SendRequest(ctx, req); err != nil {
		d.forget(key)
		return nil, err
	}

	select {
	case resp := <-pc.respCh:
		return resp, nil
	case err := <-pc.errCh:
		return nil, err
	case <-ctx.Done():
		if d.forget(key) {
			reason := "request cancelled"
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				reason = "request timed out"
			}
			_ = d.t.SendCancelled(context.WithoutCancel(ctx), id, reason)
		}
		return nil, ctx.Err()
	}
}

// forget removes key and reports whether it was still pending.
func (d *Dispatcher) forget(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	delete(d.pending, key)
	return ok
}

// OnResponse delivers an incoming response to a waiting call. It reports
// whether the response matched a pending call; unmatched responses are the
// caller's to log and drop.
func (d *Dispatcher) OnResponse(resp *jsonrpc.Response) bool {
	if resp == nil || resp.ID.IsNil() {
		return false
	}
	key := resp.ID.Key()
	d.mu.Lock()
	pc, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if ok {
		pc.respCh <- resp
	}
	return ok
}

// OnNotification processes peer notifications relevant to outbound calls.
func (d *Dispatcher) OnNotification(msg *jsonrpc.Request) {
	switch mcp.Method(msg.Method) {
	case mcp.CancelledNotificationMethod:
		var p mcp.CancelledNotification
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return
		}
		var id jsonrpc.RequestID
		if err := json.Unmarshal(p.RequestID, &id); err != nil {
			return
		}
		key := id.Key()
		d.mu.Lock()
		pc, ok := d.pending[key]
		if ok {
			delete(d.pending, key)
		}
		d.mu.Unlock()
		if ok {
			pc.errCh <- ErrRemoteCancelled
		}
	}
}

// Pending returns the number of calls awaiting a response.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close fails all pending calls with err and prevents new calls.
func (d *Dispatcher) Close(err error) {
	if err == nil {
		err = ErrDispatcherClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closeErr != nil {
		return
	}
	d.closeErr = err
	for key, pc := range d.pending {
		delete(d.pending, key)
		pc.errCh <- err
	}
}
