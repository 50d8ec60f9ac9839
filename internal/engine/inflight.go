package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/ggoodman/mcp-hub-go/internal/jsonrpc"
)

// ErrDuplicateID is returned by InFlight.Add for an id that is still being
// handled.
var ErrDuplicateID = errors.New("duplicate request id")

// Ticket identifies one tracked request. A peer may reuse an id once its
// request has ended, so completion is claimed by ticket rather than by id.
type Ticket struct {
	key    string
	id     *jsonrpc.RequestID
	method string
	cancel context.CancelCauseFunc
}

// InFlight tracks inbound requests that have not yet produced a terminal
// outcome. Completion is a compare-and-swap: the first caller of Complete
// (or Cancel) for an id wins and every later attempt reports false.
type InFlight struct {
	mu sync.Mutex
	m  map[string]*Ticket
}

func NewInFlight() *InFlight {
	return &InFlight{m: make(map[string]*Ticket)}
}

// Add starts tracking id. cancel is invoked by Cancel and CancelAll.
func (f *InFlight) Add(id *jsonrpc.RequestID, method string, cancel context.CancelCauseFunc) (*Ticket, error) {
	t := &Ticket{key: id.Key(), id: id, method: method, cancel: cancel}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.m[t.key]; ok {
		return nil, ErrDuplicateID
	}
	f.m[t.key] = t
	return t, nil
}

// Complete claims the terminal outcome for the request behind t. It returns
// false if that request was already completed or cancelled, even when a
// newer request now uses the same id.
func (f *InFlight) Complete(t *Ticket) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.m[t.key] != t {
		return false
	}
	delete(f.m, t.key)
	return true
}

// Cancel claims the terminal outcome for id and cancels its context with
// cause. It returns false if the id already completed.
func (f *InFlight) Cancel(id *jsonrpc.RequestID, cause error) bool {
	key := id.Key()
	f.mu.Lock()
	e, ok := f.m[key]
	if ok {
		delete(f.m, key)
	}
	f.mu.Unlock()
	if ok && e.cancel != nil {
		e.cancel(cause)
	}
	return ok
}

// CancelAll claims and cancels every tracked request, returning their ids.
func (f *InFlight) CancelAll(cause error) []*jsonrpc.RequestID {
	f.mu.Lock()
	entries := make([]*Ticket, 0, len(f.m))
	for key, e := range f.m {
		entries = append(entries, e)
		delete(f.m, key)
	}
	f.mu.Unlock()

	ids := make([]*jsonrpc.RequestID, 0, len(entries))
	for _, e := range entries {
		if e.cancel != nil {
			e.cancel(cause)
		}
		ids = append(ids, e.id)
	}
	return ids
}

// Len returns the number of requests in flight.
func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.m)
}
