// Package transport defines the message-oriented duplex channel every
// session runs over. Concrete bindings live in sub-packages: stdio for
// newline-delimited pipes and subprocesses, inmem for in-process pipes and
// streaminghttp for a long-lived HTTP event stream.
//
// A transport moves opaque frames. It never interprets protocol semantics;
// one frame carries exactly one encoded JSON-RPC message and frames are
// delivered in the order they were sent.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by Send on a transport that has been closed.
var ErrClosed = errors.New("transport closed")

// Transport is an ordered, message-oriented duplex stream.
//
// Send may be called concurrently. Receive is called by a single reader and
// returns io.EOF after an orderly close once buffered frames are drained.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Identified is implemented by transports that know which principal sits on
// the other end of the stream.
type Identified interface {
	UserID() string
}

// UserID returns the principal attached to t, or "" if t does not carry one.
func UserID(t Transport) string {
	if id, ok := t.(Identified); ok {
		return id.UserID()
	}
	return ""
}

// Error reports an I/O failure of the underlying stream. It is fatal to the
// session that owns the transport.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }
