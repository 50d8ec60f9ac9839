package mcp

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure observed by a session, a dispatcher or a
// client. Every error delivered to a requester carries exactly one kind.
type ErrorKind string

const (
	// KindHandshake is fatal: the session closes before it becomes ready.
	KindHandshake ErrorKind = "handshake"
	// KindProtocolSequence marks a message received in a state that does not
	// allow it.
	KindProtocolSequence ErrorKind = "protocol_sequence"
	KindNotFound         ErrorKind = "not_found"
	KindInvalidArguments ErrorKind = "invalid_arguments"
	// KindExecution wraps a failure raised by a capability handler.
	KindExecution ErrorKind = "execution"
	// KindUpstream wraps a failure forwarded from a mounted server. The
	// originating namespace and the upstream kind are preserved.
	KindUpstream  ErrorKind = "upstream"
	KindTimeout   ErrorKind = "timeout"
	KindCancelled ErrorKind = "cancelled"
	// KindTransport is fatal to the session but not to the process.
	KindTransport ErrorKind = "transport"

	// KindMethodNotFound and KindInternal cover JSON-RPC plumbing failures
	// that have no richer classification.
	KindMethodNotFound ErrorKind = "method_not_found"
	KindInternal       ErrorKind = "internal"
)

// Sentinels usable with errors.Is. Any *Error matches the sentinel of its
// kind.
var (
	ErrHandshake        = &Error{Kind: KindHandshake}
	ErrProtocolSequence = &Error{Kind: KindProtocolSequence}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrInvalidArguments = &Error{Kind: KindInvalidArguments}
	ErrExecution        = &Error{Kind: KindExecution}
	ErrUpstream         = &Error{Kind: KindUpstream}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrCancelled        = &Error{Kind: KindCancelled}
	ErrTransport        = &Error{Kind: KindTransport}
	ErrMethodNotFound   = &Error{Kind: KindMethodNotFound}
)

// Error is the typed error surfaced by sessions, dispatchers and clients.
type Error struct {
	Kind    ErrorKind
	Message string

	// Namespace is set for KindUpstream errors and names the mount that
	// produced the failure.
	Namespace string
	// Upstream is the error reported by the mounted server, when known.
	Upstream *Error
	// Code is the JSON-RPC code received on the wire, if this error was
	// decoded from a peer response.
	Code int

	cause error
}

// NewError builds an error of the given kind with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies err under kind. If err is already an *Error of the
// same kind it is returned unchanged.
func WrapError(kind ErrorKind, err error) *Error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) && me.Kind == kind {
		return me
	}
	return &Error{Kind: kind, Message: err.Error(), cause: err}
}

// NewUpstreamError tags err as originating from the mount at namespace. The
// upstream kind and message are carried verbatim.
func NewUpstreamError(namespace string, err error) *Error {
	up := &Error{Kind: KindInternal, Message: err.Error(), cause: err}
	var me *Error
	if errors.As(err, &me) {
		up = me
	}
	return &Error{
		Kind:      KindUpstream,
		Message:   fmt.Sprintf("upstream %q: %s", namespace, up.Message),
		Namespace: namespace,
		Upstream:  up,
		cause:     err,
	}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error of the same kind. Targets carrying
// a message or namespace must match those too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.Message != "" && t.Message != e.Message {
		return false
	}
	if t.Namespace != "" && t.Namespace != e.Namespace {
		return false
	}
	return true
}

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) ErrorKind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindInternal
}
