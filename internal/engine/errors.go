package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ggoodman/mcp-hub-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/transport"
)

var kindCodes = map[mcp.ErrorKind]jsonrpc.ErrorCode{
	mcp.KindHandshake:        jsonrpc.ErrorCodeHandshake,
	mcp.KindProtocolSequence: jsonrpc.ErrorCodeProtocolSequence,
	mcp.KindNotFound:         jsonrpc.ErrorCodeNotFound,
	mcp.KindInvalidArguments: jsonrpc.ErrorCodeInvalidParams,
	mcp.KindExecution:        jsonrpc.ErrorCodeExecutionError,
	mcp.KindUpstream:         jsonrpc.ErrorCodeUpstreamError,
	mcp.KindTimeout:          jsonrpc.ErrorCodeTimeout,
	mcp.KindCancelled:        jsonrpc.ErrorCodeRequestCancelled,
	mcp.KindTransport:        jsonrpc.ErrorCodeInternalError,
	mcp.KindMethodNotFound:   jsonrpc.ErrorCodeMethodNotFound,
	mcp.KindInternal:         jsonrpc.ErrorCodeInternalError,
}

var codeKinds = map[jsonrpc.ErrorCode]mcp.ErrorKind{
	jsonrpc.ErrorCodeParseError:       mcp.KindInternal,
	jsonrpc.ErrorCodeInvalidRequest:   mcp.KindInternal,
	jsonrpc.ErrorCodeMethodNotFound:   mcp.KindMethodNotFound,
	jsonrpc.ErrorCodeInvalidParams:    mcp.KindInvalidArguments,
	jsonrpc.ErrorCodeInternalError:    mcp.KindInternal,
	jsonrpc.ErrorCodeExecutionError:   mcp.KindExecution,
	jsonrpc.ErrorCodeUpstreamError:    mcp.KindUpstream,
	jsonrpc.ErrorCodeNotFound:         mcp.KindNotFound,
	jsonrpc.ErrorCodeProtocolSequence: mcp.KindProtocolSequence,
	jsonrpc.ErrorCodeHandshake:        mcp.KindHandshake,
	jsonrpc.ErrorCodeTimeout:          mcp.KindTimeout,
	jsonrpc.ErrorCodeRequestCancelled: mcp.KindCancelled,
}

// errorData is the structured payload carried in jsonrpc.Error.Data.
type errorData struct {
	Kind      mcp.ErrorKind `json:"kind"`
	Namespace string        `json:"namespace,omitempty"`
	Upstream  *upstreamData `json:"upstream,omitempty"`
}

type upstreamData struct {
	Kind    mcp.ErrorKind     `json:"kind"`
	Code    jsonrpc.ErrorCode `json:"code"`
	Message string            `json:"message"`
}

// Classify converts any error into an *mcp.Error. Context errors become
// Cancelled or Timeout, transport failures become TransportFailure and
// anything unclassified is Internal.
func Classify(err error) *mcp.Error {
	var me *mcp.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &me):
		return me
	case errors.Is(err, context.DeadlineExceeded):
		return mcp.WrapError(mcp.KindTimeout, err)
	case errors.Is(err, context.Canceled):
		return mcp.WrapError(mcp.KindCancelled, err)
	case errors.Is(err, transport.ErrClosed), isTransportError(err):
		return mcp.WrapError(mcp.KindTransport, err)
	}
	return mcp.WrapError(mcp.KindInternal, err)
}

func isTransportError(err error) bool {
	var te *transport.Error
	return errors.As(err, &te)
}

// ToRPCError renders err as a JSON-RPC error object.
func ToRPCError(err error) *jsonrpc.Error {
	me := Classify(err)
	code, ok := kindCodes[me.Kind]
	if !ok {
		code = jsonrpc.ErrorCodeInternalError
	}
	data := errorData{Kind: me.Kind, Namespace: me.Namespace}
	if up := me.Upstream; up != nil {
		upCode := jsonrpc.ErrorCode(up.Code)
		if upCode == 0 {
			upCode = kindCodes[up.Kind]
		}
		data.Upstream = &upstreamData{Kind: up.Kind, Code: upCode, Message: up.Message}
	}
	b, _ := json.Marshal(data)

	msg := me.Message
	if msg == "" {
		msg = string(me.Kind)
	}
	return &jsonrpc.Error{Code: code, Message: msg, Data: b}
}

// FromRPCError converts an error object received from a peer into an
// *mcp.Error. The kind is taken from the structured data when present and
// from the code otherwise.
func FromRPCError(e *jsonrpc.Error) *mcp.Error {
	if e == nil {
		return nil
	}
	out := &mcp.Error{Kind: mcp.KindInternal, Message: e.Message, Code: int(e.Code)}
	if k, ok := codeKinds[e.Code]; ok {
		out.Kind = k
	}

	var data errorData
	if len(e.Data) > 0 && json.Unmarshal(e.Data, &data) == nil && data.Kind != "" {
		out.Kind = data.Kind
		out.Namespace = data.Namespace
		if up := data.Upstream; up != nil {
			out.Upstream = &mcp.Error{Kind: up.Kind, Message: up.Message, Code: int(up.Code)}
		}
	}
	return out
}

type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks a request error as fatal to the connection. The error is
// still delivered as the response, after which the connection closes.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

func isFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}
