package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeError is returned by Decode. Code is either ErrorCodeParseError or
// ErrorCodeInvalidRequest; ID is set when the id could still be recovered
// from a structurally invalid message.
type DecodeError struct {
	Code ErrorCode
	ID   *RequestID
	Err  error
}

func (e *DecodeError) Error() string { return e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// Response builds the error response a peer should receive for this
// decoding failure.
func (e *DecodeError) Response() *Response {
	return NewErrorResponse(e.ID, e.Code, e.Err.Error(), nil)
}

// Decode parses a single framed JSON-RPC message.
func Decode(frame []byte) (*AnyMessage, error) {
	frame = bytes.TrimSpace(frame)
	if !json.Valid(frame) {
		return nil, &DecodeError{Code: ErrorCodeParseError, Err: fmt.Errorf("parse error: invalid JSON")}
	}
	if len(frame) > 0 && frame[0] == '[' {
		return nil, &DecodeError{Code: ErrorCodeInvalidRequest, Err: fmt.Errorf("batch messages are not supported")}
	}

	var msg AnyMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		var head struct {
			ID *RequestID `json:"id"`
		}
		_ = json.Unmarshal(frame, &head)
		return nil, &DecodeError{Code: ErrorCodeInvalidRequest, ID: head.ID, Err: err}
	}
	return &msg, nil
}

// Encode marshals a message for framing. The result never contains a
// newline so it is safe for line-delimited transports.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return b, nil
}
