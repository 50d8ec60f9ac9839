package jsonrpc

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
)

// Implementation-defined codes in the -32000 to -32099 server error range.
const (
	// ErrorCodeExecutionError reports a failure raised by a capability handler.
	ErrorCodeExecutionError ErrorCode = -32000
	// ErrorCodeUpstreamError reports a failure forwarded from a mounted server.
	ErrorCodeUpstreamError ErrorCode = -32001
	// ErrorCodeNotFound reports an unknown tool, resource or prompt.
	ErrorCodeNotFound ErrorCode = -32002
	// ErrorCodeProtocolSequence reports a message received out of order
	// relative to the initialization handshake.
	ErrorCodeProtocolSequence ErrorCode = -32003
	// ErrorCodeHandshake reports a rejected initialization handshake.
	ErrorCodeHandshake ErrorCode = -32004
	// ErrorCodeTimeout reports a request abandoned after its deadline.
	ErrorCodeTimeout ErrorCode = -32005
)

// ErrorCodeRequestCancelled is the terminal code for a request the peer
// cancelled.
const ErrorCodeRequestCancelled ErrorCode = -32800
