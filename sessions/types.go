package sessions

import (
	"context"

	"github.com/ggoodman/mcp-hub-go/mcp"
)

// State is the lifecycle state of a protocol session.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateShuttingDown  State = "shutting_down"
	StateClosed        State = "closed"
)

// Terminal reports whether no further messages are accepted in s.
func (s State) Terminal() bool { return s == StateClosed }

// Session represents a negotiated protocol session as seen by capability
// handlers. Implementations MUST be safe for concurrent use.
type Session interface {
	SessionID() string
	UserID() string
	// ProtocolVersion is the negotiated protocol version baked into the session.
	ProtocolVersion() string
	State() State
	ClientInfo() ClientInfo
	Capabilities() CapabilitySet

	// Log sends a notifications/message to the peer when the peer asked for
	// messages at level or above.
	Log(ctx context.Context, level mcp.LoggingLevel, logger string, data any) error
}

// ClientInfo identifies the client connecting to the server.
type ClientInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}
