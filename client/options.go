package client

import (
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-hub-go/mcp"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClientInfo sets the implementation info sent in initialize.
func WithClientInfo(info mcp.ImplementationInfo) Option {
	return func(c *Client) { c.info = info }
}

// WithProtocolVersion overrides the protocol version requested during the
// handshake.
func WithProtocolVersion(v string) Option {
	return func(c *Client) { c.version = v }
}

// WithRoots advertises the roots capability.
func WithRoots() Option {
	return func(c *Client) { c.roots = true }
}

// CallOption configures a single call.
type CallOption func(*callConfig)

type callConfig struct {
	timeout  time.Duration
	progress mcp.ProgressToken
}

// WithTimeout bounds the call. When it elapses the call fails with a
// Timeout error and the server is sent notifications/cancelled.
func WithTimeout(d time.Duration) CallOption {
	return func(c *callConfig) { c.timeout = d }
}

// WithProgressToken asks the server to report progress for the call.
// Reports arrive as notifications/progress carrying tok; observe them with
// OnNotification.
func WithProgressToken(tok mcp.ProgressToken) CallOption {
	return func(c *callConfig) { c.progress = tok }
}
