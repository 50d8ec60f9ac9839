package streaminghttp

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/ggoodman/mcp-hub-go/auth"
)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithAuthenticator requires a bearer token on every request. When a also
// implements auth.SecurityDescriptor the handler publishes protected
// resource metadata next to the endpoint.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(h *Handler) { h.auth = a }
}

// WithRealm sets the realm advertised in WWW-Authenticate challenges. The
// attribute is omitted when empty.
func WithRealm(realm string) Option {
	return func(h *Handler) { h.realm = strings.TrimSpace(realm) }
}

// WithResourceName sets the human readable name published in the protected
// resource metadata.
func WithResourceName(name string) Option {
	return func(h *Handler) { h.resourceName = name }
}

// WithQueueSize bounds the number of posted frames buffered per stream before
// POST requests start to block.
func WithQueueSize(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithMaxFrameSize bounds the size of a single posted message.
func WithMaxFrameSize(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxFrame = n
		}
	}
}

// DialOption configures Dial.
type DialOption func(*ClientTransport)

// WithHTTPClient overrides http.DefaultClient.
func WithHTTPClient(c *http.Client) DialOption {
	return func(t *ClientTransport) {
		if c != nil {
			t.http = c
		}
	}
}

// WithBearerToken attaches an Authorization header to every request.
func WithBearerToken(tok string) DialOption {
	return func(t *ClientTransport) { t.token = tok }
}

// WithDialLogger sets the client transport logger.
func WithDialLogger(l *slog.Logger) DialOption {
	return func(t *ClientTransport) {
		if l != nil {
			t.log = l
		}
	}
}

// WithMaxEventSize bounds the size of a single received event.
func WithMaxEventSize(n int) DialOption {
	return func(t *ClientTransport) {
		if n > 0 {
			t.maxEvent = n
		}
	}
}
