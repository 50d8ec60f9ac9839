package server

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/schema"
	"github.com/ggoodman/mcp-hub-go/sessions"
	"github.com/ggoodman/mcp-hub-go/storage"
)

const (
	defaultMaxConcurrency = 64
	defaultCancelGrace    = 5 * time.Second
	defaultPageSize       = 100
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithServerInfo sets the implementation info returned from initialize.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(s *Server) { s.info = info }
}

// WithInstructions sets human-readable instructions returned from
// initialize.
func WithInstructions(instr string) Option {
	return func(s *Server) { s.instructions = instr }
}

// WithVersionFallback makes the server answer an initialize carrying an
// unsupported protocol version with its latest version instead of failing
// the handshake.
func WithVersionFallback(fallback bool) Option {
	return func(s *Server) { s.versionFallback = fallback }
}

// WithListChanged controls whether list_changed notifications are
// advertised and sent. Default true.
func WithListChanged(enabled bool) Option {
	return func(s *Server) { s.listChanged = enabled }
}

// WithMaxConcurrency bounds the handlers running at once per session.
func WithMaxConcurrency(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxConcurrency = n
		}
	}
}

// WithCancelGrace sets how long a cancelled handler may keep its
// concurrency slot before the dispatcher reclaims it.
func WithCancelGrace(d time.Duration) Option {
	return func(s *Server) {
		if d >= 0 {
			s.cancelGrace = d
		}
	}
}

// WithPageSize sets the page size of list methods.
func WithPageSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithValidator replaces the argument validator. The default is backed by
// JSON Schema.
func WithValidator(v schema.Validator) Option {
	return func(s *Server) {
		if v != nil {
			s.validator = v
		}
	}
}

// WithSessionHost sets where session records are kept. The default is in
// memory.
func WithSessionHost(h sessions.Host) Option {
	return func(s *Server) {
		if h != nil {
			s.host = h
		}
	}
}

// WithStorage sets the store backing per-session data and the mount list
// cache.
func WithStorage(st storage.Storage) Option {
	return func(s *Server) {
		if st != nil {
			s.store = st
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}
