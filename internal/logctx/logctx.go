// Package logctx decorates slog records with the session, message and
// capability attributes carried on a context.
package logctx

import (
	"context"
	"log/slog"

	"github.com/ggoodman/mcp-hub-go/sessions"
)

// Handler wraps another slog.Handler and appends context-derived groups.
type Handler struct {
	slog.Handler
}

// New returns a logger whose records carry context groups. A nil handler
// discards everything.
func New(h slog.Handler) *slog.Logger {
	if h == nil {
		h = slog.DiscardHandler
	}
	if _, ok := h.(Handler); ok {
		return slog.New(h)
	}
	return slog.New(Handler{Handler: h})
}

// Wrap returns l with a context-aware handler. A nil logger discards.
func Wrap(l *slog.Logger) *slog.Logger {
	if l == nil {
		return New(nil)
	}
	return New(l.Handler())
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("method", rd.Method),
			slog.String("user_agent", rd.UserAgent),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
			slog.String("user_id", sd.UserID),
			slog.String("protocol_version", sd.ProtocolVersion),
		))
	}

	if msg, ok := ctx.Value(rpcMsg{}).(*RPCMessage); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID),
			slog.String("type", msg.Type),
		))
	}

	if cd, ok := ctx.Value(capabilityDataKey{}).(*CapabilityData); ok {
		attrs := []any{slog.String("kind", cd.Kind), slog.String("id", cd.ID)}
		if cd.Mount != "" {
			attrs = append(attrs, slog.String("mount", cd.Mount))
		}
		r.AddAttrs(slog.Group("cap", attrs...))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type rpcMsg struct{}

type RPCMessage struct {
	Method string
	ID     string
	Type   string
}

func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcMsg{}, msg)
}

type requestDataKey struct{}

// RequestData describes the HTTP request that carried a frame, if any.
type RequestData struct {
	Method     string
	UserAgent  string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type sessionDataKey struct{}

type SessionData struct {
	SessionID       string
	UserID          string
	ProtocolVersion string
	State           sessions.State
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type capabilityDataKey struct{}

// CapabilityData names the tool, resource or prompt a request targets.
// Mount is set when the request is forwarded to an upstream server.
type CapabilityData struct {
	Kind  string
	ID    string
	Mount string
}

func WithCapabilityData(ctx context.Context, data *CapabilityData) context.Context {
	return context.WithValue(ctx, capabilityDataKey{}, data)
}
