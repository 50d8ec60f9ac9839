// Package streaminghttp binds sessions to a long-lived HTTP event stream.
//
// A client opens the stream with GET and receives an "endpoint" event naming
// the URL it must POST messages to. Every frame the server sends afterwards
// arrives as a "message" event on the same stream.
package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-hub-go/auth"
	"github.com/ggoodman/mcp-hub-go/internal/logctx"
	"github.com/ggoodman/mcp-hub-go/internal/wellknown"
	"github.com/ggoodman/mcp-hub-go/transport"
	"github.com/google/uuid"
	sse "github.com/tmaxmax/go-sse"
)

var _ http.Handler = (*Handler)(nil)

// ErrHandlerClosed is returned by Accept after Close.
var ErrHandlerClosed = errors.New("streaminghttp: handler closed")

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	sessionIDParam        = "sessionId"
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"

	eventEndpoint = "endpoint"
	eventMessage  = "message"

	defaultQueueSize    = 32
	defaultMaxFrameSize = 4 << 20
)

// writeJSONError emits a minimal JSON body for rejections that happen before
// any JSON-RPC exchange is possible.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Handler serves the stream endpoint. Streams opened by clients are handed
// out through Accept.
type Handler struct {
	log          *slog.Logger
	endpoint     *url.URL
	auth         auth.Authenticator
	realm        string
	resourceName string
	queueSize    int
	maxFrame     int64

	prmURL *url.URL
	scopes []string
	mux    *http.ServeMux

	accept    chan *serverStream
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	streams map[string]*serverStream
}

// New constructs a Handler for the public endpoint URL. The URL is used
// verbatim as the base of the endpoint event, so it must be reachable by
// clients.
func New(endpoint string, opts ...Option) (*Handler, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL %q: %w", endpoint, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("endpoint URL must use HTTP or HTTPS scheme, got %q", u.Scheme)
	}

	h := &Handler{
		log:       slog.New(slog.DiscardHandler),
		endpoint:  u,
		queueSize: defaultQueueSize,
		maxFrame:  defaultMaxFrameSize,
		accept:    make(chan *serverStream),
		done:      make(chan struct{}),
		streams:   make(map[string]*serverStream),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logctx.Wrap(h.log)

	mux := http.NewServeMux()
	path := pathOnly(u)
	mux.HandleFunc("GET "+path, h.handleGet)
	mux.HandleFunc("POST "+path, h.handlePost)

	if sd, ok := h.auth.(auth.SecurityDescriptor); ok {
		sec := sd.SecurityConfig()
		h.prmURL = wellknown.MetadataURL(u)
		h.scopes = sec.Scopes
		prm := wellknown.Handler(wellknown.ProtectedResourceMetadata{
			Resource:               u.String(),
			AuthorizationServers:   []string{sec.Issuer},
			JwksURI:                sec.JWKSURL,
			ScopesSupported:        sec.Scopes,
			BearerMethodsSupported: []string{"header"},
			ResourceName:           h.resourceName,
		})
		mux.Handle("GET "+pathOnly(h.prmURL), prm)
		mux.Handle("OPTIONS "+pathOnly(h.prmURL), prm)
	}
	h.mux = mux
	return h, nil
}

func pathOnly(u *url.URL) string {
	if u == nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// Accept blocks until a client opens a stream and returns its transport.
func (h *Handler) Accept(ctx context.Context) (transport.Transport, error) {
	select {
	case st := <-h.accept:
		return st, nil
	case <-h.done:
		return nil, ErrHandlerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close ends every open stream and unblocks Accept.
func (h *Handler) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, st := range h.streams {
			_ = st.Close()
		}
	})
	return nil
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
		h.log.WarnContext(ctx, "http.get.not_acceptable")
		return
	}

	userID, ok := h.checkAuthentication(ctx, r, w)
	if !ok {
		return
	}

	select {
	case <-h.done:
		writeJSONError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	default:
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "stream upgrade failed")
		h.log.ErrorContext(ctx, "sse.upgrade.fail", slog.String("err", err.Error()))
		return
	}

	st := newServerStream(uuid.NewString(), userID, sess, h.queueSize)
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: st.id, UserID: userID})

	h.mu.Lock()
	h.streams[st.id] = st
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.streams, st.id)
		h.mu.Unlock()
		st.finish()
		h.log.InfoContext(ctx, "sse.stream.close", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	}()

	postURL := *h.endpoint
	q := postURL.Query()
	q.Set(sessionIDParam, st.id)
	postURL.RawQuery = q.Encode()
	if err := st.write(eventEndpoint, postURL.String()); err != nil {
		h.log.WarnContext(ctx, "sse.endpoint.fail", slog.String("err", err.Error()))
		return
	}

	select {
	case h.accept <- st:
	case <-h.done:
		return
	case <-ctx.Done():
		return
	}
	h.log.InfoContext(ctx, "sse.stream.open")

	select {
	case <-st.done:
	case <-ctx.Done():
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	userID, ok := h.checkAuthentication(ctx, r, w)
	if !ok {
		return
	}

	id := r.URL.Query().Get(sessionIDParam)
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "missing sessionId query parameter")
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}
	h.mu.Lock()
	st := h.streams[id]
	h.mu.Unlock()
	// A stream owned by another principal is reported as missing.
	if st == nil || st.userID != userID {
		writeJSONError(w, http.StatusNotFound, "unknown session")
		h.log.InfoContext(ctx, "session.load.miss", slog.String("session_id", id))
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: id, UserID: userID})

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxFrame))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "message too large")
		} else {
			writeJSONError(w, http.StatusBadRequest, "unreadable body")
		}
		h.log.WarnContext(ctx, "http.post.read.fail", slog.String("err", err.Error()))
		return
	}
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) > 0 && body[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are not supported")
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}
	if !json.Valid(body) {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "json.decode.fail")
		return
	}

	if err := st.deliver(ctx, body); err != nil {
		writeJSONError(w, http.StatusGone, "session closed")
		h.log.InfoContext(ctx, "http.post.closed", slog.String("err", err.Error()))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// checkAuthentication validates the bearer token when an authenticator is
// configured. On failure the response has been written.
func (h *Handler) checkAuthentication(ctx context.Context, r *http.Request, w http.ResponseWriter) (string, bool) {
	if h.auth == nil {
		return "", true
	}

	challenge := func(err error) string {
		var prm string
		if h.prmURL != nil {
			prm = h.prmURL.String()
		}
		return auth.ChallengeFor(err, h.realm, prm, h.scopes).String()
	}

	authHeader := r.Header.Get(authorizationHeader)
	if authHeader == "" {
		h.log.InfoContext(ctx, "auth.check.missing")
		w.Header().Add(wwwAuthenticateHeader, challenge(nil))
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}

	const bearerPrefix = "Bearer "
	tok, found := strings.CutPrefix(authHeader, bearerPrefix)
	tok = strings.TrimSpace(tok)
	if !found || tok == "" {
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed bearer authorization header"))
		w.Header().Add(wwwAuthenticateHeader, challenge(auth.ErrUnauthorized))
		writeJSONError(w, http.StatusUnauthorized, "malformed bearer authorization header")
		return "", false
	}

	ui, err := h.auth.CheckAuthentication(ctx, tok)
	switch {
	case err == nil:
		return ui.UserID(), true
	case errors.Is(err, auth.ErrInsufficientScope):
		h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
		w.Header().Add(wwwAuthenticateHeader, challenge(err))
		writeJSONError(w, http.StatusForbidden, "insufficient scope")
	case errors.Is(err, auth.ErrUnauthorized):
		h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
		w.Header().Add(wwwAuthenticateHeader, challenge(err))
		writeJSONError(w, http.StatusUnauthorized, "invalid token")
	default:
		h.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "authentication unavailable")
	}
	return "", false
}
