package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ggoodman/mcp-hub-go/internal/engine"
	"github.com/ggoodman/mcp-hub-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-hub-go/internal/logctx"
	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/registry"
	"github.com/ggoodman/mcp-hub-go/sessions"
	"github.com/ggoodman/mcp-hub-go/storage"
	"github.com/ggoodman/mcp-hub-go/transport"
)

// identifiedSession is implemented by transports that assign their own
// session identifiers, such as the HTTP stream binding.
type identifiedSession interface {
	SessionID() string
}

// Session is one server-role protocol session.
type Session struct {
	srv  *Server
	conn *engine.Conn
	sem  *semaphore.Weighted
	log  *slog.Logger

	id        string
	userID    string
	transport string

	mu              sync.RWMutex
	state           sessions.State
	negotiated      bool
	protocolVersion string
	client          sessions.ClientInfo
	caps            sessions.CapabilitySet
	logLevel        mcp.LoggingLevel
}

var (
	_ engine.Handler       = (*Session)(nil)
	_ sessions.Session     = (*Session)(nil)
	_ sessions.SessionData = (*Session)(nil)
)

func (s *Server) newSession(ctx context.Context, t transport.Transport) (*Session, error) {
	id := uuid.NewString()
	if is, ok := t.(identifiedSession); ok && is.SessionID() != "" {
		id = is.SessionID()
	}
	sess := &Session{
		srv:       s,
		sem:       semaphore.NewWeighted(s.maxConcurrency),
		log:       s.log,
		id:        id,
		userID:    transport.UserID(t),
		transport: transportName(t),
		state:     sessions.StateUninitialized,
		logLevel:  mcp.LoggingLevelInfo,
	}
	sess.conn = engine.New(t, sess, engine.WithLogger(s.log))

	if err := s.track(sess); err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	if err := s.host.CreateSession(ctx, &sessions.SessionMetadata{
		MetaVersion: 1,
		SessionID:   sess.id,
		UserID:      sess.userID,
		Transport:   sess.transport,
		State:       sessions.StateUninitialized,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		s.untrack(sess)
		return nil, err
	}
	return sess, nil
}

func transportName(t transport.Transport) string {
	if n, ok := t.(interface{ Name() string }); ok {
		return n.Name()
	}
	return ""
}

func (s *Session) run(ctx context.Context) error {
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: s.id, UserID: s.userID})
	s.log.InfoContext(ctx, "session.open", slog.String("transport", s.transport))

	err := s.conn.Run(ctx)

	s.setState(ctx, sessions.StateShuttingDown)
	s.setState(ctx, sessions.StateClosed)
	dctx := context.WithoutCancel(ctx)
	if derr := s.srv.host.DeleteSession(dctx, s.id); derr != nil {
		s.log.InfoContext(ctx, "session.record.delete.fail", slog.String("err", derr.Error()))
	}
	if derr := s.srv.store.Delete(dctx, storage.WithSession(s.id)); derr != nil {
		s.log.InfoContext(ctx, "session.data.delete.fail", slog.String("err", derr.Error()))
	}
	s.log.InfoContext(ctx, "session.closed")
	return err
}

// Close ends the session. Requests still in flight are answered with a
// Cancelled error.
func (s *Session) Close() error {
	s.setState(context.Background(), sessions.StateShuttingDown)
	return s.conn.Close()
}

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} { return s.conn.Done() }

func (s *Session) SessionID() string { return s.id }
func (s *Session) UserID() string    { return s.userID }

func (s *Session) ProtocolVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocolVersion
}

func (s *Session) State() sessions.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) ClientInfo() sessions.ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

func (s *Session) Capabilities() sessions.CapabilitySet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

// Log sends notifications/message when level is at or above the level the
// client selected with logging/setLevel.
func (s *Session) Log(ctx context.Context, level mcp.LoggingLevel, logger string, data any) error {
	s.mu.RLock()
	min, ready := s.logLevel, s.state == sessions.StateReady
	s.mu.RUnlock()
	if !ready || !level.AtLeast(min) {
		return nil
	}
	return s.conn.Notify(ctx, string(mcp.LoggingMessageNotificationMethod), &mcp.LoggingMessageNotification{Level: level, Logger: logger, Data: data})
}

func (s *Session) PutData(ctx context.Context, key string, value []byte) error {
	return s.srv.store.Set(ctx, key, value, storage.WithSession(s.id))
}

func (s *Session) GetData(ctx context.Context, key string) ([]byte, bool, error) {
	item, err := s.srv.store.Get(ctx, key, storage.WithSession(s.id))
	if err != nil || item == nil {
		return nil, false, err
	}
	return item.Data, true, nil
}

func (s *Session) DeleteData(ctx context.Context, key string) error {
	return s.srv.store.Delete(ctx, storage.WithSession(s.id), storage.WithKey(key))
}

// setState moves the session to st unless it already reached a later
// state. The record in the session host is updated on every transition.
func (s *Session) setState(ctx context.Context, st sessions.State) {
	s.mu.Lock()
	if stateOrder[st] <= stateOrder[s.state] {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = st
	s.mu.Unlock()

	s.persist(ctx, func(m *sessions.SessionMetadata) { m.State = st })
	s.log.InfoContext(ctx, "session.state", slog.String("from", string(from)), slog.String("to", string(st)))
}

// advance performs the from -> to transition only if the session is in
// from.
func (s *Session) advance(ctx context.Context, from, to sessions.State) bool {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return false
	}
	s.state = to
	s.mu.Unlock()

	s.persist(ctx, func(m *sessions.SessionMetadata) { m.State = to })
	s.log.InfoContext(ctx, "session.state", slog.String("from", string(from)), slog.String("to", string(to)))
	return true
}

var stateOrder = map[sessions.State]int{
	sessions.StateUninitialized: 0,
	sessions.StateInitializing:  1,
	sessions.StateReady:         2,
	sessions.StateShuttingDown:  3,
	sessions.StateClosed:        4,
}

func (s *Session) persist(ctx context.Context, fn func(*sessions.SessionMetadata)) {
	err := s.srv.host.MutateSession(context.WithoutCancel(ctx), s.id, func(m *sessions.SessionMetadata) error {
		fn(m)
		m.UpdatedAt = s.srv.clock.Now().UTC()
		return nil
	})
	if err != nil {
		s.log.InfoContext(ctx, "session.record.update.fail", slog.String("err", err.Error()))
	}
}

// Admit enforces the lifecycle: only initialize and ping are accepted
// before the session is ready.
func (s *Session) Admit(ctx context.Context, req *jsonrpc.Request) error {
	method := mcp.Method(req.Method)
	state := s.State()

	switch {
	case state == sessions.StateShuttingDown || state.Terminal():
		return mcp.NewError(mcp.KindProtocolSequence, "session is %s", state)
	case method == mcp.PingMethod:
		return nil
	case method == mcp.InitializeMethod:
		if !s.advance(ctx, sessions.StateUninitialized, sessions.StateInitializing) {
			return mcp.NewError(mcp.KindProtocolSequence, "session already initialized")
		}
		return nil
	case state != sessions.StateReady:
		return mcp.NewError(mcp.KindProtocolSequence, "%s received while session is %s", req.Method, state)
	}
	return nil
}

// HandleRequest runs the handshake or dispatches the request.
func (s *Session) HandleRequest(ctx context.Context, req *jsonrpc.Request) (any, error) {
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       s.id,
		UserID:          s.userID,
		ProtocolVersion: s.ProtocolVersion(),
		State:           s.State(),
	})
	if mcp.Method(req.Method) == mcp.InitializeMethod {
		return s.handshake(ctx, req)
	}
	return s.dispatch(ctx, req)
}

// HandleNotification completes the handshake on notifications/initialized.
// Other notifications are only observed once the session is ready.
func (s *Session) HandleNotification(ctx context.Context, note *jsonrpc.Request) {
	if mcp.Method(note.Method) == mcp.InitializedNotificationMethod {
		s.mu.RLock()
		negotiated := s.negotiated
		s.mu.RUnlock()
		if !negotiated || !s.advance(ctx, sessions.StateInitializing, sessions.StateReady) {
			s.log.InfoContext(ctx, "session.notification.out_of_order", slog.String("method", note.Method), slog.String("state", string(s.State())))
			return
		}
		s.startListChanged(ctx)
		s.log.InfoContext(ctx, "session.ready")
		return
	}
	if s.State() != sessions.StateReady {
		s.log.InfoContext(ctx, "session.notification.dropped", slog.String("method", note.Method), slog.String("state", string(s.State())))
		return
	}
	s.log.DebugContext(ctx, "session.notification.ignored", slog.String("method", note.Method))
}

func (s *Session) handshake(ctx context.Context, req *jsonrpc.Request) (any, error) {
	var p mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.log.InfoContext(ctx, "session.handshake.fail", slog.String("err", err.Error()))
		return nil, engine.Fatal(mcp.NewError(mcp.KindHandshake, "malformed initialize params: %v", err))
	}
	if p.ProtocolVersion == "" {
		s.log.InfoContext(ctx, "session.handshake.fail", slog.String("err", "missing protocol version"))
		return nil, engine.Fatal(mcp.NewError(mcp.KindHandshake, "missing protocol version"))
	}

	version := p.ProtocolVersion
	if !mcp.IsSupportedProtocolVersion(version) {
		if !s.srv.versionFallback {
			s.log.InfoContext(ctx, "session.handshake.fail", slog.String("requested", version))
			return nil, engine.Fatal(mcp.NewError(mcp.KindHandshake, "unsupported protocol version %q", version))
		}
		version = mcp.LatestProtocolVersion
	}

	lc := s.srv.listChanged
	caps := sessions.CapabilitySet{
		ToolsListChanged:     lc,
		ResourcesListChanged: lc,
		PromptsListChanged:   lc,
		Logging:              true,
		Roots:                p.Capabilities.Roots != nil,
	}
	if _, ok := p.Capabilities.Experimental[experimentalCancellation]; ok {
		caps.Cancellation = true
	}
	client := sessions.ClientInfo{Name: p.ClientInfo.Name, Version: p.ClientInfo.Version}

	s.mu.Lock()
	s.protocolVersion = version
	s.client = client
	s.caps = caps
	s.negotiated = true
	s.mu.Unlock()

	s.persist(ctx, func(m *sessions.SessionMetadata) {
		m.ProtocolVersion = version
		m.Client = client
		m.Capabilities = caps
	})
	s.log.InfoContext(ctx, "session.handshake.ok",
		slog.String("protocol_version", version),
		slog.String("client", client.Name),
	)

	return &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities: mcp.ServerCapabilities{
			Logging:      &mcp.LoggingCapability{},
			Tools:        &mcp.ListChangedCapability{ListChanged: lc},
			Resources:    &mcp.ResourcesCapability{ListChanged: lc},
			Prompts:      &mcp.ListChangedCapability{ListChanged: lc},
			Experimental: map[string]any{experimentalCancellation: map[string]any{}},
		},
		ServerInfo:   s.srv.info,
		Instructions: s.srv.instructions,
	}, nil
}

const experimentalCancellation = "cancellation"

var listChangedMethods = map[registry.Kind]mcp.Method{
	registry.KindTool:     mcp.ToolsListChangedNotificationMethod,
	registry.KindResource: mcp.ResourcesListChangedNotificationMethod,
	registry.KindPrompt:   mcp.PromptsListChangedNotificationMethod,
}

// startListChanged forwards registry change signals as list_changed
// notifications until the session ends.
func (s *Session) startListChanged(ctx context.Context) {
	if !s.srv.listChanged {
		return
	}
	for _, kind := range registry.Kinds {
		ch := s.srv.reg.Subscribe(kind)
		method := string(listChangedMethods[kind])
		go func() {
			defer s.srv.reg.Unsubscribe(kind, ch)
			for {
				select {
				case <-s.conn.Done():
					return
				case _, ok := <-ch:
					if !ok {
						return
					}
					if err := s.conn.Notify(ctx, method, nil); err != nil {
						s.log.InfoContext(ctx, "session.list_changed.fail", slog.String("method", method), slog.String("err", err.Error()))
					}
				}
			}
		}()
	}
}
