// Package server runs protocol sessions in the server role. A Server owns
// a capability registry and a mount table; each accepted transport becomes
// a Session that performs the initialization handshake and then dispatches
// requests against local capabilities and mounted upstream servers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"

	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/proxy"
	"github.com/ggoodman/mcp-hub-go/registry"
	"github.com/ggoodman/mcp-hub-go/schema"
	"github.com/ggoodman/mcp-hub-go/sessions"
	"github.com/ggoodman/mcp-hub-go/sessions/memoryhost"
	"github.com/ggoodman/mcp-hub-go/storage"
	"github.com/ggoodman/mcp-hub-go/storage/memory"
	"github.com/ggoodman/mcp-hub-go/transport"
)

const defaultStoreItems = 4096

// ErrServerClosed is returned by Serve and ServeListener after Close.
var ErrServerClosed = errors.New("server closed")

// Listener hands out transports for new sessions.
type Listener interface {
	Accept(ctx context.Context) (transport.Transport, error)
}

// Server serves sessions against a registry.
type Server struct {
	reg    *registry.Registry
	mounts *proxy.Table
	host   sessions.Host
	store  storage.Storage
	log    *slog.Logger
	clock  clockwork.Clock

	info            mcp.ImplementationInfo
	instructions    string
	versionFallback bool
	listChanged     bool
	maxConcurrency  int64
	cancelGrace     time.Duration
	pageSize        int
	validator       schema.Validator

	mu     sync.Mutex
	live   map[string]*Session
	closed bool
	wg     sync.WaitGroup
}

// New creates a server exposing reg.
func New(reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		reg:            reg,
		log:            slog.New(slog.DiscardHandler),
		clock:          clockwork.NewRealClock(),
		info:           mcp.ImplementationInfo{Name: "mcp-hub", Version: "dev"},
		listChanged:    true,
		maxConcurrency: defaultMaxConcurrency,
		cancelGrace:    defaultCancelGrace,
		pageSize:       defaultPageSize,
		live:           make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.validator == nil {
		s.validator = schema.NewValidator()
	}
	if s.host == nil {
		s.host = memoryhost.New()
	}
	if s.store == nil {
		s.store, _ = memory.New(defaultStoreItems, memory.WithClock(s.clock))
	}
	s.mounts = proxy.New(reg, proxy.WithStorage(s.store), proxy.WithLogger(s.log))
	return s
}

// Registry returns the registry the server exposes.
func (s *Server) Registry() *registry.Registry { return s.reg }

// Mounts returns the server's mount table.
func (s *Server) Mounts() *proxy.Table { return s.mounts }

// Mount attaches an upstream under namespace. See proxy.Table.Mount.
func (s *Server) Mount(ctx context.Context, namespace string, up proxy.Upstream, opts ...proxy.MountOption) error {
	return s.mounts.Mount(ctx, namespace, up, opts...)
}

// Import copies a snapshot of up's capabilities into the registry under
// namespace. See proxy.Table.Import.
func (s *Server) Import(ctx context.Context, namespace string, up proxy.Upstream, opts ...proxy.MountOption) error {
	return s.mounts.Import(ctx, namespace, up, opts...)
}

// Serve runs one session over t until the peer disconnects, ctx is
// cancelled or the server is closed. It returns nil for an orderly end.
func (s *Server) Serve(ctx context.Context, t transport.Transport) error {
	sess, err := s.newSession(ctx, t)
	if err != nil {
		_ = t.Close()
		return err
	}
	defer s.untrack(sess)
	return sess.run(ctx)
}

// ServeListener accepts transports from l and serves each on its own
// goroutine until ctx is cancelled, Accept fails or the server is closed.
func (s *Server) ServeListener(ctx context.Context, l Listener) error {
	for {
		t, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		// wg.Add must not race the Wait in Close.
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = t.Close()
			return ErrServerClosed
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go func() {
			defer s.wg.Done()
			if err := s.Serve(ctx, t); err != nil && !errors.Is(err, ErrServerClosed) {
				s.log.InfoContext(ctx, "server.session.end", slog.String("err", err.Error()))
			}
		}()
	}
}

// Sessions lists the records of live sessions.
func (s *Server) Sessions(ctx context.Context) ([]sessions.SessionMetadata, error) {
	return s.host.ListSessions(ctx)
}

// Session returns the live session with id.
func (s *Server) Session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.live[id]
	return sess, ok
}

// Close ends every live session and closes every mounted upstream.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	live := make([]*Session, 0, len(s.live))
	for _, sess := range s.live {
		live = append(live, sess)
	}
	s.mu.Unlock()

	var result *multierror.Error
	for _, sess := range live {
		if err := sess.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.wg.Wait()
	if err := s.mounts.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (s *Server) track(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if _, ok := s.live[sess.id]; ok {
		return fmt.Errorf("%w: %s", sessions.ErrSessionExists, sess.id)
	}
	s.live[sess.id] = sess
	return nil
}

func (s *Server) untrack(sess *Session) {
	s.mu.Lock()
	delete(s.live, sess.id)
	s.mu.Unlock()
}
