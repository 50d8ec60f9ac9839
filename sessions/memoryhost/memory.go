package memoryhost

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ggoodman/mcp-hub-go/sessions"
)

var _ sessions.Host = (*Host)(nil)

// Host is an in-memory sessions.Host.
type Host struct {
	mu       sync.RWMutex
	sessions map[string]*sessions.SessionMetadata
	now      func() time.Time
}

// New constructs an empty Host.
func New() *Host {
	return &Host{
		sessions: make(map[string]*sessions.SessionMetadata),
		now:      time.Now,
	}
}

func (h *Host) CreateSession(ctx context.Context, meta *sessions.SessionMetadata) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[meta.SessionID]; ok {
		return sessions.ErrSessionExists
	}
	cp := *meta
	if cp.MetaVersion == 0 {
		cp.MetaVersion = 1
	}
	now := h.now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	h.sessions[meta.SessionID] = &cp
	return nil
}

func (h *Host) GetSession(ctx context.Context, sessionID string) (*sessions.SessionMetadata, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	meta, ok := h.sessions[sessionID]
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	cp := *meta
	return &cp, nil
}

func (h *Host) MutateSession(ctx context.Context, sessionID string, fn func(*sessions.SessionMetadata) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	meta, ok := h.sessions[sessionID]
	if !ok {
		return sessions.ErrSessionNotFound
	}
	cp := *meta
	if err := fn(&cp); err != nil {
		return err
	}
	cp.SessionID = sessionID
	cp.UpdatedAt = h.now().UTC()
	h.sessions[sessionID] = &cp
	return nil
}

func (h *Host) DeleteSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.sessions, sessionID)
	return nil
}

func (h *Host) ListSessions(ctx context.Context) ([]sessions.SessionMetadata, error) {
	h.mu.RLock()
	out := make([]sessions.SessionMetadata, 0, len(h.sessions))
	for _, meta := range h.sessions {
		out = append(out, *meta)
	}
	h.mu.RUnlock()

	slices.SortFunc(out, func(a, b sessions.SessionMetadata) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareStrings(a.SessionID, b.SessionID)
	})
	return out, nil
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
