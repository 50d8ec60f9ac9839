package sessions

import (
	"context"
	"errors"
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned by CreateSession for a duplicate id.
	ErrSessionExists = errors.New("session already exists")
)

// Host is the ledger of live sessions. Servers record a session when its
// transport is accepted, update the state on every transition and delete
// the record once the session is closed. Implementations MUST be safe for
// concurrent use.
type Host interface {
	CreateSession(ctx context.Context, meta *SessionMetadata) error
	GetSession(ctx context.Context, sessionID string) (*SessionMetadata, error)
	// MutateSession applies fn to the stored record and persists the result.
	MutateSession(ctx context.Context, sessionID string, fn func(*SessionMetadata) error) error
	DeleteSession(ctx context.Context, sessionID string) error
	// ListSessions returns all live records ordered by creation time.
	ListSessions(ctx context.Context) ([]SessionMetadata, error)
}
