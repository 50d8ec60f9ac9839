// Package storage provides a small namespaced key/value interface with TTL
// support. The proxy layer caches upstream capability listings in it and
// servers keep per-session scratch data in it.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage defines the primary interface for namespaced data storage.
type Storage interface {
	// Get retrieves data for a specific key within the given namespace.
	// Returns nil StorageItem if key doesn't exist or has expired.
	// Returns error only for legitimate storage system failures.
	Get(ctx context.Context, key string, opts ...Option) (*StorageItem, error)

	// Set stores data for a specific key within the given namespace.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes data within the given namespace.
	// If no key specified via WithKey, removes entire namespace.
	Delete(ctx context.Context, opts ...Option) error

	// Close closes the storage backend and releases resources.
	Close() error
}

// StorageItem represents a stored piece of data with metadata.
type StorageItem struct {
	Data      []byte     // The stored data
	CreatedAt time.Time  // When the item was created
	ExpiresAt *time.Time // When the item expires (nil = no expiration)
}

// IsExpired reports whether the item has expired as of now.
func (si *StorageItem) IsExpired(now time.Time) bool {
	return si.ExpiresAt != nil && !now.Before(*si.ExpiresAt)
}

// Option configures storage operations.
type Option func(*Options)

// Options contains configuration for storage operations.
type Options struct {
	Namespace Namespace      // Optional: specifies the storage namespace (nil = global)
	Key       *string        // Optional: specific key (for Delete operations)
	TTL       *time.Duration // Optional: time-to-live for the data
}

// Apply folds opts into a fresh Options value.
func Apply(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Namespace partitions keys. If nil, storage operates in the global
// namespace.
type Namespace interface {
	namespace() // private method to ensure only our types implement this
}

// MountNamespace holds data cached on behalf of a mounted upstream server.
type MountNamespace struct {
	Mount string
}

func (MountNamespace) namespace() {}

// SessionNamespace holds data scoped to one protocol session.
type SessionNamespace struct {
	SessionID string
}

func (SessionNamespace) namespace() {}

// WithMount specifies the mount-level namespace.
func WithMount(mount string) Option {
	return func(opts *Options) {
		opts.Namespace = MountNamespace{Mount: mount}
	}
}

// WithSession specifies the session-level namespace.
func WithSession(sessionID string) Option {
	return func(opts *Options) {
		opts.Namespace = SessionNamespace{SessionID: sessionID}
	}
}

// WithKey specifies a specific key for Delete operations.
// If not provided, Delete removes the entire namespace.
func WithKey(key string) Option {
	return func(opts *Options) {
		opts.Key = &key
	}
}

// WithTTL sets a time-to-live for the stored data.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = &ttl
	}
}

// NamespacePrefix renders ns as a key prefix shared by the backends.
func NamespacePrefix(ns Namespace) string {
	switch ns := ns.(type) {
	case MountNamespace:
		return "mount:" + ns.Mount + ":"
	case SessionNamespace:
		return "session:" + ns.SessionID + ":"
	default:
		return "global:"
	}
}

// Error types
var (
	// ErrInvalidOptions is returned when incompatible options are provided.
	ErrInvalidOptions = errors.New("storage: invalid option combination")
)
