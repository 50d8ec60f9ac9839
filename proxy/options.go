package proxy

import (
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-hub-go/storage"
)

// Option configures a Table.
type Option func(*Table)

// WithStorage sets the cache used by mounts with a RefreshCached policy.
// The default is an in-memory LRU.
func WithStorage(s storage.Storage) Option {
	return func(t *Table) {
		if s != nil {
			t.store = s
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Table) {
		if l != nil {
			t.log = l
		}
	}
}

// RefreshPolicy controls how a mount's capability lists are refreshed.
type RefreshPolicy struct {
	ttl time.Duration
}

// RefreshAlways fetches the upstream lists on every listing.
var RefreshAlways = RefreshPolicy{}

// RefreshCached keeps upstream lists for ttl. A list_changed notification
// from the upstream drops the cached lists early.
func RefreshCached(ttl time.Duration) RefreshPolicy {
	return RefreshPolicy{ttl: ttl}
}

// Cached reports whether lists are cached.
func (p RefreshPolicy) Cached() bool { return p.ttl > 0 }

// TTL returns the cache lifetime, zero for RefreshAlways.
func (p RefreshPolicy) TTL() time.Duration { return p.ttl }

// DisconnectPolicy decides what happens to a mount whose upstream goes away.
type DisconnectPolicy int

const (
	// OnDisconnectUnmount removes the mount; later requests for the
	// namespace fail with NotFound.
	OnDisconnectUnmount DisconnectPolicy = iota
	// OnDisconnectKeep keeps the mount; later requests fail with an
	// UpstreamError of kind TransportFailure.
	OnDisconnectKeep
)

func (p DisconnectPolicy) String() string {
	if p == OnDisconnectKeep {
		return "keep"
	}
	return "unmount"
}

// MountOption configures a single mount.
type MountOption func(*mountConfig)

type mountConfig struct {
	refresh      RefreshPolicy
	onDisconnect DisconnectPolicy
	timeout      time.Duration

	closeOnUnmount bool
}

func WithRefresh(p RefreshPolicy) MountOption {
	return func(c *mountConfig) { c.refresh = p }
}

func WithDisconnectPolicy(p DisconnectPolicy) MountOption {
	return func(c *mountConfig) { c.onDisconnect = p }
}

// WithTimeout bounds every request forwarded to the upstream, including
// the listings fetched at mount time.
func WithTimeout(d time.Duration) MountOption {
	return func(c *mountConfig) { c.timeout = d }
}

// WithCloseOnUnmount hands the upstream to the table for good: Unmount
// closes it as well as detaching it.
func WithCloseOnUnmount() MountOption {
	return func(c *mountConfig) { c.closeOnUnmount = true }
}
