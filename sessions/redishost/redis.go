package redishost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/mcp-hub-go/sessions"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for a Redis-backed session Host. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=mcp:sessions:"`
	// RecordTTL bounds how long a record outlives its last update; it guards
	// against ledger leaks from processes that die without deleting their
	// sessions. ENV: SESSIONS_RECORD_TTL
	RecordTTL time.Duration `env:"SESSIONS_RECORD_TTL,default=24h"`
}

// Host is a sessions.Host storing one JSON record per session plus a sorted
// index keyed by creation time.
type Host struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

var _ sessions.Host = (*Host)(nil)

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Host, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(cl, cfg), nil
}

// NewWithClient wraps an existing client. The Host takes ownership and
// closes it in Close.
func NewWithClient(cl *redis.Client, cfg Config) *Host {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcp:sessions:"
	}
	ttl := cfg.RecordTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Host{client: cl, keyPrefix: prefix, ttl: ttl}
}

// NewFromEnv builds a Host using envdecode to populate Config.
func NewFromEnv() (*Host, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode env: %w", err)
	}
	return New(cfg)
}

// Close closes the Redis client.
func (h *Host) Close() error { return h.client.Close() }

func (h *Host) recordKey(sessionID string) string { return h.keyPrefix + "record:" + sessionID }
func (h *Host) indexKey() string                  { return h.keyPrefix + "index" }

func (h *Host) CreateSession(ctx context.Context, meta *sessions.SessionMetadata) error {
	cp := *meta
	if cp.MetaVersion == 0 {
		cp.MetaVersion = 1
	}
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	b, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := h.client.SetNX(ctx, h.recordKey(cp.SessionID), b, h.ttl).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return sessions.ErrSessionExists
	}
	score := float64(cp.CreatedAt.UnixNano())
	if err := h.client.ZAdd(ctx, h.indexKey(), redis.Z{Score: score, Member: cp.SessionID}).Err(); err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	return nil
}

func (h *Host) GetSession(ctx context.Context, sessionID string) (*sessions.SessionMetadata, error) {
	b, err := h.client.Get(ctx, h.recordKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sessions.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var meta sessions.SessionMetadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &meta, nil
}

// MutateSession uses optimistic WATCH/MULTI and retries a few times under
// contention.
func (h *Host) MutateSession(ctx context.Context, sessionID string, fn func(*sessions.SessionMetadata) error) error {
	key := h.recordKey(sessionID)
	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return sessions.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var meta sessions.SessionMetadata
		if err := json.Unmarshal(b, &meta); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		if err := fn(&meta); err != nil {
			return err
		}
		meta.SessionID = sessionID
		meta.UpdatedAt = time.Now().UTC()
		nb, err := json.Marshal(&meta)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, nb, h.ttl)
			return nil
		})
		return err
	}

	for range 5 {
		err := h.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("mutate session %s: too much contention", sessionID)
}

func (h *Host) DeleteSession(ctx context.Context, sessionID string) error {
	c := context.WithoutCancel(ctx)
	_, err := h.client.TxPipelined(c, func(p redis.Pipeliner) error {
		p.Del(c, h.recordKey(sessionID))
		p.ZRem(c, h.indexKey(), sessionID)
		return nil
	})
	return err
}

// ListSessions returns live records in creation order. Index entries whose
// record has expired are pruned.
func (h *Host) ListSessions(ctx context.Context) ([]sessions.SessionMetadata, error) {
	ids, err := h.client.ZRange(ctx, h.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = h.recordKey(id)
	}
	vals, err := h.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	out := make([]sessions.SessionMetadata, 0, len(vals))
	var stale []any
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var meta sessions.SessionMetadata
		if err := json.Unmarshal([]byte(s), &meta); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", ids[i], err)
		}
		out = append(out, meta)
	}
	if len(stale) > 0 {
		_ = h.client.ZRem(context.WithoutCancel(ctx), h.indexKey(), stale...).Err()
	}
	return out, nil
}
