// Package redis provides a Redis-based implementation of the storage.Storage
// interface so that several processes can share cached upstream listings.
//
// Each entry is a hash holding the payload and its timestamps. Entries with
// a TTL also carry a Redis expiry, so Redis reclaims them on its own.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ggoodman/mcp-hub-go/storage"
	"github.com/redis/go-redis/v9"
)

const (
	fieldData    = "data"
	fieldCreated = "created"
	fieldExpires = "expires"

	scanBatch = 256
)

// Config contains configuration options for the Redis storage.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys.
	// Default: "mcphub:storage:"
	KeyPrefix string

	// Shared leaves the client open on Close, for clients that other
	// components still use.
	Shared bool
}

// Storage implements storage.Storage on Redis hashes.
type Storage struct {
	client    *redis.Client
	keyPrefix string
	shared    bool
}

// New creates a new Redis-based storage instance.
func New(config Config) (*Storage, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "mcphub:storage:"
	}
	return &Storage{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
		shared:    config.Shared,
	}, nil
}

func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.StorageItem, error) {
	o := storage.Apply(opts...)
	rk := s.key(o.Namespace, key)

	fields, err := s.client.HGetAll(ctx, rk).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", rk, err)
	}
	data, ok := fields[fieldData]
	if !ok {
		return nil, nil
	}

	item := &storage.StorageItem{Data: []byte(data)}
	if item.CreatedAt, err = parseNanos(fields[fieldCreated]); err != nil {
		return nil, fmt.Errorf("corrupt entry %s: %w", rk, err)
	}
	if v, ok := fields[fieldExpires]; ok {
		exp, err := parseNanos(v)
		if err != nil {
			return nil, fmt.Errorf("corrupt entry %s: %w", rk, err)
		}
		item.ExpiresAt = &exp
	}

	// Redis expiry is authoritative; this covers clock skew between writers.
	if item.IsExpired(time.Now()) {
		_ = s.client.Unlink(ctx, rk).Err()
		return nil, nil
	}
	return item, nil
}

func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	o := storage.Apply(opts...)
	rk := s.key(o.Namespace, key)

	now := time.Now()
	values := map[string]any{
		fieldData:    data,
		fieldCreated: strconv.FormatInt(now.UnixNano(), 10),
	}
	if o.TTL != nil {
		values[fieldExpires] = strconv.FormatInt(now.Add(*o.TTL).UnixNano(), 10)
	}

	// Replace the whole hash so a stale expires field never survives an
	// overwrite without TTL.
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, rk)
		p.HSet(ctx, rk, values)
		if o.TTL != nil {
			p.PExpire(ctx, rk, *o.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", rk, err)
	}
	return nil
}

// Delete removes one key when WithKey is given, otherwise every key in the
// namespace.
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	o := storage.Apply(opts...)

	if o.Key != nil {
		rk := s.key(o.Namespace, *o.Key)
		if err := s.client.Unlink(ctx, rk).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", rk, err)
		}
		return nil
	}

	pattern := s.key(o.Namespace, "*")
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := s.client.Unlink(ctx, batch...).Err()
		batch = batch[:0]
		return err
	}

	it := s.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for it.Next(ctx) {
		batch = append(batch, it.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return fmt.Errorf("failed to delete namespace %s: %w", pattern, err)
			}
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("failed to scan namespace %s: %w", pattern, err)
	}
	if err := flush(); err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", pattern, err)
	}
	return nil
}

// Close releases the client unless it was configured as shared.
func (s *Storage) Close() error {
	if s.shared {
		return nil
	}
	if err := s.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

func (s *Storage) key(namespace storage.Namespace, key string) string {
	return s.keyPrefix + storage.NamespacePrefix(namespace) + key
}

func parseNanos(v string) (time.Time, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n), nil
}

var _ storage.Storage = (*Storage)(nil)
