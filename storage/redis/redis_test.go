package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ggoodman/mcp-hub-go/storage"
	"github.com/ggoodman/mcp-hub-go/storage/storagetest"
	"github.com/redis/go-redis/v9"
)

func TestRedisStorage(t *testing.T) {
	var mr *miniredis.Miniredis
	storagetest.Run(t, storagetest.Harness{
		New: func(t *testing.T) storage.Storage {
			mr = miniredis.RunT(t)
			s, err := New(Config{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})})
			if err != nil {
				t.Fatalf("Failed to create Redis storage: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		Advance: func(t *testing.T, d time.Duration) { mr.FastForward(d) },
	})
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without client")
	}
}

func TestOverwriteDropsExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := New(Config{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()}), KeyPrefix: "t:"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v1"), storage.WithMount("math"), storage.WithTTL(time.Minute)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ttl := mr.TTL("t:mount:math:k"); ttl != time.Minute {
		t.Fatalf("want ttl %v, got %v", time.Minute, ttl)
	}
	if err := s.Set(ctx, "k", []byte("v2"), storage.WithMount("math")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	item, err := s.Get(ctx, "k", storage.WithMount("math"))
	if err != nil || item == nil {
		t.Fatalf("get: %v %v", item, err)
	}
	if string(item.Data) != "v2" || item.ExpiresAt != nil {
		t.Fatalf("unexpected item %+v", item)
	}
	if ttl := mr.TTL("t:mount:math:k"); ttl != 0 {
		t.Fatalf("want no ttl after overwrite, got %v", ttl)
	}
}

func TestSharedClientSurvivesClose(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()
	s, err := New(Config{Client: rc, Shared: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := rc.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("want shared client usable after Close, got %v", err)
	}
}
