// Package storagetest holds a conformance suite for storage.Storage
// implementations.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/ggoodman/mcp-hub-go/storage"
)

// Harness wires a backend into the suite. Advance moves the backend's notion
// of time forward so TTL expiry can be observed without sleeping.
type Harness struct {
	New     func(t *testing.T) storage.Storage
	Advance func(t *testing.T, d time.Duration)
}

// Run executes the suite.
func Run(t *testing.T, h Harness) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, h.New(t)) })
	t.Run("GetNonExistent", func(t *testing.T) { testGetNonExistent(t, h.New(t)) })
	t.Run("Namespaces", func(t *testing.T) { testNamespaces(t, h.New(t)) })
	t.Run("DeleteKey", func(t *testing.T) { testDeleteKey(t, h.New(t)) })
	t.Run("DeleteNamespace", func(t *testing.T) { testDeleteNamespace(t, h.New(t)) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, h) })
}

func testSetAndGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	if err := s.Set(ctx, "test-key", []byte("test data")); err != nil {
		t.Fatalf("Failed to set data: %v", err)
	}
	item, err := s.Get(ctx, "test-key")
	if err != nil {
		t.Fatalf("Failed to get data: %v", err)
	}
	if item == nil {
		t.Fatal("Expected item to exist, got nil")
	}
	if string(item.Data) != "test data" {
		t.Fatalf("Expected data %q, got %q", "test data", item.Data)
	}
	if item.ExpiresAt != nil {
		t.Fatalf("Expected no expiry, got %v", item.ExpiresAt)
	}
}

func testGetNonExistent(t *testing.T, s storage.Storage) {
	item, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if item != nil {
		t.Fatalf("Expected nil item, got %+v", item)
	}
}

func testNamespaces(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("global"))
	_ = s.Set(ctx, "k", []byte("math"), storage.WithMount("math"))
	_ = s.Set(ctx, "k", []byte("sess"), storage.WithSession("s1"))

	cases := []struct {
		name string
		opts []storage.Option
		want string
	}{
		{"global", nil, "global"},
		{"mount", []storage.Option{storage.WithMount("math")}, "math"},
		{"session", []storage.Option{storage.WithSession("s1")}, "sess"},
	}
	for _, tc := range cases {
		item, err := s.Get(ctx, "k", tc.opts...)
		if err != nil || item == nil {
			t.Fatalf("%s: want item, got %v err=%v", tc.name, item, err)
		}
		if string(item.Data) != tc.want {
			t.Fatalf("%s: want %q, got %q", tc.name, tc.want, item.Data)
		}
	}
}

func testDeleteKey(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	_ = s.Set(ctx, "a", []byte("1"), storage.WithMount("m"))
	_ = s.Set(ctx, "b", []byte("2"), storage.WithMount("m"))
	if err := s.Delete(ctx, storage.WithMount("m"), storage.WithKey("a")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if item, _ := s.Get(ctx, "a", storage.WithMount("m")); item != nil {
		t.Fatal("expected a deleted")
	}
	if item, _ := s.Get(ctx, "b", storage.WithMount("m")); item == nil {
		t.Fatal("expected b to survive")
	}
}

func testDeleteNamespace(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	_ = s.Set(ctx, "a", []byte("1"), storage.WithMount("m"))
	_ = s.Set(ctx, "b", []byte("2"), storage.WithMount("m"))
	_ = s.Set(ctx, "a", []byte("3"), storage.WithMount("other"))
	if err := s.Delete(ctx, storage.WithMount("m")); err != nil {
		t.Fatalf("delete namespace: %v", err)
	}
	for _, k := range []string{"a", "b"} {
		if item, _ := s.Get(ctx, k, storage.WithMount("m")); item != nil {
			t.Fatalf("expected %s deleted", k)
		}
	}
	if item, _ := s.Get(ctx, "a", storage.WithMount("other")); item == nil {
		t.Fatal("expected other namespace untouched")
	}
}

func testTTL(t *testing.T, h Harness) {
	s := h.New(t)
	ctx := context.Background()

	if err := s.Set(ctx, "ttl", []byte("x"), storage.WithTTL(time.Minute)); err != nil {
		t.Fatalf("set: %v", err)
	}
	item, err := s.Get(ctx, "ttl")
	if err != nil || item == nil {
		t.Fatalf("want live item, got %v err=%v", item, err)
	}
	if item.ExpiresAt == nil {
		t.Fatal("want expiry set")
	}

	h.Advance(t, 2*time.Minute)

	item, err = s.Get(ctx, "ttl")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item != nil {
		t.Fatalf("want expired item gone, got %+v", item)
	}
}
