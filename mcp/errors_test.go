package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestError_IsMatchesKind(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", NewError(KindNotFound, "tool %q", "x"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound match")
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("unexpected ErrTimeout match")
	}
	if errors.Is(err, &Error{Kind: KindNotFound, Message: "other"}) {
		t.Fatalf("message mismatch should not match")
	}
	if got := KindOf(err); got != KindNotFound {
		t.Fatalf("want %s, got %s", KindNotFound, got)
	}
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Fatalf("want %s, got %s", KindInternal, got)
	}
}

func TestWrapError(t *testing.T) {
	t.Parallel()

	if WrapError(KindExecution, nil) != nil {
		t.Fatalf("want nil for nil error")
	}
	orig := NewError(KindExecution, "boom")
	if got := WrapError(KindExecution, orig); got != orig {
		t.Fatalf("want same error returned for matching kind")
	}
	w := WrapError(KindCancelled, context.Canceled)
	if !errors.Is(w, context.Canceled) || !errors.Is(w, ErrCancelled) {
		t.Fatalf("want both cause and kind preserved, got %v", w)
	}
}

func TestNewUpstreamError(t *testing.T) {
	t.Parallel()

	err := NewUpstreamError("math", NewError(KindInvalidArguments, "missing b"))
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("want upstream kind")
	}
	if !errors.Is(err, &Error{Kind: KindUpstream, Namespace: "math"}) {
		t.Fatalf("want namespace match")
	}
	if err.Upstream == nil || err.Upstream.Kind != KindInvalidArguments {
		t.Fatalf("want upstream kind preserved, got %+v", err.Upstream)
	}
	if want := `upstream: upstream "math": missing b`; err.Error() != want {
		t.Fatalf("want %q, got %q", want, err.Error())
	}

	plain := NewUpstreamError("fs", errors.New("connection reset"))
	if plain.Upstream.Kind != KindInternal {
		t.Fatalf("want internal kind for untyped cause, got %s", plain.Upstream.Kind)
	}
}
