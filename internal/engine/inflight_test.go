package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ggoodman/mcp-hub-go/internal/jsonrpc"
)

func TestInFlightCompleteOnce(t *testing.T) {
	t.Parallel()

	f := NewInFlight()
	id := jsonrpc.NewRequestID(int64(7))
	ticket, err := f.Add(id, "tools/call", nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := f.Add(jsonrpc.NewRequestID(int64(7)), "tools/call", nil); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("duplicate Add err = %v, want ErrDuplicateID", err)
	}
	// The string "7" is a different id.
	if _, err := f.Add(jsonrpc.NewRequestID("7"), "tools/call", nil); err != nil {
		t.Fatalf("Add string id: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Complete(ticket) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := wins.Load(); got != 1 {
		t.Fatalf("Complete winners = %d, want 1", got)
	}
	if f.Len() != 1 {
		t.Fatalf("Len = %d, want 1", f.Len())
	}
}

func TestInFlightCancelBeatsComplete(t *testing.T) {
	t.Parallel()

	f := NewInFlight()
	id := jsonrpc.NewRequestID("abc")
	ctx, cancel := context.WithCancelCause(context.Background())
	ticket, err := f.Add(id, "tools/call", cancel)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	cause := errors.New("stop")
	if !f.Cancel(id, cause) {
		t.Fatal("Cancel = false, want true")
	}
	if !errors.Is(context.Cause(ctx), cause) {
		t.Fatalf("context cause = %v, want %v", context.Cause(ctx), cause)
	}
	if f.Complete(ticket) {
		t.Fatal("Complete after Cancel = true, want false")
	}
	if f.Cancel(id, cause) {
		t.Fatal("second Cancel = true, want false")
	}
}

func TestInFlightCancelAll(t *testing.T) {
	t.Parallel()

	f := NewInFlight()
	var cancelled atomic.Int32
	for i := range 3 {
		_, _ = f.Add(jsonrpc.NewRequestID(int64(i)), "x", func(error) { cancelled.Add(1) })
	}
	ids := f.CancelAll(errors.New("bye"))
	if len(ids) != 3 || cancelled.Load() != 3 {
		t.Fatalf("CancelAll ids=%d cancelled=%d, want 3/3", len(ids), cancelled.Load())
	}
	if f.Len() != 0 {
		t.Fatalf("Len = %d, want 0", f.Len())
	}
}

func TestInFlightReusedIDAfterCancel(t *testing.T) {
	t.Parallel()

	f := NewInFlight()
	first, err := f.Add(jsonrpc.NewRequestID(int64(5)), "tools/call", func(error) {})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !f.Cancel(jsonrpc.NewRequestID(int64(5)), errors.New("cancelled")) {
		t.Fatal("Cancel = false, want true")
	}

	// The peer may reuse 5 once the first request has ended.
	second, err := f.Add(jsonrpc.NewRequestID(int64(5)), "tools/call", func(error) {})
	if err != nil {
		t.Fatalf("Add reused id: %v", err)
	}
	if f.Complete(first) {
		t.Fatal("Complete(first) = true, want false")
	}
	if f.Len() != 1 {
		t.Fatalf("Len = %d, want 1", f.Len())
	}
	if !f.Complete(second) {
		t.Fatal("Complete(second) = false, want true")
	}
}
