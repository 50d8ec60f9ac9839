// Package sessionhosttest holds a conformance suite for sessions.Host
// implementations.
package sessionhosttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-hub-go/sessions"
)

// HostFactory creates a new, empty Host for testing.
type HostFactory func(t *testing.T) sessions.Host

// RunHostTests runs the complete Host test suite against the provided factory.
func RunHostTests(t *testing.T, factory HostFactory) {
	t.Run("Records_CreateAndGet", func(t *testing.T) { testCreateAndGet(t, factory) })
	t.Run("Records_DuplicateCreateFails", func(t *testing.T) { testDuplicateCreate(t, factory) })
	t.Run("Records_MutateUpdatesState", func(t *testing.T) { testMutate(t, factory) })
	t.Run("Records_MutateErrorLeavesRecord", func(t *testing.T) { testMutateError(t, factory) })
	t.Run("Records_DeleteIsIdempotent", func(t *testing.T) { testDelete(t, factory) })
	t.Run("Records_ListInCreationOrder", func(t *testing.T) { testListOrder(t, factory) })
	t.Run("Records_ConcurrentMutations", func(t *testing.T) { testConcurrentMutations(t, factory) })
}

func newMeta(id string, created time.Time) *sessions.SessionMetadata {
	return &sessions.SessionMetadata{
		SessionID:       id,
		UserID:          "user-" + id,
		ProtocolVersion: "2025-06-18",
		Client:          sessions.ClientInfo{Name: "test-client", Version: "1.0.0"},
		Capabilities:    sessions.CapabilitySet{ToolsListChanged: true},
		State:           sessions.StateInitializing,
		CreatedAt:       created,
	}
}

func testCreateAndGet(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.CreateSession(ctx, newMeta("s1", time.Time{})); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := h.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "user-s1" || got.State != sessions.StateInitializing || !got.Capabilities.ToolsListChanged {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.MetaVersion != 1 {
		t.Fatalf("want meta version 1, got %d", got.MetaVersion)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not set: %+v", got)
	}
	if _, err := h.GetSession(ctx, "missing"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}

func testDuplicateCreate(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()

	if err := h.CreateSession(ctx, newMeta("dup", time.Time{})); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.CreateSession(ctx, newMeta("dup", time.Time{})); !errors.Is(err, sessions.ErrSessionExists) {
		t.Fatalf("want ErrSessionExists, got %v", err)
	}
}

func testMutate(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()

	if err := h.CreateSession(ctx, newMeta("m", time.Time{})); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := h.MutateSession(ctx, "m", func(m *sessions.SessionMetadata) error {
		m.State = sessions.StateReady
		m.SessionID = "tampered"
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	got, err := h.GetSession(ctx, "m")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != sessions.StateReady {
		t.Fatalf("want ready, got %s", got.State)
	}
	if got.SessionID != "m" {
		t.Fatalf("session id must be immutable, got %s", got.SessionID)
	}
	if err := h.MutateSession(ctx, "missing", func(*sessions.SessionMetadata) error { return nil }); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}

func testMutateError(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()

	if err := h.CreateSession(ctx, newMeta("e", time.Time{})); err != nil {
		t.Fatalf("create: %v", err)
	}
	boom := errors.New("boom")
	err := h.MutateSession(ctx, "e", func(m *sessions.SessionMetadata) error {
		m.State = sessions.StateClosed
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	got, _ := h.GetSession(ctx, "e")
	if got.State != sessions.StateInitializing {
		t.Fatalf("failed mutation must not persist, got %s", got.State)
	}
}

func testDelete(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()

	if err := h.CreateSession(ctx, newMeta("d", time.Time{})); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.DeleteSession(ctx, "d"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := h.DeleteSession(ctx, "d"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := h.GetSession(ctx, "d"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
	list, err := h.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("want empty list, got %d", len(list))
	}
}

func testListOrder(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		if err := h.CreateSession(ctx, newMeta(id, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	list, err := h.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var got []string
	for _, m := range list {
		got = append(got, m.SessionID)
	}
	if fmt.Sprint(got) != "[c a b]" {
		t.Fatalf("want creation order [c a b], got %v", got)
	}
}

func testConcurrentMutations(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()

	const n = 8
	for i := range n {
		if err := h.CreateSession(ctx, newMeta(fmt.Sprintf("c%d", i), time.Time{})); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.MutateSession(ctx, fmt.Sprintf("c%d", i), func(m *sessions.SessionMetadata) error {
				m.State = sessions.StateReady
				return nil
			})
			if err != nil {
				t.Errorf("mutate c%d: %v", i, err)
			}
		}()
	}
	wg.Wait()

	list, err := h.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != n {
		t.Fatalf("want %d sessions, got %d", n, len(list))
	}
	for _, m := range list {
		if m.State != sessions.StateReady {
			t.Fatalf("session %s not updated: %s", m.SessionID, m.State)
		}
	}
}
