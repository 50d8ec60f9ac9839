package fsresources

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/registry"
)

func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	p := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func resourceIDs(reg *registry.Registry) []string {
	k := registry.KindResource
	var out []string
	for _, e := range reg.List(&k) {
		out = append(out, registry.Qualify(e.Namespace, e.Capability.ID()))
	}
	slices.Sort(out)
	return out
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSyncRegistersFiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "hello")
	writeFile(t, dir, "sub/b.md", "# readme")
	writeFile(t, dir, "big.bin", "0123456789")

	reg := registry.New()
	w, err := New(reg, "docs", dir, WithBaseURI("fs://test"), WithMaxFileSize(9))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := w.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	want := []string{"docs/fs://test/a.txt", "docs/fs://test/sub/b.md"}
	if got := resourceIDs(reg); !slices.Equal(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}

	e, params, err := reg.ResolveResource("docs/fs://test/a.txt")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	res := e.Capability.(*registry.Resource)
	out, err := res.Handler(ctx, nil, &registry.ResourceRequest{URI: "docs/fs://test/a.txt", Params: params})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(out.Contents) != 1 || out.Contents[0].Text != "hello" {
		t.Fatalf("unexpected contents %+v", out.Contents)
	}
	if out.Contents[0].URI != "docs/fs://test/a.txt" {
		t.Fatalf("want qualified uri in contents, got %q", out.Contents[0].URI)
	}
}

func TestReadBinaryAsBlob(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "x.bin"), []byte{0xff, 0xfe, 0x00}, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	w, err := New(registry.New(), "", dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, err := w.read("x.bin", "u")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if c := out.Contents[0]; c.Blob != "//4A" || c.Text != "" || c.MimeType != "application/octet-stream" {
		t.Fatalf("unexpected contents %+v", c)
	}
}

func TestReadRemovedFileIsNotFound(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "gone.txt", "bye")
	w, err := New(registry.New(), "", dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := os.Remove(p); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := w.read("gone.txt", "u"); !errors.Is(err, mcp.ErrNotFound) {
		t.Fatalf("want NotFound, got %v", err)
	}
}

func TestSymlinkEscapeIsRejected(t *testing.T) {
	t.Parallel()
	outside := t.TempDir()
	secret := writeFile(t, outside, "secret.txt", "nope")
	dir := t.TempDir()
	if err := os.Symlink(secret, filepath.Join(dir, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	reg := registry.New()
	w, err := New(reg, "", dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got := resourceIDs(reg); len(got) != 0 {
		t.Fatalf("symlink should not be mirrored, got %v", got)
	}
	if _, err := w.read("link.txt", "u"); !errors.Is(err, mcp.ErrNotFound) {
		t.Fatalf("want NotFound, got %v", err)
	}
}

func TestRunTracksChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")

	reg := registry.New()
	w, err := New(reg, "fs", dir, WithBaseURI("fs://w"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	changed := reg.Subscribe(registry.KindResource)
	defer reg.Unsubscribe(registry.KindResource, changed)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	eventually(t, func() bool { return slices.Equal(resourceIDs(reg), []string{"fs/fs://w/a.txt"}) })

	writeFile(t, dir, "nested/b.txt", "b")
	eventually(t, func() bool {
		return slices.Equal(resourceIDs(reg), []string{"fs/fs://w/a.txt", "fs/fs://w/nested/b.txt"})
	})

	if err := os.Remove(filepath.Join(dir, "a.txt")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	eventually(t, func() bool { return slices.Equal(resourceIDs(reg), []string{"fs/fs://w/nested/b.txt"}) })

	select {
	case <-changed:
	default:
		t.Fatalf("expected a resource list change signal")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := resourceIDs(reg); len(got) != 0 {
		t.Fatalf("want resources cleared after run, got %v", got)
	}
}

func TestNewRejectsFile(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "f.txt", "x")
	if _, err := New(registry.New(), "", p); err == nil {
		t.Fatalf("expected error for non-directory root")
	}
	if _, err := New(registry.New(), "bad ns", t.TempDir()); err == nil {
		t.Fatalf("expected error for invalid namespace")
	}
}
