// Package fsresources mirrors a directory tree into a registry as resource
// capabilities. Files appearing or disappearing on disk are registered or
// unregistered as they change, so connected sessions see list_changed
// notifications.
package fsresources

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/registry"
	"github.com/ggoodman/mcp-hub-go/sessions"
)

const defaultMaxFileSize = 8 << 20

// Option configures a Watcher.
type Option func(*Watcher)

// WithBaseURI sets the URI prefix of mirrored files. Defaults to
// "file://" followed by the resolved root.
func WithBaseURI(base string) Option {
	return func(w *Watcher) { w.baseURI = strings.TrimRight(base, "/") }
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// WithMaxFileSize skips files larger than n bytes.
func WithMaxFileSize(n int64) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.maxSize = n
		}
	}
}

// Watcher keeps the files under a root directory registered under a
// namespace.
type Watcher struct {
	reg       *registry.Registry
	namespace string
	root      string
	baseURI   string
	maxSize   int64
	log       *slog.Logger

	// mu guards files, the set of relative paths currently registered.
	mu    sync.Mutex
	files map[string]string
}

// New prepares a watcher for root. Nothing is registered until Sync or Run.
func New(reg *registry.Registry, namespace, root string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	fi, err := os.Stat(real)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", root)
	}
	if !registry.ValidNamespace(namespace) {
		return nil, fmt.Errorf("%w: namespace %q", registry.ErrInvalidCapability, namespace)
	}

	w := &Watcher{
		reg:       reg,
		namespace: namespace,
		root:      real,
		baseURI:   "file://" + filepath.ToSlash(real),
		maxSize:   defaultMaxFileSize,
		log:       slog.New(slog.DiscardHandler),
		files:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Root is the resolved directory being mirrored.
func (w *Watcher) Root() string { return w.root }

// URIs returns the local URIs of the files currently registered.
func (w *Watcher) URIs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.files))
	for _, uri := range w.files {
		out = append(out, uri)
	}
	return out
}

// Sync reconciles the registry with the directory contents.
func (w *Watcher) Sync(ctx context.Context) error {
	seen := make(map[string]struct{})
	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() || info.Size() > w.maxSize {
			return nil
		}
		rel, err := filepath.Rel(w.root, p)
		if err != nil {
			return nil
		}
		seen[filepath.ToSlash(rel)] = struct{}{}
		return nil
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for rel, uri := range w.files {
		if _, ok := seen[rel]; ok {
			continue
		}
		if err := w.reg.Unregister(w.namespace, registry.KindResource, uri); err != nil && !errors.Is(err, registry.ErrNotFound) {
			return err
		}
		delete(w.files, rel)
		w.log.DebugContext(ctx, "fsresources.unregister", slog.String("uri", uri))
	}
	for rel := range seen {
		if _, ok := w.files[rel]; ok {
			continue
		}
		uri := w.relToURI(rel)
		if err := w.reg.Register(w.namespace, w.resource(rel, uri)); err != nil {
			w.log.WarnContext(ctx, "fsresources.register.fail", slog.String("uri", uri), slog.String("err", err.Error()))
			continue
		}
		w.files[rel] = uri
		w.log.DebugContext(ctx, "fsresources.register", slog.String("uri", uri))
	}
	return nil
}

// Run syncs once, then watches the tree until ctx ends. Everything the
// watcher registered is unregistered before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer func() { _ = fw.Close() }()
	defer w.clear()

	if err := w.addDirs(fw, w.root); err != nil {
		return err
	}
	if err := w.Sync(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := w.addDirs(fw, ev.Name); err != nil {
						w.log.DebugContext(ctx, "fsresources.watch.fail", slog.String("err", err.Error()))
					}
				}
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				if err := w.Sync(ctx); err != nil && ctx.Err() == nil {
					w.log.WarnContext(ctx, "fsresources.sync.fail", slog.String("err", err.Error()))
				}
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.DebugContext(ctx, "fsresources.watch.error", slog.String("err", err.Error()))
		}
	}
}

func (w *Watcher) addDirs(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return fw.Add(p)
	})
}

func (w *Watcher) clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for rel, uri := range w.files {
		_ = w.reg.Unregister(w.namespace, registry.KindResource, uri)
		delete(w.files, rel)
	}
}

func (w *Watcher) resource(rel, uri string) *registry.Resource {
	return &registry.Resource{
		URI:      uri,
		Name:     path.Base(rel),
		MimeType: mime.TypeByExtension(strings.ToLower(path.Ext(rel))),
		Handler: func(ctx context.Context, _ sessions.Session, req *registry.ResourceRequest) (*mcp.ReadResourceResult, error) {
			return w.read(rel, req.URI)
		},
	}
}

func (w *Watcher) read(rel, uri string) (*mcp.ReadResourceResult, error) {
	abs := filepath.Join(w.root, filepath.FromSlash(rel))
	real, err := filepath.EvalSymlinks(abs)
	if err != nil || !within(real, w.root) {
		return nil, mcp.NewError(mcp.KindNotFound, "resource %q not found", uri)
	}
	data, err := os.ReadFile(real)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, mcp.NewError(mcp.KindNotFound, "resource %q not found", uri)
		}
		return nil, fmt.Errorf("read failed: %w", err)
	}
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(real)))
	return &mcp.ReadResourceResult{Contents: []mcp.ResourceContents{contentsFor(uri, mt, data)}}, nil
}

func contentsFor(uri, mimeType string, data []byte) mcp.ResourceContents {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if utf8.Valid(data) {
		return mcp.ResourceContents{URI: uri, MimeType: mimeType, Text: string(data)}
	}
	return mcp.ResourceContents{URI: uri, MimeType: mimeType, Blob: base64.StdEncoding.EncodeToString(data)}
}

func (w *Watcher) relToURI(rel string) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return w.baseURI + "/" + strings.Join(segs, "/")
}

// within reports whether target is root or a descendant of it.
func within(target, root string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
