// Package proxy composes remote servers into a local server. Each mounted
// upstream is exposed under a namespace: its tools and prompts appear as
// "ns/name" and its resource URIs as "ns/<uri>". Requests for a namespaced
// identifier are forwarded to the upstream with the prefix stripped.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/registry"
	"github.com/ggoodman/mcp-hub-go/storage"
	"github.com/ggoodman/mcp-hub-go/storage/memory"
)

const defaultCacheItems = 1024

// Upstream is the client-role view of a mounted server.
type Upstream interface {
	// Call sends a request and decodes the result. Failures are *mcp.Error
	// values.
	Call(ctx context.Context, method string, params, result any) error
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	ListResources(ctx context.Context) ([]mcp.Resource, error)
	ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error)
	ListPrompts(ctx context.Context) ([]mcp.Prompt, error)
	OnNotification(method string, fn func(ctx context.Context, params json.RawMessage))
	// Done is closed when the upstream session ends.
	Done() <-chan struct{}
	Close() error
}

// ErrClosed is returned by Mount after Close.
var ErrClosed = errors.New("proxy closed")

type mount struct {
	namespace string
	up        Upstream
	cfg       mountConfig

	disconnected atomic.Bool
	stop         chan struct{}
	stopOnce     sync.Once
}

func (m *mount) halt() { m.stopOnce.Do(func() { close(m.stop) }) }

// Route is the result of resolving a namespaced identifier.
type Route struct {
	Namespace string
	// ID is the identifier as the upstream knows it.
	ID string
}

// Table is the ordered set of mounts of a server.
type Table struct {
	reg   *registry.Registry
	store storage.Storage
	log   *slog.Logger

	mu     sync.RWMutex
	mounts []*mount
	byNS   map[string]*mount
	closed bool
}

// New creates an empty mount table bound to reg. Namespaces are reserved in
// reg while mounted.
func New(reg *registry.Registry, opts ...Option) *Table {
	t := &Table{
		reg:  reg,
		log:  slog.New(slog.DiscardHandler),
		byNS: make(map[string]*mount),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.store == nil {
		// memory.New only fails for a non-positive size.
		t.store, _ = memory.New(defaultCacheItems)
	}
	return t
}

// Mount attaches up under namespace. The upstream's capabilities are listed
// eagerly and every prefixed identifier is checked against the local
// registry; a collision fails the mount with
// registry.ErrDuplicateIdentifier and leaves up open. On success up is closed
// by Close, and by Unmount only when mounted WithCloseOnUnmount.
func (t *Table) Mount(ctx context.Context, namespace string, up Upstream, opts ...MountOption) error {
	if namespace == "" || !registry.ValidNamespace(namespace) {
		return fmt.Errorf("%w: namespace %q", registry.ErrInvalidCapability, namespace)
	}
	m := &mount{namespace: namespace, up: up, stop: make(chan struct{})}
	for _, opt := range opts {
		opt(&m.cfg)
	}
	log := t.log.With(slog.String("mount", namespace))
	start := time.Now()

	cat, err := t.fetchCatalog(ctx, m)
	if err != nil {
		log.ErrorContext(ctx, "proxy.mount.fail", slog.String("err", err.Error()))
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if _, ok := t.byNS[namespace]; ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: namespace %q already mounted", registry.ErrDuplicateIdentifier, namespace)
	}
	if err := t.reg.Reserve(namespace, cat.ids(namespace)); err != nil {
		t.mu.Unlock()
		log.InfoContext(ctx, "proxy.mount.collision", slog.String("err", err.Error()))
		return err
	}
	t.mounts = append(t.mounts, m)
	t.byNS[namespace] = m
	t.mu.Unlock()

	if m.cfg.refresh.Cached() {
		t.storeCatalog(ctx, m, cat)
	}
	t.watch(m)
	t.notifyAll()

	log.InfoContext(ctx, "proxy.mount.ok",
		slog.Int("tools", len(cat.Tools)),
		slog.Int("resources", len(cat.Resources)+len(cat.ResourceTemplates)),
		slog.Int("prompts", len(cat.Prompts)),
		slog.String("on_disconnect", m.cfg.onDisconnect.String()),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

// Unmount detaches namespace. The upstream stays open for its owner unless
// the mount was made WithCloseOnUnmount.
func (t *Table) Unmount(namespace string) error {
	m := t.remove(namespace, nil)
	if m == nil {
		return fmt.Errorf("%w: mount %q", registry.ErrNotFound, namespace)
	}
	t.notifyAll()
	if !m.cfg.closeOnUnmount {
		return nil
	}
	return m.up.Close()
}

// remove detaches namespace. When only is non-nil the mount is removed
// only if it is still that mount.
func (t *Table) remove(namespace string, only *mount) *mount {
	t.mu.Lock()
	m, ok := t.byNS[namespace]
	if ok && only != nil && m != only {
		ok = false
	}
	if ok {
		delete(t.byNS, namespace)
		for i, o := range t.mounts {
			if o == m {
				t.mounts = append(t.mounts[:i:i], t.mounts[i+1:]...)
				break
			}
		}
		t.reg.Release(namespace)
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}
	m.halt()
	if err := t.store.Delete(context.Background(), storage.WithMount(namespace)); err != nil {
		t.log.Info("proxy.cache.delete.fail", slog.String("mount", namespace), slog.String("err", err.Error()))
	}
	return m
}

// Mounts returns the mounted namespaces in mount order.
func (t *Table) Mounts() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.mounts))
	for i, m := range t.mounts {
		out[i] = m.namespace
	}
	return out
}

// Close unmounts everything and closes every upstream. Close errors are
// aggregated.
func (t *Table) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	mounts := t.mounts
	t.mounts = nil
	t.byNS = make(map[string]*mount)
	for _, m := range mounts {
		t.reg.Release(m.namespace)
	}
	t.mu.Unlock()

	var result *multierror.Error
	for _, m := range mounts {
		m.halt()
		if err := m.up.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close mount %q: %w", m.namespace, err))
		}
	}
	if len(mounts) > 0 {
		t.notifyAll()
	}
	return result.ErrorOrNil()
}

// Owns reports whether id falls under a mounted namespace.
func (t *Table) Owns(id string) bool {
	ns, _, ok := registry.Split(id)
	if !ok {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok = t.byNS[ns]
	return ok
}

// Resolve maps a namespaced identifier to its mount. Identifiers outside
// every mount are NotFound; identifiers of a disconnected mount kept by
// OnDisconnectKeep are an UpstreamError.
func (t *Table) Resolve(kind registry.Kind, id string) (Route, error) {
	m, local, err := t.route(kind, id)
	if err != nil {
		return Route{}, err
	}
	return Route{Namespace: m.namespace, ID: local}, nil
}

func (t *Table) route(kind registry.Kind, id string) (*mount, string, error) {
	ns, local, ok := registry.Split(id)
	if !ok {
		return nil, "", mcp.NewError(mcp.KindNotFound, "%s %q", kind, id)
	}
	t.mu.RLock()
	m, ok := t.byNS[ns]
	t.mu.RUnlock()
	if !ok {
		return nil, "", mcp.NewError(mcp.KindNotFound, "%s %q", kind, id)
	}
	if m.disconnected.Load() {
		return nil, "", mcp.NewUpstreamError(ns, mcp.NewError(mcp.KindTransport, "upstream disconnected"))
	}
	return m, local, nil
}

// CallTool forwards a tool invocation.
func (t *Table) CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	m, local, err := t.route(registry.KindTool, name)
	if err != nil {
		return nil, err
	}
	var res mcp.CallToolResult
	if err := t.forward(ctx, m, string(mcp.ToolsCallMethod), &mcp.CallToolRequest{Name: local, Arguments: args}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ReadResource forwards a resource read. Returned content URIs are
// re-prefixed with the namespace.
func (t *Table) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	m, local, err := t.route(registry.KindResource, uri)
	if err != nil {
		return nil, err
	}
	var res mcp.ReadResourceResult
	if err := t.forward(ctx, m, string(mcp.ResourcesReadMethod), &mcp.ReadResourceRequest{URI: local}, &res); err != nil {
		return nil, err
	}
	for i := range res.Contents {
		if res.Contents[i].URI != "" {
			res.Contents[i].URI = registry.Qualify(m.namespace, res.Contents[i].URI)
		}
	}
	return &res, nil
}

// GetPrompt forwards a prompt request.
func (t *Table) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	m, local, err := t.route(registry.KindPrompt, name)
	if err != nil {
		return nil, err
	}
	var res mcp.GetPromptResult
	if err := t.forward(ctx, m, string(mcp.PromptsGetMethod), &mcp.GetPromptRequest{Name: local, Arguments: args}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (t *Table) forward(ctx context.Context, m *mount, method string, params, result any) error {
	fctx := ctx
	if m.cfg.timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, m.cfg.timeout)
		defer cancel()
	}
	err := m.up.Call(fctx, method, params, result)
	if err == nil {
		return nil
	}
	// The caller giving up is not an upstream failure.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	t.log.InfoContext(ctx, "proxy.forward.fail", slog.String("mount", m.namespace), slog.String("method", method), slog.String("err", err.Error()))
	return mcp.NewUpstreamError(m.namespace, err)
}

// watch reacts to upstream list changes and disconnection.
func (t *Table) watch(m *mount) {
	invalidate := func(kind registry.Kind) func(context.Context, json.RawMessage) {
		return func(ctx context.Context, _ json.RawMessage) {
			if m.cfg.refresh.Cached() {
				if err := t.store.Delete(ctx, storage.WithMount(m.namespace)); err != nil {
					t.log.InfoContext(ctx, "proxy.cache.delete.fail", slog.String("mount", m.namespace), slog.String("err", err.Error()))
				}
			}
			t.reg.Notify(kind)
		}
	}
	m.up.OnNotification(string(mcp.ToolsListChangedNotificationMethod), invalidate(registry.KindTool))
	m.up.OnNotification(string(mcp.ResourcesListChangedNotificationMethod), invalidate(registry.KindResource))
	m.up.OnNotification(string(mcp.PromptsListChangedNotificationMethod), invalidate(registry.KindPrompt))

	go func() {
		select {
		case <-m.stop:
			return
		case <-m.up.Done():
		}
		t.onDisconnect(m)
	}()
}

func (t *Table) onDisconnect(m *mount) {
	log := t.log.With(slog.String("mount", m.namespace), slog.String("policy", m.cfg.onDisconnect.String()))
	switch m.cfg.onDisconnect {
	case OnDisconnectKeep:
		m.disconnected.Store(true)
		log.Info("proxy.upstream.disconnected")
		t.notifyAll()
	default:
		if t.remove(m.namespace, m) != nil {
			log.Info("proxy.upstream.unmounted")
			t.notifyAll()
		}
	}
}

func (t *Table) notifyAll() {
	for _, k := range registry.Kinds {
		t.reg.Notify(k)
	}
}

func (t *Table) snapshot() []*mount {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*mount, len(t.mounts))
	copy(out, t.mounts)
	return out
}
