package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/registry"
	"github.com/ggoodman/mcp-hub-go/storage"
)

// Cache keys within a mount namespace.
const (
	keyTools     = "tools"
	keyResources = "resources"
	keyTemplates = "resource_templates"
	keyPrompts   = "prompts"
)

// catalog is the unprefixed capability listing of one upstream.
type catalog struct {
	Tools             []mcp.Tool
	Resources         []mcp.Resource
	ResourceTemplates []mcp.ResourceTemplate
	Prompts           []mcp.Prompt
}

// ids returns the prefixed identifiers per kind.
func (c *catalog) ids(ns string) map[registry.Kind][]string {
	out := map[registry.Kind][]string{}
	for _, t := range c.Tools {
		out[registry.KindTool] = append(out[registry.KindTool], registry.Qualify(ns, t.Name))
	}
	for _, r := range c.Resources {
		out[registry.KindResource] = append(out[registry.KindResource], registry.Qualify(ns, r.URI))
	}
	for _, r := range c.ResourceTemplates {
		out[registry.KindResource] = append(out[registry.KindResource], registry.Qualify(ns, r.URITemplate))
	}
	for _, p := range c.Prompts {
		out[registry.KindPrompt] = append(out[registry.KindPrompt], registry.Qualify(ns, p.Name))
	}
	return out
}

// fetchCatalog lists every kind from the upstream concurrently.
func (t *Table) fetchCatalog(ctx context.Context, m *mount) (*catalog, error) {
	if m.cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.timeout)
		defer cancel()
	}
	var c catalog
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { c.Tools, err = m.up.ListTools(gctx); return })
	g.Go(func() (err error) { c.Resources, err = m.up.ListResources(gctx); return })
	g.Go(func() (err error) { c.ResourceTemplates, err = m.up.ListResourceTemplates(gctx); return })
	g.Go(func() (err error) { c.Prompts, err = m.up.ListPrompts(gctx); return })
	if err := g.Wait(); err != nil {
		return nil, mcp.NewUpstreamError(m.namespace, err)
	}
	return &c, nil
}

func (t *Table) storeCatalog(ctx context.Context, m *mount, c *catalog) {
	putCache(ctx, t, m, keyTools, c.Tools)
	putCache(ctx, t, m, keyResources, c.Resources)
	putCache(ctx, t, m, keyTemplates, c.ResourceTemplates)
	putCache(ctx, t, m, keyPrompts, c.Prompts)
}

func putCache[T any](ctx context.Context, t *Table, m *mount, key string, items []T) {
	b, err := json.Marshal(items)
	if err != nil {
		return
	}
	if err := t.store.Set(ctx, key, b, storage.WithMount(m.namespace), storage.WithTTL(m.cfg.refresh.TTL())); err != nil {
		t.log.InfoContext(ctx, "proxy.cache.set.fail", slog.String("mount", m.namespace), slog.String("err", err.Error()))
	}
}

func getCache[T any](ctx context.Context, t *Table, m *mount, key string) ([]T, bool) {
	item, err := t.store.Get(ctx, key, storage.WithMount(m.namespace))
	if err != nil {
		t.log.InfoContext(ctx, "proxy.cache.get.fail", slog.String("mount", m.namespace), slog.String("err", err.Error()))
		return nil, false
	}
	if item == nil {
		return nil, false
	}
	var items []T
	if err := json.Unmarshal(item.Data, &items); err != nil {
		return nil, false
	}
	return items, true
}

// listMerged fetches key from every live mount concurrently and
// concatenates the prefixed results in mount order. Mounts that fail or are
// disconnected are skipped so one broken upstream cannot hide the others.
func listMerged[T any](ctx context.Context, t *Table, key string, fetch func(Upstream, context.Context) ([]T, error), prefix func(ns string, v T) T) ([]T, error) {
	mounts := t.snapshot()
	results := make([][]T, len(mounts))

	var g errgroup.Group
	for i, m := range mounts {
		if m.disconnected.Load() {
			continue
		}
		g.Go(func() error {
			items, err := listMount(ctx, t, m, key, fetch)
			if err != nil {
				t.log.InfoContext(ctx, "proxy.list.fail", slog.String("mount", m.namespace), slog.String("list", key), slog.String("err", err.Error()))
				return nil
			}
			out := make([]T, len(items))
			for j, it := range items {
				out[j] = prefix(m.namespace, it)
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Concat(results...), nil
}

func listMount[T any](ctx context.Context, t *Table, m *mount, key string, fetch func(Upstream, context.Context) ([]T, error)) ([]T, error) {
	if m.cfg.refresh.Cached() {
		if items, ok := getCache[T](ctx, t, m, key); ok {
			return items, nil
		}
	}
	fctx := ctx
	if m.cfg.timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, m.cfg.timeout)
		defer cancel()
	}
	items, err := fetch(m.up, fctx)
	if err != nil {
		return nil, err
	}
	if m.cfg.refresh.Cached() {
		putCache(ctx, t, m, key, items)
	}
	return items, nil
}

// ListTools returns the tools of every mount, prefixed, in mount order.
func (t *Table) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return listMerged(ctx, t, keyTools, Upstream.ListTools, func(ns string, v mcp.Tool) mcp.Tool {
		v.Name = registry.Qualify(ns, v.Name)
		return v
	})
}

// ListResources returns the static resources of every mount.
func (t *Table) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	return listMerged(ctx, t, keyResources, Upstream.ListResources, func(ns string, v mcp.Resource) mcp.Resource {
		v.URI = registry.Qualify(ns, v.URI)
		return v
	})
}

// ListResourceTemplates returns the resource templates of every mount.
func (t *Table) ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error) {
	return listMerged(ctx, t, keyTemplates, Upstream.ListResourceTemplates, func(ns string, v mcp.ResourceTemplate) mcp.ResourceTemplate {
		v.URITemplate = registry.Qualify(ns, v.URITemplate)
		return v
	})
}

// ListPrompts returns the prompts of every mount.
func (t *Table) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	return listMerged(ctx, t, keyPrompts, Upstream.ListPrompts, func(ns string, v mcp.Prompt) mcp.Prompt {
		v.Name = registry.Qualify(ns, v.Name)
		return v
	})
}
