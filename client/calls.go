package client

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/registry"
)

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Call(ctx, string(mcp.PingMethod), nil, nil)
}

// CallTool invokes the named tool. args may be nil, a json.RawMessage or
// any value that marshals to a JSON object. A tool that reports failure via
// IsError is a successful call.
func (c *Client) CallTool(ctx context.Context, name string, args any, opts ...CallOption) (*mcp.CallToolResult, error) {
	var cfg callConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	raw, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}
	req := &mcp.CallToolRequest{Name: name, Arguments: raw}
	if cfg.progress != nil {
		req.Meta = &mcp.RequestMeta{ProgressToken: cfg.progress}
	}
	var res mcp.CallToolResult
	if err := c.conn.Call(ctx, string(mcp.ToolsCallMethod), req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func encodeArgs(args any) (json.RawMessage, error) {
	switch v := args.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, mcp.NewError(mcp.KindInvalidArguments, "encode arguments: %v", err)
	}
	return b, nil
}

// ReadResource reads the resource at uri.
func (c *Client) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	var res mcp.ReadResourceResult
	if err := c.conn.Call(ctx, string(mcp.ResourcesReadMethod), &mcp.ReadResourceRequest{URI: uri}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetPrompt renders the named prompt.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	var res mcp.GetPromptResult
	if err := c.conn.Call(ctx, string(mcp.PromptsGetMethod), &mcp.GetPromptRequest{Name: name, Arguments: args}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SetLogLevel asks the server to send log messages at level and above.
func (c *Client) SetLogLevel(ctx context.Context, level mcp.LoggingLevel) error {
	return c.conn.Call(ctx, string(mcp.LoggingSetLevelMethod), &mcp.SetLevelRequest{Level: level}, nil)
}

// ListTools returns every tool, following cursors to the end.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return paginate(ctx, c, mcp.ToolsListMethod, func(r *mcp.ListToolsResult) ([]mcp.Tool, string) {
		return r.Tools, r.NextCursor
	})
}

// ListResources returns every static resource.
func (c *Client) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	return paginate(ctx, c, mcp.ResourcesListMethod, func(r *mcp.ListResourcesResult) ([]mcp.Resource, string) {
		return r.Resources, r.NextCursor
	})
}

// ListResourceTemplates returns every resource template.
func (c *Client) ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error) {
	return paginate(ctx, c, mcp.ResourcesTemplatesListMethod, func(r *mcp.ListResourceTemplatesResult) ([]mcp.ResourceTemplate, string) {
		return r.ResourceTemplates, r.NextCursor
	})
}

// ListPrompts returns every prompt.
func (c *Client) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	return paginate(ctx, c, mcp.PromptsListMethod, func(r *mcp.ListPromptsResult) ([]mcp.Prompt, string) {
		return r.Prompts, r.NextCursor
	})
}

// maxPages bounds cursor following against a server that never stops.
const maxPages = 10000

func paginate[R any, T any](ctx context.Context, c *Client, method mcp.Method, extract func(*R) ([]T, string)) ([]T, error) {
	var (
		all    []T
		cursor string
	)
	for range maxPages {
		var res R
		if err := c.conn.Call(ctx, string(method), &mcp.PaginatedRequest{Cursor: cursor}, &res); err != nil {
			return nil, err
		}
		items, next := extract(&res)
		all = append(all, items...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
	return nil, mcp.NewError(mcp.KindInternal, "%s: too many pages", method)
}

// Capabilities is a snapshot of what a server exposes.
type Capabilities struct {
	Tools             []mcp.Tool
	Resources         []mcp.Resource
	ResourceTemplates []mcp.ResourceTemplate
	Prompts           []mcp.Prompt
}

// ListCapabilities enumerates the capabilities of kind, or of every kind
// when kind is nil. Lists of other kinds are left empty.
func (c *Client) ListCapabilities(ctx context.Context, kind *registry.Kind) (*Capabilities, error) {
	want := func(k registry.Kind) bool { return kind == nil || *kind == k }

	var out Capabilities
	g, gctx := errgroup.WithContext(ctx)
	if want(registry.KindTool) {
		g.Go(func() (err error) {
			out.Tools, err = c.ListTools(gctx)
			return err
		})
	}
	if want(registry.KindResource) {
		g.Go(func() (err error) {
			out.Resources, err = c.ListResources(gctx)
			return err
		})
		g.Go(func() (err error) {
			out.ResourceTemplates, err = c.ListResourceTemplates(gctx)
			return err
		})
	}
	if want(registry.KindPrompt) {
		g.Go(func() (err error) {
			out.Prompts, err = c.ListPrompts(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}
