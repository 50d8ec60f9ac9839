package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"

	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/schema"
	"github.com/ggoodman/mcp-hub-go/sessions"
)

// ToolRequest carries a typed tool invocation.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolResponseWriterTyped extends ToolResponseWriter with a typed
// structuredContent value.
type ToolResponseWriterTyped[O any] interface {
	ToolResponseWriter
	SetStructured(v O)
}

type toolResponseWriterTyped[O any] struct {
	*toolResponseWriter
	structured *O
}

func (tw *toolResponseWriterTyped[O]) SetStructured(v O) { tw.structured = &v }

// ToolOption configures NewTool.
type ToolOption func(*toolConfig)

type toolConfig struct {
	title                     string
	description               string
	sideEffects               bool
	allowAdditionalProperties bool
	tags                      []string
}

func WithToolTitle(title string) ToolOption {
	return func(c *toolConfig) { c.title = title }
}

// WithToolDescription sets the description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithSideEffects marks the tool as mutating external state.
func WithSideEffects(v bool) ToolOption {
	return func(c *toolConfig) { c.sideEffects = v }
}

// WithToolTags adds tags to the tool. Duplicates are dropped and the
// result is sorted.
func WithToolTags(tags ...string) ToolOption {
	return func(c *toolConfig) {
		c.tags = append(c.tags, tags...)
		slices.Sort(c.tags)
		c.tags = slices.Compact(c.tags)
	}
}

// WithToolAllowAdditionalProperties controls whether unknown argument fields
// are accepted. The default is strict: the reflected schema sets
// additionalProperties=false and decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool builds a Tool whose input schema is reflected from A. The returned
// handler decodes arguments into A before calling fn.
func NewTool[A any](name string, fn func(ctx context.Context, session sessions.Session, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) *Tool {
	cfg := newToolConfig(opts)
	t := cfg.tool(name, schema.MustFor[A](schema.AllowAdditionalProperties(cfg.allowAdditionalProperties)))
	t.Handler = func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a, err := decodeArgs[A](req.Arguments, cfg.allowAdditionalProperties)
		if err != nil {
			return nil, err
		}
		w := newToolResponseWriter(ctx)
		if err := fn(ctx, session, w, &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}); err != nil {
			return nil, err
		}
		return w.Result(), nil
	}
	return t
}

// NewToolWithOutput builds a Tool with typed input A and typed structured
// output O. Both schemas are reflected.
func NewToolWithOutput[A, O any](name string, fn func(ctx context.Context, session sessions.Session, w ToolResponseWriterTyped[O], r *ToolRequest[A]) error, opts ...ToolOption) *Tool {
	cfg := newToolConfig(opts)
	t := cfg.tool(name, schema.MustFor[A](schema.AllowAdditionalProperties(cfg.allowAdditionalProperties)))
	t.OutputSchema = schema.MustFor[O](schema.AllowAdditionalProperties(true))
	t.Handler = func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a, err := decodeArgs[A](req.Arguments, cfg.allowAdditionalProperties)
		if err != nil {
			return nil, err
		}
		tw := &toolResponseWriterTyped[O]{toolResponseWriter: newToolResponseWriter(ctx)}
		if err := fn(ctx, session, tw, &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}); err != nil {
			return nil, err
		}
		res := tw.Result()
		if tw.structured != nil {
			b, err := json.Marshal(tw.structured)
			if err != nil {
				return nil, err
			}
			var m map[string]any
			if err := json.Unmarshal(b, &m); err != nil {
				return nil, err
			}
			res.StructuredContent = m
		}
		return res, nil
	}
	return t
}

func newToolConfig(opts []ToolOption) toolConfig {
	var cfg toolConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (cfg toolConfig) tool(name string, input schema.Schema) *Tool {
	return &Tool{
		Name:        name,
		Title:       cfg.title,
		Description: cfg.description,
		InputSchema: input,
		SideEffects: cfg.sideEffects,
		Tags:        cfg.tags,
	}
}

func decodeArgs[A any](raw json.RawMessage, lenient bool) (A, error) {
	var a A
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return a, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if !lenient {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&a); err != nil {
		return a, mcp.NewError(mcp.KindInvalidArguments, "decode arguments: %v", err)
	}
	return a, nil
}
