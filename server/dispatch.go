package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/ggoodman/mcp-hub-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-hub-go/internal/logctx"
	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/registry"
	"github.com/ggoodman/mcp-hub-go/schema"
)

func (s *Session) dispatch(ctx context.Context, req *jsonrpc.Request) (any, error) {
	switch mcp.Method(req.Method) {
	case mcp.PingMethod:
		return &mcp.EmptyResult{}, nil
	case mcp.ToolsListMethod:
		return s.listTools(ctx, req)
	case mcp.ToolsCallMethod:
		return s.callTool(ctx, req)
	case mcp.ResourcesListMethod:
		return s.listResources(ctx, req)
	case mcp.ResourcesTemplatesListMethod:
		return s.listResourceTemplates(ctx, req)
	case mcp.ResourcesReadMethod:
		return s.readResource(ctx, req)
	case mcp.PromptsListMethod:
		return s.listPrompts(ctx, req)
	case mcp.PromptsGetMethod:
		return s.getPrompt(ctx, req)
	case mcp.LoggingSetLevelMethod:
		return s.setLevel(ctx, req)
	}
	return nil, mcp.NewError(mcp.KindMethodNotFound, "method %q not found", req.Method)
}

func decodeParams(req *jsonrpc.Request, v any) error {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return mcp.NewError(mcp.KindInvalidArguments, "malformed %s params: %v", req.Method, err)
	}
	return nil
}

// page slices items at the offset encoded in cursor. The returned cursor is
// empty on the last page.
func page[T any](items []T, cursor string, size int) ([]T, string, error) {
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(items) {
			return nil, "", mcp.NewError(mcp.KindInvalidArguments, "invalid cursor %q", cursor)
		}
		start = n
	}
	if size <= 0 || start+size >= len(items) {
		return items[start:], "", nil
	}
	end := start + size
	return items[start:end], strconv.Itoa(end), nil
}

func (s *Session) listTools(ctx context.Context, req *jsonrpc.Request) (any, error) {
	var p mcp.ListToolsRequest
	if err := decodeParams(req, &p); err != nil {
		return nil, err
	}
	kind := registry.KindTool
	var tools []mcp.Tool
	for _, e := range s.srv.reg.List(&kind) {
		tools = append(tools, e.Capability.(*registry.Tool).Descriptor(e.ID()))
	}
	remote, err := s.srv.mounts.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	tools = append(tools, remote...)

	items, next, err := page(tools, p.Cursor, s.srv.pageSize)
	if err != nil {
		return nil, err
	}
	return &mcp.ListToolsResult{Tools: nonNil(items), PaginatedResult: mcp.PaginatedResult{NextCursor: next}}, nil
}

func (s *Session) listResources(ctx context.Context, req *jsonrpc.Request) (any, error) {
	var p mcp.ListResourcesRequest
	if err := decodeParams(req, &p); err != nil {
		return nil, err
	}
	kind := registry.KindResource
	var resources []mcp.Resource
	for _, e := range s.srv.reg.List(&kind) {
		if r := e.Capability.(*registry.Resource); !r.IsTemplate() {
			resources = append(resources, r.Descriptor(e.ID()))
		}
	}
	remote, err := s.srv.mounts.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	resources = append(resources, remote...)

	items, next, err := page(resources, p.Cursor, s.srv.pageSize)
	if err != nil {
		return nil, err
	}
	return &mcp.ListResourcesResult{Resources: nonNil(items), PaginatedResult: mcp.PaginatedResult{NextCursor: next}}, nil
}

func (s *Session) listResourceTemplates(ctx context.Context, req *jsonrpc.Request) (any, error) {
	var p mcp.ListResourceTemplatesRequest
	if err := decodeParams(req, &p); err != nil {
		return nil, err
	}
	kind := registry.KindResource
	var templates []mcp.ResourceTemplate
	for _, e := range s.srv.reg.List(&kind) {
		if r := e.Capability.(*registry.Resource); r.IsTemplate() {
			templates = append(templates, r.TemplateDescriptor(e.ID()))
		}
	}
	remote, err := s.srv.mounts.ListResourceTemplates(ctx)
	if err != nil {
		return nil, err
	}
	templates = append(templates, remote...)

	items, next, err := page(templates, p.Cursor, s.srv.pageSize)
	if err != nil {
		return nil, err
	}
	return &mcp.ListResourceTemplatesResult{ResourceTemplates: nonNil(items), PaginatedResult: mcp.PaginatedResult{NextCursor: next}}, nil
}

func (s *Session) listPrompts(ctx context.Context, req *jsonrpc.Request) (any, error) {
	var p mcp.ListPromptsRequest
	if err := decodeParams(req, &p); err != nil {
		return nil, err
	}
	kind := registry.KindPrompt
	var prompts []mcp.Prompt
	for _, e := range s.srv.reg.List(&kind) {
		prompts = append(prompts, e.Capability.(*registry.Prompt).Descriptor(e.ID()))
	}
	remote, err := s.srv.mounts.ListPrompts(ctx)
	if err != nil {
		return nil, err
	}
	prompts = append(prompts, remote...)

	items, next, err := page(prompts, p.Cursor, s.srv.pageSize)
	if err != nil {
		return nil, err
	}
	return &mcp.ListPromptsResult{Prompts: nonNil(items), PaginatedResult: mcp.PaginatedResult{NextCursor: next}}, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func (s *Session) callTool(ctx context.Context, req *jsonrpc.Request) (any, error) {
	var p mcp.CallToolRequest
	if err := decodeParams(req, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, mcp.NewError(mcp.KindInvalidArguments, "tool name is required")
	}
	ctx = logctx.WithCapabilityData(ctx, &logctx.CapabilityData{Kind: registry.KindTool.String(), ID: p.Name})

	e, err := s.srv.reg.Lookup(registry.KindTool, p.Name)
	if err != nil {
		if !s.srv.mounts.Owns(p.Name) {
			return nil, mcp.NewError(mcp.KindNotFound, "tool %q not found", p.Name)
		}
		return s.invoke(ctx, "tools.call", func(ctx context.Context) (any, error) {
			return s.srv.mounts.CallTool(ctx, p.Name, p.Arguments)
		})
	}

	tool := e.Capability.(*registry.Tool)
	if err := s.srv.validator.Validate(tool.InputSchema, p.Arguments); err != nil {
		if errors.Is(err, schema.ErrInvalid) {
			return nil, mcp.NewError(mcp.KindInvalidArguments, "%s", strings.TrimPrefix(err.Error(), schema.ErrInvalid.Error()+": "))
		}
		return nil, mcp.WrapError(mcp.KindInternal, err)
	}
	if tool.Handler == nil {
		return nil, mcp.NewError(mcp.KindExecution, "tool %q has no handler", p.Name)
	}
	if p.Meta != nil && p.Meta.ProgressToken != nil {
		ctx = registry.WithProgressReporter(ctx, &progressReporter{sess: s, token: p.Meta.ProgressToken})
	}
	call := &mcp.CallToolRequest{Name: p.Name, Arguments: p.Arguments}
	return s.invoke(ctx, "tools.call", func(ctx context.Context) (any, error) {
		return tool.Handler(ctx, s, call)
	})
}

func (s *Session) readResource(ctx context.Context, req *jsonrpc.Request) (any, error) {
	var p mcp.ReadResourceRequest
	if err := decodeParams(req, &p); err != nil {
		return nil, err
	}
	if p.URI == "" {
		return nil, mcp.NewError(mcp.KindInvalidArguments, "resource uri is required")
	}
	ctx = logctx.WithCapabilityData(ctx, &logctx.CapabilityData{Kind: registry.KindResource.String(), ID: p.URI})

	e, params, err := s.srv.reg.ResolveResource(p.URI)
	if err != nil {
		if !s.srv.mounts.Owns(p.URI) {
			return nil, mcp.NewError(mcp.KindNotFound, "resource %q not found", p.URI)
		}
		return s.invoke(ctx, "resources.read", func(ctx context.Context) (any, error) {
			return s.srv.mounts.ReadResource(ctx, p.URI)
		})
	}
	res := e.Capability.(*registry.Resource)
	if res.Handler == nil {
		return nil, mcp.NewError(mcp.KindExecution, "resource %q has no handler", p.URI)
	}
	rr := &registry.ResourceRequest{URI: p.URI, Params: params}
	return s.invoke(ctx, "resources.read", func(ctx context.Context) (any, error) {
		return res.Handler(ctx, s, rr)
	})
}

func (s *Session) getPrompt(ctx context.Context, req *jsonrpc.Request) (any, error) {
	var p mcp.GetPromptRequest
	if err := decodeParams(req, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, mcp.NewError(mcp.KindInvalidArguments, "prompt name is required")
	}
	ctx = logctx.WithCapabilityData(ctx, &logctx.CapabilityData{Kind: registry.KindPrompt.String(), ID: p.Name})

	e, err := s.srv.reg.Lookup(registry.KindPrompt, p.Name)
	if err != nil {
		if !s.srv.mounts.Owns(p.Name) {
			return nil, mcp.NewError(mcp.KindNotFound, "prompt %q not found", p.Name)
		}
		return s.invoke(ctx, "prompts.get", func(ctx context.Context) (any, error) {
			return s.srv.mounts.GetPrompt(ctx, p.Name, p.Arguments)
		})
	}
	prompt := e.Capability.(*registry.Prompt)
	if missing := prompt.MissingArguments(p.Arguments); len(missing) > 0 {
		return nil, mcp.NewError(mcp.KindInvalidArguments, "missing required arguments: %s", strings.Join(missing, ", "))
	}
	return s.invoke(ctx, "prompts.get", func(ctx context.Context) (any, error) {
		return prompt.Render(ctx, s, &p)
	})
}

func (s *Session) setLevel(ctx context.Context, req *jsonrpc.Request) (any, error) {
	var p mcp.SetLevelRequest
	if err := decodeParams(req, &p); err != nil {
		return nil, err
	}
	if !mcp.IsValidLoggingLevel(p.Level) {
		return nil, mcp.NewError(mcp.KindInvalidArguments, "invalid logging level %q", p.Level)
	}
	s.mu.Lock()
	s.logLevel = p.Level
	s.mu.Unlock()
	s.log.InfoContext(ctx, "session.log_level", slog.String("level", string(p.Level)))
	return &mcp.EmptyResult{}, nil
}

// invoke runs fn under the session's concurrency limit. When ctx ends
// first the caller gets a Cancelled error immediately; the slot is held
// until fn returns or the cancel grace elapses, whichever comes first.
func (s *Session) invoke(ctx context.Context, op string, fn func(context.Context) (any, error)) (any, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, mcp.WrapError(mcp.KindCancelled, err)
	}
	start := s.srv.clock.Now()

	type outcome struct {
		res any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		if r := panics.Try(func() { o.res, o.err = fn(ctx) }); r != nil {
			s.log.ErrorContext(ctx, "dispatch."+op+".panic", slog.Any("panic", r.Value), slog.String("stack", string(r.Stack)))
			o = outcome{err: mcp.NewError(mcp.KindExecution, "handler panicked: %v", r.Value)}
		}
		done <- o
	}()

	select {
	case o := <-done:
		s.sem.Release(1)
		err := handlerError(o.err)
		s.logOutcome(ctx, op, start, err)
		if err != nil {
			return nil, err
		}
		return o.res, nil
	case <-ctx.Done():
	}

	cause := context.Cause(ctx)
	go func() {
		timer := s.srv.clock.NewTimer(s.srv.cancelGrace)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.Chan():
			s.log.InfoContext(ctx, "dispatch.reclaimed", slog.String("op", op), slog.Int64("grace_ms", s.srv.cancelGrace.Milliseconds()))
		}
		s.sem.Release(1)
	}()
	err := cancelError(cause)
	s.logOutcome(ctx, op, start, err)
	return nil, err
}

func cancelError(cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return mcp.WrapError(mcp.KindTimeout, cause)
	}
	if cause == nil {
		cause = context.Canceled
	}
	return mcp.WrapError(mcp.KindCancelled, cause)
}

// handlerError keeps the classification of typed errors a handler can
// legitimately produce and reports everything else as an execution
// failure.
func handlerError(err error) error {
	if err == nil {
		return nil
	}
	var me *mcp.Error
	if errors.As(err, &me) {
		switch me.Kind {
		case mcp.KindInvalidArguments, mcp.KindNotFound, mcp.KindUpstream, mcp.KindCancelled, mcp.KindTimeout, mcp.KindExecution:
			return me
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return mcp.WrapError(mcp.KindCancelled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return mcp.WrapError(mcp.KindTimeout, err)
	}
	return mcp.WrapError(mcp.KindExecution, err)
}

func (s *Session) logOutcome(ctx context.Context, op string, start time.Time, err error) {
	dur := slog.Int64("dur_ms", s.srv.clock.Since(start).Milliseconds())
	if err != nil {
		s.log.InfoContext(ctx, "dispatch."+op+".fail", dur, slog.String("kind", string(mcp.KindOf(err))), slog.String("err", err.Error()))
		return
	}
	s.log.InfoContext(ctx, "dispatch."+op+".ok", dur)
}

type progressReporter struct {
	sess  *Session
	token mcp.ProgressToken
}

func (p *progressReporter) Report(ctx context.Context, progress, total float64) error {
	return p.sess.conn.Notify(ctx, string(mcp.ProgressNotificationMethod), &mcp.ProgressNotificationParams{
		ProgressToken: p.token,
		Progress:      progress,
		Total:         total,
	})
}
