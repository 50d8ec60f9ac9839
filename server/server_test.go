package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/mcp-hub-go/client"
	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/registry"
	"github.com/ggoodman/mcp-hub-go/sessions"
	"github.com/ggoodman/mcp-hub-go/transport"
	"github.com/ggoodman/mcp-hub-go/transport/inmem"
)

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

type fixture struct {
	reg     *registry.Registry
	srv     *Server
	adds    atomic.Int64
	started chan string
	release chan struct{}
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		reg:     registry.New(),
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
	f.reg.MustRegister("", registry.NewTool("add", func(ctx context.Context, _ sessions.Session, w registry.ToolResponseWriter, r *registry.ToolRequest[addArgs]) error {
		f.adds.Add(1)
		return w.AppendText(fmt.Sprint(r.Args().A + r.Args().B))
	}, registry.WithToolDescription("Add two integers")))
	f.reg.MustRegister("", &registry.Tool{
		Name: "block",
		Handler: func(ctx context.Context, _ sessions.Session, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			f.started <- "block"
			<-ctx.Done()
			return registry.TextResult("late"), nil
		},
	})
	f.reg.MustRegister("", &registry.Tool{
		Name: "stubborn",
		Handler: func(ctx context.Context, _ sessions.Session, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			f.started <- "stubborn"
			<-f.release
			return registry.TextResult("done"), nil
		},
	})
	f.reg.MustRegister("", &registry.Tool{
		Name: "explode",
		Handler: func(context.Context, sessions.Session, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			panic("boom")
		},
	})
	f.reg.MustRegister("", &registry.Tool{
		Name: "chatty",
		Handler: func(ctx context.Context, s sessions.Session, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if err := s.Log(ctx, mcp.LoggingLevelDebug, "chatty", "hello"); err != nil {
				return nil, err
			}
			return registry.TextResult("ok"), nil
		},
	})
	f.reg.MustRegister("", &registry.Prompt{
		Name:      "greet",
		Arguments: []mcp.PromptArgument{{Name: "name", Required: true}},
		Messages: []mcp.PromptMessage{{
			Role:    mcp.RoleUser,
			Content: mcp.ContentBlock{Type: mcp.ContentTypeText, Text: "Hello, {{name}}!"},
		}},
	})
	f.reg.MustRegister("", &registry.Resource{
		URITemplate: "notes://{id}",
		Name:        "note",
		Handler: func(ctx context.Context, _ sessions.Session, req *registry.ResourceRequest) (*mcp.ReadResourceResult, error) {
			return &mcp.ReadResourceResult{Contents: []mcp.ResourceContents{{URI: req.URI, Text: "note " + req.Params["id"]}}}, nil
		},
	})

	f.srv = New(f.reg, opts...)
	t.Cleanup(func() {
		close(f.release)
		_ = f.srv.Close()
	})
	return f
}

func (f *fixture) connect(t *testing.T, opts ...client.Option) *client.Client {
	t.Helper()
	local, remote := inmem.NewPipe()
	go func() { _ = f.srv.Serve(context.Background(), local) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := client.Connect(ctx, remote, opts...)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	// The ping round trip guarantees notifications/initialized was processed.
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	return c
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func firstText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatalf("result has no content")
	}
	return res.Content[0].Text
}

func TestCallLocalTool(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.connect(t)

	res, err := c.CallTool(testCtx(t), "add", map[string]any{"a": 2, "b": 3})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if got := firstText(t, res); got != "5" {
		t.Fatalf("add = %q, want %q", got, "5")
	}
}

func TestCallUnknownToolNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.connect(t)

	_, err := c.CallTool(testCtx(t), "subtract", map[string]any{"a": 2, "b": 3})
	if !errors.Is(err, mcp.ErrNotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestInvalidArgumentsSkipHandler(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.connect(t)

	for _, args := range []map[string]any{
		{"a": "x", "b": 3},
		{"a": "x"},
	} {
		_, err := c.CallTool(testCtx(t), "add", args)
		if !errors.Is(err, mcp.ErrInvalidArguments) {
			t.Fatalf("args %v: err = %v, want InvalidArguments", args, err)
		}
	}
	if got := f.adds.Load(); got != 0 {
		t.Fatalf("handler invoked %d times, want 0", got)
	}
}

func TestBlockedHandlerDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.connect(t)

	ctx, cancel := context.WithCancel(testCtx(t))
	defer cancel()
	go func() { _, _ = c.CallTool(ctx, "block", nil) }()
	<-f.started

	res, err := c.CallTool(testCtx(t), "add", map[string]any{"a": 1, "b": 1})
	if err != nil {
		t.Fatalf("CallTool(add): %v", err)
	}
	if got := firstText(t, res); got != "2" {
		t.Fatalf("add = %q, want %q", got, "2")
	}
}

func TestCancelledCallNeverSucceeds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.connect(t)

	ctx, cancel := context.WithCancel(testCtx(t))
	errc := make(chan error, 1)
	go func() {
		_, err := c.CallTool(ctx, "block", nil)
		errc <- err
	}()
	<-f.started
	cancel()

	if err := <-errc; !errors.Is(err, mcp.ErrCancelled) {
		t.Fatalf("err = %v, want Cancelled", err)
	}
}

func TestCallTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.connect(t)

	_, err := c.CallTool(testCtx(t), "block", nil, client.WithTimeout(50*time.Millisecond))
	if !errors.Is(err, mcp.ErrTimeout) {
		t.Fatalf("err = %v, want Timeout", err)
	}
}

func TestPanicBecomesExecutionError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.connect(t)

	_, err := c.CallTool(testCtx(t), "explode", nil)
	if !errors.Is(err, mcp.ErrExecution) {
		t.Fatalf("err = %v, want Execution", err)
	}
	// The session survives the panic.
	if err := c.Ping(testCtx(t)); err != nil {
		t.Fatalf("Ping after panic: %v", err)
	}
}

func TestListPagination(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithPageSize(2))
	c := f.connect(t)
	ctx := testCtx(t)

	var first mcp.ListToolsResult
	if err := c.Call(ctx, string(mcp.ToolsListMethod), &mcp.ListToolsRequest{}, &first); err != nil {
		t.Fatalf("tools/list: %v", err)
	}
	if len(first.Tools) != 2 || first.NextCursor != "2" {
		t.Fatalf("first page = %d tools, cursor %q; want 2, %q", len(first.Tools), first.NextCursor, "2")
	}
	if first.Tools[0].Name != "add" {
		t.Fatalf("first tool = %q, want add", first.Tools[0].Name)
	}

	all, err := c.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("ListTools len = %d, want 5", len(all))
	}

	err = c.Call(ctx, string(mcp.ToolsListMethod), &mcp.ListToolsRequest{PaginatedRequest: mcp.PaginatedRequest{Cursor: "nope"}}, nil)
	if !errors.Is(err, mcp.ErrInvalidArguments) {
		t.Fatalf("bad cursor err = %v, want InvalidArguments", err)
	}
}

func TestListChangedNotification(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.connect(t)

	got := make(chan struct{}, 1)
	c.OnNotification(string(mcp.ToolsListChangedNotificationMethod), func(context.Context, json.RawMessage) {
		select {
		case got <- struct{}{}:
		default:
		}
	})

	f.reg.MustRegister("", &registry.Tool{Name: "late"})

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatalf("no tools/list_changed notification")
	}
}

func TestLogMessagesRespectLevel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.connect(t)
	ctx := testCtx(t)

	msgs := make(chan struct{}, 4)
	c.OnNotification(string(mcp.LoggingMessageNotificationMethod), func(context.Context, json.RawMessage) {
		msgs <- struct{}{}
	})

	if _, err := c.CallTool(ctx, "chatty", nil); err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if err := c.SetLogLevel(ctx, mcp.LoggingLevelDebug); err != nil {
		t.Fatalf("SetLogLevel: %v", err)
	}
	if _, err := c.CallTool(ctx, "chatty", nil); err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	// Notifications precede the response on the wire.
	if n := len(msgs); n != 1 {
		t.Fatalf("received %d log messages, want 1", n)
	}
}

func TestGetPrompt(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.connect(t)
	ctx := testCtx(t)

	if _, err := c.GetPrompt(ctx, "greet", nil); !errors.Is(err, mcp.ErrInvalidArguments) {
		t.Fatalf("missing args err = %v, want InvalidArguments", err)
	}
	res, err := c.GetPrompt(ctx, "greet", map[string]string{"name": "Ada"})
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if got := res.Messages[0].Content.Text; got != "Hello, Ada!" {
		t.Fatalf("rendered = %q, want %q", got, "Hello, Ada!")
	}
}

func TestReadTemplatedResource(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.connect(t)
	ctx := testCtx(t)

	res, err := c.ReadResource(ctx, "notes://42")
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if got := res.Contents[0].Text; got != "note 42" {
		t.Fatalf("contents = %q, want %q", got, "note 42")
	}
	if _, err := c.ReadResource(ctx, "other://42"); !errors.Is(err, mcp.ErrNotFound) {
		t.Fatalf("miss err = %v, want NotFound", err)
	}

	templates, err := c.ListResourceTemplates(ctx)
	if err != nil {
		t.Fatalf("ListResourceTemplates: %v", err)
	}
	if len(templates) != 1 || templates[0].URITemplate != "notes://{id}" {
		t.Fatalf("templates = %+v", templates)
	}
}

func TestSessionRecordTracksLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.connect(t, client.WithClientInfo(mcp.ImplementationInfo{Name: "inspector", Version: "1"}))
	ctx := testCtx(t)

	recs, err := f.srv.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Sessions len = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.State != sessions.StateReady || rec.Client.Name != "inspector" || rec.ProtocolVersion != mcp.LatestProtocolVersion {
		t.Fatalf("record = %+v", rec)
	}

	sess, ok := f.srv.Session(rec.SessionID)
	if !ok {
		t.Fatalf("Session(%q) not live", rec.SessionID)
	}
	_ = c.Close()
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end after client close")
	}
}

func TestProgressReportedWithToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.reg.MustRegister("", registry.NewTool("count", func(ctx context.Context, _ sessions.Session, w registry.ToolResponseWriter, r *registry.ToolRequest[struct{}]) error {
		for i := 1; i <= 3; i++ {
			if err := w.SendProgress(float64(i), 3); err != nil {
				return err
			}
		}
		return w.AppendText("counted")
	}))
	c := f.connect(t)
	ctx := testCtx(t)

	reports := make(chan mcp.ProgressNotificationParams, 8)
	c.OnNotification(string(mcp.ProgressNotificationMethod), func(_ context.Context, raw json.RawMessage) {
		var p mcp.ProgressNotificationParams
		if err := json.Unmarshal(raw, &p); err == nil {
			reports <- p
		}
	})

	if _, err := c.CallTool(ctx, "count", nil); err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if n := len(reports); n != 0 {
		t.Fatalf("want no progress without a token, got %d", n)
	}

	if _, err := c.CallTool(ctx, "count", nil, client.WithProgressToken("job-1")); err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if n := len(reports); n != 3 {
		t.Fatalf("want 3 progress reports, got %d", n)
	}
	last := <-reports
	for len(reports) > 0 {
		last = <-reports
	}
	if last.ProgressToken != "job-1" || last.Progress != 3 || last.Total != 3 {
		t.Fatalf("unexpected final report %+v", last)
	}
}

func TestLogLevelIsPerSession(t *testing.T) {
	t.Parallel()

	lv := new(slog.LevelVar)
	lv.Set(slog.LevelInfo)
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: lv}))

	f := newFixture(t, WithLogger(log))
	quiet := f.connect(t)
	loud := f.connect(t)
	ctx := testCtx(t)

	msgs := make(chan struct{}, 4)
	loud.OnNotification(string(mcp.LoggingMessageNotificationMethod), func(context.Context, json.RawMessage) {
		msgs <- struct{}{}
	})

	if err := quiet.SetLogLevel(ctx, mcp.LoggingLevelEmergency); err != nil {
		t.Fatalf("SetLogLevel: %v", err)
	}
	if err := loud.SetLogLevel(ctx, mcp.LoggingLevelDebug); err != nil {
		t.Fatalf("SetLogLevel: %v", err)
	}
	if _, err := loud.CallTool(ctx, "chatty", nil); err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if n := len(msgs); n != 1 {
		t.Fatalf("received %d log messages, want 1", n)
	}
	if got := lv.Level(); got != slog.LevelInfo {
		t.Fatalf("process level changed to %v, want %v", got, slog.LevelInfo)
	}
}

type chanListener chan transport.Transport

func (l chanListener) Accept(ctx context.Context) (transport.Transport, error) {
	select {
	case t := <-l:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestServeListenerStopsAfterClose(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	l := make(chanListener, 1)
	done := make(chan error, 1)
	go func() { done <- f.srv.ServeListener(context.Background(), l) }()

	if err := f.srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	local, remote := inmem.NewPipe()
	l <- local

	select {
	case err := <-done:
		if !errors.Is(err, ErrServerClosed) {
			t.Fatalf("ServeListener err = %v, want ErrServerClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ServeListener did not return after Close")
	}
	// The transport accepted after Close is released, not served.
	if _, err := remote.Receive(testCtx(t)); !errors.Is(err, io.EOF) {
		t.Fatalf("Receive err = %v, want io.EOF", err)
	}
}
