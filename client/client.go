// Package client implements the client role of the protocol: it performs
// the initialization handshake over a transport and exposes typed calls for
// tools, resources, prompts and logging. A *Client is also a proxy.Upstream
// and can be mounted into a server.
package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ggoodman/mcp-hub-go/internal/engine"
	"github.com/ggoodman/mcp-hub-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/proxy"
	"github.com/ggoodman/mcp-hub-go/transport"
)

// NotificationHandler receives the params of a server notification. It runs
// on the connection's read goroutine and must not block.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// Client is an initialized client-role session. It is safe for concurrent
// use.
type Client struct {
	conn    *engine.Conn
	log     *slog.Logger
	info    mcp.ImplementationInfo
	version string
	roots   bool

	init *mcp.InitializeResult

	mu       sync.RWMutex
	handlers map[string][]NotificationHandler
}

var _ proxy.Upstream = (*Client)(nil)

// Connect runs the handshake over t. On failure t is closed.
func Connect(ctx context.Context, t transport.Transport, opts ...Option) (*Client, error) {
	c := &Client{
		log:      slog.New(slog.DiscardHandler),
		info:     mcp.ImplementationInfo{Name: "mcp-hub-client", Version: "dev"},
		version:  mcp.LatestProtocolVersion,
		handlers: make(map[string][]NotificationHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.conn = engine.New(t, (*clientHandler)(c), engine.WithLogger(c.log))
	go func() {
		if err := c.conn.Run(context.Background()); err != nil {
			c.log.Info("client.conn.end", slog.String("err", err.Error()))
		}
	}()

	if err := c.handshake(ctx); err != nil {
		_ = c.conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake(ctx context.Context) error {
	caps := mcp.ClientCapabilities{Experimental: map[string]any{"cancellation": map[string]any{}}}
	if c.roots {
		caps.Roots = &mcp.ListChangedCapability{}
	}
	var res mcp.InitializeResult
	err := c.conn.Call(ctx, string(mcp.InitializeMethod), &mcp.InitializeRequest{
		ProtocolVersion: c.version,
		Capabilities:    caps,
		ClientInfo:      c.info,
	}, &res)
	if err != nil {
		c.log.InfoContext(ctx, "client.handshake.fail", slog.String("err", err.Error()))
		return err
	}
	if !mcp.IsSupportedProtocolVersion(res.ProtocolVersion) {
		c.log.InfoContext(ctx, "client.handshake.fail", slog.String("server_version", res.ProtocolVersion))
		return mcp.NewError(mcp.KindHandshake, "server selected unsupported protocol version %q", res.ProtocolVersion)
	}
	c.init = &res
	if err := c.conn.Notify(ctx, string(mcp.InitializedNotificationMethod), nil); err != nil {
		return mcp.WrapError(mcp.KindTransport, err)
	}
	c.log.InfoContext(ctx, "client.handshake.ok",
		slog.String("protocol_version", res.ProtocolVersion),
		slog.String("server", res.ServerInfo.Name),
	)
	return nil
}

// ProtocolVersion is the version the server selected.
func (c *Client) ProtocolVersion() string { return c.init.ProtocolVersion }

// ServerInfo identifies the server.
func (c *Client) ServerInfo() mcp.ImplementationInfo { return c.init.ServerInfo }

// ServerCapabilities are the capabilities the server advertised.
func (c *Client) ServerCapabilities() mcp.ServerCapabilities { return c.init.Capabilities }

// Instructions returns the server's usage instructions, if any.
func (c *Client) Instructions() string { return c.init.Instructions }

// Call sends an arbitrary request. Failures are *mcp.Error values.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	return c.conn.Call(ctx, method, params, result)
}

// OnNotification registers fn for notifications with the given method.
// Handlers run in registration order.
func (c *Client) OnNotification(method string, fn func(ctx context.Context, params json.RawMessage)) {
	c.mu.Lock()
	c.handlers[method] = append(c.handlers[method], fn)
	c.mu.Unlock()
}

// Done is closed when the session ends.
func (c *Client) Done() <-chan struct{} { return c.conn.Done() }

// Err reports why the session ended. It is nil while the session is open.
func (c *Client) Err() error { return c.conn.Err() }

// Close ends the session. Calls still waiting for a response fail with a
// Transport error.
func (c *Client) Close() error { return c.conn.Close() }

// clientHandler serves the few requests a server may send to a client.
type clientHandler Client

func (h *clientHandler) Admit(context.Context, *jsonrpc.Request) error { return nil }

func (h *clientHandler) HandleRequest(ctx context.Context, req *jsonrpc.Request) (any, error) {
	if mcp.Method(req.Method) == mcp.PingMethod {
		return &mcp.EmptyResult{}, nil
	}
	return nil, mcp.NewError(mcp.KindMethodNotFound, "method %q not supported by client", req.Method)
}

func (h *clientHandler) HandleNotification(ctx context.Context, note *jsonrpc.Request) {
	h.mu.RLock()
	fns := h.handlers[note.Method]
	h.mu.RUnlock()
	if len(fns) == 0 {
		h.log.DebugContext(ctx, "client.notification.unhandled", slog.String("method", note.Method))
		return
	}
	for _, fn := range fns {
		fn(ctx, note.Params)
	}
}
