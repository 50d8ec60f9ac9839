// Package engine runs a JSON-RPC connection over a transport. It is shared
// by the server and client roles: a single read goroutine decodes frames in
// order, routes responses to pending outbound calls and hands requests and
// notifications to a Handler.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/mcp-hub-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-hub-go/internal/logctx"
	"github.com/ggoodman/mcp-hub-go/internal/outbound"
	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/transport"
)

// ErrConnClosed is the terminal cause of a connection that ended in an
// orderly fashion.
var ErrConnClosed = errors.New("connection closed")

// errPeerCancelled is the cancellation cause for requests the peer
// cancelled.
var errPeerCancelled = errors.New("cancelled by peer")

// shutdownWriteTimeout bounds the best-effort responses written while a
// connection shuts down.
const shutdownWriteTimeout = time.Second

// Handler receives inbound traffic from a Conn.
type Handler interface {
	// Admit runs on the read goroutine in receipt order, before a request is
	// scheduled. A non-nil error is sent as the response and HandleRequest
	// is not called.
	Admit(ctx context.Context, req *jsonrpc.Request) error
	// HandleRequest runs on its own goroutine. ctx is cancelled when the
	// peer cancels the request or the connection closes. The result is
	// encoded as the response; errors are rendered with ToRPCError.
	HandleRequest(ctx context.Context, req *jsonrpc.Request) (any, error)
	// HandleNotification runs on the read goroutine in receipt order.
	HandleNotification(ctx context.Context, note *jsonrpc.Request)
}

// Option configures a Conn.
type Option func(*Conn)

func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) {
		if l != nil {
			c.log = l
		}
	}
}

// Conn is one end of a JSON-RPC session.
type Conn struct {
	t        transport.Transport
	h        Handler
	log      *slog.Logger
	out      *outbound.Dispatcher
	inflight *InFlight

	closeOnce sync.Once
	done      chan struct{}
	err       error
}

var (
	_ outbound.Transport = (*Conn)(nil)
	_ Notifier           = (*Conn)(nil)
)

// New creates a connection over t. Call Run to start reading.
func New(t transport.Transport, h Handler, opts ...Option) *Conn {
	c := &Conn{
		t:        t,
		h:        h,
		log:      slog.New(slog.DiscardHandler),
		inflight: NewInFlight(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.out = outbound.New(c)
	return c
}

// Run reads frames until the transport ends, ctx is cancelled or Close is
// called. It returns the terminal cause, nil for an orderly close.
func (c *Conn) Run(ctx context.Context) error {
	for {
		frame, err := c.t.Receive(ctx)
		if err != nil {
			var cause error
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, transport.ErrClosed):
			case ctx.Err() != nil:
				cause = ctx.Err()
			default:
				cause = mcp.WrapError(mcp.KindTransport, err)
				c.log.ErrorContext(ctx, "engine.receive.fail", slog.String("err", err.Error()))
			}
			c.shutdown(ctx, cause)
			return cause
		}
		c.handleFrame(ctx, frame)
	}
}

// Close shuts the connection down. In-flight requests are answered with a
// Cancelled error and pending outbound calls fail with TransportFailure.
func (c *Conn) Close() error {
	c.shutdown(context.Background(), nil)
	return nil
}

// Done is closed once the connection has shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the terminal cause after Done is closed: ErrConnClosed for an
// orderly close, the failure otherwise. It returns nil while the connection
// is open.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// InFlight exposes the inbound request tracker.
func (c *Conn) InFlight() *InFlight { return c.inflight }

// PendingCalls returns the number of outbound calls awaiting a response.
func (c *Conn) PendingCalls() int { return c.out.Pending() }

func (c *Conn) shutdown(ctx context.Context, cause error) {
	c.closeOnce.Do(func() {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownWriteTimeout)
		defer cancel()

		ids := c.inflight.CancelAll(ErrConnClosed)
		for _, id := range ids {
			_ = c.writeResponse(wctx, jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeRequestCancelled, "connection closed", nil))
		}

		closeErr := mcp.NewError(mcp.KindTransport, "connection closed")
		if cause != nil {
			closeErr = mcp.WrapError(mcp.KindTransport, cause)
		}
		c.out.Close(closeErr)

		if err := c.t.Close(); err != nil {
			c.log.InfoContext(ctx, "engine.transport.close.fail", slog.String("err", err.Error()))
		}

		if cause == nil {
			cause = ErrConnClosed
		}
		c.err = cause
		close(c.done)
		c.log.InfoContext(ctx, "engine.conn.closed", slog.Int("cancelled", len(ids)), slog.String("cause", cause.Error()))
	})
}

func (c *Conn) handleFrame(ctx context.Context, frame []byte) {
	msg, err := jsonrpc.Decode(frame)
	if err != nil {
		c.log.InfoContext(ctx, "engine.frame.invalid", slog.String("err", err.Error()))
		var de *jsonrpc.DecodeError
		if errors.As(err, &de) {
			_ = c.writeResponse(ctx, de.Response())
		}
		return
	}

	switch msg.Type() {
	case jsonrpc.KindResponse:
		resp := msg.AsResponse()
		if !c.out.OnResponse(resp) {
			c.log.InfoContext(ctx, "engine.response.unmatched", slog.String("id", resp.ID.String()))
		}
	case jsonrpc.KindNotification:
		c.handleNotification(ctx, msg.AsRequest())
	default:
		c.handleRequest(ctx, msg.AsRequest())
	}
}

func (c *Conn) handleNotification(ctx context.Context, note *jsonrpc.Request) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: note.Method, Type: "notification"})

	if mcp.Method(note.Method) != mcp.CancelledNotificationMethod {
		c.h.HandleNotification(ctx, note)
		return
	}

	var p mcp.CancelledNotification
	if err := json.Unmarshal(note.Params, &p); err != nil {
		c.log.InfoContext(ctx, "engine.cancel.invalid", slog.String("err", err.Error()))
		return
	}
	var id jsonrpc.RequestID
	if err := json.Unmarshal(p.RequestID, &id); err != nil || id.IsNil() {
		c.log.InfoContext(ctx, "engine.cancel.invalid", slog.String("err", "missing request id"))
		return
	}
	if c.inflight.Cancel(&id, errPeerCancelled) {
		reason := p.Reason
		if reason == "" {
			reason = "request cancelled"
		}
		_ = c.writeResponse(ctx, jsonrpc.NewErrorResponse(&id, jsonrpc.ErrorCodeRequestCancelled, reason, nil))
		c.log.InfoContext(ctx, "engine.request.cancelled", slog.String("id", id.String()), slog.String("reason", reason))
		return
	}
	// A cancellation for a request we sent; the outbound side resolves it.
	c.out.OnNotification(note)
}

func (c *Conn) handleRequest(ctx context.Context, req *jsonrpc.Request) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: "request"})

	if err := c.h.Admit(ctx, req); err != nil {
		c.log.InfoContext(ctx, "engine.request.rejected", slog.String("err", err.Error()))
		_ = c.writeResponse(ctx, c.errorResponse(req.ID, err))
		if isFatal(err) {
			c.shutdown(ctx, Classify(err))
		}
		return
	}

	hctx, cancel := context.WithCancelCause(ctx)
	ticket, err := c.inflight.Add(req.ID, req.Method, cancel)
	if err != nil {
		cancel(err)
		c.log.InfoContext(ctx, "engine.request.duplicate_id", slog.String("id", req.ID.String()))
		return
	}

	go func() {
		defer cancel(nil)
		start := time.Now()

		res, err := c.h.HandleRequest(hctx, req)
		if !c.inflight.Complete(ticket) {
			c.log.InfoContext(ctx, "engine.response.suppressed", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return
		}

		var resp *jsonrpc.Response
		if err != nil {
			resp = c.errorResponse(req.ID, err)
		} else if resp, err = jsonrpc.NewResultResponse(req.ID, res); err != nil {
			c.log.ErrorContext(ctx, "engine.response.encode.fail", slog.String("err", err.Error()))
			resp = c.errorResponse(req.ID, err)
		}
		if werr := c.writeResponse(context.WithoutCancel(ctx), resp); werr != nil {
			c.log.InfoContext(ctx, "engine.response.write.fail", slog.String("err", werr.Error()))
		}
		if isFatal(err) {
			c.shutdown(ctx, Classify(err))
		}
	}()
}

func (c *Conn) errorResponse(id *jsonrpc.RequestID, err error) *jsonrpc.Response {
	return &jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, ID: id, Error: ToRPCError(err)}
}

func (c *Conn) writeResponse(ctx context.Context, resp *jsonrpc.Response) error {
	b, err := jsonrpc.Encode(resp)
	if err != nil {
		return err
	}
	return c.t.Send(ctx, b)
}

// Call sends a request and decodes the result into result (which may be
// nil). Failures are *mcp.Error values: a deadline yields Timeout, a
// cancelled ctx yields Cancelled, an error response is converted with
// FromRPCError.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	resp, err := c.out.Call(ctx, method, params)
	if err != nil {
		switch {
		case errors.Is(err, outbound.ErrRemoteCancelled):
			return mcp.WrapError(mcp.KindCancelled, err)
		case errors.Is(err, outbound.ErrDispatcherClosed):
			return mcp.WrapError(mcp.KindTransport, err)
		}
		return Classify(err)
	}
	if resp.Error != nil {
		return FromRPCError(resp.Error)
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return mcp.NewError(mcp.KindInternal, "decode %s result: %v", method, err)
	}
	return nil
}

// Notify sends a notification.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	note, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	b, err := jsonrpc.Encode(note)
	if err != nil {
		return err
	}
	if err := c.t.Send(ctx, b); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	return nil
}

// SendRequest implements outbound.Transport.
func (c *Conn) SendRequest(ctx context.Context, req *jsonrpc.Request) error {
	b, err := jsonrpc.Encode(req)
	if err != nil {
		return err
	}
	return c.t.Send(ctx, b)
}

// SendCancelled implements outbound.Transport.
func (c *Conn) SendCancelled(ctx context.Context, id *jsonrpc.RequestID, reason string) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return c.Notify(ctx, string(mcp.CancelledNotificationMethod), &mcp.CancelledNotification{RequestID: raw, Reason: reason})
}
