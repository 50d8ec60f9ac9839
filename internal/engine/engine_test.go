package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/mcp-hub-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/transport/inmem"
)

type testHandler struct {
	started chan string
	notes   chan string
}

func newTestHandler() *testHandler {
	return &testHandler{started: make(chan string, 8), notes: make(chan string, 8)}
}

func (h *testHandler) Admit(ctx context.Context, req *jsonrpc.Request) error {
	if req.Method == "forbidden" {
		return mcp.NewError(mcp.KindProtocolSequence, "not now")
	}
	return nil
}

func (h *testHandler) HandleRequest(ctx context.Context, req *jsonrpc.Request) (any, error) {
	h.started <- req.Method
	switch req.Method {
	case "echo":
		return req.Params, nil
	case "block":
		<-ctx.Done()
		return "late", nil
	case "fatal":
		return nil, Fatal(mcp.NewError(mcp.KindHandshake, "unsupported version"))
	}
	return nil, mcp.NewError(mcp.KindMethodNotFound, "%s", req.Method)
}

func (h *testHandler) HandleNotification(ctx context.Context, note *jsonrpc.Request) {
	h.notes <- note.Method
}

func startConn(t *testing.T, h Handler) (*Conn, *inmem.Pipe) {
	t.Helper()
	local, peer := inmem.NewPipe()
	c := New(local, h)
	go func() { _ = c.Run(context.Background()) }()
	t.Cleanup(func() { _ = c.Close() })
	return c, peer
}

func send(t *testing.T, p *inmem.Pipe, frame string) {
	t.Helper()
	if err := p.Send(context.Background(), []byte(frame)); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func recvResponse(t *testing.T, p *inmem.Pipe) *jsonrpc.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		b, err := p.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		msg, err := jsonrpc.Decode(b)
		if err != nil {
			t.Fatalf("Decode(%s): %v", b, err)
		}
		if msg.Type() == jsonrpc.KindResponse {
			return msg.AsResponse()
		}
	}
}

func TestConnRequestResponse(t *testing.T) {
	t.Parallel()

	_, peer := startConn(t, newTestHandler())
	send(t, peer, `{"jsonrpc":"2.0","id":1,"method":"echo","params":{"x":1}}`)
	resp := recvResponse(t, peer)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if string(resp.Result) != `{"x":1}` {
		t.Fatalf("result = %s, want {\"x\":1}", resp.Result)
	}
	if resp.ID.String() != "1" {
		t.Fatalf("id = %q, want 1", resp.ID.String())
	}
}

func TestConnAdmitRejects(t *testing.T) {
	t.Parallel()

	h := newTestHandler()
	_, peer := startConn(t, h)
	send(t, peer, `{"jsonrpc":"2.0","id":"a","method":"forbidden"}`)
	resp := recvResponse(t, peer)
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeProtocolSequence {
		t.Fatalf("error = %+v, want protocol sequence", resp.Error)
	}
	select {
	case m := <-h.started:
		t.Fatalf("handler ran for %q", m)
	default:
	}
}

func TestConnMalformedFrame(t *testing.T) {
	t.Parallel()

	_, peer := startConn(t, newTestHandler())
	send(t, peer, `{not json`)
	resp := recvResponse(t, peer)
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeParseError {
		t.Fatalf("error = %+v, want parse error", resp.Error)
	}
	if !resp.ID.IsNil() {
		t.Fatalf("id = %v, want null", resp.ID)
	}

	send(t, peer, `{"jsonrpc":"1.0","id":9,"method":"echo"}`)
	resp = recvResponse(t, peer)
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeInvalidRequest {
		t.Fatalf("error = %+v, want invalid request", resp.Error)
	}
	if resp.ID.String() != "9" {
		t.Fatalf("id = %q, want 9", resp.ID.String())
	}
}

func TestConnPeerCancel(t *testing.T) {
	t.Parallel()

	h := newTestHandler()
	c, peer := startConn(t, h)
	send(t, peer, `{"jsonrpc":"2.0","id":5,"method":"block"}`)
	<-h.started

	send(t, peer, `{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":5,"reason":"user"}}`)
	resp := recvResponse(t, peer)
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeRequestCancelled {
		t.Fatalf("error = %+v, want cancelled", resp.Error)
	}

	// The handler's late "late" result must never reach the peer.
	send(t, peer, `{"jsonrpc":"2.0","id":6,"method":"echo","params":1}`)
	resp = recvResponse(t, peer)
	if resp.ID.String() != "6" {
		t.Fatalf("next response id = %q, want 6", resp.ID.String())
	}
	if n := c.InFlight().Len(); n != 0 {
		t.Fatalf("in flight = %d, want 0", n)
	}
}

func TestConnCloseCancelsInFlight(t *testing.T) {
	t.Parallel()

	h := newTestHandler()
	c, peer := startConn(t, h)
	send(t, peer, `{"jsonrpc":"2.0","id":1,"method":"block"}`)
	<-h.started

	_ = c.Close()
	resp := recvResponse(t, peer)
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeRequestCancelled {
		t.Fatalf("error = %+v, want cancelled", resp.Error)
	}
	<-c.Done()
	if !errors.Is(c.Err(), ErrConnClosed) {
		t.Fatalf("Err = %v, want ErrConnClosed", c.Err())
	}
}

func TestConnFatalClosesAfterResponse(t *testing.T) {
	t.Parallel()

	c, peer := startConn(t, newTestHandler())
	send(t, peer, `{"jsonrpc":"2.0","id":1,"method":"fatal"}`)
	resp := recvResponse(t, peer)
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeHandshake {
		t.Fatalf("error = %+v, want handshake", resp.Error)
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection still open after fatal error")
	}
	if !errors.Is(c.Err(), mcp.ErrHandshake) {
		t.Fatalf("Err = %v, want handshake kind", c.Err())
	}
}

func TestConnCallAndNotify(t *testing.T) {
	t.Parallel()

	h := newTestHandler()
	aLocal, bLocal := inmem.NewPipe()
	a := New(aLocal, newTestHandler())
	b := New(bLocal, h)
	go func() { _ = a.Run(context.Background()) }()
	go func() { _ = b.Run(context.Background()) }()
	t.Cleanup(func() { _ = a.Close(); _ = b.Close() })

	var out map[string]int
	if err := a.Call(context.Background(), "echo", map[string]int{"n": 3}, &out); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out["n"] != 3 {
		t.Fatalf("result = %v, want n=3", out)
	}

	err := a.Call(context.Background(), "missing", nil, nil)
	if !errors.Is(err, mcp.ErrMethodNotFound) {
		t.Fatalf("Call missing err = %v, want method not found", err)
	}

	if err := a.Notify(context.Background(), "notifications/custom", nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	select {
	case m := <-h.notes:
		if m != "notifications/custom" {
			t.Fatalf("notification = %q", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestConnCallTimeoutSendsCancellation(t *testing.T) {
	t.Parallel()

	h := newTestHandler()
	aLocal, bLocal := inmem.NewPipe()
	a := New(aLocal, newTestHandler())
	b := New(bLocal, h)
	go func() { _ = a.Run(context.Background()) }()
	go func() { _ = b.Run(context.Background()) }()
	t.Cleanup(func() { _ = a.Close(); _ = b.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := a.Call(ctx, "block", nil, nil)
	if !errors.Is(err, mcp.ErrTimeout) {
		t.Fatalf("Call err = %v, want timeout", err)
	}

	// The cancellation releases the remote handler.
	deadline := time.Now().Add(2 * time.Second)
	for b.InFlight().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("remote request still in flight after timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if a.PendingCalls() != 0 {
		t.Fatalf("pending calls = %d, want 0", a.PendingCalls())
	}
}

func TestConnCallAfterClose(t *testing.T) {
	t.Parallel()

	c, _ := startConn(t, newTestHandler())
	_ = c.Close()
	err := c.Call(context.Background(), "echo", nil, nil)
	if !errors.Is(err, mcp.ErrTransport) {
		t.Fatalf("Call err = %v, want transport", err)
	}
}
