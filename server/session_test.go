package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ggoodman/mcp-hub-go/internal/engine"
	"github.com/ggoodman/mcp-hub-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/registry"
	"github.com/ggoodman/mcp-hub-go/transport/inmem"
)

// rawSession serves one session and returns the client end of the pipe for
// hand-written frames.
func rawSession(t *testing.T, opts ...Option) (*inmem.Pipe, <-chan error) {
	t.Helper()
	srv := New(registry.New(), opts...)
	t.Cleanup(func() { _ = srv.Close() })

	local, remote := inmem.NewPipe()
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(context.Background(), local) }()
	return remote, errc
}

func sendFrame(t *testing.T, p *inmem.Pipe, frame string) {
	t.Helper()
	if err := p.Send(context.Background(), []byte(frame)); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func readResponse(t *testing.T, p *inmem.Pipe) *jsonrpc.Response {
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

func errorKind(t *testing.T, resp *jsonrpc.Response) mcp.ErrorKind {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("response %s succeeded, want error", resp.Result)
	}
	return engine.FromRPCError(resp.Error).Kind
}

func initialize(t *testing.T, p *inmem.Pipe, version string) *jsonrpc.Response {
	t.Helper()
	b, _ := json.Marshal(version)
	sendFrame(t, p, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":`+string(b)+`,"capabilities":{},"clientInfo":{"name":"raw","version":"0"}}}`)
	return readResponse(t, p)
}

func TestRequestBeforeHandshakeRejected(t *testing.T) {
	t.Parallel()

	p, _ := rawSession(t)
	sendFrame(t, p, `{"jsonrpc":"2.0","id":7,"method":"tools/list"}`)
	if got := errorKind(t, readResponse(t, p)); got != mcp.KindProtocolSequence {
		t.Fatalf("kind = %q, want %q", got, mcp.KindProtocolSequence)
	}
}

func TestToolCallBeforeHandshakeNeverDispatched(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	local, p := inmem.NewPipe()
	go func() { _ = f.srv.Serve(context.Background(), local) }()

	sendFrame(t, p, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"add","arguments":{"a":2,"b":3}}}`)
	if got := errorKind(t, readResponse(t, p)); got != mcp.KindProtocolSequence {
		t.Fatalf("kind = %q, want %q", got, mcp.KindProtocolSequence)
	}

	// Complete the handshake so a dispatched call would have been observed.
	if resp := initialize(t, p, mcp.LatestProtocolVersion); resp.Error != nil {
		t.Fatalf("initialize: %+v", resp.Error)
	}
	sendFrame(t, p, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	sendFrame(t, p, `{"jsonrpc":"2.0","id":4,"method":"ping"}`)
	if resp := readResponse(t, p); resp.Error != nil {
		t.Fatalf("ping: %+v", resp.Error)
	}
	if got := f.adds.Load(); got != 0 {
		t.Fatalf("handler invoked %d times, want 0", got)
	}
}

func TestPingBeforeReady(t *testing.T) {
	t.Parallel()

	p, _ := rawSession(t)
	sendFrame(t, p, `{"jsonrpc":"2.0","id":"p","method":"ping"}`)
	if resp := readResponse(t, p); resp.Error != nil {
		t.Fatalf("ping error: %+v", resp.Error)
	}
}

func TestUnsupportedVersionClosesSession(t *testing.T) {
	t.Parallel()

	p, errc := rawSession(t)
	resp := initialize(t, p, "1999-01-01")
	if got := errorKind(t, resp); got != mcp.KindHandshake {
		t.Fatalf("kind = %q, want %q", got, mcp.KindHandshake)
	}
	select {
	case <-errc:
	case <-time.After(2 * time.Second):
		t.Fatalf("session still running after failed handshake")
	}
}

func TestVersionFallback(t *testing.T) {
	t.Parallel()

	p, _ := rawSession(t, WithVersionFallback(true))
	resp := initialize(t, p, "1999-01-01")
	if resp.Error != nil {
		t.Fatalf("initialize error: %+v", resp.Error)
	}
	var res mcp.InitializeResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if res.ProtocolVersion != mcp.LatestProtocolVersion {
		t.Fatalf("protocolVersion = %q, want %q", res.ProtocolVersion, mcp.LatestProtocolVersion)
	}
}

func TestHandshakeAdvertisesCapabilities(t *testing.T) {
	t.Parallel()

	p, _ := rawSession(t, WithServerInfo(mcp.ImplementationInfo{Name: "hub", Version: "9"}), WithInstructions("be nice"))
	resp := initialize(t, p, mcp.LatestProtocolVersion)
	var res mcp.InitializeResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if res.ServerInfo.Name != "hub" || res.Instructions != "be nice" {
		t.Fatalf("result = %+v", res)
	}
	if res.Capabilities.Tools == nil || !res.Capabilities.Tools.ListChanged {
		t.Fatalf("tools capability = %+v, want listChanged", res.Capabilities.Tools)
	}
	if _, ok := res.Capabilities.Experimental["cancellation"]; !ok {
		t.Fatalf("cancellation not advertised")
	}
}

func TestRequestsRejectedUntilInitialized(t *testing.T) {
	t.Parallel()

	p, _ := rawSession(t)
	initialize(t, p, mcp.LatestProtocolVersion)

	sendFrame(t, p, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if got := errorKind(t, readResponse(t, p)); got != mcp.KindProtocolSequence {
		t.Fatalf("kind = %q, want %q", got, mcp.KindProtocolSequence)
	}

	sendFrame(t, p, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	sendFrame(t, p, `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`)
	if resp := readResponse(t, p); resp.Error != nil {
		t.Fatalf("tools/list error after initialized: %+v", resp.Error)
	}
}

func TestSecondInitializeRejected(t *testing.T) {
	t.Parallel()

	p, _ := rawSession(t)
	initialize(t, p, mcp.LatestProtocolVersion)
	sendFrame(t, p, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	resp := initialize(t, p, mcp.LatestProtocolVersion)
	if got := errorKind(t, resp); got != mcp.KindProtocolSequence {
		t.Fatalf("kind = %q, want %q", got, mcp.KindProtocolSequence)
	}
}

func TestUnknownMethod(t *testing.T) {
	t.Parallel()

	p, _ := rawSession(t)
	initialize(t, p, mcp.LatestProtocolVersion)
	sendFrame(t, p, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	sendFrame(t, p, `{"jsonrpc":"2.0","id":4,"method":"sampling/createMessage"}`)
	if got := errorKind(t, readResponse(t, p)); got != mcp.KindMethodNotFound {
		t.Fatalf("kind = %q, want %q", got, mcp.KindMethodNotFound)
	}
}
