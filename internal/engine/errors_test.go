package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ggoodman/mcp-hub-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/transport"
)

func TestToRPCErrorCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		code jsonrpc.ErrorCode
		kind mcp.ErrorKind
	}{
		{"not found", mcp.NewError(mcp.KindNotFound, "tool %q", "x"), jsonrpc.ErrorCodeNotFound, mcp.KindNotFound},
		{"invalid args", mcp.NewError(mcp.KindInvalidArguments, "bad"), jsonrpc.ErrorCodeInvalidParams, mcp.KindInvalidArguments},
		{"cancelled ctx", context.Canceled, jsonrpc.ErrorCodeRequestCancelled, mcp.KindCancelled},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), jsonrpc.ErrorCodeTimeout, mcp.KindTimeout},
		{"transport", transport.ErrClosed, jsonrpc.ErrorCodeInternalError, mcp.KindTransport},
		{"plain", errors.New("boom"), jsonrpc.ErrorCodeInternalError, mcp.KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			re := ToRPCError(tc.err)
			if re.Code != tc.code {
				t.Fatalf("code = %d, want %d", re.Code, tc.code)
			}
			back := FromRPCError(re)
			if back.Kind != tc.kind {
				t.Fatalf("round-tripped kind = %q, want %q", back.Kind, tc.kind)
			}
		})
	}
}

func TestUpstreamErrorKeepsOrigin(t *testing.T) {
	t.Parallel()

	up := mcp.NewUpstreamError("math", mcp.NewError(mcp.KindExecution, "division by zero"))
	back := FromRPCError(ToRPCError(up))

	if !errors.Is(back, mcp.ErrUpstream) {
		t.Fatalf("kind = %q, want upstream", back.Kind)
	}
	if back.Namespace != "math" {
		t.Fatalf("namespace = %q, want math", back.Namespace)
	}
	if back.Upstream == nil || back.Upstream.Kind != mcp.KindExecution || back.Upstream.Message != "division by zero" {
		t.Fatalf("upstream = %+v, want execution/division by zero", back.Upstream)
	}
	if back.Upstream.Code != int(jsonrpc.ErrorCodeExecutionError) {
		t.Fatalf("upstream code = %d, want %d", back.Upstream.Code, jsonrpc.ErrorCodeExecutionError)
	}
}

func TestFromRPCErrorWithoutData(t *testing.T) {
	t.Parallel()

	got := FromRPCError(&jsonrpc.Error{Code: jsonrpc.ErrorCodeMethodNotFound, Message: "nope"})
	if !errors.Is(got, mcp.ErrMethodNotFound) || got.Code != int(jsonrpc.ErrorCodeMethodNotFound) {
		t.Fatalf("got %+v, want method_not_found", got)
	}
}
