package streaminghttp_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/mcp-hub-go/auth"
	"github.com/ggoodman/mcp-hub-go/auth/authtest"
	"github.com/ggoodman/mcp-hub-go/transport"
	"github.com/ggoodman/mcp-hub-go/transport/streaminghttp"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// serve starts h behind an httptest server. The endpoint path is /mcp.
func serve(t *testing.T, opts ...streaminghttp.Option) (*streaminghttp.Handler, string) {
	t.Helper()
	var h *streaminghttp.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	endpoint := srv.URL + "/mcp"
	var err error
	h, err = streaminghttp.New(endpoint, opts...)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h, endpoint
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	h, endpoint := serve(t)

	ct, err := streaminghttp.Dial(ctx, endpoint)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ct.Close()

	st, err := h.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if sid, ok := st.(interface{ SessionID() string }); !ok || sid.SessionID() == "" {
		t.Fatalf("server stream carries no session id")
	}

	for _, frame := range []string{`{"n":1}`, `{"n":2}`} {
		if err := ct.Send(ctx, []byte(frame)); err != nil {
			t.Fatalf("client send: %v", err)
		}
	}
	for _, want := range []string{`{"n":1}`, `{"n":2}`} {
		got, err := st.Receive(ctx)
		if err != nil {
			t.Fatalf("server receive: %v", err)
		}
		if string(got) != want {
			t.Fatalf("want %s, got %s", want, got)
		}
	}

	if err := st.Send(ctx, []byte(`{"reply":true}`)); err != nil {
		t.Fatalf("server send: %v", err)
	}
	got, err := ct.Receive(ctx)
	if err != nil {
		t.Fatalf("client receive: %v", err)
	}
	if string(got) != `{"reply":true}` {
		t.Fatalf("want reply frame, got %s", got)
	}
}

func TestClientDisconnectEndsServerStream(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	h, endpoint := serve(t)

	ct, err := streaminghttp.Dial(ctx, endpoint)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	st, err := h.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	_ = ct.Close()

	if _, err := st.Receive(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("want io.EOF, got %v", err)
	}
	if err := st.Send(ctx, []byte(`{}`)); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}

func TestHandlerCloseEndsStreams(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	h, endpoint := serve(t)

	ct, err := streaminghttp.Dial(ctx, endpoint)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ct.Close()
	if _, err := h.Accept(ctx); err != nil {
		t.Fatalf("accept: %v", err)
	}

	_ = h.Close()
	if _, err := ct.Receive(ctx); err == nil {
		t.Fatalf("want stream end after close")
	}
	if _, err := h.Accept(ctx); !errors.Is(err, streaminghttp.ErrHandlerClosed) {
		t.Fatalf("want ErrHandlerClosed, got %v", err)
	}
}

func TestRequestRejections(t *testing.T) {
	t.Parallel()
	_, endpoint := serve(t)

	tests := []struct {
		name   string
		method string
		url    string
		header map[string]string
		body   string
		want   int
	}{
		{
			name:   "get without event-stream accept",
			method: http.MethodGet,
			url:    endpoint,
			header: map[string]string{"Accept": "application/json"},
			want:   http.StatusNotAcceptable,
		},
		{
			name:   "post with wrong content type",
			method: http.MethodPost,
			url:    endpoint + "?sessionId=x",
			header: map[string]string{"Content-Type": "text/plain"},
			body:   `{}`,
			want:   http.StatusUnsupportedMediaType,
		},
		{
			name:   "post without session",
			method: http.MethodPost,
			url:    endpoint,
			header: map[string]string{"Content-Type": "application/json"},
			body:   `{}`,
			want:   http.StatusBadRequest,
		},
		{
			name:   "post to unknown session",
			method: http.MethodPost,
			url:    endpoint + "?sessionId=nope",
			header: map[string]string{"Content-Type": "application/json"},
			body:   `{}`,
			want:   http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req, err := http.NewRequest(tt.method, tt.url, strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("do: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("want %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestPostBodyValidation(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	h, endpoint := serve(t, streaminghttp.WithMaxFrameSize(64))

	var postURL string
	sniff := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.Method == http.MethodPost {
			postURL = r.URL.String()
		}
		return http.DefaultTransport.RoundTrip(r)
	})}
	ct, err := streaminghttp.Dial(ctx, endpoint, streaminghttp.WithHTTPClient(sniff))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ct.Close()
	if _, err := h.Accept(ctx); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := ct.Send(ctx, []byte(`{}`)); err != nil {
		t.Fatalf("send: %v", err)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "batch", body: `[{"jsonrpc":"2.0"}]`, want: http.StatusBadRequest},
		{name: "malformed", body: `{"jsonrpc":`, want: http.StatusBadRequest},
		{name: "too large", body: `{"pad":"` + strings.Repeat("x", 128) + `"}`, want: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		resp, err := http.Post(postURL, "application/json", strings.NewReader(tt.body))
		if err != nil {
			t.Fatalf("%s: post: %v", tt.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Fatalf("%s: want %d, got %d", tt.name, tt.want, resp.StatusCode)
		}
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestBearerAuthentication(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	h, endpoint := serve(t,
		streaminghttp.WithAuthenticator(authtest.Static{"alice-token": "alice", "bob-token": "bob"}),
		streaminghttp.WithRealm("hub"),
	)

	req, _ := http.NewRequest(http.MethodGet, endpoint, nil)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); got != `Bearer realm="hub"` {
		t.Fatalf("unexpected challenge %q", got)
	}

	if _, err := streaminghttp.Dial(ctx, endpoint, streaminghttp.WithBearerToken("wrong")); err == nil {
		t.Fatalf("want dial failure with a bad token")
	} else if !strings.Contains(err.Error(), "invalid_token") {
		t.Fatalf("want invalid_token challenge in error, got %v", err)
	}

	var postURL string
	sniff := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.Method == http.MethodPost {
			postURL = r.URL.String()
		}
		return http.DefaultTransport.RoundTrip(r)
	})}
	ct, err := streaminghttp.Dial(ctx, endpoint, streaminghttp.WithBearerToken("alice-token"), streaminghttp.WithHTTPClient(sniff))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ct.Close()
	st, err := h.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := transport.UserID(st); got != "alice" {
		t.Fatalf("want user alice, got %q", got)
	}
	if err := ct.Send(ctx, []byte(`{}`)); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Another principal cannot post into alice's stream.
	req, _ = http.NewRequest(http.MethodPost, postURL, strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer bob-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404, got %d", resp.StatusCode)
	}
}

type describedAuth struct {
	authtest.Static
	sec auth.SecurityConfig
}

func (d describedAuth) SecurityConfig() auth.SecurityConfig { return d.sec }

func TestProtectedResourceMetadata(t *testing.T) {
	t.Parallel()
	a := describedAuth{
		Static: authtest.Static{"tok": "alice"},
		sec: auth.SecurityConfig{
			Issuer:    "https://issuer.example",
			Audiences: []string{"hub"},
			JWKSURL:   "https://issuer.example/keys",
			Scopes:    []string{"mcp:read"},
		},
	}
	_, endpoint := serve(t, streaminghttp.WithAuthenticator(a))
	base := strings.TrimSuffix(endpoint, "/mcp")

	resp, err := http.Get(base + "/.well-known/oauth-protected-resource/mcp")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
	var meta struct {
		Resource             string   `json:"resource"`
		AuthorizationServers []string `json:"authorization_servers"`
		ScopesSupported      []string `json:"scopes_supported"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if meta.Resource != endpoint || len(meta.AuthorizationServers) != 1 || meta.AuthorizationServers[0] != "https://issuer.example" {
		t.Fatalf("unexpected metadata %+v", meta)
	}

	req, _ := http.NewRequest(http.MethodGet, endpoint, nil)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer nope")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp2.Body.Close()
	ch := resp2.Header.Get("WWW-Authenticate")
	if !strings.Contains(ch, `resource_metadata="`+base+`/.well-known/oauth-protected-resource/mcp"`) {
		t.Fatalf("challenge lacks resource metadata: %q", ch)
	}
}
