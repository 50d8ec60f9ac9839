package wellknown

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestMetadataURL(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"https://hub.example/mcp", "https://hub.example/.well-known/oauth-protected-resource/mcp"},
		{"https://hub.example/mcp/?x=1", "https://hub.example/.well-known/oauth-protected-resource/mcp"},
		{"https://hub.example/", "https://hub.example/.well-known/oauth-protected-resource"},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.in)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if got := MetadataURL(u).String(); got != tt.want {
			t.Fatalf("MetadataURL(%s): want %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()
	h := Handler(ProtectedResourceMetadata{Resource: "https://hub.example/mcp", ScopesSupported: []string{"mcp:read"}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	var got ProtectedResourceMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Resource != "https://hub.example/mcp" || len(got.ScopesSupported) != 1 {
		t.Fatalf("unexpected metadata %+v", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight: %d %v", rec.Code, rec.Header())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("want 405, got %d", rec.Code)
	}
}
