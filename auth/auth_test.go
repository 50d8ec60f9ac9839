package auth_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ggoodman/mcp-hub-go/auth"
	"github.com/ggoodman/mcp-hub-go/auth/authtest"
)

func TestChallengeString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		c    auth.Challenge
		want string
	}{
		{name: "bare", want: "Bearer"},
		{
			name: "metadata only",
			c:    auth.Challenge{ResourceMetadata: "https://hub/.well-known/oauth-protected-resource/mcp"},
			want: `Bearer resource_metadata="https://hub/.well-known/oauth-protected-resource/mcp"`,
		},
		{
			name: "escaped realm",
			c:    auth.Challenge{Realm: `say "hi"`},
			want: `Bearer realm="say \"hi\""`,
		},
		{
			name: "scopes sorted and deduplicated",
			c:    auth.Challenge{Error: "insufficient_scope", Scope: []string{"b", "a", "b"}},
			want: `Bearer error="insufficient_scope", scope="a b"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.c.String(); got != tt.want {
				t.Fatalf("want %s, got %s", tt.want, got)
			}
		})
	}
}

func TestChallengeFor(t *testing.T) {
	t.Parallel()
	c := auth.ChallengeFor(fmt.Errorf("%w: nope", auth.ErrInsufficientScope), "", "", []string{"mcp:read"})
	if c.Error != "insufficient_scope" || len(c.Scope) != 1 {
		t.Fatalf("unexpected challenge %+v", c)
	}
	c = auth.ChallengeFor(auth.ErrUnauthorized, "", "", []string{"mcp:read"})
	if c.Error != "invalid_token" || c.Scope != nil {
		t.Fatalf("unexpected challenge %+v", c)
	}
	if c := auth.ChallengeFor(nil, "r", "", nil); c.Error != "" || c.Realm != "r" {
		t.Fatalf("unexpected challenge %+v", c)
	}
}

func TestSecurityConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  auth.SecurityConfig
		ok   bool
	}{
		{name: "valid", cfg: auth.SecurityConfig{Issuer: "https://i", Audiences: []string{"a"}}, ok: true},
		{name: "no issuer", cfg: auth.SecurityConfig{Audiences: []string{"a"}}},
		{name: "no audience", cfg: auth.SecurityConfig{Issuer: "https://i"}},
		{name: "empty audience", cfg: auth.SecurityConfig{Issuer: "https://i", Audiences: []string{""}}},
		{name: "non url issuer", cfg: auth.SecurityConfig{Issuer: "issuer", Audiences: []string{"a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("want ok=%v, got %v", tt.ok, err)
			}
		})
	}
}

func TestSecurityConfigCopy(t *testing.T) {
	t.Parallel()
	orig := auth.SecurityConfig{Issuer: "https://i", Audiences: []string{"a"}, Scopes: []string{"s"}}
	dup := orig.Copy()
	dup.Audiences[0] = "b"
	dup.Scopes[0] = "t"
	if orig.Audiences[0] != "a" || orig.Scopes[0] != "s" {
		t.Fatalf("copy aliases original: %+v", orig)
	}
}

func TestNewJWTRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	if _, err := auth.NewJWT(context.Background(), auth.SecurityConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStaticAuthenticator(t *testing.T) {
	t.Parallel()
	var a auth.Authenticator = authtest.Static{"tok": "alice"}
	ui, err := a.CheckAuthentication(context.Background(), "tok")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	var claims struct {
		Sub string `json:"sub"`
	}
	if err := ui.Claims(&claims); err != nil || claims.Sub != "alice" {
		t.Fatalf("claims: %+v %v", claims, err)
	}
	if _, err := a.CheckAuthentication(context.Background(), "other"); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}
