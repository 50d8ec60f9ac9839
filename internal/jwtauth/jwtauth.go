// Package jwtauth validates JWT bearer tokens against a JWKS published by an
// OAuth 2.0 / OIDC authorization server.
package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthorized indicates that the token failed validation.
	ErrUnauthorized = errors.New("jwtauth: unauthorized")
	// ErrInsufficientScope indicates a valid token that lacks required
	// scopes.
	ErrInsufficientScope = errors.New("jwtauth: insufficient_scope")
)

// Config controls validation.
type Config struct {
	Issuer string
	// Audiences lists every accepted "aud" value; a token must carry at
	// least one of them.
	Audiences []string
	// JWKSURL skips OIDC discovery when set.
	JWKSURL        string
	RequiredScopes []string
	// ScopeModeAny accepts a token carrying any one of RequiredScopes.
	ScopeModeAny bool
	AllowedAlgs  []string
	Leeway       time.Duration
	// RequireAccessTokenType enforces the RFC 9068 "at+jwt" typ header.
	RequireAccessTokenType bool
}

func (c *Config) normalize() error {
	if c.Issuer == "" {
		return errors.New("issuer is required")
	}
	if len(c.Audiences) == 0 || slices.Contains(c.Audiences, "") {
		return errors.New("at least one non-empty audience is required")
	}
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	if c.Leeway == 0 {
		c.Leeway = 60 * time.Second
	}
	return nil
}

// UserInfo is a validated principal.
type UserInfo struct {
	sub    string
	claims jwt.MapClaims
}

func (u *UserInfo) UserID() string { return u.sub }

// Claims decodes the token claims into ref.
func (u *UserInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Authenticator validates bearer tokens.
type Authenticator struct {
	cfg     Config
	jwksURL string
	keyfunc jwt.Keyfunc
}

// New builds an Authenticator. When cfg.JWKSURL is empty the issuer's
// jwks_uri is discovered through /.well-known/openid-configuration. JWKS
// keys are refreshed in the background for the lifetime of ctx.
func New(ctx context.Context, cfg Config) (*Authenticator, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		provider, err := oidc.NewProvider(ctx, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("oidc discovery failed: %w", err)
		}
		var meta struct {
			JwksURI string `json:"jwks_uri"`
		}
		if err := provider.Claims(&meta); err != nil {
			return nil, fmt.Errorf("invalid discovery metadata: %w", err)
		}
		if meta.JwksURI == "" {
			return nil, errors.New("discovery incomplete: missing jwks_uri")
		}
		jwksURL = meta.JwksURI
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return &Authenticator{cfg: cfg, jwksURL: jwksURL, keyfunc: kf.Keyfunc}, nil
}

// NewWithKeyfunc builds an Authenticator that resolves verification keys
// through kf instead of a remote JWKS.
func NewWithKeyfunc(cfg Config, kf jwt.Keyfunc) (*Authenticator, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if kf == nil {
		return nil, errors.New("keyfunc is required")
	}
	return &Authenticator{cfg: cfg, keyfunc: kf}, nil
}

// JWKSURL is the key set location in use, empty for NewWithKeyfunc.
func (a *Authenticator) JWKSURL() string { return a.jwksURL }

// Config returns the normalized configuration.
func (a *Authenticator) Config() Config { return a.cfg }

// CheckAuthentication verifies tok and returns its subject.
func (a *Authenticator) CheckAuthentication(ctx context.Context, tok string) (*UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithLeeway(a.cfg.Leeway),
		jwt.WithIssuedAt(),
	)
	parsed, err := parser.Parse(tok, a.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if a.cfg.RequireAccessTokenType {
		if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
			return nil, fmt.Errorf("%w: invalid typ; want at+jwt", ErrUnauthorized)
		}
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrUnauthorized)
	}
	aud, err := claims.GetAudience()
	if err != nil || !slices.ContainsFunc(aud, func(s string) bool { return slices.Contains(a.cfg.Audiences, s) }) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	if err := a.checkScopes(claims); err != nil {
		return nil, err
	}
	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	return &UserInfo{sub: sub, claims: claims}, nil
}

func (a *Authenticator) checkScopes(claims jwt.MapClaims) error {
	if len(a.cfg.RequiredScopes) == 0 {
		return nil
	}
	scopeStr, _ := claims["scope"].(string)
	have := strings.Fields(scopeStr)
	held := func(s string) bool { return slices.Contains(have, s) }
	if a.cfg.ScopeModeAny {
		if slices.ContainsFunc(a.cfg.RequiredScopes, held) {
			return nil
		}
		return ErrInsufficientScope
	}
	for _, want := range a.cfg.RequiredScopes {
		if !held(want) {
			return fmt.Errorf("%w: missing %q", ErrInsufficientScope, want)
		}
	}
	return nil
}
