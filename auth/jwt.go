package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/ggoodman/mcp-hub-go/internal/jwtauth"
)

// NewJWT constructs an authenticator validating JWT access tokens issued by
// cfg.Issuer. The JWKS is discovered from the issuer's OpenID configuration
// unless cfg.JWKSURL is set. Key refresh runs until ctx is cancelled.
func NewJWT(ctx context.Context, cfg SecurityConfig) (SecurityProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cc := cfg.Copy()
	a, err := jwtauth.New(ctx, jwtauth.Config{
		Issuer:                 cc.Issuer,
		Audiences:              cc.Audiences,
		JWKSURL:                cc.JWKSURL,
		RequiredScopes:         cc.Scopes,
		ScopeModeAny:           cc.AnyScope,
		AllowedAlgs:            cc.AllowedAlgs,
		Leeway:                 cc.Leeway,
		RequireAccessTokenType: cc.RequireATJWT,
	})
	if err != nil {
		return nil, fmt.Errorf("security: %w", err)
	}
	cc.JWKSURL = a.JWKSURL()
	return &jwtAdapter{a: a, sec: cc}, nil
}

type jwtAdapter struct {
	a   *jwtauth.Authenticator
	sec SecurityConfig
}

func (j *jwtAdapter) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	ui, err := j.a.CheckAuthentication(ctx, tok)
	switch {
	case err == nil:
		return ui, nil
	case errors.Is(err, jwtauth.ErrInsufficientScope):
		return nil, fmt.Errorf("%w: %v", ErrInsufficientScope, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
}

func (j *jwtAdapter) SecurityConfig() SecurityConfig { return j.sec.Copy() }
