// Package auth provides the bearer token primitives used by the HTTP
// transport. An Authenticator validates a token string and returns a
// UserInfo; the transport extracts the token from the request and maps the
// sentinel errors onto RFC 6750 challenges.
//
// NewJWT builds an Authenticator for JWT access tokens issued by an OAuth 2.0
// / OIDC authorization server:
//
//	authn, err := auth.NewJWT(ctx, auth.SecurityConfig{
//	    Issuer:    "https://issuer.example",
//	    Audiences: []string{"https://hub.example/mcp"},
//	    Scopes:    []string{"mcp:read"},
//	})
//
// ErrUnauthorized signals an invalid token (signature, expiry, audience).
// ErrInsufficientScope signals a valid token missing required scopes.
package auth
