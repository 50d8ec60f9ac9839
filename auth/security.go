package auth

import (
	"errors"
	"slices"
	"strings"
	"time"
)

// SecurityConfig describes how this resource validates and advertises bearer
// token authentication.
type SecurityConfig struct {
	Issuer    string
	Audiences []string
	// JWKSURL skips discovery when set.
	JWKSURL string
	// Scopes are required on every token and advertised in the protected
	// resource metadata.
	Scopes       []string
	AnyScope     bool
	AllowedAlgs  []string
	Leeway       time.Duration
	RequireATJWT bool
}

// Validate returns an error if required fields are missing.
func (c SecurityConfig) Validate() error {
	if c.Issuer == "" {
		return errors.New("security: issuer required")
	}
	if len(c.Audiences) == 0 {
		return errors.New("security: at least one audience required")
	}
	if slices.Contains(c.Audiences, "") {
		return errors.New("security: empty audience entry")
	}
	if !strings.HasPrefix(c.Issuer, "https://") && !strings.HasPrefix(c.Issuer, "http://") {
		return errors.New("security: issuer must be an http(s) URL")
	}
	return nil
}

// Copy returns a deep copy safe for mutation by the caller.
func (c SecurityConfig) Copy() SecurityConfig {
	dup := c
	dup.Audiences = slices.Clone(c.Audiences)
	dup.Scopes = slices.Clone(c.Scopes)
	dup.AllowedAlgs = slices.Clone(c.AllowedAlgs)
	return dup
}

// SecurityDescriptor exposes security configuration for transports to advertise.
type SecurityDescriptor interface{ SecurityConfig() SecurityConfig }

// SecurityProvider combines validation and advertisement.
type SecurityProvider interface {
	Authenticator
	SecurityDescriptor
}
