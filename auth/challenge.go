package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Challenge describes a RFC 6750 WWW-Authenticate bearer challenge.
type Challenge struct {
	Realm            string
	ResourceMetadata string
	Error            string
	ErrorDescription string
	Scope            []string
}

// ChallengeFor builds the challenge that should accompany a rejection caused
// by err. Missing credentials produce a bare challenge.
func ChallengeFor(err error, realm, resourceMetadata string, scopes []string) Challenge {
	c := Challenge{Realm: realm, ResourceMetadata: resourceMetadata}
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientScope):
		c.Error = "insufficient_scope"
		c.ErrorDescription = "insufficient scope"
		c.Scope = scopes
	default:
		c.Error = "invalid_token"
		c.ErrorDescription = "invalid or expired token"
	}
	return c
}

// String renders the header value.
func (c Challenge) String() string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace
	var pieces []string
	add := func(k, v string) {
		if v != "" {
			pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc(v)))
		}
	}
	add("realm", c.Realm)
	add("resource_metadata", c.ResourceMetadata)
	add("error", c.Error)
	add("error_description", c.ErrorDescription)
	if len(c.Scope) > 0 {
		add("scope", strings.Join(slices.Compact(slices.Sorted(slices.Values(c.Scope))), " "))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}
