// Package authtest provides in-memory authenticators for tests.
package authtest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/mcp-hub-go/auth"
)

// Static accepts a fixed set of tokens, each mapped to a user ID.
type Static map[string]string

// CheckAuthentication implements auth.Authenticator.
func (s Static) CheckAuthentication(_ context.Context, tok string) (auth.UserInfo, error) {
	uid, ok := s[tok]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", auth.ErrUnauthorized)
	}
	return User(uid), nil
}

// User is a UserInfo with no claims beyond "sub".
type User string

func (u User) UserID() string { return string(u) }

func (u User) Claims(ref any) error {
	b, err := json.Marshal(map[string]string{"sub": string(u)})
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}
