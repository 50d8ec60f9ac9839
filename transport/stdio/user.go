package stdio

import (
	"os"
	"os/user"
)

// UserProvider names the local principal behind a stdio peer. Stdio carries
// no credentials, so the identity comes from the process environment.
type UserProvider interface {
	CurrentUserID() (string, error)
}

// UserFunc adapts a function to UserProvider.
type UserFunc func() (string, error)

func (f UserFunc) CurrentUserID() (string, error) { return f() }

// OSUserProvider reports the login name of the process owner, or the numeric
// uid when the account has no name.
type OSUserProvider struct{}

func (OSUserProvider) CurrentUserID() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	if u.Username == "" {
		return u.Uid, nil
	}
	return u.Username, nil
}

// EnvUserProvider reads the principal from the environment variable Var and
// falls back to the OS user when it is unset or empty.
type EnvUserProvider struct {
	Var string
}

func (p EnvUserProvider) CurrentUserID() (string, error) {
	if id := os.Getenv(p.Var); id != "" {
		return id, nil
	}
	return OSUserProvider{}.CurrentUserID()
}
