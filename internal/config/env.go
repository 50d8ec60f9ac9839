// Package config loads process configuration for the hub: environment
// settings through envdecode and the topology file through koanf.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joeshaw/envdecode"
)

// Env holds settings taken from the process environment.
type Env struct {
	// ListenAddr is the HTTP listen address. ENV: MCPHUB_LISTEN_ADDR
	ListenAddr string `env:"MCPHUB_LISTEN_ADDR,default=127.0.0.1:8080"`
	// PublicURL is the externally visible stream endpoint. Derived from
	// ListenAddr when empty. ENV: MCPHUB_PUBLIC_URL
	PublicURL string `env:"MCPHUB_PUBLIC_URL"`
	// ConfigFile is the topology file. ENV: MCPHUB_CONFIG
	ConfigFile string `env:"MCPHUB_CONFIG"`
	// LogLevel is one of debug, info, warn, error. ENV: MCPHUB_LOG_LEVEL
	LogLevel string `env:"MCPHUB_LOG_LEVEL,default=info"`
	// LogFormat is "text" for colored console output or "json". ENV: MCPHUB_LOG_FORMAT
	LogFormat string `env:"MCPHUB_LOG_FORMAT,default=text"`
	// RedisAddr switches session records and the list cache to Redis when
	// set. ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR"`
	// RedisKeyPrefix namespaces every key written by the hub. ENV: MCPHUB_REDIS_PREFIX
	RedisKeyPrefix string `env:"MCPHUB_REDIS_PREFIX,default=mcphub:"`
}

// LoadEnv decodes Env from the environment.
func LoadEnv() (Env, error) {
	var e Env
	if err := envdecode.Decode(&e); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Env{}, fmt.Errorf("decode environment: %w", err)
	}
	return e, nil
}

// ParseLevel maps a level name onto slog.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}
