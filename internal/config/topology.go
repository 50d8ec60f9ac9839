package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ggoodman/mcp-hub-go/auth"
	"github.com/ggoodman/mcp-hub-go/mcp"
	"github.com/ggoodman/mcp-hub-go/proxy"
	"github.com/ggoodman/mcp-hub-go/registry"
	"github.com/ggoodman/mcp-hub-go/server"
	"github.com/hashicorp/go-multierror"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Topology is the hub layout read from the configuration file.
type Topology struct {
	Server    ServerConfig `koanf:"server"`
	Auth      *AuthConfig  `koanf:"auth"`
	Mounts    []Mount      `koanf:"mounts"`
	Resources []Directory  `koanf:"resources"`
}

type ServerConfig struct {
	Name            string        `koanf:"name"`
	Version         string        `koanf:"version"`
	Instructions    string        `koanf:"instructions"`
	MaxConcurrency  int64         `koanf:"max_concurrency"`
	PageSize        int           `koanf:"page_size"`
	CancelGrace     time.Duration `koanf:"cancel_grace"`
	VersionFallback bool          `koanf:"version_fallback"`
	// ListChanged defaults to true when omitted.
	ListChanged *bool `koanf:"list_changed"`
}

// AuthConfig enables bearer authentication on the HTTP transport.
type AuthConfig struct {
	Issuer    string   `koanf:"issuer"`
	Audiences []string `koanf:"audiences"`
	JWKSURL   string   `koanf:"jwks_url"`
	Scopes    []string `koanf:"scopes"`
	Realm     string   `koanf:"realm"`
}

// Mount describes one upstream server. Exactly one of Command and URL is set.
type Mount struct {
	Namespace string   `koanf:"namespace"`
	Command   string   `koanf:"command"`
	Args      []string `koanf:"args"`
	Env       []string `koanf:"env"`
	Dir       string   `koanf:"dir"`
	URL       string   `koanf:"url"`
	Token     string   `koanf:"token"`
	// Refresh is "always" or "cached"; cached lists live for TTL.
	Refresh      string        `koanf:"refresh"`
	TTL          time.Duration `koanf:"ttl"`
	OnDisconnect string        `koanf:"on_disconnect"`
	Timeout      time.Duration `koanf:"timeout"`
	// Import copies the upstream's capabilities once at startup instead of
	// mounting it live.
	Import bool `koanf:"import"`
}

// Directory mirrors a filesystem tree as resources.
type Directory struct {
	Namespace string `koanf:"namespace"`
	Path      string `koanf:"path"`
	BaseURI   string `koanf:"base_uri"`
}

// Load reads and validates the topology file at path. Relative directory
// paths are resolved against the file's directory.
func Load(path string) (*Topology, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	var t Topology
	if err := k.Unmarshal("", &t); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	base := filepath.Dir(path)
	for i, d := range t.Resources {
		if d.Path != "" && !filepath.IsAbs(d.Path) {
			t.Resources[i].Path = filepath.Join(base, d.Path)
		}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate reports every problem found in the topology.
func (t *Topology) Validate() error {
	var result *multierror.Error
	seen := make(map[string]struct{})
	claim := func(ns string) {
		if _, dup := seen[ns]; dup && ns != "" {
			result = multierror.Append(result, fmt.Errorf("namespace %q configured more than once", ns))
		}
		seen[ns] = struct{}{}
	}
	for i, m := range t.Mounts {
		if err := m.validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("mounts[%d]: %w", i, err))
		}
		claim(m.Namespace)
	}
	for i, d := range t.Resources {
		if d.Path == "" {
			result = multierror.Append(result, fmt.Errorf("resources[%d]: path is required", i))
		}
		if !registry.ValidNamespace(d.Namespace) {
			result = multierror.Append(result, fmt.Errorf("resources[%d]: invalid namespace %q", i, d.Namespace))
		}
		claim(d.Namespace)
	}
	if t.Auth != nil {
		if err := t.Auth.SecurityConfig().Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("auth: %w", err))
		}
	}
	if t.Server.MaxConcurrency < 0 || t.Server.PageSize < 0 {
		result = multierror.Append(result, errors.New("server: limits must not be negative"))
	}
	return result.ErrorOrNil()
}

func (m Mount) validate() error {
	var result *multierror.Error
	if m.Namespace == "" || !registry.ValidNamespace(m.Namespace) {
		result = multierror.Append(result, fmt.Errorf("invalid namespace %q", m.Namespace))
	}
	if (m.Command == "") == (m.URL == "") {
		result = multierror.Append(result, errors.New("exactly one of command and url is required"))
	}
	switch m.Refresh {
	case "", "always":
	case "cached":
		if m.TTL <= 0 {
			result = multierror.Append(result, errors.New("cached refresh requires a positive ttl"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown refresh policy %q", m.Refresh))
	}
	switch m.OnDisconnect {
	case "", "unmount", "keep":
	default:
		result = multierror.Append(result, fmt.Errorf("unknown on_disconnect policy %q", m.OnDisconnect))
	}
	if m.Import && (m.Refresh != "" || m.OnDisconnect != "") {
		result = multierror.Append(result, errors.New("import takes neither refresh nor on_disconnect"))
	}
	return result.ErrorOrNil()
}

// MountOptions translates the mount policies into proxy options.
func (m Mount) MountOptions() []proxy.MountOption {
	var opts []proxy.MountOption
	if m.Refresh == "cached" {
		opts = append(opts, proxy.WithRefresh(proxy.RefreshCached(m.TTL)))
	}
	if m.OnDisconnect == "keep" {
		opts = append(opts, proxy.WithDisconnectPolicy(proxy.OnDisconnectKeep))
	}
	if m.Timeout > 0 {
		opts = append(opts, proxy.WithTimeout(m.Timeout))
	}
	return opts
}

// ServerOptions translates the server section into server options.
func (s ServerConfig) ServerOptions() []server.Option {
	var opts []server.Option
	if s.Name != "" {
		version := s.Version
		if version == "" {
			version = "dev"
		}
		opts = append(opts, server.WithServerInfo(mcp.ImplementationInfo{Name: s.Name, Version: version}))
	}
	if s.Instructions != "" {
		opts = append(opts, server.WithInstructions(s.Instructions))
	}
	if s.MaxConcurrency > 0 {
		opts = append(opts, server.WithMaxConcurrency(s.MaxConcurrency))
	}
	if s.PageSize > 0 {
		opts = append(opts, server.WithPageSize(s.PageSize))
	}
	if s.CancelGrace > 0 {
		opts = append(opts, server.WithCancelGrace(s.CancelGrace))
	}
	if s.VersionFallback {
		opts = append(opts, server.WithVersionFallback(true))
	}
	if s.ListChanged != nil {
		opts = append(opts, server.WithListChanged(*s.ListChanged))
	}
	return opts
}

// SecurityConfig converts the auth section.
func (a *AuthConfig) SecurityConfig() auth.SecurityConfig {
	return auth.SecurityConfig{
		Issuer:    a.Issuer,
		Audiences: a.Audiences,
		JWKSURL:   a.JWKSURL,
		Scopes:    a.Scopes,
	}
}
