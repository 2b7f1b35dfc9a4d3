// Package config loads documentation worker definitions from JSON files in
// the claude-desktop mcpServers shape. Configuration is searched first in the
// working directory, then in the user's home directory; the first file found
// wins. A missing file is not an error, the built-in context7 definition
// applies.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/docfetch/docfetch/pkg/errors"
)

const (
	// ConfigDir is the directory name searched for config files.
	ConfigDir = ".docfetch"
	// ConfigFile is the config file name inside ConfigDir.
	ConfigFile = "config.json"

	// DefaultServer is the server used when none is named.
	DefaultServer = "context7"

	defaultTimeoutSeconds        = 30
	defaultStartupTimeoutSeconds = 5
)

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config holds every configured documentation worker, keyed by name.
type Config struct {
	Servers map[string]ServerConfig `json:"mcpServers"`
}

// ServerConfig describes how to spawn one documentation worker and how long
// to wait for it.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Enabled *bool             `json:"enabled,omitempty"`
	// TimeoutSeconds bounds the wait for the tool reply.
	TimeoutSeconds int `json:"timeout,omitempty"`
	// StartupTimeoutSeconds bounds the wait for the initialize reply.
	StartupTimeoutSeconds int `json:"startupTimeout,omitempty"`

	// TimeoutOverride replaces the configured reply timeout when positive.
	// Set programmatically, never from a config file, so sub-second values
	// survive.
	TimeoutOverride time.Duration `json:"-"`
}

// Default returns the built-in configuration used when no config file
// exists: the context7 worker launched through npx.
func Default() *Config {
	return &Config{
		Servers: map[string]ServerConfig{
			DefaultServer: {
				Command: "npx",
				Args:    []string{"-y", "@upstash/context7-mcp@latest"},
			},
		},
	}
}

// EnvConfigPath names an environment variable that, when set, replaces the
// default search path with a single file.
const EnvConfigPath = "DOCFETCH_CONFIG"

// DefaultPaths returns the config file locations in search order: the
// working directory first, then the user's home directory. EnvConfigPath
// overrides both.
func DefaultPaths() []string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return []string{path}
	}
	paths := []string{filepath.Join(".", ConfigDir, ConfigFile)}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ConfigDir, ConfigFile))
	}
	return paths
}

// Load reads the first existing config file among paths. With no paths given
// it searches DefaultPaths. When no file exists it returns Default.
func Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		paths = DefaultPaths()
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.ConfigError("reading config %s: %v", path, err)
		}
		return parse(path, data)
	}
	return Default(), nil
}

func parse(path string, data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.ConfigError("parsing config %s: %v", path, err)
	}
	if len(cfg.Servers) == 0 {
		return nil, errors.ConfigError("config %s defines no servers", path)
	}
	for name, srv := range cfg.Servers {
		if srv.Command == "" {
			return nil, errors.ConfigError("server %q has no command", name)
		}
		if srv.TimeoutSeconds < 0 || srv.StartupTimeoutSeconds < 0 {
			return nil, errors.ConfigError("server %q has a negative timeout", name)
		}
		cfg.Servers[name] = expandServerEnv(srv)
	}
	return &cfg, nil
}

// Server resolves name to its definition. An empty name means DefaultServer.
// Unknown and disabled servers are config errors.
func (c *Config) Server(name string) (ServerConfig, error) {
	if name == "" {
		name = DefaultServer
	}
	srv, ok := c.Servers[name]
	if !ok {
		return ServerConfig{}, errors.ConfigError("unknown server %q", name)
	}
	if srv.Enabled != nil && !*srv.Enabled {
		return ServerConfig{}, errors.ConfigError("server %q is disabled", name)
	}
	return srv, nil
}

// Timeout returns the reply wait bound. TimeoutOverride wins over the
// configured seconds; with neither set the 30s default applies.
func (s ServerConfig) Timeout() time.Duration {
	if s.TimeoutOverride > 0 {
		return s.TimeoutOverride
	}
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	return defaultTimeoutSeconds * time.Second
}

// StartupTimeout returns the handshake wait bound, falling back to the 5s
// default.
func (s ServerConfig) StartupTimeout() time.Duration {
	if s.StartupTimeoutSeconds > 0 {
		return time.Duration(s.StartupTimeoutSeconds) * time.Second
	}
	return defaultStartupTimeoutSeconds * time.Second
}

// Environ renders the server's env map as KEY=VALUE pairs appended to the
// current process environment.
func (s ServerConfig) Environ() []string {
	env := os.Environ()
	for k, v := range s.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// expandServerEnv replaces ${VAR} placeholders in command, args and env
// values with the current process environment. Unset variables expand to the
// empty string.
func expandServerEnv(srv ServerConfig) ServerConfig {
	srv.Command = expand(srv.Command)
	if srv.Args != nil {
		args := make([]string, len(srv.Args))
		for i, a := range srv.Args {
			args[i] = expand(a)
		}
		srv.Args = args
	}
	if srv.Env != nil {
		env := make(map[string]string, len(srv.Env))
		for k, v := range srv.Env {
			env[k] = expand(v)
		}
		srv.Env = env
	}
	return srv
}

func expand(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarRe.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
