// Package config loads the daemon's daemon.toml, following the same
// go-toml/v2 decode-into-a-defaulted-struct shape the pack's own settings
// loader uses, then layers the small set of SIGILFORGE_* environment
// overrides on top.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/raibid-labs/sigilforge/internal/errkind"
)

const (
	// EnvConfigDir overrides the directory daemon.toml and the provider
	// overlay are read from.
	EnvConfigDir = "SIGILFORGE_CONFIG_DIR"
	// EnvSocketPath overrides Daemon.SocketPath.
	EnvSocketPath = "SIGILFORGE_SOCKET_PATH"
)

// DaemonConfig holds the [daemon] table.
type DaemonConfig struct {
	SocketPath     string        `toml:"socket_path,omitempty"`
	MaxConnections int           `toml:"max_connections,omitempty"`
	DrainTimeout   time.Duration `toml:"-"`
	DrainTimeoutMS int64         `toml:"drain_timeout_ms,omitempty"`
	IdleTimeout    time.Duration `toml:"-"`
	IdleTimeoutMS  int64         `toml:"idle_timeout_ms,omitempty"`
}

// OAuthConfig holds the [oauth] table.
type OAuthConfig struct {
	HTTPTimeout      time.Duration `toml:"-"`
	HTTPTimeoutMS    int64         `toml:"http_timeout_ms,omitempty"`
	PKCECallbackPort int           `toml:"pkce_callback_port,omitempty"`
	FlowTimeout      time.Duration `toml:"-"`
	FlowTimeoutMS    int64         `toml:"flow_timeout_ms,omitempty"`
}

// ProvidersConfig holds the [providers] table.
type ProvidersConfig struct {
	OverlayPath string `toml:"overlay_path,omitempty"`
}

// Config is the parsed and defaulted daemon.toml.
type Config struct {
	Daemon    DaemonConfig    `toml:"daemon,omitempty"`
	OAuth     OAuthConfig     `toml:"oauth,omitempty"`
	Providers ProvidersConfig `toml:"providers,omitempty"`

	// ConfigDir is not part of the TOML document; it's the directory the
	// config was loaded from (or would have been, if the file is absent),
	// recorded so callers can resolve ProvidersConfig.OverlayPath's default.
	ConfigDir string `toml:"-"`
}

// Default returns the built-in defaults, unaffected by any file or
// environment variable.
func Default(configDir string) Config {
	return Config{
		Daemon: DaemonConfig{
			SocketPath:     filepath.Join(configDir, "sigilforge.sock"),
			MaxConnections: 100,
			DrainTimeout:   5 * time.Second,
			IdleTimeout:    0,
		},
		OAuth: OAuthConfig{
			HTTPTimeout:      30 * time.Second,
			PKCECallbackPort: 0,
			FlowTimeout:      300 * time.Second,
		},
		Providers: ProvidersConfig{
			OverlayPath: filepath.Join(configDir, "providers.yaml"),
		},
		ConfigDir: configDir,
	}
}

// LoadConfig reads <dir>/daemon.toml, falling back to built-in defaults for a
// missing file the same way the account registry tolerates a missing
// accounts.json. A malformed file is a fatal startup error.
func LoadConfig(dir string) (*Config, error) {
	dir = resolveConfigDir(dir)
	cfg := Default(dir)

	path := filepath.Join(dir, "daemon.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return &cfg, nil
		}
		return nil, errkind.Wrap(errkind.FileIo, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, errkind.Wrap(errkind.FileIo, err)
	}
	applyDurations(&cfg)
	applyDefaultsOverZero(&cfg, dir)
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// resolveConfigDir honours SIGILFORGE_CONFIG_DIR, falling back to the
// directory the caller asked for.
func resolveConfigDir(dir string) string {
	if override := strings.TrimSpace(os.Getenv(EnvConfigDir)); override != "" {
		return override
	}
	return dir
}

// applyDurations converts the millisecond fields TOML actually
// deserializes into the time.Duration fields callers use, since
// go-toml/v2 has no native duration type.
func applyDurations(cfg *Config) {
	if cfg.Daemon.DrainTimeoutMS > 0 {
		cfg.Daemon.DrainTimeout = time.Duration(cfg.Daemon.DrainTimeoutMS) * time.Millisecond
	}
	if cfg.Daemon.IdleTimeoutMS > 0 {
		cfg.Daemon.IdleTimeout = time.Duration(cfg.Daemon.IdleTimeoutMS) * time.Millisecond
	}
	if cfg.OAuth.HTTPTimeoutMS > 0 {
		cfg.OAuth.HTTPTimeout = time.Duration(cfg.OAuth.HTTPTimeoutMS) * time.Millisecond
	}
	if cfg.OAuth.FlowTimeoutMS > 0 {
		cfg.OAuth.FlowTimeout = time.Duration(cfg.OAuth.FlowTimeoutMS) * time.Millisecond
	}
}

// applyDefaultsOverZero fills in anything the file left at its zero value,
// the same pattern settings.go uses for its own applySettingsDefaults.
func applyDefaultsOverZero(cfg *Config, dir string) {
	def := Default(dir)
	if cfg.Daemon.SocketPath == "" {
		cfg.Daemon.SocketPath = def.Daemon.SocketPath
	}
	if cfg.Daemon.MaxConnections == 0 {
		cfg.Daemon.MaxConnections = def.Daemon.MaxConnections
	}
	if cfg.Daemon.DrainTimeout == 0 {
		cfg.Daemon.DrainTimeout = def.Daemon.DrainTimeout
	}
	if cfg.OAuth.HTTPTimeout == 0 {
		cfg.OAuth.HTTPTimeout = def.OAuth.HTTPTimeout
	}
	if cfg.OAuth.FlowTimeout == 0 {
		cfg.OAuth.FlowTimeout = def.OAuth.FlowTimeout
	}
	if cfg.Providers.OverlayPath == "" {
		cfg.Providers.OverlayPath = def.Providers.OverlayPath
	}
}

// applyEnvOverrides applies SIGILFORGE_SOCKET_PATH last, so it always wins
// over both the file and the built-in default.
func applyEnvOverrides(cfg *Config) {
	if override := strings.TrimSpace(os.Getenv(EnvSocketPath)); override != "" {
		cfg.Daemon.SocketPath = override
	}
}
