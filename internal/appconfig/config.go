// Package appconfig manages plexy's configuration file and runtime paths,
// using an XDG-dir/yaml.v3/Default-Load-Save shape, carrying the defaults
// original_source src/config.rs hard-codes into its clap Args struct.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relaymesh/plexy/internal/lbstrategy"
)

// DashboardConfig controls the Bubble Tea status dashboard.
type DashboardConfig struct {
	RefreshSeconds int `yaml:"refresh_seconds"`
}

// ControlConfig configures the line-protocol control surface. An empty
// SocketPath disables it.
type ControlConfig struct {
	SocketPath string `yaml:"socket_path"`
}

// RPCConfig configures the JSON-RPC HTTP surface. An empty Address disables
// it.
type RPCConfig struct {
	Address string `yaml:"address"`
}

// MetricsConfig configures the Prometheus exporter. An empty Address
// disables it.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// TLSConfig names the CA bundle used when dialing remotes with
// remote-tls enabled. An empty Path falls back to the system root pool.
type TLSConfig struct {
	CABundlePath string `yaml:"ca_bundle_path"`
}

// DefaultsConfig supplies the tunnel options a tunnel spec does not
// override, mirroring the flag defaults in original_source src/config.rs.
// Retries and Errors are independent knobs: Retries bounds how many
// different remotes one client connection falls through to, Errors bounds
// how many consecutive failures a single remote tolerates before it is
// marked dead.
type DefaultsConfig struct {
	Strategy             string `yaml:"strategy"`
	Retries              int    `yaml:"retries"`
	Errors               int    `yaml:"errors_till_dead"`
	TimeoutSeconds       int    `yaml:"timeout_seconds"`
	CheckIntervalSeconds int    `yaml:"check_interval_seconds"`
}

// Config is plexy's full on-disk configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
	Control   ControlConfig   `yaml:"control"`
	RPC       RPCConfig       `yaml:"rpc"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	TLS       TLSConfig       `yaml:"tls"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// Default returns plexy's built-in configuration, used both as the starting
// point for Load and as the file written the first time ConfigDir is
// populated.
func Default() Config {
	return Config{
		LogLevel: "info",
		Defaults: DefaultsConfig{
			Strategy:             lbstrategy.Default.String(),
			Retries:              3,
			Errors:               1,
			TimeoutSeconds:       10,
			CheckIntervalSeconds: 30,
		},
		Dashboard: DashboardConfig{RefreshSeconds: 1},
	}
}

// Timeout returns the configured default dial timeout as a time.Duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.Defaults.TimeoutSeconds) * time.Second
}

// CheckInterval returns the configured default dead-remote probe interval.
func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.Defaults.CheckIntervalSeconds) * time.Second
}

// Strategy parses the configured default load-balancing strategy.
func (c Config) Strategy() (lbstrategy.Strategy, error) {
	return lbstrategy.Parse(c.Defaults.Strategy)
}

// ConfigDir returns plexy's configuration directory, honoring
// XDG_CONFIG_HOME with a ~/.config fallback.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "plexy"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".config", "plexy"), nil
}

// Load reads config.yaml from the config directory, creating it with
// defaults on first run. Missing fields keep Default()'s values so partial
// user configs stay valid; out-of-range values (an empty or unknown
// strategy, negative retries or errors, a non-positive timeout, check
// interval or refresh) are reset to the defaults. Zero retries or errors
// are kept as written.
func Load() (Config, error) {
	d, err := ConfigDir()
	if err != nil {
		return Config{}, err
	}
	if err := os.MkdirAll(d, 0o755); err != nil {
		return Config{}, err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := Save(cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

// Save writes cfg to config.yaml in the config directory.
func Save(cfg Config) error {
	d, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d, 0o755); err != nil {
		return err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func (c *Config) normalize() {
	defaults := Default()
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
	if c.Defaults.Strategy == "" {
		c.Defaults.Strategy = defaults.Defaults.Strategy
	}
	if _, err := lbstrategy.Parse(c.Defaults.Strategy); err != nil {
		c.Defaults.Strategy = defaults.Defaults.Strategy
	}
	if c.Defaults.Retries < 0 {
		c.Defaults.Retries = defaults.Defaults.Retries
	}
	if c.Defaults.Errors < 0 {
		c.Defaults.Errors = defaults.Defaults.Errors
	}
	if c.Defaults.TimeoutSeconds <= 0 {
		c.Defaults.TimeoutSeconds = defaults.Defaults.TimeoutSeconds
	}
	if c.Defaults.CheckIntervalSeconds <= 0 {
		c.Defaults.CheckIntervalSeconds = defaults.Defaults.CheckIntervalSeconds
	}
	if c.Dashboard.RefreshSeconds <= 0 {
		c.Dashboard.RefreshSeconds = defaults.Dashboard.RefreshSeconds
	}
}
