// Package config provides backend configuration loaded from environment
// variables and the path settings derived from it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix, e.g. CHESSDESK_PORT.
const Prefix = "CHESSDESK"

// AppName names the per-user application directory.
const AppName = "chessdesk"

// Config holds chessdesk configuration.
type Config struct {
	Host string `envconfig:"HOST" default:"127.0.0.1"`
	Port int    `envconfig:"PORT" default:"3012"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// DataDir is the root of the logs, settings and dbs directories. Empty
	// means the per-user configuration directory of the platform.
	DataDir      string `envconfig:"DATA_DIR"`
	DatabaseFile string `envconfig:"DATABASE_FILE" default:"chessdesk.db"`

	// Workers bounds the number of handlers running at once. Zero means
	// runtime.GOMAXPROCS(0).
	Workers    int           `envconfig:"WORKERS" default:"0"`
	SendBuffer int           `envconfig:"SEND_BUFFER" default:"128"`
	CloseGrace time.Duration `envconfig:"CLOSE_GRACE" default:"5s"`

	PingInterval time.Duration `envconfig:"PING_INTERVAL" default:"0s"`
	PingTimeout  time.Duration `envconfig:"PING_TIMEOUT" default:"5s"`

	HealthEndpoint string `envconfig:"HEALTH_ENDPOINT" default:"/health"`

	// TokenSecret enables HS256 session tokens on the websocket upgrade.
	TokenSecret  string `envconfig:"TOKEN_SECRET"`
	RequireToken bool   `envconfig:"REQUIRE_TOKEN" default:"false"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, nil
}

// Validate checks the values the server cannot run without.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must not be negative")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("config: send buffer must be positive")
	}
	if c.CloseGrace < 0 {
		return fmt.Errorf("config: close grace must not be negative")
	}
	if c.RequireToken && c.TokenSecret == "" {
		return fmt.Errorf("config: %s_REQUIRE_TOKEN needs %s_TOKEN_SECRET", Prefix, Prefix)
	}
	if c.DatabaseFile == "" {
		return fmt.Errorf("config: database file is required")
	}
	return nil
}

// PoolSize returns the worker pool bound.
func (c *Config) PoolSize() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Paths is the pre-resolved, read-only set of locations handed to
// request handlers.
type Paths struct {
	LogDir       string `json:"log_dir"`
	SettingsDir  string `json:"settings_dir"`
	DatabasePath string `json:"database_path"`
}

// ResolvePaths derives Paths from c and creates the directories.
func ResolvePaths(c *Config) (Paths, error) {
	root := c.DataDir
	if root == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return Paths{}, fmt.Errorf("config: locate user config dir: %w", err)
		}
		root = filepath.Join(base, AppName)
	}

	p := Paths{
		LogDir:       filepath.Join(root, "logs"),
		SettingsDir:  filepath.Join(root, "settings"),
		DatabasePath: filepath.Join(root, "dbs", c.DatabaseFile),
	}
	for _, dir := range []string{p.LogDir, p.SettingsDir, filepath.Dir(p.DatabasePath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Paths{}, fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return p, nil
}
