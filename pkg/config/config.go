// Package config loads the sessiond configuration file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/txn2/sqlsession/pkg/session"
	"github.com/txn2/sqlsession/pkg/session/postgres"
)

// Identifier formats for generated session IDs.
const (
	IDFormatHex  = "hex"
	IDFormatUUID = "uuid"
)

const (
	defaultAddress         = ":8080"
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultCookiePath      = "/"
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Config holds the complete sessiond configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the database connection.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	Migrate      *bool  `yaml:"migrate"` // nil means true
}

// SessionConfig configures the session store and its cookie.
type SessionConfig struct {
	Table         string `yaml:"table"`
	CookieName    string `yaml:"cookie_name"`
	CookiePath    string `yaml:"cookie_path"`
	CookieDomain  string `yaml:"cookie_domain"`
	MaxAge        int    `yaml:"max_age"` // seconds; 0 is a browser-session cookie
	Secure        bool   `yaml:"secure"`
	HTTPOnly      *bool  `yaml:"http_only"` // nil means true
	MaxIDAttempts int    `yaml:"max_id_attempts"`
	IDFormat      string `yaml:"id_format"` // "hex", "uuid"
	Verbose       bool   `yaml:"verbose"`
	Debug         bool   `yaml:"debug"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text", "json"
}

// Load loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the administrator.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML, expanding ${VAR} references and
// applying defaults.
func Parse(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = defaultAddress
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.Session.Table == "" {
		cfg.Session.Table = postgres.DefaultTable
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = session.DefaultCookieName
	}
	if cfg.Session.CookiePath == "" {
		cfg.Session.CookiePath = defaultCookiePath
	}
	if cfg.Session.MaxIDAttempts == 0 {
		cfg.Session.MaxIDAttempts = session.DefaultMaxIDAttempts
	}
	if cfg.Session.IDFormat == "" {
		cfg.Session.IDFormat = IDFormatHex
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaultLogFormat
	}
}

// MigrateEnabled reports whether migrations should run at startup.
func (c *DatabaseConfig) MigrateEnabled() bool {
	return c.Migrate == nil || *c.Migrate
}

// CookieHTTPOnly reports whether the session cookie is HttpOnly.
func (c *SessionConfig) CookieHTTPOnly() bool {
	return c.HTTPOnly == nil || *c.HTTPOnly
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}
	if c.Database.MaxOpenConns < 0 {
		errs = append(errs, "database.max_open_conns must not be negative")
	}
	if !postgres.ValidTableName(c.Session.Table) {
		errs = append(errs, fmt.Sprintf("session.table %q is not a valid table name", c.Session.Table))
	}
	if c.Database.MigrateEnabled() && c.Session.Table != postgres.DefaultTable {
		errs = append(errs, "database.migrate manages only the "+postgres.DefaultTable+
			" table; disable it when using session.table")
	}
	if c.Session.MaxIDAttempts < 0 {
		errs = append(errs, "session.max_id_attempts must be positive")
	}
	switch c.Session.IDFormat {
	case IDFormatHex, IDFormatUUID:
	default:
		errs = append(errs, fmt.Sprintf("session.id_format %q is not one of hex, uuid", c.Session.IDFormat))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err.Error())
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not one of text, json", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// SlogLevel converts the configured level name to a slog.Level.
func (c *LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q is invalid", c.Level)
	}
	return level, nil
}
