// Package config loads process configuration from an optional YAML
// file plus environment variables. The environment (including a .env
// file in the working directory) overrides file values; configuration
// is loaded once at startup and read-only thereafter.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/analystiq/analystiq/internal/util"
)

// Default configuration constants.
const (
	// DefaultStateDir is the default directory for AnalystIQ state data.
	DefaultStateDir = "/var/lib/analystiq"
	// DefaultDBFileName is the default SQLite database filename.
	DefaultDBFileName = "analystiq.db"
	// DefaultDBDriver is the database driver used when none is configured.
	DefaultDBDriver = "sqlite3"
)

// Config is the full process configuration.
type Config struct {
	Telegram struct {
		Token string `yaml:"token"`
	} `yaml:"telegram"`

	OpenAI struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	} `yaml:"openai"`

	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`

	Weather struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"weather"`

	// Whitelist lists authorized usernames or numeric ids. Empty means
	// every user is allowed.
	Whitelist []string `yaml:"whitelist"`

	StateDir string `yaml:"state_dir"`
}

// Load reads the YAML file at path (optional, "" skips it), then applies
// environment overrides and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("config.Load: no .env file loaded", "error", err)
	} else {
		slog.Debug("config.Load: .env file loaded")
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		slog.Debug("config.Load: config file loaded", "path", path)
	}

	cfg.applyEnvironment()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slog.Debug("config.Load: configuration resolved",
		"dbDriver", cfg.Database.Driver,
		"dsnSet", cfg.Database.DSN != "",
		"whitelistSize", len(cfg.Whitelist),
		"weatherKeySet", cfg.Weather.APIKey != "",
		"model", cfg.OpenAI.Model)
	return cfg, nil
}

// applyEnvironment lets environment variables override file values.
func (c *Config) applyEnvironment() {
	c.Telegram.Token = util.GetenvDefault("TELEGRAM_BOT_TOKEN", c.Telegram.Token)
	c.OpenAI.APIKey = util.GetenvDefault("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.Model = util.GetenvDefault("OPENAI_MODEL", c.OpenAI.Model)
	c.Database.Driver = util.GetenvDefault("ANALYSTIQ_DB_DRIVER", c.Database.Driver)
	c.Database.DSN = util.GetenvDefault("DATABASE_URL", c.Database.DSN)
	c.Weather.APIKey = util.GetenvDefault("OPENWEATHER_API_KEY", c.Weather.APIKey)
	c.StateDir = util.GetenvDefault("ANALYSTIQ_STATE_DIR", c.StateDir)

	if raw := os.Getenv("ANALYSTIQ_WHITELIST"); raw != "" {
		c.Whitelist = c.Whitelist[:0]
		for _, entry := range strings.Split(raw, ",") {
			if entry = strings.TrimSpace(entry); entry != "" {
				c.Whitelist = append(c.Whitelist, entry)
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDBDriver
	}
	if c.Database.DSN == "" {
		c.Database.DSN = filepath.Join(c.StateDir, DefaultDBFileName)
		slog.Debug("config: no database DSN provided, defaulting to SQLite", "path", c.Database.DSN)
	}
}

// Validate checks the required credentials are present.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram bot token is required (set TELEGRAM_BOT_TOKEN)")
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("OpenAI API key is required (set OPENAI_API_KEY)")
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q (want sqlite3 or postgres)", c.Database.Driver)
	}
	return nil
}
