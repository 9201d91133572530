package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the bancho server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Webhooks WebhookConfig  `yaml:"webhooks"`
	Workers  WorkersConfig  `yaml:"workers"`

	// Channels seeded into the registry at startup.
	Channels []ChannelEntry `yaml:"channels"`
}

// ServerConfig holds the listener and process settings.
type ServerConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Component names this replica in logs ("bancho", "worker", ...).
	Component string `yaml:"component"`

	// BotName is the display name of the resident chat bot.
	BotName string `yaml:"bot_name"`

	// MetricsPort exposes /metrics when non-zero.
	MetricsPort int `yaml:"metrics_port"`

	// ShutdownConnectionTimeout is the per-connection drain grace on
	// shutdown, in seconds.
	ShutdownConnectionTimeout int `yaml:"shutdown_connection_timeout"`

	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`

	// URL overrides the assembled DSN when set (DB_DSN env).
	URL string `yaml:"url"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds the shared store connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WebhookConfig holds the Discord webhook URLs for moderation posts.
// Empty URLs disable the corresponding hook.
type WebhookConfig struct {
	Moderation string `yaml:"moderation"`
	Admin      string `yaml:"admin"`
}

// WorkersConfig holds the periodic sweep cadence, in seconds.
type WorkersConfig struct {
	SpamResetInterval int `yaml:"spam_reset_interval"`
	ReaperInterval    int `yaml:"reaper_interval"`

	// SessionTimeout is how stale a session's ping may grow before the
	// reaper logs it out.
	SessionTimeout int `yaml:"session_timeout"`
}

// ChannelEntry is a chat channel created at startup.
type ChannelEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	PublicRead  bool   `yaml:"public_read"`
	PublicWrite bool   `yaml:"public_write"`
}

// Default returns the config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			BindAddress:               "0.0.0.0",
			Port:                      5001,
			Component:                 "bancho",
			BotName:                   "BanchoBot",
			MetricsPort:               0,
			ShutdownConnectionTimeout: 5,
			LogLevel:                  "info",
		},
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "bancho",
			Password: "bancho",
			DBName:   "bancho",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Workers: WorkersConfig{
			SpamResetInterval: 10,
			ReaperInterval:    300,
			SessionTimeout:    300,
		},
		Channels: []ChannelEntry{
			{Name: "#osu", Description: "Main channel", PublicRead: true, PublicWrite: true},
			{Name: "#announce", Description: "Announcements", PublicRead: true, PublicWrite: false},
			{Name: "#lobby", Description: "Multiplayer lobby", PublicRead: true, PublicWrite: true},
			{Name: "#supporter", Description: "Supporters only", PublicRead: true, PublicWrite: true},
			{Name: "#premium", Description: "Premium members only", PublicRead: true, PublicWrite: true},
			{Name: "#admin", Description: "Staff channel", PublicRead: false, PublicWrite: true},
		},
	}
}

// Load loads config from a YAML file, then applies env overrides.
// A missing file is not an error; defaults are used.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("APP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing APP_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("APP_COMPONENT"); v != "" {
		c.Server.Component = v
	}
	if v := os.Getenv("SHUTDOWN_HTTP_CONNECTION_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing SHUTDOWN_HTTP_CONNECTION_TIMEOUT: %w", err)
		}
		c.Server.ShutdownConnectionTimeout = secs
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing METRICS_PORT: %w", err)
		}
		c.Server.MetricsPort = port
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("WEBHOOK_MODERATION_URL"); v != "" {
		c.Webhooks.Moderation = v
	}
	if v := os.Getenv("WEBHOOK_ADMIN_URL"); v != "" {
		c.Webhooks.Admin = v
	}
	return nil
}

// LogLevel maps the configured level name to a slog level.
func (c Config) LogLevel() slog.Level {
	switch c.Server.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
