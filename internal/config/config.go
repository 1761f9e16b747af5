package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Import   ImportConfig   `yaml:"import"`
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Watch    WatchConfig    `yaml:"watch"`
	Sources  SourcesConfig  `yaml:"sources"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Blob     BlobConfig     `yaml:"blob"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ImportConfig bounds archive imports.
type ImportConfig struct {
	MaxArchiveBytes int64  `yaml:"max_archive_bytes"`
	Workers         int    `yaml:"workers"`
	RenderTimeout   string `yaml:"render_timeout"`
}

// ParseRenderTimeout returns the live page fetch timeout.
func (c ImportConfig) ParseRenderTimeout() time.Duration {
	d, err := time.ParseDuration(c.RenderTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxUploadBytes bounds one upload request, all files included.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// WatchConfig configures the inbox directory daemon.
type WatchConfig struct {
	Interval string `yaml:"interval"`
	Folder   string `yaml:"folder"`
}

// ParseInterval returns the scan interval as time.Duration.
func (w WatchConfig) ParseInterval() time.Duration {
	d, err := time.ParseDuration(w.Interval)
	if err != nil {
		return time.Minute
	}
	return d
}

// SourcesConfig holds configuration for feed sources.
type SourcesConfig struct {
	Nitter NitterConfig `yaml:"nitter"`
}

// NitterConfig for the Nitter RSS collector.
type NitterConfig struct {
	Enabled  bool     `yaml:"enabled"`
	URL      string   `yaml:"url"`
	Accounts []string `yaml:"accounts"`
	Since    string   `yaml:"since"`
	Tags     []string `yaml:"tags"`
}

// ParseSince returns the maximum entry age; zero keeps everything.
func (n NitterConfig) ParseSince() time.Duration {
	d, err := time.ParseDuration(n.Since)
	if err != nil {
		return 0
	}
	return d
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// BlobConfig configures S3 retention of original archives.
type BlobConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./xfavo.db"},
		Import: ImportConfig{
			MaxArchiveBytes: 32 << 20,
			Workers:         1,
			RenderTimeout:   "30s",
		},
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			Port:           8000,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			MaxUploadBytes: 256 << 20,
		},
		Watch: WatchConfig{Interval: "1m"},
		Sources: SourcesConfig{
			Nitter: NitterConfig{
				URL:   "https://nitter.net",
				Since: "24h",
			},
		},
		Blob: BlobConfig{Prefix: "xfavo"},
	}
}

// Load reads configuration from a YAML file, then a .env file in the
// working directory if one exists, and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("XFAVO_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("XFAVO_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("XFAVO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("XFAVO_NITTER_URL"); v != "" {
		cfg.Sources.Nitter.URL = v
	}
	if v := os.Getenv("XFAVO_S3_BUCKET"); v != "" {
		cfg.Blob.Bucket = v
		cfg.Blob.Enabled = true
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("XFAVO_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Webhook.URL = v
		cfg.Alerts.Webhook.Enabled = true
	}
	if v := os.Getenv("XFAVO_WEBHOOK_SECRET"); v != "" {
		cfg.Alerts.Webhook.Secret = v
	}
}
