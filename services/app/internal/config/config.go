// Package config loads the client configuration from an optional YAML file
// with environment variables layered on top.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the umkmhub client.
type Config struct {
	APIBaseURL     string        `yaml:"api_base_url" env:"UMKMHUB_API_URL,overwrite"`
	NATSURL        string        `yaml:"nats_url" env:"UMKMHUB_NATS_URL,overwrite"`
	StatePath      string        `yaml:"state_path" env:"UMKMHUB_STATE_PATH,overwrite"`
	LogLevel       string        `yaml:"log_level" env:"UMKMHUB_LOG_LEVEL,overwrite"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"UMKMHUB_REQUEST_TIMEOUT,overwrite"`
}

// DefaultPath is the config file consulted when none is given explicitly.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".umkmhub", "config.yaml")
}

func defaults() Config {
	cfg := Config{
		APIBaseURL:     "http://localhost:8080",
		NATSURL:        "nats://127.0.0.1:4222",
		LogLevel:       "info",
		RequestTimeout: 15 * time.Second,
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.StatePath = filepath.Join(home, ".umkmhub", "session.json")
	}
	return cfg
}

// Load resolves the configuration: built-in defaults, then the YAML file at
// path (or DefaultPath when path is empty), then environment variables. A
// missing file at the default location is fine; an explicitly named file
// must exist.
func Load(ctx context.Context, path string) (Config, error) {
	cfg := defaults()

	explicit := path != ""
	if path == "" {
		path = DefaultPath()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
			// No file, defaults stand.
		default:
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.APIBaseURL == "" {
		return Config{}, errors.New("api_base_url is required")
	}
	if cfg.RequestTimeout <= 0 {
		return Config{}, errors.New("request_timeout must be positive")
	}
	return cfg, nil
}
