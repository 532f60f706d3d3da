package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.stampcircle/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	UserID         int64  `toml:"user_id"`

	Remote     Remote     `toml:"remote"`
	Realtime   Realtime   `toml:"realtime"`
	Moderation Moderation `toml:"moderation"`
	Sync       Sync       `toml:"sync"`
}

// Remote configures the backend data API.
type Remote struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Realtime configures the websocket channel endpoint.
type Realtime struct {
	URL string `toml:"url"`
}

// Moderation configures the content classification service.
type Moderation struct {
	URL string `toml:"url"`
}

// Sync configures reconciliation cadence.
type Sync struct {
	IntervalSeconds int `toml:"interval_seconds"`
}

// Load reads config from the given path and applies defaults.
// Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Remote.TimeoutSeconds <= 0 {
		c.Remote.TimeoutSeconds = 15
	}
	if c.Sync.IntervalSeconds <= 0 {
		c.Sync.IntervalSeconds = 30
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
