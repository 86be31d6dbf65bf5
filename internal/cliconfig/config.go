// Package cliconfig stores the terminal client's settings in
// ~/.saams/config.toml.
package cliconfig

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the terminal client profile.
type Config struct {
	ServerURL string `toml:"server_url"`
	Token     string `toml:"token"`
	LogLevel  string `toml:"log_level"`
}

// DefaultPath returns ~/.saams/config.toml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".saams", "config.toml")
}

// Load reads config from the given path. Returns nil config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
// The file holds a bearer token, so it is private to the user.
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

// WebSocketURL derives the realtime endpoint from ServerURL.
func (c *Config) WebSocketURL() (string, error) {
	u, err := url.Parse(strings.TrimRight(c.ServerURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	return u.String(), nil
}
