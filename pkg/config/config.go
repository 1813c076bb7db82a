// Package config loads parley's client configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"parley/pkg/draft"
	"parley/pkg/hydrate"
	"parley/pkg/session"
)

// Config drives the CLI and the orchestrator wiring. Zero values fall back
// to the package defaults of the component they configure.
type Config struct {
	BackendURL      string          `toml:"backend_url"`
	Token           string          `toml:"token,omitempty"`
	Model           string          `toml:"model"`
	HistoryPageSize int             `toml:"history_page_size"`
	DraftExpiryMS   int             `toml:"draft_expiry_ms"`
	StagingDir      string          `toml:"staging_dir,omitempty"`
	Tools           map[string]bool `toml:"tools,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		BackendURL:      "http://localhost:8787",
		Model:           session.DefaultModel,
		HistoryPageSize: hydrate.DefaultPageSize,
		DraftExpiryMS:   int(draft.DefaultExpiry / time.Millisecond),
	}
}

// Load reads the config at path. A missing file is not an error; Default()
// applies, with file values overriding field by field.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the components downstream cannot recover from.
func (c Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid backend_url %q", c.BackendURL)
	}
	if c.HistoryPageSize < 0 {
		return fmt.Errorf("history_page_size must not be negative, got %d", c.HistoryPageSize)
	}
	if c.DraftExpiryMS < 0 {
		return fmt.Errorf("draft_expiry_ms must not be negative, got %d", c.DraftExpiryMS)
	}
	return nil
}

// DraftExpiry converts the configured expiry to a duration.
func (c Config) DraftExpiry() time.Duration {
	return time.Duration(c.DraftExpiryMS) * time.Millisecond
}
