package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// parleyDir is the state directory under the user's home.
const parleyDir = ".parley"

// Paths holds all resolved parley state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	ParleyHome string // ~/.parley or PARLEY_HOME
	ConfigPath string // config.toml or PARLEY_CONFIG
	StateDB    string // state.db or PARLEY_DB_PATH
	StagingDir string // staging or PARLEY_STAGING_DIR
}

// ResolvePaths returns all parley paths, respecting env var overrides.
// Environment variables:
//   - PARLEY_HOME: base directory for all parley state (default: ~/.parley)
//   - PARLEY_CONFIG: config file (default: $PARLEY_HOME/config.toml)
//   - PARLEY_DB_PATH: local cache database (default: $PARLEY_HOME/state.db)
//   - PARLEY_STAGING_DIR: watched attachment drop directory (default: $PARLEY_HOME/staging)
//
// If PARLEY_HOME is set, it becomes the base for all default paths. Specific
// env vars override both the default and the PARLEY_HOME base.
func ResolvePaths() (*Paths, error) {
	home, err := resolveParleyHome()
	if err != nil {
		return nil, err
	}

	return &Paths{
		ParleyHome: home,
		ConfigPath: resolvePathWithEnv("PARLEY_CONFIG", home, "config.toml"),
		StateDB:    resolvePathWithEnv("PARLEY_DB_PATH", home, "state.db"),
		StagingDir: resolvePathWithEnv("PARLEY_STAGING_DIR", home, "staging"),
	}, nil
}

// resolveParleyHome returns the parley home directory from PARLEY_HOME or
// ~/.parley.
func resolveParleyHome() (string, error) {
	if v := os.Getenv("PARLEY_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, parleyDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
