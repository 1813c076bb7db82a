package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"parley/pkg/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "parley.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BackendURL != "http://localhost:8787" {
		t.Errorf("backend = %q, want default", cfg.BackendURL)
	}
	if cfg.Model != "parley-lite" {
		t.Errorf("model = %q, want parley-lite", cfg.Model)
	}
	if cfg.DraftExpiry() != 2500*time.Millisecond {
		t.Errorf("draft expiry = %v, want 2.5s", cfg.DraftExpiry())
	}
}

func TestLoadOverridesFieldByField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.toml")
	content := `backend_url = "https://parley.example.com"
token = "secret"
draft_expiry_ms = 5000

[tools]
web_search = true
code_interpreter = false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BackendURL != "https://parley.example.com" {
		t.Errorf("backend = %q, want override", cfg.BackendURL)
	}
	if cfg.Token != "secret" {
		t.Errorf("token = %q, want secret", cfg.Token)
	}
	if cfg.DraftExpiry() != 5*time.Second {
		t.Errorf("draft expiry = %v, want 5s", cfg.DraftExpiry())
	}
	// Untouched fields keep their defaults.
	if cfg.Model != "parley-lite" {
		t.Errorf("model = %q, want default parley-lite", cfg.Model)
	}
	if !cfg.Tools["web_search"] || cfg.Tools["code_interpreter"] {
		t.Errorf("tools = %v, want web_search on and code_interpreter off", cfg.Tools)
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.toml")
	if err := os.WriteFile(path, []byte("backend_url = [broken"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateRejectsBadBackendURL(t *testing.T) {
	for _, bad := range []string{"", "not a url", "localhost:8787"} {
		cfg := config.Default()
		cfg.BackendURL = bad
		if err := cfg.Validate(); err == nil {
			t.Errorf("Validate accepted backend_url %q", bad)
		}
	}
}

func TestValidateRejectsNegativeDurations(t *testing.T) {
	cfg := config.Default()
	cfg.DraftExpiryMS = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted negative draft_expiry_ms")
	}
}
