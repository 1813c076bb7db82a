package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"parley/pkg/config"
	"parley/pkg/remote"
	"parley/pkg/store"
)

// appContext bundles the resolved config and shared clients for one command
// invocation. Close releases the local database.
type appContext struct {
	cfg    config.Config
	paths  *Paths
	store  *store.Store
	client *remote.Client
}

// openApp resolves paths, loads config, opens the local cache, and builds
// the backend client. Flag overrides win over the config file.
func openApp(cmd *cobra.Command) (*appContext, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(paths.ParleyHome, 0o750); err != nil {
		return nil, fmt.Errorf("create parley home: %w", err)
	}

	cfgPath := paths.ConfigPath
	if flagPath, _ := cmd.Flags().GetString("config"); flagPath != "" {
		cfgPath = flagPath
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	// Precedence: flag over environment over config file.
	if env := os.Getenv("PARLEY_BACKEND_URL"); env != "" {
		cfg.BackendURL = env
	}
	if env := os.Getenv("PARLEY_TOKEN"); env != "" {
		cfg.Token = env
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.BackendURL = backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(paths.StateDB)
	if err != nil {
		return nil, err
	}

	return &appContext{
		cfg:    cfg,
		paths:  paths,
		store:  st,
		client: remote.New(remote.Config{BaseURL: cfg.BackendURL, Token: cfg.Token}),
	}, nil
}

func (a *appContext) Close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

// syncStore mirrors the backend's conversation list into the local cache.
// Best effort; the cache just goes stale when the backend is unreachable.
func (a *appContext) syncStore(ctx context.Context) {
	list, err := a.client.ListSessions(ctx)
	if err != nil {
		return
	}
	_ = a.store.ReplaceSessions(ctx, list)
}
