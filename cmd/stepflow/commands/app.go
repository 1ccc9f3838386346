package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stepflow/stepflow/pkg/config"
	"github.com/stepflow/stepflow/pkg/frameworks"
	"github.com/stepflow/stepflow/pkg/stores"
	"github.com/stepflow/stepflow/pkg/telemetry"
)

// app bundles the shared dependencies commands wire up from the
// configuration file.
type app struct {
	cfg    *config.Config
	logger *telemetry.Logger
	store  *stores.SQLiteStore
}

// newApp loads the configuration and the logger. Storage is opened
// lazily by the accessors below so read-only commands stay cheap.
func newApp() (*app, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(config.DefaultConfig().DataDir, "config.yaml")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logCfg := telemetry.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if verbose {
		logCfg.Level = "debug"
	}

	logger, err := telemetry.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	return &app{cfg: cfg, logger: logger}, nil
}

// openStore opens the SQLite state store and applies migrations.
func (a *app) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}

	if err := os.MkdirAll(a.cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{
		Path: a.cfg.ResolvePath(a.cfg.DatabasePath),
	})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	a.store = store
	return store, nil
}

// openFrameworks opens the framework persistence service.
func (a *app) openFrameworks() (*frameworks.Service, error) {
	dir := a.cfg.ResolvePath(a.cfg.FrameworksDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create frameworks dir: %w", err)
	}
	return frameworks.NewService(dir)
}

// close releases any opened resources.
func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
		a.store = nil
	}
}
