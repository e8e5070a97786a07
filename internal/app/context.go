package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"taskline/internal/config"
	"taskline/internal/csvfile"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/events"
	"taskline/internal/migrate"
)

// Backend loads the last saved state and mirrors every mutation.
type Backend interface {
	engine.Sink
	Load(ctx context.Context) ([]domain.Record, error)
}

// App is an engine bound to the storage backend chosen in config.
type App struct {
	Engine  *engine.Engine
	Backend Backend
	// Events is set for the sqlite backend only.
	Events *events.Writer
	conn   *sql.DB
}

// Open builds the backend for cfg, restores its records into a fresh engine
// and returns the pair. Callers must Close the App.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{}
	switch cfg.Storage.Backend {
	case config.BackendMemory:
	case config.BackendCSV:
		a.Backend = csvfile.New(cfg.StoragePath(workspace), logger)
	case config.BackendSQLite:
		conn, err := db.Open(ctx, db.Config{Workspace: workspace})
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		applied, err := migrate.Migrate(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		for _, m := range applied {
			logger.Info("applied migration", "name", m.Name, "version", m.Version)
		}
		mirror := db.NewMirror(conn, logger)
		a.Backend = mirror
		a.Events = &mirror.Events
		a.conn = conn
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	opts := engine.Options{HistoryLimit: cfg.History.Limit, IDSeed: cfg.IDs.Seed, Logger: logger}
	if a.Backend != nil {
		opts.Sink = a.Backend
	}
	a.Engine = engine.New(opts)
	if a.Backend == nil {
		return a, nil
	}
	records, err := a.Backend.Load(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load %s backend: %w", cfg.Storage.Backend, err)
	}
	if err := a.Engine.Restore(ctx, records); err != nil {
		a.Close()
		return nil, fmt.Errorf("restore %s backend: %w", cfg.Storage.Backend, err)
	}
	return a, nil
}

func (a *App) Close() error {
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
