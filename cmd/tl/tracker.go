package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"taskline/internal/app"
	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/events"
	tasklinesdk "taskline/sdk/go"
)

// tracker is what the commands need; a local engine and the HTTP client
// both satisfy it.
type tracker interface {
	CreateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	GetTask(ctx context.Context, id int) (domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	DeleteTask(ctx context.Context, id int) (domain.Task, error)
	ClearTasks(ctx context.Context) error
	ListTasks(ctx context.Context) ([]domain.Task, error)

	CreateEpic(ctx context.Context, ep domain.Epic) (domain.Epic, error)
	GetEpic(ctx context.Context, id int) (domain.Epic, error)
	UpdateEpic(ctx context.Context, ep domain.Epic) (domain.Epic, error)
	DeleteEpic(ctx context.Context, id int) (domain.Epic, error)
	ClearEpics(ctx context.Context) error
	ListEpics(ctx context.Context) ([]domain.Epic, error)
	EpicSubtasks(ctx context.Context, epicID int) ([]domain.Subtask, error)

	CreateSubtask(ctx context.Context, s domain.Subtask) (domain.Subtask, error)
	GetSubtask(ctx context.Context, id int) (domain.Subtask, error)
	UpdateSubtask(ctx context.Context, s domain.Subtask) (domain.Subtask, error)
	DeleteSubtask(ctx context.Context, id int) (domain.Subtask, error)
	ClearSubtasks(ctx context.Context) error
	ListSubtasks(ctx context.Context) ([]domain.Subtask, error)

	History(ctx context.Context) ([]domain.Entity, error)
	Prioritized(ctx context.Context) ([]domain.Entity, error)
	Events(ctx context.Context, n int) ([]events.Event, error)
}

// localTracker adapts the engine, whose read-only listings cannot fail.
type localTracker struct {
	*engine.Engine
	events *events.Writer
}

func (l localTracker) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return l.Engine.ListTasks(ctx), nil
}

func (l localTracker) ListEpics(ctx context.Context) ([]domain.Epic, error) {
	return l.Engine.ListEpics(ctx), nil
}

func (l localTracker) ListSubtasks(ctx context.Context) ([]domain.Subtask, error) {
	return l.Engine.ListSubtasks(ctx), nil
}

func (l localTracker) History(ctx context.Context) ([]domain.Entity, error) {
	return l.Engine.History(ctx), nil
}

func (l localTracker) Prioritized(ctx context.Context) ([]domain.Entity, error) {
	return l.Engine.Prioritized(ctx), nil
}

func (l localTracker) Events(ctx context.Context, n int) ([]events.Event, error) {
	if l.events == nil {
		return nil, errors.New("event log requires the sqlite backend (storage.backend: sqlite)")
	}
	return l.events.Tail(ctx, n)
}

// withTracker runs fn against the server named by --server, or against a
// local engine restored from the workspace backend.
func withTracker(ctx context.Context, fn func(context.Context, tracker) error) error {
	if remote := strings.TrimSpace(viper.GetString("server")); remote != "" {
		c := tasklinesdk.New(remote)
		if bp := viper.GetString("base-path"); bp != "" {
			c.BasePath = bp
		}
		return fn(ctx, c)
	}
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, localTracker{Engine: a.Engine, events: a.Events})
}

func openApp(ctx context.Context) (*app.App, error) {
	workspace := viper.GetString("workspace")
	cfg, err := loadConfig(workspace)
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, workspace, cfg, newLogger())
}

// loadConfig reads taskline.yml and applies flag and env overrides.
func loadConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("backend"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := viper.GetString("addr"); v != "" {
		cfg.Server.Addr = v
	}
	if v := viper.GetString("base-path"); v != "" {
		cfg.Server.BasePath = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// show looks an id up regardless of kind.
func show(ctx context.Context, tr tracker, id int) (domain.Entity, error) {
	if l, ok := tr.(localTracker); ok {
		return l.Engine.Get(ctx, id)
	}
	if t, err := tr.GetTask(ctx, id); err == nil || !tasklinesdk.IsNotFound(err) {
		return t, err
	}
	if ep, err := tr.GetEpic(ctx, id); err == nil || !tasklinesdk.IsNotFound(err) {
		return ep, err
	}
	s, err := tr.GetSubtask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("no task, epic or subtask with id %d: %w", id, err)
	}
	return s, nil
}
