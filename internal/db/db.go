package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	stateDir = ".taskline"
	fileName = "taskline.db"
)

type Config struct {
	Workspace string
	// BusyTimeout bounds how long a writer waits on another process holding
	// the database. Zero means five seconds.
	BusyTimeout time.Duration
}

// Path returns the database file inside the workspace state directory.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, stateDir, fileName)
}

func dsn(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	return "file:" + path + "?" + q.Encode()
}

// Open creates the state directory if needed and returns a single-connection
// handle, so a CLI and a running server can share the file.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	path := Path(cfg.Workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	conn, err := sql.Open("sqlite", dsn(path, busy))
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return conn, nil
}
