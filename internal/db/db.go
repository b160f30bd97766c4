package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// StateDir is the per-workspace directory holding the database.
const StateDir = ".pfmt"

const (
	fileName           = "pfmt.db"
	defaultBusyTimeout = 5 * time.Second
)

// Config locates the workspace database. The reference service and the
// wizard storage share one file, so writers wait on BusyTimeout instead of
// failing with SQLITE_BUSY.
type Config struct {
	Workspace   string
	BusyTimeout time.Duration
}

func (c Config) workspace() string {
	if c.Workspace == "" {
		return "."
	}
	return c.Workspace
}

// Path returns the database file for the workspace.
func Path(workspace string) string {
	return filepath.Join(Config{Workspace: workspace}.workspace(), StateDir, fileName)
}

// EnsureWorkspace creates the state directory if missing and returns it.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(Config{Workspace: workspace}.workspace(), StateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return dir, nil
}

// DSN builds the modernc sqlite connection string.
func DSN(cfg Config) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	return "file:" + Path(cfg.Workspace) + "?cache=shared&" + q.Encode()
}

// Open opens the workspace database, creating its directory first.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", Path(cfg.Workspace), err)
	}
	return conn, nil
}
