package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	stateDir      = ".taskline"
	defaultDBName = "taskline.db"
)

// Config locates the audit database. File overrides the workspace layout.
type Config struct {
	Workspace string
	File      string
}

func (c Config) path() string {
	if c.File != "" {
		return c.File
	}
	return Path(c.Workspace)
}

// EnsureDir creates the directory that holds the database file.
func EnsureDir(file string) error {
	return os.MkdirAll(filepath.Dir(file), 0o755)
}

// Open opens the audit database with foreign keys on. The HTTP server and
// the webhook poller share the handle, so writers wait on a busy lock
// instead of failing.
func Open(cfg Config) (*sql.DB, error) {
	file := cfg.path()
	if err := EnsureDir(file); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", file)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, stateDir, defaultDBName)
}
