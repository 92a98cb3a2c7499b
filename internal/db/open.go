// Package db provides the sqlite connection and small database/sql helpers
// shared by the store.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

// Open opens (creating if needed) the sqlite database at path with
// write-ahead logging enabled so readers are never blocked by the writer.
// ":memory:" opens an in-memory database pinned to a single connection.
func Open(path string) (*sql.DB, error) {
	if path == ":memory:" {
		sqlDB, err := sql.Open("sqlite", ":memory:")
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		// Each sqlite connection gets its own memory database; keep one.
		sqlDB.SetMaxOpenConns(1)
		if _, err := sqlDB.Exec(`PRAGMA foreign_keys = ON`); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
		return sqlDB, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return sqlDB, nil
}
