// This file implements the SQLite-backed profile and dialogue stores.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

var (
	//go:embed migrations_sqlite_profile.sql
	sqliteProfileMigrations string
	//go:embed migrations_sqlite_dialogue.sql
	sqliteDialogueMigrations string
)

// SQLiteProfileStore is the SQLite implementation of ProfileStore.
type SQLiteProfileStore struct {
	*profileSQL
}

// SQLiteDialogueStore is the SQLite implementation of DialogueStore.
type SQLiteDialogueStore struct {
	*dialogueSQL
}

var (
	_ ProfileStore  = (*SQLiteProfileStore)(nil)
	_ DialogueStore = (*SQLiteDialogueStore)(nil)
)

// NewSQLiteProfileStore opens (creating if needed) the profile database at the DSN path.
func NewSQLiteProfileStore(opts ...Option) (*SQLiteProfileStore, error) {
	db, err := openSQLite(opts, sqliteProfileMigrations)
	if err != nil {
		return nil, err
	}
	return &SQLiteProfileStore{profileSQL: newProfileSQL(db, dialectSQLite)}, nil
}

// NewSQLiteDialogueStore opens (creating if needed) the dialogue database at the DSN path.
func NewSQLiteDialogueStore(opts ...Option) (*SQLiteDialogueStore, error) {
	db, err := openSQLite(opts, sqliteDialogueMigrations)
	if err != nil {
		return nil, err
	}
	return &SQLiteDialogueStore{dialogueSQL: newDialogueSQL(db, dialectSQLite)}, nil
}

// openSQLite creates the parent directory, opens the file and applies migrations.
func openSQLite(opts []Option, migrations string) (*sql.DB, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("openSQLite invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, ErrDSNNotSet
	}

	if path := sqlitePath(dsn); path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		slog.Debug("SQLite database directory verified/created", "dir", dir)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single connection serializes writers and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if err := migrate(context.Background(), db, dialectSQLite, migrations); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// sqlitePath extracts the filesystem path from a DSN, or "" for in-memory databases.
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return path
}
