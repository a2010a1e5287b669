// This file implements the PostgreSQL-backed profile and dialogue stores.
package store

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

var (
	//go:embed migrations_postgres_profile.sql
	postgresProfileMigrations string
	//go:embed migrations_postgres_dialogue.sql
	postgresDialogueMigrations string
)

// PostgresProfileStore is the PostgreSQL implementation of ProfileStore.
type PostgresProfileStore struct {
	*profileSQL
}

// PostgresDialogueStore is the PostgreSQL implementation of DialogueStore.
type PostgresDialogueStore struct {
	*dialogueSQL
}

var (
	_ ProfileStore  = (*PostgresProfileStore)(nil)
	_ DialogueStore = (*PostgresDialogueStore)(nil)
)

// NewPostgresProfileStore connects to PostgreSQL and ensures the profile tables exist.
func NewPostgresProfileStore(opts ...Option) (*PostgresProfileStore, error) {
	db, err := openPostgres(opts, postgresProfileMigrations)
	if err != nil {
		return nil, err
	}
	return &PostgresProfileStore{profileSQL: newProfileSQL(db, dialectPostgres)}, nil
}

// NewPostgresDialogueStore connects to PostgreSQL and ensures the dialogues table exists.
func NewPostgresDialogueStore(opts ...Option) (*PostgresDialogueStore, error) {
	db, err := openPostgres(opts, postgresDialogueMigrations)
	if err != nil {
		return nil, err
	}
	return &PostgresDialogueStore{dialogueSQL: newDialogueSQL(db, dialectPostgres)}, nil
}

func openPostgres(opts []Option, migrations string) (*sql.DB, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("openPostgres invoked", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, ErrDSNNotSet
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")
	if err := migrate(context.Background(), db, dialectPostgres, migrations); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenProfileStore picks the SQLite or PostgreSQL implementation based on the DSN.
func OpenProfileStore(dsn string) (ProfileStore, error) {
	if DetectDSNType(dsn) == DSNTypePostgres {
		return NewPostgresProfileStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteProfileStore(WithSQLiteDSN(dsn))
}

// OpenDialogueStore picks the SQLite or PostgreSQL implementation based on the DSN.
func OpenDialogueStore(dsn string) (DialogueStore, error) {
	if DetectDSNType(dsn) == DSNTypePostgres {
		return NewPostgresDialogueStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteDialogueStore(WithSQLiteDSN(dsn))
}
