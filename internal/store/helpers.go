package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// dialect selects placeholder syntax for the shared SQL implementations.
type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "Postgres"
	}
	return "SQLite"
}

// rebind rewrites '?' placeholders into '$n' for PostgreSQL. Queries must not contain
// literal question marks.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// migrate runs an embedded migration script against db.
func migrate(ctx context.Context, db *sql.DB, d dialect, script string) error {
	slog.Debug("Running migrations", "backend", d.String())
	if _, err := db.ExecContext(ctx, script); err != nil {
		slog.Error("Failed to run migrations", "backend", d.String(), "error", err)
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Migrations applied successfully", "backend", d.String())
	return nil
}

// closeDB closes db and logs the outcome under name.
func closeDB(db *sql.DB, name string) error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		slog.Error(name+" Close failed", "error", err)
		return err
	}
	slog.Debug(name + " closed")
	return nil
}
