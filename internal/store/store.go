// Package store provides storage backends for AltTutor.
//
// Two independent stores are exposed: the profile/progress store (users, rewards, progress)
// and the append-only dialogue log. Each has SQLite and PostgreSQL implementations and an
// in-memory implementation used by tests.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/BTreeMap/AltTutor/internal/models"
)

var (
	// ErrProfileNotFound is returned when an operation targets a user without a profile.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrDSNNotSet is returned when a store is opened without a DSN.
	ErrDSNNotSet = errors.New("database DSN not set")
)

// DefaultDialogueLimit caps ListDialogues when no positive limit is given.
const DefaultDialogueLimit = 50

// ProfileStore persists learner profiles, points, badges and lesson completions.
// Point and badge updates are single atomic statements so that concurrent users never
// race through a read-modify-write.
type ProfileStore interface {
	// UpsertProfile creates the profile or refreshes its onboarding fields. Existing points
	// are never modified.
	UpsertProfile(ctx context.Context, p models.UserProfile) error
	// GetProfile returns ErrProfileNotFound when the user has no profile.
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	// AddPoints increments points and returns the new total.
	AddPoints(ctx context.Context, userID string, delta int) (int, error)
	// ResetPoints sets points back to zero (admin only).
	ResetPoints(ctx context.Context, userID string) error
	// AwardBadge records the badge unless the user already holds it. It reports whether a
	// new badge was recorded.
	AwardBadge(ctx context.Context, userID, badge string) (bool, error)
	// ListBadges returns badge names in award order.
	ListBadges(ctx context.Context, userID string) ([]string, error)
	// MarkLessonCompleted records a lesson completion once.
	MarkLessonCompleted(ctx context.Context, userID, moduleID, lessonID string) error
	// ListCompletedLessons returns completed lessons in completion order.
	ListCompletedLessons(ctx context.Context, userID string) ([]models.LessonProgress, error)
	Close() error
}

// DialogueStore is the append-only log of free-text exchanges.
type DialogueStore interface {
	AppendDialogue(ctx context.Context, entry models.DialogueEntry) error
	// ListDialogues returns the newest limit entries of a user, oldest first.
	ListDialogues(ctx context.Context, userID string, limit int) ([]models.DialogueEntry, error)
	Close() error
}

// Opts holds configuration options for stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for stores.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DSN types reported by DetectDSNType.
const (
	DSNTypePostgres = "postgres"
	DSNTypeSQLite   = "sqlite3"
)

// DetectDSNType classifies a DSN as postgres or sqlite3.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return DSNTypePostgres
	}
	// key=value connection strings such as "host=localhost dbname=tutor"
	for _, key := range []string{"host=", "dbname=", "user="} {
		if strings.HasPrefix(d, key) || strings.Contains(d, " "+key) {
			return DSNTypePostgres
		}
	}
	return DSNTypeSQLite
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultDialogueLimit
	}
	return limit
}
