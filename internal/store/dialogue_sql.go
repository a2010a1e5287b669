package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/AltTutor/internal/models"
)

// dialogueSQL implements DialogueStore on top of database/sql for both backends.
type dialogueSQL struct {
	db      *sql.DB
	dialect dialect
	name    string
}

func newDialogueSQL(db *sql.DB, d dialect) *dialogueSQL {
	return &dialogueSQL{db: db, dialect: d, name: d.String() + "DialogueStore"}
}

func (s *dialogueSQL) AppendDialogue(ctx context.Context, e models.DialogueEntry) error {
	if e.UserID == "" {
		return models.ErrEmptyUserID
	}
	if !e.Role.IsValid() {
		return models.ErrInvalidRole
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO dialogues (user_id, role, message, timestamp) VALUES (?, ?, ?, ?)`),
		e.UserID, string(e.Role), e.Message, e.Timestamp.UTC())
	if err != nil {
		slog.Error(s.name+" AppendDialogue failed", "error", err, "userID", e.UserID, "role", e.Role)
		return fmt.Errorf("failed to append dialogue for %s: %w", e.UserID, err)
	}
	slog.Debug(s.name+" AppendDialogue succeeded", "userID", e.UserID, "role", e.Role, "length", len(e.Message))
	return nil
}

func (s *dialogueSQL) ListDialogues(ctx context.Context, userID string, limit int) ([]models.DialogueEntry, error) {
	limit = normalizeLimit(limit)
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT id, user_id, role, message, timestamp FROM (
			SELECT id, user_id, role, message, timestamp FROM dialogues
			WHERE user_id = ? ORDER BY id DESC LIMIT ?
		) AS recent ORDER BY id ASC`), userID, limit)
	if err != nil {
		slog.Error(s.name+" ListDialogues query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query dialogues: %w", err)
	}
	defer rows.Close()

	entries := []models.DialogueEntry{}
	for rows.Next() {
		var e models.DialogueEntry
		var role string
		if err := rows.Scan(&e.ID, &e.UserID, &role, &e.Message, &e.Timestamp); err != nil {
			slog.Error(s.name+" ListDialogues scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan dialogue row: %w", err)
		}
		e.Role = models.Role(role)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dialogue rows: %w", err)
	}
	slog.Debug(s.name+" ListDialogues succeeded", "userID", userID, "count", len(entries))
	return entries, nil
}

func (s *dialogueSQL) Close() error {
	return closeDB(s.db, s.name)
}
