package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/AltTutor/internal/models"
)

// profileSQL implements ProfileStore on top of database/sql for both backends.
type profileSQL struct {
	db      *sql.DB
	dialect dialect
	name    string
}

func newProfileSQL(db *sql.DB, d dialect) *profileSQL {
	return &profileSQL{db: db, dialect: d, name: d.String() + "ProfileStore"}
}

func (s *profileSQL) q(query string) string {
	return s.dialect.rebind(query)
}

func (s *profileSQL) UpsertProfile(ctx context.Context, p models.UserProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (user_id, name, diabetes_type, knowledge_level, points)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT (user_id) DO UPDATE SET
			name = excluded.name,
			diabetes_type = excluded.diabetes_type,
			knowledge_level = excluded.knowledge_level,
			updated_at = CURRENT_TIMESTAMP`),
		p.UserID, p.Name, string(p.DiabetesType), p.KnowledgeLevel)
	if err != nil {
		slog.Error(s.name+" UpsertProfile failed", "error", err, "userID", p.UserID)
		return fmt.Errorf("failed to upsert profile for %s: %w", p.UserID, err)
	}
	slog.Debug(s.name+" UpsertProfile succeeded", "userID", p.UserID, "diabetesType", p.DiabetesType, "level", p.KnowledgeLevel)
	return nil
}

func (s *profileSQL) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var p models.UserProfile
	var diabetesType string
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT user_id, name, diabetes_type, knowledge_level, points
		FROM users WHERE user_id = ?`), userID).
		Scan(&p.UserID, &p.Name, &diabetesType, &p.KnowledgeLevel, &p.Points)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		slog.Error(s.name+" GetProfile failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get profile for %s: %w", userID, err)
	}
	p.DiabetesType = models.DiabetesType(diabetesType)
	return &p, nil
}

func (s *profileSQL) AddPoints(ctx context.Context, userID string, delta int) (int, error) {
	if delta < 0 {
		return 0, models.ErrNegativePoints
	}
	var total int
	err := s.db.QueryRowContext(ctx, s.q(`
		UPDATE users SET points = points + ?, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? RETURNING points`), delta, userID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrProfileNotFound
	}
	if err != nil {
		slog.Error(s.name+" AddPoints failed", "error", err, "userID", userID, "delta", delta)
		return 0, fmt.Errorf("failed to add points for %s: %w", userID, err)
	}
	slog.Debug(s.name+" AddPoints succeeded", "userID", userID, "delta", delta, "total", total)
	return total, nil
}

func (s *profileSQL) ResetPoints(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE users SET points = 0, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`), userID)
	if err != nil {
		slog.Error(s.name+" ResetPoints failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to reset points for %s: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrProfileNotFound
	}
	slog.Info(s.name+" ResetPoints succeeded", "userID", userID)
	return nil
}

func (s *profileSQL) AwardBadge(ctx context.Context, userID, badge string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO rewards (user_id, badge) VALUES (?, ?)
		ON CONFLICT (user_id, badge) DO NOTHING`), userID, badge)
	if err != nil {
		slog.Error(s.name+" AwardBadge failed", "error", err, "userID", userID, "badge", badge)
		return false, fmt.Errorf("failed to award badge %q to %s: %w", badge, userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		slog.Info(s.name+" AwardBadge recorded", "userID", userID, "badge", badge)
	}
	return n > 0, nil
}

func (s *profileSQL) ListBadges(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT badge FROM rewards WHERE user_id = ? ORDER BY id`), userID)
	if err != nil {
		slog.Error(s.name+" ListBadges query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query badges: %w", err)
	}
	defer rows.Close()

	badges := []string{}
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("failed to scan badge row: %w", err)
		}
		badges = append(badges, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate badge rows: %w", err)
	}
	return badges, nil
}

func (s *profileSQL) MarkLessonCompleted(ctx context.Context, userID, moduleID, lessonID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO progress (user_id, module_id, lesson_id) VALUES (?, ?, ?)
		ON CONFLICT (user_id, module_id, lesson_id) DO NOTHING`), userID, moduleID, lessonID)
	if err != nil {
		slog.Error(s.name+" MarkLessonCompleted failed", "error", err, "userID", userID, "moduleID", moduleID, "lessonID", lessonID)
		return fmt.Errorf("failed to mark lesson %s/%s completed: %w", moduleID, lessonID, err)
	}
	slog.Debug(s.name+" MarkLessonCompleted succeeded", "userID", userID, "moduleID", moduleID, "lessonID", lessonID)
	return nil
}

func (s *profileSQL) ListCompletedLessons(ctx context.Context, userID string) ([]models.LessonProgress, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT module_id, lesson_id FROM progress WHERE user_id = ? ORDER BY id`), userID)
	if err != nil {
		slog.Error(s.name+" ListCompletedLessons query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query progress: %w", err)
	}
	defer rows.Close()

	out := []models.LessonProgress{}
	for rows.Next() {
		lp := models.LessonProgress{UserID: userID, Completed: true}
		if err := rows.Scan(&lp.ModuleID, &lp.LessonID); err != nil {
			return nil, fmt.Errorf("failed to scan progress row: %w", err)
		}
		out = append(out, lp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate progress rows: %w", err)
	}
	return out, nil
}

func (s *profileSQL) Close() error {
	return closeDB(s.db, s.name)
}
