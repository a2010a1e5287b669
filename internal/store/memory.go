package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/AltTutor/internal/models"
)

// InMemoryStore implements ProfileStore and DialogueStore in memory. It is used by tests and
// never persists anything.
type InMemoryStore struct {
	mu        sync.Mutex
	profiles  map[string]models.UserProfile
	badges    map[string][]string
	progress  map[string][]models.LessonProgress
	dialogues []models.DialogueEntry
	nextID    int64
}

var (
	_ ProfileStore  = (*InMemoryStore)(nil)
	_ DialogueStore = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles: make(map[string]models.UserProfile),
		badges:   make(map[string][]string),
		progress: make(map[string][]models.LessonProgress),
	}
}

func (s *InMemoryStore) UpsertProfile(ctx context.Context, p models.UserProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.profiles[p.UserID]; ok {
		p.Points = existing.Points
	} else {
		p.Points = 0
	}
	s.profiles[p.UserID] = p
	slog.Debug("InMemoryStore UpsertProfile succeeded", "userID", p.UserID)
	return nil
}

func (s *InMemoryStore) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &p, nil
}

func (s *InMemoryStore) AddPoints(ctx context.Context, userID string, delta int) (int, error) {
	if delta < 0 {
		return 0, models.ErrNegativePoints
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return 0, ErrProfileNotFound
	}
	p.Points += delta
	s.profiles[userID] = p
	return p.Points, nil
}

func (s *InMemoryStore) ResetPoints(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return ErrProfileNotFound
	}
	p.Points = 0
	s.profiles[userID] = p
	return nil
}

func (s *InMemoryStore) AwardBadge(ctx context.Context, userID, badge string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.badges[userID] {
		if b == badge {
			return false, nil
		}
	}
	s.badges[userID] = append(s.badges[userID], badge)
	return true, nil
}

func (s *InMemoryStore) ListBadges(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.badges[userID]))
	copy(out, s.badges[userID])
	return out, nil
}

func (s *InMemoryStore) MarkLessonCompleted(ctx context.Context, userID, moduleID, lessonID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lp := range s.progress[userID] {
		if lp.ModuleID == moduleID && lp.LessonID == lessonID {
			return nil
		}
	}
	s.progress[userID] = append(s.progress[userID], models.LessonProgress{
		UserID: userID, ModuleID: moduleID, LessonID: lessonID, Completed: true,
	})
	return nil
}

func (s *InMemoryStore) ListCompletedLessons(ctx context.Context, userID string) ([]models.LessonProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.LessonProgress, len(s.progress[userID]))
	copy(out, s.progress[userID])
	return out, nil
}

func (s *InMemoryStore) AppendDialogue(ctx context.Context, entry models.DialogueEntry) error {
	if !entry.Role.IsValid() {
		return models.ErrInvalidRole
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	s.dialogues = append(s.dialogues, entry)
	return nil
}

func (s *InMemoryStore) ListDialogues(ctx context.Context, userID string, limit int) ([]models.DialogueEntry, error) {
	limit = normalizeLimit(limit)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DialogueEntry
	for _, e := range s.dialogues {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
