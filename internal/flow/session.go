package flow

import (
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/AltTutor/internal/models"
)

// Session is the ephemeral conversation record of one user.
type Session struct {
	ID           string              `json:"id"`
	UserID       string              `json:"user_id"`
	State        State               `json:"state"`
	Name         string              `json:"name,omitempty"`
	DiabetesType models.DiabetesType `json:"diabetes_type,omitempty"`
	ModuleID     string              `json:"module_id,omitempty"`
	LessonID     string              `json:"lesson_id,omitempty"`
	Quiz         *Quiz               `json:"quiz,omitempty"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// NewSession creates a session with a fresh correlation id.
func NewSession(userID string, state State) *Session {
	return &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		State:     state,
		UpdatedAt: time.Now(),
	}
}

// ClearQuiz drops quiz fields on return to the menu.
func (s *Session) ClearQuiz() {
	s.Quiz = nil
}

// QuizActive reports whether the user is answering quiz questions.
func (s *Session) QuizActive() bool {
	return s != nil && s.State == StateAskQuiz && s.Quiz != nil
}
