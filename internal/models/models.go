// Package models defines the core data structures for AltTutor.
//
// It includes the learner profile, badges, dialogue log entries, transport events and the
// JSON envelope used by the admin API. Types here are shared across modules.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Knowledge level bounds for the self-reported knowledge score.
const (
	MinKnowledgeLevel = 1
	MaxKnowledgeLevel = 5
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID           = errors.New("user id cannot be empty")
	ErrEmptyName             = errors.New("name cannot be empty")
	ErrInvalidDiabetesType   = errors.New("invalid diabetes type")
	ErrInvalidKnowledgeLevel = errors.New("knowledge level must be between 1 and 5")
	ErrNegativePoints        = errors.New("points cannot be negative")
	ErrInvalidRole           = errors.New("invalid dialogue role")
)

// DiabetesType is the diabetes type reported during onboarding.
type DiabetesType string

const (
	// DiabetesType1 is type 1 diabetes.
	DiabetesType1 DiabetesType = "TYPE_1"
	// DiabetesType2 is type 2 diabetes.
	DiabetesType2 DiabetesType = "TYPE_2"
)

// ParseDiabetesType maps the onboarding answer ("1" or "2") to a DiabetesType.
func ParseDiabetesType(input string) (DiabetesType, error) {
	switch strings.TrimSpace(input) {
	case "1":
		return DiabetesType1, nil
	case "2":
		return DiabetesType2, nil
	default:
		return "", ErrInvalidDiabetesType
	}
}

// IsValid reports whether t is one of the known diabetes types.
func (t DiabetesType) IsValid() bool {
	switch t {
	case DiabetesType1, DiabetesType2:
		return true
	default:
		return false
	}
}

// ParseKnowledgeLevel parses a single digit between MinKnowledgeLevel and MaxKnowledgeLevel.
func ParseKnowledgeLevel(input string) (int, error) {
	s := strings.TrimSpace(input)
	if len(s) != 1 {
		return 0, ErrInvalidKnowledgeLevel
	}
	level, err := strconv.Atoi(s)
	if err != nil || level < MinKnowledgeLevel || level > MaxKnowledgeLevel {
		return 0, ErrInvalidKnowledgeLevel
	}
	return level, nil
}

// UserProfile is the durable learner record created at the end of onboarding.
type UserProfile struct {
	UserID         string       `json:"user_id"`
	Name           string       `json:"name"`
	DiabetesType   DiabetesType `json:"diabetes_type"`
	KnowledgeLevel int          `json:"knowledge_level"`
	Points         int          `json:"points"`
}

// Validate checks the identity and onboarding fields of a profile.
func (p *UserProfile) Validate() error {
	if p.UserID == "" {
		return ErrEmptyUserID
	}
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyName
	}
	if !p.DiabetesType.IsValid() {
		return ErrInvalidDiabetesType
	}
	if p.KnowledgeLevel < MinKnowledgeLevel || p.KnowledgeLevel > MaxKnowledgeLevel {
		return ErrInvalidKnowledgeLevel
	}
	if p.Points < 0 {
		return ErrNegativePoints
	}
	return nil
}

// Badge names.
const (
	// BadgeTopLearner is awarded once a learner reaches TopLearnerThreshold points.
	BadgeTopLearner = "top learner"
	// TopLearnerThreshold is the points total that unlocks BadgeTopLearner.
	TopLearnerThreshold = 50
)

// LessonProgress records that a user finished the quiz of a lesson.
type LessonProgress struct {
	UserID    string `json:"user_id"`
	ModuleID  string `json:"module_id"`
	LessonID  string `json:"lesson_id"`
	Completed bool   `json:"completed"`
}

// Role identifies the author of a dialogue entry.
type Role string

const (
	// RoleUser marks a message written by the learner.
	RoleUser Role = "user"
	// RoleAssistant marks a reply produced by the answering service.
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// DialogueEntry is one free-text turn outside the lesson/quiz flow.
type DialogueEntry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// UserSummary aggregates everything the admin API exposes about a learner.
type UserSummary struct {
	Profile          UserProfile      `json:"profile"`
	Badges           []string         `json:"badges"`
	CompletedLessons []LessonProgress `json:"completed_lessons"`
}

// String renders a short human readable description used in logs.
func (p UserProfile) String() string {
	return fmt.Sprintf("%s(%s, %s, level=%d, points=%d)", p.UserID, p.Name, p.DiabetesType, p.KnowledgeLevel, p.Points)
}
