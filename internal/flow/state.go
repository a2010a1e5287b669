// Package flow implements the per-user conversation state machine: onboarding, module and lesson
// navigation, quizzes and scoring, plus hand-off of free text to the answering service.
package flow

import "fmt"

// State is a conversation state of one user.
type State int

const (
	// StateNone means no conversation is in progress.
	StateNone State = iota
	StateAskName
	StateAskDiabetesType
	StateAskKnowledgeLevel
	StateMainMenu
	StateSelectModule
	StateSelectLesson
	StateShowLesson
	StateAskQuiz
)

var stateNames = [...]string{
	StateNone:              "NONE",
	StateAskName:           "ASK_NAME",
	StateAskDiabetesType:   "ASK_DIABETES_TYPE",
	StateAskKnowledgeLevel: "ASK_KNOWLEDGE_LEVEL",
	StateMainMenu:          "MAIN_MENU",
	StateSelectModule:      "SELECT_MODULE",
	StateSelectLesson:      "SELECT_LESSON",
	StateShowLesson:        "SHOW_LESSON",
	StateAskQuiz:           "ASK_QUIZ",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name so that persisted sessions survive reordering.
func (s State) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stateNames) {
		return nil, fmt.Errorf("invalid state %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", string(b))
}

// Onboarding reports whether s collects profile fields.
func (s State) Onboarding() bool {
	switch s {
	case StateAskName, StateAskDiabetesType, StateAskKnowledgeLevel:
		return true
	case StateNone, StateMainMenu, StateSelectModule, StateSelectLesson, StateShowLesson, StateAskQuiz:
		return false
	default:
		return false
	}
}
