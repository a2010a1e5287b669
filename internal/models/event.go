package models

import (
	"fmt"
	"strconv"
	"strings"
)

// EventKind classifies an inbound transport event.
type EventKind string

const (
	// EventStart is the /start command.
	EventStart EventKind = "start"
	// EventText is free text that is not a command.
	EventText EventKind = "text"
	// EventSelection is a tapped option carrying a selection token.
	EventSelection EventKind = "selection"
	// EventStop is the /stop command.
	EventStop EventKind = "stop"
	// EventHelp is the /help command.
	EventHelp EventKind = "help"
	// EventUnknownCommand is any other slash command.
	EventUnknownCommand EventKind = "unknown_command"
)

// Event is a transport-neutral inbound message from a user.
type Event struct {
	Kind   EventKind `json:"kind"`
	UserID string    `json:"user_id"`
	Text   string    `json:"text,omitempty"`  // message text or command
	Token  string    `json:"token,omitempty"` // selection token for EventSelection
	Time   int64     `json:"time"`
}

// Option is one selectable action attached to an outbound message.
type Option struct {
	Label string `json:"label"`
	Token string `json:"token"`
}

// Selection token prefixes and fixed tokens.
const (
	TokenModulePrefix = "module:"
	TokenLessonPrefix = "lesson:"
	TokenAnswerPrefix = "answer:"
	TokenQuizStart    = "quiz:start"
)

// ModuleToken builds the selection token for a module.
func ModuleToken(id string) string { return TokenModulePrefix + id }

// LessonToken builds the selection token for a lesson.
func LessonToken(id string) string { return TokenLessonPrefix + id }

// AnswerToken builds the selection token for a 0-based answer index.
func AnswerToken(index int) string { return TokenAnswerPrefix + strconv.Itoa(index) }

// SelectionKind classifies a parsed selection token.
type SelectionKind int

const (
	SelectionInvalid SelectionKind = iota
	SelectionModule
	SelectionLesson
	SelectionQuizStart
	SelectionAnswer
)

// Selection is a parsed selection token.
type Selection struct {
	Kind   SelectionKind
	ID     string // module or lesson id
	Answer int    // 0-based answer index
}

// ParseSelection parses a selection token. Ids keep everything after the first colon so
// that ids containing separators survive the round trip.
func ParseSelection(token string) (Selection, error) {
	switch {
	case token == TokenQuizStart:
		return Selection{Kind: SelectionQuizStart}, nil
	case strings.HasPrefix(token, TokenModulePrefix):
		id := strings.TrimPrefix(token, TokenModulePrefix)
		if id == "" {
			return Selection{}, fmt.Errorf("empty module id in token %q", token)
		}
		return Selection{Kind: SelectionModule, ID: id}, nil
	case strings.HasPrefix(token, TokenLessonPrefix):
		id := strings.TrimPrefix(token, TokenLessonPrefix)
		if id == "" {
			return Selection{}, fmt.Errorf("empty lesson id in token %q", token)
		}
		return Selection{Kind: SelectionLesson, ID: id}, nil
	case strings.HasPrefix(token, TokenAnswerPrefix):
		idx, err := strconv.Atoi(strings.TrimPrefix(token, TokenAnswerPrefix))
		if err != nil || idx < 0 {
			return Selection{}, fmt.Errorf("invalid answer index in token %q", token)
		}
		return Selection{Kind: SelectionAnswer, Answer: idx}, nil
	default:
		return Selection{}, fmt.Errorf("unrecognized selection token %q", token)
	}
}
