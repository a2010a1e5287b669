// Package messaging adapts chat transports (Telegram, WhatsApp, Twilio) to the conversation
// controller and feeds their inbound traffic through a per-user Dispatcher.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/AltTutor/internal/models"
)

// Channel tuning shared by all services.
const (
	// DefaultChannelBufferSize defines the buffer size of the events channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an inbound event waits for room in the channel
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service is a pluggable chat transport. The send methods match flow.Replier.
type Service interface {
	SendText(ctx context.Context, userID, text string) error
	SendTextWithOptions(ctx context.Context, userID, text string, options []models.Option) error
	EditLastMessage(ctx context.Context, userID, text string, options []models.Option) error

	// Start begins background processing (polling, event handlers).
	Start(ctx context.Context) error
	// Stop ends background processing and closes Events.
	Stop() error
	// Events returns the channel of inbound user events.
	Events() <-chan models.Event
}

// eventSink owns the events channel of a service and guards it against sends after close.
type eventSink struct {
	name    string
	mu      sync.RWMutex
	stopped bool
	events  chan models.Event
}

func newEventSink(name string) *eventSink {
	return &eventSink{
		name:   name,
		events: make(chan models.Event, DefaultChannelBufferSize),
	}
}

// emit forwards ev unless the sink is closed or the channel stays full past DefaultChannelTimeout.
func (s *eventSink) emit(ev models.Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn(s.name+" dropping inbound event (service stopped)", "userID", ev.UserID, "kind", ev.Kind)
		return false
	}
	select {
	case s.events <- ev:
		slog.Debug(s.name+" inbound event forwarded", "userID", ev.UserID, "kind", ev.Kind)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(s.name+" events channel blocked, dropping event", "userID", ev.UserID, "timeout", DefaultChannelTimeout)
		return false
	}
}

func (s *eventSink) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// close marks the sink stopped and closes the channel. It reports false when already closed.
func (s *eventSink) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.stopped = true
	close(s.events)
	return true
}

// textEvent classifies inbound text as a command or free text.
func textEvent(userID, text string, at time.Time) models.Event {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "/") {
		cmd := strings.TrimPrefix(strings.Fields(trimmed)[0], "/")
		if i := strings.IndexByte(cmd, '@'); i >= 0 {
			cmd = cmd[:i]
		}
		return commandEvent(userID, cmd, at)
	}
	return models.Event{Kind: models.EventText, UserID: userID, Text: text, Time: at.Unix()}
}

// commandEvent maps a command name without the slash to an event.
func commandEvent(userID, cmd string, at time.Time) models.Event {
	ev := models.Event{UserID: userID, Text: cmd, Time: at.Unix()}
	switch strings.ToLower(cmd) {
	case "start":
		ev.Kind = models.EventStart
	case "stop":
		ev.Kind = models.EventStop
	case "help":
		ev.Kind = models.EventHelp
	default:
		ev.Kind = models.EventUnknownCommand
	}
	return ev
}
