package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/AltTutor/internal/models"
)

// ReplyWithNumberHint closes every numbered option list on text-only transports.
const ReplyWithNumberHint = "Reply with a number."

// OptionMemory remembers the options last offered to each user on transports without buttons,
// so that a numeric reply can be turned back into a selection token.
type OptionMemory struct {
	mu      sync.Mutex
	options map[string][]models.Option
}

// NewOptionMemory creates an empty OptionMemory.
func NewOptionMemory() *OptionMemory {
	return &OptionMemory{options: make(map[string][]models.Option)}
}

// Remember replaces the options offered to userID. An empty list forgets them.
func (m *OptionMemory) Remember(userID string, options []models.Option) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(options) == 0 {
		delete(m.options, userID)
		return
	}
	m.options[userID] = append([]models.Option(nil), options...)
}

// Forget drops the options offered to userID.
func (m *OptionMemory) Forget(userID string) {
	m.Remember(userID, nil)
}

// Resolve returns the token of the option numbered by reply (1-based), if any.
func (m *OptionMemory) Resolve(userID, reply string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(reply))
	if err != nil {
		return "", false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	options := m.options[userID]
	if n < 1 || n > len(options) {
		return "", false
	}
	return options[n-1].Token, true
}

// RenderNumbered appends options to text as a numbered list. Options whose label already is
// their number (quiz answers listed in the question) are not repeated.
func RenderNumbered(text string, options []models.Option) string {
	if len(options) == 0 {
		return text
	}
	var list strings.Builder
	for i, opt := range options {
		num := strconv.Itoa(i + 1)
		if opt.Label == num {
			continue
		}
		fmt.Fprintf(&list, "\n%s. %s", num, opt.Label)
	}
	var b strings.Builder
	b.WriteString(text)
	if list.Len() > 0 {
		b.WriteString("\n")
		b.WriteString(list.String())
	}
	b.WriteString("\n\n")
	b.WriteString(ReplyWithNumberHint)
	return b.String()
}

// numberedReplier implements the send half of Service for transports that only carry text.
type numberedReplier struct {
	name   string
	send   func(ctx context.Context, to, body string) error
	memory *OptionMemory
	sink   *eventSink
}

func (r *numberedReplier) SendText(ctx context.Context, userID, text string) error {
	if r.sink.isStopped() {
		return ErrServiceStopped
	}
	r.memory.Forget(userID)
	if err := r.send(ctx, userID, text); err != nil {
		slog.Error(r.name+" SendText error", "error", err, "userID", userID)
		return err
	}
	return nil
}

func (r *numberedReplier) SendTextWithOptions(ctx context.Context, userID, text string, options []models.Option) error {
	if r.sink.isStopped() {
		return ErrServiceStopped
	}
	r.memory.Remember(userID, options)
	if err := r.send(ctx, userID, RenderNumbered(text, options)); err != nil {
		slog.Error(r.name+" SendTextWithOptions error", "error", err, "userID", userID)
		return err
	}
	return nil
}

// EditLastMessage sends a new message; these transports cannot edit.
func (r *numberedReplier) EditLastMessage(ctx context.Context, userID, text string, options []models.Option) error {
	if len(options) == 0 {
		return r.SendText(ctx, userID, text)
	}
	return r.SendTextWithOptions(ctx, userID, text, options)
}

// inbound turns a text message into an event. Numeric replies matching a remembered option
// become selections.
func (r *numberedReplier) inbound(userID, text string, at time.Time) {
	if token, ok := r.memory.Resolve(userID, text); ok {
		r.sink.emit(models.Event{Kind: models.EventSelection, UserID: userID, Token: token, Time: at.Unix()})
		return
	}
	r.sink.emit(textEvent(userID, text, at))
}
