package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/AltTutor/internal/models"
	"github.com/BTreeMap/AltTutor/internal/twiliowhatsapp"
)

// TwilioService implements Service using the Twilio API. Inbound messages arrive through
// WebhookHandler; users are identified by their phone number without the "whatsapp:" prefix.
type TwilioService struct {
	*numberedReplier
}

var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a new TwilioService around a real or mock Twilio client.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		numberedReplier: &numberedReplier{
			name:   "TwilioService",
			send:   client.SendMessage,
			memory: NewOptionMemory(),
			sink:   newEventSink("TwilioService"),
		},
	}
}

// Start is a no-op; Twilio pushes inbound messages to the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the events channel.
func (s *TwilioService) Stop() error {
	if s.sink.close() {
		slog.Info("TwilioService stopped and channels closed")
	}
	return nil
}

// Events returns the channel of inbound events.
func (s *TwilioService) Events() <-chan models.Event {
	return s.sink.events
}

// WebhookHandler handles inbound Twilio webhook requests and emits them as events.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("TwilioService webhook received")

	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService failed to parse webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := twiliowhatsapp.UserID(r.FormValue("From"))
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("TwilioService webhook missing fields", "from", from, "body_length", len(body))
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	if s.sink.isStopped() {
		http.Error(w, ErrServiceStopped.Error(), http.StatusServiceUnavailable)
		return
	}

	s.inbound(from, body, time.Now())

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
