package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/AltTutor/internal/models"
	"github.com/BTreeMap/AltTutor/internal/whatsapp"
)

// WhatsAppClient is the whatsmeow client surface the service needs.
type WhatsAppClient interface {
	whatsapp.Sender
	whatsapp.Receiver
}

// WhatsAppService implements Service on top of the whatsmeow-based whatsapp client. Users are
// identified by their phone number.
type WhatsAppService struct {
	*numberedReplier
	client WhatsAppClient
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService wrapping client.
func NewWhatsAppService(client WhatsAppClient) *WhatsAppService {
	return &WhatsAppService{
		numberedReplier: &numberedReplier{
			name:   "WhatsAppService",
			send:   client.SendMessage,
			memory: NewOptionMemory(),
			sink:   newEventSink("WhatsAppService"),
		},
		client: client,
	}
}

// Start registers the inbound text handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	s.client.OnText(func(from, text string, at time.Time) {
		s.inbound(from, text, at)
	})
	slog.Info("WhatsAppService started")
	return nil
}

// Stop closes the events channel. Later inbound messages are dropped.
func (s *WhatsAppService) Stop() error {
	if s.sink.close() {
		slog.Info("WhatsAppService stopped and channels closed")
	}
	return nil
}

// Events returns the channel of inbound events.
func (s *WhatsAppService) Events() <-chan models.Event {
	return s.sink.events
}
