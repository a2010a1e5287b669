package messaging

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/AltTutor/internal/models"
	"github.com/BTreeMap/AltTutor/internal/whatsapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextEvent(t *testing.T, ch <-chan models.Event) models.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("expected event, got none")
		return models.Event{}
	}
}

// Ensure WhatsAppService implements Service interface
func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
}

func TestWhatsAppService_NumberedOptions(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop()

	err := svc.SendTextWithOptions(ctx, "15551234", "Choose a module:", []models.Option{
		{Label: "Basics", Token: "module:m1"},
		{Label: "Food", Token: "module:m2"},
	})
	require.NoError(t, err)

	sent := mock.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "15551234", sent[0].To)
	assert.True(t, strings.Contains(sent[0].Body, "2. Food"))
	assert.True(t, strings.HasSuffix(sent[0].Body, ReplyWithNumberHint))

	mock.Deliver("15551234", "2")
	ev := nextEvent(t, svc.Events())
	assert.Equal(t, models.EventSelection, ev.Kind)
	assert.Equal(t, "module:m2", ev.Token)

	mock.Deliver("15551234", "7")
	ev = nextEvent(t, svc.Events())
	assert.Equal(t, models.EventText, ev.Kind)
	assert.Equal(t, "7", ev.Text)
}

func TestWhatsAppService_PlainSendForgetsOptions(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop()

	require.NoError(t, svc.SendTextWithOptions(ctx, "1", "pick", []models.Option{{Label: "A", Token: "module:a"}}))
	require.NoError(t, svc.SendText(ctx, "1", "What is your name?"))

	mock.Deliver("1", "1")
	ev := nextEvent(t, svc.Events())
	assert.Equal(t, models.EventText, ev.Kind)
}

func TestWhatsAppService_EditFallsBackToSend(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	ctx := context.Background()

	require.NoError(t, svc.EditLastMessage(ctx, "1", "Correct!", nil))
	require.NoError(t, svc.EditLastMessage(ctx, "1", "Lessons:", []models.Option{{Label: "L1", Token: "lesson:l1"}}))
	sent := mock.Messages()
	require.Len(t, sent, 2)
	assert.Equal(t, "Correct!", sent[0].Body)
	assert.Contains(t, sent[1].Body, "1. L1")
}

func TestWhatsAppService_Commands(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	mock.Deliver("1", "/start")
	assert.Equal(t, models.EventStart, nextEvent(t, svc.Events()).Kind)
}

// Test Start and Stop do not error and close channels
func TestWhatsAppService_StartStop(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if _, ok := <-svc.Events(); ok {
		t.Error("expected events channel closed")
	}
	if err := svc.SendText(context.Background(), "1", "hi"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	// Inbound traffic after Stop is dropped without panicking.
	mock.Deliver("1", "hello")
}
