package messaging

import (
	"testing"
	"time"

	"github.com/BTreeMap/AltTutor/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestTextEvent(t *testing.T) {
	at := time.Unix(1700000000, 0)
	cases := []struct {
		text string
		kind models.EventKind
	}{
		{"/start", models.EventStart},
		{"/START", models.EventStart},
		{"/stop", models.EventStop},
		{"/help@AltTutorBot", models.EventHelp},
		{"/reset now", models.EventUnknownCommand},
		{"what is insulin?", models.EventText},
		{"  /start", models.EventStart},
	}
	for _, tc := range cases {
		ev := textEvent("u1", tc.text, at)
		assert.Equal(t, tc.kind, ev.Kind, tc.text)
		assert.Equal(t, "u1", ev.UserID)
		assert.Equal(t, at.Unix(), ev.Time)
	}
	assert.Equal(t, "what is insulin?", textEvent("u1", "what is insulin?", at).Text)
	assert.Equal(t, "reset", textEvent("u1", "/reset now", at).Text)
}

func TestEventSinkAfterClose(t *testing.T) {
	s := newEventSink("test")
	assert.True(t, s.emit(models.Event{Kind: models.EventText, UserID: "u1"}))
	assert.True(t, s.close())
	assert.False(t, s.close(), "second close is a no-op")
	assert.False(t, s.emit(models.Event{Kind: models.EventText, UserID: "u1"}))

	ev, ok := <-s.events
	assert.True(t, ok, "buffered event survives close")
	assert.Equal(t, "u1", ev.UserID)
	_, ok = <-s.events
	assert.False(t, ok)
}
