package messaging

import (
	"context"
	"sync"
	"testing"

	"github.com/BTreeMap/AltTutor/internal/models"
	"github.com/BTreeMap/AltTutor/internal/telegram"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentTelegram struct {
	chatID   int64
	text     string
	keyboard *tgbotapi.InlineKeyboardMarkup
}

type editedTelegram struct {
	chatID    int64
	messageID int
	text      string
}

// fakeTelegramAPI records calls and replays updates pushed into its channel.
type fakeTelegramAPI struct {
	mu       sync.Mutex
	sent     []sentTelegram
	edited   []editedTelegram
	answered []string
	editErr  error
	updates  chan *tgbotapi.Update
}

func newFakeTelegramAPI() *fakeTelegramAPI {
	return &fakeTelegramAPI{updates: make(chan *tgbotapi.Update, 10)}
}

func (f *fakeTelegramAPI) SendMessage(ctx context.Context, chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentTelegram{chatID: chatID, text: text, keyboard: kb})
	return tgbotapi.Message{MessageID: len(f.sent), Chat: &tgbotapi.Chat{ID: chatID}}, nil
}

func (f *fakeTelegramAPI) EditMessageText(ctx context.Context, chatID int64, messageID int, text string, kb *tgbotapi.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, editedTelegram{chatID: chatID, messageID: messageID, text: text})
	return f.editErr
}

func (f *fakeTelegramAPI) AnswerCallbackQuery(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id)
	return nil
}

func (f *fakeTelegramAPI) Poll(ctx context.Context, handler telegram.UpdateHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-f.updates:
			handler(ctx, u)
		}
	}
}

func TestTelegramService_Commands(t *testing.T) {
	api := newFakeTelegramAPI()
	svc := NewTelegramService(api)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	api.updates <- &tgbotapi.Update{UpdateID: 1, Message: &tgbotapi.Message{
		MessageID: 1, Chat: &tgbotapi.Chat{ID: 42}, Text: "/start@AltTutorBot",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 18}},
	}}
	api.updates <- &tgbotapi.Update{UpdateID: 2, Message: &tgbotapi.Message{
		MessageID: 2, Chat: &tgbotapi.Chat{ID: 42}, Text: "/quiz",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}},
	}}
	api.updates <- &tgbotapi.Update{UpdateID: 3, Message: &tgbotapi.Message{
		MessageID: 3, Chat: &tgbotapi.Chat{ID: 42}, Text: "Anna",
	}}

	ev := nextEvent(t, svc.Events())
	assert.Equal(t, models.EventStart, ev.Kind)
	assert.Equal(t, "42", ev.UserID)
	ev = nextEvent(t, svc.Events())
	assert.Equal(t, models.EventUnknownCommand, ev.Kind)
	ev = nextEvent(t, svc.Events())
	assert.Equal(t, models.EventText, ev.Kind)
	assert.Equal(t, "Anna", ev.Text)
}

func TestTelegramService_CallbackSelectionAndEdit(t *testing.T) {
	api := newFakeTelegramAPI()
	svc := NewTelegramService(api)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop()

	// Before any tap an edit degrades to a new message.
	require.NoError(t, svc.EditLastMessage(ctx, "42", "Choose a module:", []models.Option{{Label: "Basics", Token: "module:m1"}}))
	require.Len(t, api.sent, 1)
	require.NotNil(t, api.sent[0].keyboard)
	assert.Equal(t, "module:m1", *api.sent[0].keyboard.InlineKeyboard[0][0].CallbackData)

	api.updates <- &tgbotapi.Update{UpdateID: 5, CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "cb1", Data: "module:m1",
		Message: &tgbotapi.Message{MessageID: 99, Chat: &tgbotapi.Chat{ID: 42}},
	}}
	ev := nextEvent(t, svc.Events())
	assert.Equal(t, models.EventSelection, ev.Kind)
	assert.Equal(t, "module:m1", ev.Token)

	api.mu.Lock()
	assert.Equal(t, []string{"cb1"}, api.answered)
	api.mu.Unlock()

	require.NoError(t, svc.EditLastMessage(ctx, "42", "Lessons:", nil))
	require.Len(t, api.edited, 1)
	assert.Equal(t, 99, api.edited[0].messageID)
	assert.Equal(t, "Lessons:", api.edited[0].text)
}

func TestTelegramService_EditNotModifiedIsIgnored(t *testing.T) {
	api := newFakeTelegramAPI()
	api.editErr = &tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified"}
	svc := NewTelegramService(api)
	svc.lastMessage["42"] = 7
	assert.NoError(t, svc.EditLastMessage(context.Background(), "42", "same", nil))
}

func TestTelegramService_InvalidUserID(t *testing.T) {
	svc := NewTelegramService(newFakeTelegramAPI())
	assert.Error(t, svc.SendText(context.Background(), "not-a-chat", "hi"))
}

func TestTelegramService_Stop(t *testing.T) {
	svc := NewTelegramService(newFakeTelegramAPI())
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop())
	_, ok := <-svc.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, svc.SendText(context.Background(), "42", "hi"), ErrServiceStopped)
}
