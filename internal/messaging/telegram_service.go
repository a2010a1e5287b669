package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/BTreeMap/AltTutor/internal/models"
	"github.com/BTreeMap/AltTutor/internal/telegram"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramAPI is the Bot API surface the service needs; *telegram.Client implements it.
type TelegramAPI interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error)
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, callbackQueryID string) error
	Poll(ctx context.Context, handler telegram.UpdateHandler)
}

// TelegramService implements Service with long polling. Users are identified by their chat id.
type TelegramService struct {
	api  TelegramAPI
	sink *eventSink

	mu          sync.Mutex
	lastMessage map[string]int // message that carried the last tapped option, per user

	cancel context.CancelFunc
	done   chan struct{}
}

var _ Service = (*TelegramService)(nil)

// NewTelegramService creates a TelegramService around api.
func NewTelegramService(api TelegramAPI) *TelegramService {
	return &TelegramService{
		api:         api,
		sink:        newEventSink("TelegramService"),
		lastMessage: make(map[string]int),
	}
}

// Start launches long polling in the background.
func (s *TelegramService) Start(ctx context.Context) error {
	slog.Debug("TelegramService Start invoked")
	if s.sink.isStopped() {
		return ErrServiceStopped
	}
	pollCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.api.Poll(pollCtx, s.handleUpdate)
	}()
	slog.Info("TelegramService started")
	return nil
}

// Stop cancels polling, waits for it to end and closes Events.
func (s *TelegramService) Stop() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	if s.sink.close() {
		slog.Info("TelegramService stopped and channels closed")
	}
	return nil
}

// Events returns the channel of inbound events.
func (s *TelegramService) Events() <-chan models.Event {
	return s.sink.events
}

// SendText sends a plain message.
func (s *TelegramService) SendText(ctx context.Context, userID, text string) error {
	return s.send(ctx, userID, text, nil)
}

// SendTextWithOptions sends a message with one inline button per option.
func (s *TelegramService) SendTextWithOptions(ctx context.Context, userID, text string, options []models.Option) error {
	return s.send(ctx, userID, text, keyboard(options))
}

// EditLastMessage edits the message whose button the user tapped last, or sends a new message
// when there is none.
func (s *TelegramService) EditLastMessage(ctx context.Context, userID, text string, options []models.Option) error {
	if s.sink.isStopped() {
		return ErrServiceStopped
	}
	chatID, err := chatID(userID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	messageID, ok := s.lastMessage[userID]
	s.mu.Unlock()
	if !ok {
		return s.send(ctx, userID, text, keyboard(options))
	}
	err = s.api.EditMessageText(ctx, chatID, messageID, text, keyboard(options))
	if err != nil && !telegram.IsMessageNotModified(err) {
		slog.Error("TelegramService EditLastMessage error", "error", err, "userID", userID, "messageID", messageID)
		return err
	}
	return nil
}

func (s *TelegramService) send(ctx context.Context, userID, text string, kb *tgbotapi.InlineKeyboardMarkup) error {
	if s.sink.isStopped() {
		return ErrServiceStopped
	}
	chatID, err := chatID(userID)
	if err != nil {
		return err
	}
	if _, err := s.api.SendMessage(ctx, chatID, text, kb); err != nil {
		slog.Error("TelegramService SendMessage error", "error", err, "userID", userID)
		return err
	}
	slog.Debug("TelegramService message sent", "userID", userID, "body_length", len(text), "buttons", kb != nil)
	return nil
}

// handleUpdate converts one update into an event.
func (s *TelegramService) handleUpdate(ctx context.Context, u *tgbotapi.Update) {
	switch {
	case u.CallbackQuery != nil:
		s.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		s.handleMessage(u.Message)
	default:
		slog.Debug("TelegramService ignoring update", "updateID", u.UpdateID)
	}
}

func (s *TelegramService) handleMessage(msg *tgbotapi.Message) {
	if msg.Chat == nil || msg.Text == "" || (msg.From != nil && msg.From.IsBot) {
		return
	}
	userID := strconv.FormatInt(msg.Chat.ID, 10)
	at := msg.Time()
	if msg.IsCommand() {
		s.sink.emit(commandEvent(userID, msg.Command(), at))
		return
	}
	s.sink.emit(textEvent(userID, msg.Text, at))
}

func (s *TelegramService) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if err := s.api.AnswerCallbackQuery(ctx, cb.ID); err != nil {
		slog.Warn("TelegramService AnswerCallbackQuery failed", "error", err, "callbackID", cb.ID)
	}
	if cb.Message == nil || cb.Message.Chat == nil {
		slog.Debug("TelegramService callback without message", "callbackID", cb.ID)
		return
	}
	userID := strconv.FormatInt(cb.Message.Chat.ID, 10)
	s.mu.Lock()
	s.lastMessage[userID] = cb.Message.MessageID
	s.mu.Unlock()
	s.sink.emit(models.Event{Kind: models.EventSelection, UserID: userID, Token: cb.Data, Time: time.Now().Unix()})
}

// keyboard renders options one button per row; nil when there are none.
func keyboard(options []models.Option) *tgbotapi.InlineKeyboardMarkup {
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(options))
	for _, opt := range options {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(opt.Label, opt.Token))
	}
	return telegram.Keyboard(buttons...)
}

func chatID(userID string) (int64, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", userID, err)
	}
	return id, nil
}
