// Package telegram wraps the Telegram Bot API library with the calls AltTutor needs: long
// polling, text messages with inline keyboards, message edits and callback acknowledgements.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Client defaults.
const (
	// DefaultPollTimeout is the long polling timeout in seconds.
	DefaultPollTimeout = 30
	// DefaultHTTPTimeout must exceed DefaultPollTimeout plus network latency.
	DefaultHTTPTimeout   = 60 * time.Second
	DefaultRetryAttempts = 2
	DefaultRetryDelay    = 1 * time.Second
	// pollErrorBackoff pauses polling after a failed getUpdates.
	pollErrorBackoff = 5 * time.Second
)

// ErrTokenNotSet is returned by NewClient without a bot token.
var ErrTokenNotSet = errors.New("telegram bot token not set")

// UpdateHandler handles one Telegram update.
type UpdateHandler func(ctx context.Context, update *tgbotapi.Update)

// Opts holds configuration options for the Telegram client.
type Opts struct {
	Token         string
	Endpoint      string // printf format taking the token and the method, see tgbotapi.APIEndpoint
	HTTPClient    tgbotapi.HTTPClient
	PollTimeout   int
	RetryAttempts int
	RetryDelay    time.Duration
}

// Option defines a configuration option for the Telegram client.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithEndpoint overrides tgbotapi.APIEndpoint (used by tests).
func WithEndpoint(endpoint string) Option {
	return func(o *Opts) { o.Endpoint = endpoint }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c tgbotapi.HTTPClient) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithPollTimeout sets the long polling timeout in seconds.
func WithPollTimeout(seconds int) Option {
	return func(o *Opts) { o.PollTimeout = seconds }
}

// WithRetry sets retry attempts and the initial backoff delay.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(o *Opts) {
		o.RetryAttempts = attempts
		o.RetryDelay = delay
	}
}

// Client is a Telegram bot. Construction authenticates the token with getMe.
type Client struct {
	bot           *tgbotapi.BotAPI
	pollTimeout   int
	retryAttempts int
	retryDelay    time.Duration
}

// NewClient builds an authenticated client. A token is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Endpoint:      tgbotapi.APIEndpoint,
		PollTimeout:   DefaultPollTimeout,
		RetryAttempts: DefaultRetryAttempts,
		RetryDelay:    DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, ErrTokenNotSet
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if err := tgbotapi.SetLogger(slogAdapter{}); err != nil {
		slog.Warn("Telegram logger not installed", "error", err)
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.Endpoint, cfg.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("telegram authentication failed: %w", err)
	}
	slog.Debug("Telegram client created", "username", bot.Self.UserName)
	return &Client{
		bot:           bot,
		pollTimeout:   cfg.PollTimeout,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
	}, nil
}

// Username returns the bot's username as reported by getMe.
func (c *Client) Username() string {
	return c.bot.Self.UserName
}

// SendMessage sends text with an optional inline keyboard.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}
	var sent tgbotapi.Message
	err := c.withRetry(ctx, "sendMessage", func() error {
		var err error
		sent, err = c.bot.Send(msg)
		return err
	})
	if err != nil {
		return tgbotapi.Message{}, fmt.Errorf("send message: %w", err)
	}
	return sent, nil
}

// EditMessageText replaces the text and keyboard of a message sent by the bot.
func (c *Client) EditMessageText(ctx context.Context, chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ReplyMarkup = keyboard
	err := c.withRetry(ctx, "editMessageText", func() error {
		_, err := c.bot.Request(edit)
		return err
	})
	if err != nil {
		return fmt.Errorf("edit message text: %w", err)
	}
	return nil
}

// AnswerCallbackQuery acknowledges a button tap.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackQueryID string) error {
	err := c.withRetry(ctx, "answerCallbackQuery", func() error {
		_, err := c.bot.Request(tgbotapi.NewCallback(callbackQueryID, ""))
		return err
	})
	if err != nil {
		return fmt.Errorf("answer callback query: %w", err)
	}
	return nil
}

// Poll runs long polling until ctx is cancelled. Each update is passed to handler in order.
// An in-flight getUpdates is abandoned on cancellation; its updates are not confirmed and
// come back on the next start.
func (c *Client) Poll(ctx context.Context, handler UpdateHandler) {
	slog.Info("Telegram polling started", "username", c.bot.Self.UserName)
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = c.pollTimeout
	cfg.AllowedUpdates = []string{"message", "callback_query"}
	for {
		updates, err := c.fetchUpdates(ctx, cfg)
		if ctx.Err() != nil {
			slog.Info("Telegram polling stopped")
			return
		}
		if err != nil {
			slog.Error("Telegram getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(pollErrorBackoff):
			}
			continue
		}
		for i := range updates {
			if updates[i].UpdateID >= cfg.Offset {
				cfg.Offset = updates[i].UpdateID + 1
			}
			handler(ctx, &updates[i])
		}
	}
}

func (c *Client) fetchUpdates(ctx context.Context, cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	type result struct {
		updates []tgbotapi.Update
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		updates, err := c.bot.GetUpdates(cfg)
		ch <- result{updates: updates, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.updates, r.err
	}
}

// withRetry runs call, retrying rate limits and server errors with backoff. A retry_after
// hint from Telegram overrides the backoff.
func (c *Client) withRetry(ctx context.Context, method string, call func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.retryAttempts; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<uint(attempt-1))
			if apiErr := asAPIError(lastErr); apiErr != nil && apiErr.RetryAfter > 0 {
				delay = time.Duration(apiErr.RetryAfter) * time.Second
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		err := call()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
		slog.Warn("Telegram API call failed, retrying", "method", method, "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("api call failed after %d retries: %w", c.retryAttempts, lastErr)
}

func asAPIError(err error) *tgbotapi.Error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// isRetryable reports whether err is a rate limit or server error.
func isRetryable(err error) bool {
	apiErr := asAPIError(err)
	return apiErr != nil && (apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500)
}

// IsMessageNotModified reports the harmless error returned when an edit changes nothing.
func IsMessageNotModified(err error) bool {
	apiErr := asAPIError(err)
	return apiErr != nil && strings.Contains(apiErr.Message, "message is not modified")
}

// Keyboard renders one button per row. Nil when there are no buttons.
func Keyboard(buttons ...tgbotapi.InlineKeyboardButton) *tgbotapi.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(b))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

// slogAdapter routes the library's logging into slog.
type slogAdapter struct{}

func (slogAdapter) Println(v ...interface{}) {
	slog.Debug("Telegram library", "message", strings.TrimSpace(fmt.Sprintln(v...)))
}

func (slogAdapter) Printf(format string, v ...interface{}) {
	slog.Debug("Telegram library", "message", fmt.Sprintf(format, v...))
}
