// Command AltTutor runs the diabetes micro-learning chat bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/AltTutor/internal/api"
	"github.com/BTreeMap/AltTutor/internal/content"
	"github.com/BTreeMap/AltTutor/internal/flow"
	"github.com/BTreeMap/AltTutor/internal/genai"
	"github.com/BTreeMap/AltTutor/internal/lockfile"
	"github.com/BTreeMap/AltTutor/internal/messaging"
	"github.com/BTreeMap/AltTutor/internal/scheduler"
	"github.com/BTreeMap/AltTutor/internal/store"
	"github.com/BTreeMap/AltTutor/internal/telegram"
	"github.com/BTreeMap/AltTutor/internal/twiliowhatsapp"
	"github.com/BTreeMap/AltTutor/internal/util"
	"github.com/BTreeMap/AltTutor/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for AltTutor state data
	DefaultStateDir = "/var/lib/alttutor"
	// DefaultProgressDBFileName holds profiles, rewards and lesson progress
	DefaultProgressDBFileName = "progress.db"
	// DefaultDialogueDBFileName holds the free-text dialogue log
	DefaultDialogueDBFileName = "users.db"
	// DefaultWhatsAppDBFileName holds the whatsmeow device store
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultContentFile is the content tree read when CONTENT_FILE is unset
	DefaultContentFile = "content.json"

	TransportTelegram = "telegram"
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"

	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

func main() {
	loadDotEnv()
	initializeLogger(os.Getenv("ALTTUTOR_LOG_LEVEL"))

	config := loadEnvironmentConfig()
	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		slog.Error("AltTutor failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("AltTutor exited successfully")
}

// Config holds environment configuration
type Config struct {
	Transport        string
	TelegramToken    string
	OpenAIKey        string
	OpenAIModel      string
	StateDir         string
	ProgressDSN      string
	DialogueDSN      string
	ContentFile      string
	SystemPromptFile string
	SessionBackend   string
	RedisURL         string
	SessionTTL       time.Duration
	APIAddr          string
	WhatsAppDSN      string
	WhatsAppNumeric  bool
	TwilioSID        string
	TwilioToken      string
	TwilioFrom       string
}

// Flags holds the final configuration after command line overrides.
type Flags struct {
	Config
	QROutput string
}

// loadDotEnv loads a .env file from the working directory when present.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
}

// initializeLogger sets up structured logging at the given level (debug when empty)
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: util.ParseLogLevel(level)}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig reads configuration from environment variables. File-based DSNs
// default into the state directory.
func loadEnvironmentConfig() Config {
	config := Config{
		Transport:        strings.ToLower(util.GetenvDefault("ALTTUTOR_TRANSPORT", TransportTelegram)),
		TelegramToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      util.GetenvDefault("OPENAI_MODEL", string(genai.DefaultModel)),
		StateDir:         util.GetenvDefault("ALTTUTOR_STATE_DIR", DefaultStateDir),
		ProgressDSN:      os.Getenv("PROGRESS_DB_DSN"),
		DialogueDSN:      os.Getenv("DIALOGUE_DB_DSN"),
		ContentFile:      util.GetenvDefault("CONTENT_FILE", DefaultContentFile),
		SystemPromptFile: os.Getenv("SYSTEM_PROMPT_FILE"),
		SessionBackend:   strings.ToLower(util.GetenvDefault("SESSION_BACKEND", SessionBackendMemory)),
		RedisURL:         os.Getenv("REDIS_URL"),
		SessionTTL:       util.ParseDurationEnv("SESSION_TTL", flow.DefaultSessionTTL),
		APIAddr:          os.Getenv("API_ADDR"),
		WhatsAppDSN:      os.Getenv("WHATSAPP_DB_DSN"),
		WhatsAppNumeric:  util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false),
		TwilioSID:        os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
	}

	slog.Debug("environment variables loaded",
		"ALTTUTOR_TRANSPORT", config.Transport,
		"TELEGRAM_BOT_TOKEN_SET", config.TelegramToken != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"ALTTUTOR_STATE_DIR", config.StateDir,
		"PROGRESS_DB_DSN_SET", config.ProgressDSN != "",
		"DIALOGUE_DB_DSN_SET", config.DialogueDSN != "",
		"CONTENT_FILE", config.ContentFile,
		"SESSION_BACKEND", config.SessionBackend,
		"API_ADDR", config.APIAddr)
	return config
}

// parseCommandLineFlags applies command line overrides on top of config.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	f := Flags{Config: config}
	fs.StringVar(&f.Transport, "transport", config.Transport, "chat transport: telegram, whatsapp or twilio (overrides $ALTTUTOR_TRANSPORT)")
	fs.StringVar(&f.TelegramToken, "telegram-token", config.TelegramToken, "Telegram bot token (overrides $TELEGRAM_BOT_TOKEN)")
	fs.StringVar(&f.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&f.OpenAIModel, "openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)")
	fs.StringVar(&f.StateDir, "state-dir", config.StateDir, "state directory for AltTutor data (overrides $ALTTUTOR_STATE_DIR)")
	fs.StringVar(&f.ProgressDSN, "progress-db-dsn", config.ProgressDSN, "profile/progress database, sqlite path or postgres DSN (overrides $PROGRESS_DB_DSN)")
	fs.StringVar(&f.DialogueDSN, "dialogue-db-dsn", config.DialogueDSN, "dialogue log database, sqlite path or postgres DSN (overrides $DIALOGUE_DB_DSN)")
	fs.StringVar(&f.ContentFile, "content-file", config.ContentFile, "content JSON file (overrides $CONTENT_FILE)")
	fs.StringVar(&f.SystemPromptFile, "system-prompt-file", config.SystemPromptFile, "file overriding the built-in system prompt (overrides $SYSTEM_PROMPT_FILE)")
	fs.StringVar(&f.SessionBackend, "session-backend", config.SessionBackend, "session store: memory or redis (overrides $SESSION_BACKEND)")
	fs.StringVar(&f.RedisURL, "redis-url", config.RedisURL, "Redis URL for the redis session backend (overrides $REDIS_URL)")
	fs.DurationVar(&f.SessionTTL, "session-ttl", config.SessionTTL, "idle session lifetime (overrides $SESSION_TTL)")
	fs.StringVar(&f.APIAddr, "api-addr", config.APIAddr, "admin API address, empty disables (overrides $API_ADDR)")
	fs.StringVar(&f.WhatsAppDSN, "whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.BoolVar(&f.WhatsAppNumeric, "numeric-code", config.WhatsAppNumeric, "use numeric WhatsApp login code instead of QR code")
	fs.StringVar(&f.QROutput, "qr-output", "", "path to write the WhatsApp login QR code")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	f.Transport = strings.ToLower(f.Transport)
	f.SessionBackend = strings.ToLower(f.SessionBackend)
	if f.ProgressDSN == "" {
		f.ProgressDSN = filepath.Join(f.StateDir, DefaultProgressDBFileName)
	}
	if f.DialogueDSN == "" {
		f.DialogueDSN = filepath.Join(f.StateDir, DefaultDialogueDBFileName)
	}
	if f.WhatsAppDSN == "" {
		f.WhatsAppDSN = "file:" + filepath.Join(f.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}

	slog.Debug("flags parsed",
		"transport", f.Transport,
		"stateDir", f.StateDir,
		"progressDSNType", store.DetectDSNType(f.ProgressDSN),
		"dialogueDSNType", store.DetectDSNType(f.DialogueDSN),
		"sessionBackend", f.SessionBackend,
		"apiAddr", f.APIAddr)
	return f, validateFlags(f)
}

func validateFlags(f Flags) error {
	switch f.Transport {
	case TransportTelegram:
		if f.TelegramToken == "" {
			return errors.New("telegram transport requires TELEGRAM_BOT_TOKEN")
		}
	case TransportWhatsApp:
	case TransportTwilio:
		if f.TwilioSID == "" || f.TwilioToken == "" || f.TwilioFrom == "" {
			return errors.New("twilio transport requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER")
		}
		if f.APIAddr == "" {
			return errors.New("twilio transport requires API_ADDR for the inbound webhook")
		}
	default:
		return fmt.Errorf("unknown transport %q", f.Transport)
	}
	switch f.SessionBackend {
	case SessionBackendMemory:
	case SessionBackendRedis:
		if f.RedisURL == "" {
			return errors.New("redis session backend requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown session backend %q", f.SessionBackend)
	}
	return nil
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(f Flags) ([]genai.Option, error) {
	opts := []genai.Option{genai.WithAPIKey(f.OpenAIKey), genai.WithModel(f.OpenAIModel)}
	if f.SystemPromptFile != "" {
		data, err := os.ReadFile(f.SystemPromptFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read system prompt file: %w", err)
		}
		opts = append(opts, genai.WithSystemPrompt(string(data)))
	}
	return opts, nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(f Flags) []whatsapp.Option {
	opts := []whatsapp.Option{whatsapp.WithDBDSN(f.WhatsAppDSN)}
	if f.QROutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(f.QROutput))
	}
	if f.WhatsAppNumeric {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

// transport bundles the chat service with its shutdown hook and optional webhook.
type transport struct {
	service messaging.Service
	webhook http.HandlerFunc
	close   func()
}

func buildTransport(ctx context.Context, f Flags) (*transport, error) {
	switch f.Transport {
	case TransportTelegram:
		client, err := telegram.NewClient(telegram.WithToken(f.TelegramToken))
		if err != nil {
			return nil, err
		}
		slog.Info("Telegram bot authenticated", "username", client.Username())
		return &transport{service: messaging.NewTelegramService(client), close: func() {}}, nil
	case TransportWhatsApp:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(f)...)
		if err != nil {
			return nil, err
		}
		return &transport{service: messaging.NewWhatsAppService(client), close: client.Disconnect}, nil
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(f.TwilioSID),
			twiliowhatsapp.WithAuthToken(f.TwilioToken),
			twiliowhatsapp.WithFromWhats(f.TwilioFrom),
		)
		if err != nil {
			return nil, err
		}
		svc := messaging.NewTwilioService(client)
		return &transport{service: svc, webhook: svc.WebhookHandler, close: func() {}}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", f.Transport)
	}
}

// DefaultSessionSweepInterval is how often idle in-memory sessions are expired.
const DefaultSessionSweepInterval = 10 * time.Minute

func buildSessionStore(f Flags, sched *scheduler.Scheduler) (flow.SessionStore, func(), error) {
	if f.SessionBackend != SessionBackendRedis {
		ms := flow.NewMemorySessionStore()
		err := sched.Every(DefaultSessionSweepInterval, "session-expiry", func() {
			if n := ms.Expire(f.SessionTTL); n > 0 {
				slog.Info("Expired idle sessions", "count", n, "remaining", ms.Len())
			}
		})
		if err != nil {
			return nil, nil, err
		}
		return ms, func() {}, nil
	}
	rs, err := flow.NewRedisSessionStore(flow.WithRedisURL(f.RedisURL), flow.WithSessionTTL(f.SessionTTL))
	if err != nil {
		return nil, nil, err
	}
	return rs, func() {
		if err := rs.Close(); err != nil {
			slog.Warn("Failed to close redis session store", "error", err)
		}
	}, nil
}

// run wires every component, blocks until ctx is done and shuts down in reverse order.
func run(ctx context.Context, f Flags) error {
	lock, err := lockfile.AcquireLock(f.StateDir, f.Transport)
	if err != nil {
		return err
	}
	defer lock.Release()

	profiles, err := store.OpenProfileStore(f.ProgressDSN)
	if err != nil {
		return fmt.Errorf("failed to open profile store: %w", err)
	}
	defer profiles.Close()

	dialogues, err := store.OpenDialogueStore(f.DialogueDSN)
	if err != nil {
		return fmt.Errorf("failed to open dialogue store: %w", err)
	}
	defer dialogues.Close()

	catalog := content.Load(f.ContentFile)

	var answerer flow.Answerer
	genaiOpts, err := buildGenAIOptions(f)
	if err != nil {
		return err
	}
	if gc, err := genai.NewClient(genaiOpts...); err != nil {
		slog.Warn("GenAI client disabled, free-text questions get an apology", "error", err)
	} else {
		answerer = gc
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()

	sessions, closeSessions, err := buildSessionStore(f, sched)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer closeSessions()

	tr, err := buildTransport(ctx, f)
	if err != nil {
		return fmt.Errorf("failed to initialize %s transport: %w", f.Transport, err)
	}
	defer tr.close()

	controller, err := flow.NewController(flow.Dependencies{
		Catalog:   catalog,
		Profiles:  profiles,
		Dialogues: dialogues,
		Sessions:  sessions,
		Answerer:  answerer,
		Replier:   tr.service,
	})
	if err != nil {
		return err
	}

	if err := tr.service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s transport: %w", f.Transport, err)
	}
	dispatcher := messaging.NewDispatcher(tr.service, controller)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		dispatcher.Run(ctx)
	}()

	var server *api.Server
	if f.APIAddr != "" {
		var apiOpts []api.Option
		if tr.webhook != nil {
			apiOpts = append(apiOpts, api.WithTwilioWebhook(tr.webhook))
		}
		server = api.NewServer(catalog, profiles, dialogues, apiOpts...)
		if err := server.Start(f.APIAddr); err != nil {
			if stopErr := tr.service.Stop(); stopErr != nil {
				slog.Error("Transport stop failed", "error", stopErr)
			}
			<-dispatched
			return err
		}
	}

	slog.Info("AltTutor running", "transport", f.Transport, "modules", catalog.Len(), "llm_enabled", answerer != nil)
	<-ctx.Done()
	slog.Info("AltTutor shutting down")

	if server != nil {
		if err := server.Shutdown(context.Background()); err != nil {
			slog.Error("API server shutdown failed", "error", err)
		}
	}
	if err := tr.service.Stop(); err != nil {
		slog.Error("Transport stop failed", "error", err)
	}
	<-dispatched
	return nil
}
