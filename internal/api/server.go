// Package api provides the admin HTTP server for AltTutor.
//
// It exposes read access to the content catalog, learner profiles and dialogue logs, an explicit
// points reset, and optionally mounts the Twilio inbound webhook.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/AltTutor/internal/content"
	"github.com/BTreeMap/AltTutor/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Server timeouts.
const (
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Server serves the admin API.
type Server struct {
	catalog   *content.Catalog
	profiles  store.ProfileStore
	dialogues store.DialogueStore
	webhook   http.HandlerFunc

	router  chi.Router
	httpSrv *http.Server
}

// Opts holds optional Server settings.
type Opts struct {
	TwilioWebhook http.HandlerFunc
}

// Option configures a Server.
type Option func(*Opts)

// WithTwilioWebhook mounts h at POST /twilio/webhook.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.TwilioWebhook = h }
}

// NewServer builds a Server over the given catalog and stores.
func NewServer(catalog *content.Catalog, profiles store.ProfileStore, dialogues store.DialogueStore, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if catalog == nil {
		catalog = content.Empty()
	}
	s := &Server{
		catalog:   catalog,
		profiles:  profiles,
		dialogues: dialogues,
		webhook:   cfg.TwilioWebhook,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", s.healthHandler)
	r.Get("/content/modules", s.modulesHandler)
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/", s.userHandler)
		r.Get("/dialogues", s.dialoguesHandler)
		r.Post("/points/reset", s.resetPointsHandler)
	})
	if s.webhook != nil {
		r.Post("/twilio/webhook", s.webhook)
	}
	return r
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr in the background.
func (s *Server) Start(addr string) error {
	if addr == "" {
		return errors.New("api: address is required")
	}
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		IdleTimeout:  DefaultIdleTimeout,
	}
	go func() {
		slog.Info("Server listening", "addr", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server ListenAndServe failed", "error", err, "addr", addr)
		}
	}()
	return nil
}

// Shutdown stops the server, waiting at most DefaultShutdownTimeout for open requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	slog.Info("Server stopped")
	return nil
}
