// Package console is the HTTP gateway remote consoles use to send commands
// to players and follow their state.
package console

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/llehouerou/jukebox/internal/command"
	"github.com/llehouerou/jukebox/internal/push"
	"github.com/llehouerou/jukebox/internal/sender"
	"github.com/llehouerou/jukebox/internal/store"
)

const (
	DefaultMaxWait  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
	readTimeout     = 10 * time.Second
)

// Config holds the gateway parameters.
type Config struct {
	Listen  string
	MaxWait time.Duration // upper bound for a request's ack wait
}

// Deps are the collaborators of the gateway.
type Deps struct {
	Sender  *sender.Sender
	Store   store.Store
	Channel push.Channel
	Logger  *slog.Logger
}

// Server serves the console API.
type Server struct {
	cfg      Config
	sender   *sender.Sender
	store    store.Store
	channel  push.Channel
	validate *command.Validator
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func New(cfg Config, deps Deps) *Server {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		sender:   deps.Sender,
		store:    deps.Store,
		channel:  deps.Channel,
		validate: command.NewValidator(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		logger: logger.With("component", "console"),
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Route("/players/{player-id}", func(r chi.Router) {
		r.Post("/commands", s.sendCommand)
		r.Get("/state", s.getState)
		r.Get("/events", s.events)
	})
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("console listening", "addr", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, envelope{"status": "ok"})
}
