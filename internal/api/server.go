// Package api serves usage reports, stored history and blocking decisions
// over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/goodtune/screentime/internal/policy"
	"github.com/goodtune/screentime/internal/report"
	"github.com/goodtune/screentime/internal/storage"
)

// ReportBuilder produces live reports.
type ReportBuilder interface {
	Build(ctx context.Context, day time.Time) (*report.Report, error)
	BuildRange(ctx context.Context, from time.Time, days int) ([]*report.Report, error)
	Now() time.Time
	Location() *time.Location
}

// PolicyEvaluator decides whether an app is blocked.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, rep *report.Report, appID string) (policy.Decision, error)
}

// Config holds the API server configuration.
type Config struct {
	ListenAddr string
}

// Server represents the API HTTP server.
type Server struct {
	config   Config
	builder  ReportBuilder
	store    storage.UsageStore
	policy   PolicyEvaluator
	server   *http.Server
	router   *mux.Router
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// NewServer creates a new API server. evaluator may be nil, in which case
// the check endpoint is not served.
func NewServer(cfg Config, builder ReportBuilder, store storage.UsageStore, evaluator PolicyEvaluator, logger zerolog.Logger) *Server {
	s := &Server{
		config:  cfg,
		builder: builder,
		store:   store,
		policy:  evaluator,
		router:  mux.NewRouter(),
		logger:  logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/days", s.handleDays).Methods("GET")
	s.router.HandleFunc("/api/usage/{date}", s.handleUsage).Methods("GET")
	s.router.HandleFunc("/api/usage/{date}/stored", s.handleStoredUsage).Methods("GET")
	s.router.HandleFunc("/api/usage/{date}/sessions", s.handleSessions).Methods("GET")
	s.router.HandleFunc("/api/week/{date}", s.handleWeek).Methods("GET")

	if s.policy != nil {
		s.router.HandleFunc("/api/check/{app}", s.handleCheck).Methods("GET")
	}
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
