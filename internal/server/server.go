// Package server provides the HTTP JSON API around the telemetry pipeline
// and the week store.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"klaerwerk.dev/araflow/internal/pipeline"
	"klaerwerk.dev/araflow/internal/store"
	"klaerwerk.dev/araflow/pkg/metrics"
)

// WeekStore is the persistence boundary the server depends on. *store.Store
// implements it; tests substitute a fake.
type WeekStore interface {
	SaveWeek(ctx context.Context, startDate, endDate, dataType string, records []pipeline.Record, corrections []store.ManualCorrection) (string, error)
	GetWeek(ctx context.Context, id string) (*store.WeekData, error)
	ListWeeks(ctx context.Context) ([]store.Week, error)
	DeleteWeek(ctx context.Context, id string) error
	ReplaceRecords(ctx context.Context, id string, records []pipeline.Record) error
	ReplaceCorrections(ctx context.Context, id string, corrections []store.ManualCorrection) error
}

// Server is the araflow HTTP API server.
type Server struct {
	logger          *slog.Logger
	store           WeekStore
	httpServer      *http.Server
	config          *Config
	serverMetrics   *metrics.ServerMetrics
	pipelineMetrics *metrics.PipelineMetrics
}

// Config holds the configuration for the Server.
type Config struct {
	Logger *slog.Logger
	Store  WeekStore

	// HTTPPort is the port the API listens on.
	HTTPPort int

	// Metrics are optional; when nil the server runs without
	// instrumentation (used by tests to avoid double registration).
	ServerMetrics   *metrics.ServerMetrics
	PipelineMetrics *metrics.PipelineMetrics
}

// NewServer creates a new API Server instance.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	return &Server{
		logger:          cfg.Logger,
		store:           cfg.Store,
		config:          cfg,
		serverMetrics:   cfg.ServerMetrics,
		pipelineMetrics: cfg.PipelineMetrics,
	}, nil
}

// Run starts the API server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting API server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           s.instrument(s.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			return err
		}
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down API server")

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown HTTP server", "error", err)
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}

	s.logger.Info("API server shutdown completed")
	return nil
}

// Routes configures the HTTP routes.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/weeks", s.handleUpload)
	mux.HandleFunc("GET /api/weeks", s.handleListWeeks)
	mux.HandleFunc("GET /api/weeks/{id}", s.handleGetWeek)
	mux.HandleFunc("DELETE /api/weeks/{id}", s.handleDeleteWeek)
	mux.HandleFunc("GET /api/weeks/{id}/aggregates", s.handleAggregates)
	mux.HandleFunc("GET /api/weeks/{id}/outliers", s.handleDetectOutliers)
	mux.HandleFunc("POST /api/weeks/{id}/outliers", s.handleCorrectOutliers)
	mux.HandleFunc("PUT /api/weeks/{id}/corrections", s.handleReplaceCorrections)

	return mux
}

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument wraps the router with request counting and timing.
func (s *Server) instrument(next http.Handler) http.Handler {
	if s.serverMetrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.serverMetrics.HTTPRequestsTotal.WithLabelValues(r.Method, fmt.Sprintf("%d", rec.status)).Inc()
		s.serverMetrics.HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
