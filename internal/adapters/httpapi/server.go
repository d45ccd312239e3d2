// Package httpapi exposes partition snapshots, the force-reset command,
// current top signals and a websocket snapshot stream.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alejandrodnm/polysignal/internal/domain"
)

const (
	defaultStreamInterval = 5 * time.Second
	defaultSignalLimit    = 10
	maxSignalLimit        = 100
	resetTimeout          = 30 * time.Second
)

// Partition is the engine surface the API needs.
type Partition interface {
	Name() string
	Snapshot() domain.Snapshot
	Reset(ctx context.Context) error
}

// SignalFunc returns the current best-scored markets, best first.
type SignalFunc func(ctx context.Context, limit int) ([]domain.Market, error)

// AlertSource publishes the discovery detectors' bounded alert lists.
type AlertSource interface {
	Alerts() (whales, arbitrage []domain.Alert)
}

// WarningSource publishes the resolver's bounded spread-warning list.
type WarningSource interface {
	Warnings() []domain.SpreadWarning
}

// Instrumentation is optional request/metrics wiring.
type Instrumentation interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

// Config controla el servidor HTTP.
type Config struct {
	Addr           string
	AllowedOrigins []string // websocket origins; empty = same host or localhost
	StreamInterval time.Duration
}

// Server serves the read-only views and the reset command.
type Server struct {
	cfg        Config
	partitions map[string]Partition
	order      []string
	signals    SignalFunc
	alerts     AlertSource
	warnings   WarningSource
	metrics    Instrumentation
	hub        *Hub
	logger     *slog.Logger
}

// NewServer creates a Server. signals, alerts and metrics may be nil.
func NewServer(cfg Config, partitions []Partition, signals SignalFunc, alerts AlertSource, metrics Instrumentation) *Server {
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = defaultStreamInterval
	}
	s := &Server{
		cfg:        cfg,
		partitions: make(map[string]Partition, len(partitions)),
		signals:    signals,
		alerts:     alerts,
		metrics:    metrics,
		logger:     slog.Default().With("component", "httpapi"),
	}
	for _, p := range partitions {
		s.partitions[p.Name()] = p
		s.order = append(s.order, p.Name())
	}
	s.hub = NewHub(s.logger)
	return s
}

// WithWarnings exposes src on GET /warnings.
func (s *Server) WithWarnings(src WarningSource) *Server {
	s.warnings = src
	return s
}

// Hub returns the websocket hub, e.g. to observe the client count.
func (s *Server) Hub() *Hub { return s.hub }

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Group(func(r chi.Router) {
		if s.metrics != nil {
			r.Use(s.metrics.Middleware)
			r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
		}
		r.Get("/portfolio", s.handleListPortfolios)
		r.Get("/portfolio/{name}", s.handleGetPortfolio)
		r.Post("/portfolio/{name}/reset", s.handleReset)
		r.Get("/signals/top", s.handleTopSignals)
		r.Get("/alerts", s.handleAlerts)
		r.Get("/warnings", s.handleWarnings)
	})
	return r
}

// ListenAndServe runs the server and the snapshot stream until ctx is done,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go s.hub.Run(ctx)
	go s.streamSnapshots(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("httpapi.ListenAndServe: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpapi.Shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// streamSnapshots broadcasts every partition whose snapshot changed since the
// last tick.
func (s *Server) streamSnapshots(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StreamInterval)
	defer ticker.Stop()

	last := make(map[string]time.Time, len(s.order))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcastChanged(last)
		}
	}
}

func (s *Server) broadcastChanged(last map[string]time.Time) {
	if s.hub.Clients() == 0 {
		return
	}
	for _, name := range s.order {
		snap := s.partitions[name].Snapshot()
		if snap.TakenAt.Equal(last[name]) {
			continue
		}
		last[name] = snap.TakenAt
		s.hub.Broadcast(Event{Type: "snapshot", Partition: name, Timestamp: time.Now().UTC(), Data: snap})
	}
}
