// Package rest is the operator control surface of the control loop: rule and
// schedule management, manual cycles, summaries and report export.
package rest

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidleathers/performance-control-loop/internal/domain/alert"
	"github.com/davidleathers/performance-control-loop/internal/domain/optimization"
	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
	"github.com/davidleathers/performance-control-loop/internal/metrics"
	"github.com/davidleathers/performance-control-loop/internal/service/aggregator"
	"github.com/davidleathers/performance-control-loop/internal/service/alerting"
	optsvc "github.com/davidleathers/performance-control-loop/internal/service/optimization"
	"github.com/davidleathers/performance-control-loop/internal/service/scheduler"
)

// AlertService is satisfied by *alerting.Engine.
type AlertService interface {
	Rules() []*alert.Rule
	AddRule(rule *alert.Rule) error
	RemoveRule(ctx context.Context, id string) error
	SetRuleEnabled(id string, enabled bool) error
	Evaluate(ctx context.Context) ([]*alert.Alert, error)
	History(limit int) []*alert.Alert
	Summary() *alerting.Summary
}

// OptimizationService is satisfied by *optimization.Engine.
type OptimizationService interface {
	SetEnabled(enabled bool)
	SetStrategy(s optimization.Strategy)
	Status() *optsvc.Status
	Run(ctx context.Context) (*optsvc.Report, error)
	Actions() []*optimization.Action
	LastReport() *optsvc.Report
	Revert(ctx context.Context, actionID string) (*optimization.Action, error)
}

// ScheduleService is satisfied by *scheduler.Scheduler.
type ScheduleService interface {
	Schedules() []scheduler.Schedule
	Get(name string) (scheduler.Schedule, error)
	Put(name, job string, tier scheduler.Tier, enabled bool) (scheduler.Schedule, error)
	Remove(name string) error
}

// SnapshotService is satisfied by *aggregator.Aggregator.
type SnapshotService interface {
	Collect(ctx context.Context) (*aggregator.Snapshot, error)
	Summarize(ctx context.Context) (*aggregator.Summary, error)
}

// Services are the engines the API drives. Feed is optional; without it the
// ingest route is not mounted.
type Services struct {
	Alerts       AlertService
	Optimization OptimizationService
	Schedules    ScheduleService
	Snapshots    SnapshotService
	Feed         sample.Writer
}

// Config holds API configuration
type Config struct {
	Version         string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimit       float64
	RateBurst       int
	Auth            AuthConfig
	Logger          *slog.Logger
	Collectors      *metrics.Collectors
	Gatherer        prometheus.Gatherer
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Version:         "v1",
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    2 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		RateLimit:       50,
		RateBurst:       100,
		Logger:          slog.Default(),
		Gatherer:        prometheus.DefaultGatherer,
	}
}

// Server represents the API server
type Server struct {
	cfg        Config
	services   Services
	auth       *AuthMiddleware
	validate   *validator.Validate
	tracer     trace.Tracer
	logger     *slog.Logger
	started    time.Time
	handler    http.Handler
	httpServer *http.Server
}

func NewServer(cfg Config, services Services) (*Server, error) {
	switch {
	case services.Alerts == nil:
		return nil, fmt.Errorf("alert service is required")
	case services.Optimization == nil:
		return nil, fmt.Errorf("optimization service is required")
	case services.Schedules == nil:
		return nil, fmt.Errorf("schedule service is required")
	case services.Snapshots == nil:
		return nil, fmt.Errorf("snapshot service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:      cfg,
		services: services,
		auth:     NewAuthMiddleware(cfg.Auth),
		validate: newValidator(),
		tracer:   otel.Tracer("api.rest"),
		logger:   cfg.Logger.With("component", "rest"),
		started:  time.Now(),
	}
	s.handler = s.routes()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
	}
	return s, nil
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.httpServer.Addr, "auth", s.auth.Enabled())
	if err := s.httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	s.logger.Info("shutting down API server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
