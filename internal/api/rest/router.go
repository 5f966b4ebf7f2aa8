package rest

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	read := s.auth.Require(PermissionRead)
	write := s.auth.Require(PermissionWrite)
	handle := func(pattern string, guard Middleware, h http.HandlerFunc) {
		mux.Handle(pattern, guard(h))
	}

	// Rules
	handle("GET /api/v1/rules", read, s.listRules)
	handle("POST /api/v1/rules", write, s.createRule)
	handle("DELETE /api/v1/rules/{id}", write, s.deleteRule)
	handle("PUT /api/v1/rules/{id}/enabled", write, s.setRuleEnabled)

	// Schedules
	handle("GET /api/v1/schedules", read, s.listSchedules)
	handle("GET /api/v1/schedules/{name}", read, s.getSchedule)
	handle("PUT /api/v1/schedules/{name}", write, s.putSchedule)
	handle("DELETE /api/v1/schedules/{name}", write, s.deleteSchedule)

	// Optimization
	handle("GET /api/v1/optimization/status", read, s.optimizationStatus)
	handle("GET /api/v1/optimization/actions", read, s.listActions)
	handle("GET /api/v1/optimization/report", read, s.optimizationReport)
	handle("PUT /api/v1/optimization/enabled", write, s.setOptimizationEnabled)
	handle("PUT /api/v1/optimization/strategy", write, s.setStrategy)
	handle("POST /api/v1/optimization/run", write, s.runOptimization)
	handle("POST /api/v1/optimization/actions/{id}/revert", write, s.revertAction)

	// Alerts
	handle("GET /api/v1/alerts", read, s.listAlerts)
	handle("GET /api/v1/alerts/summary", read, s.alertSummary)
	handle("POST /api/v1/alerts/evaluate", write, s.evaluateAlerts)

	// Reports
	handle("GET /api/v1/summary", read, s.summary)
	handle("GET /api/v1/report", read, s.snapshotReport)

	// Ingest
	if s.services.Feed != nil {
		handle("POST /api/v1/units/{unit}/interactions", write, s.ingest)
	}

	mux.HandleFunc("GET /health", s.health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	return Chain(mux,
		RequestIDMiddleware(),
		RecoveryMiddleware(s.logger),
		TracingMiddleware(s.tracer),
		LoggingMiddleware(s.logger, s.cfg.Collectors),
		RateLimitMiddleware(s.cfg.RateLimit, s.cfg.RateBurst),
	)
}
