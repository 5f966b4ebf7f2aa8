package rest

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/davidleathers/performance-control-loop/internal/domain/errors"
	"github.com/davidleathers/performance-control-loop/internal/domain/optimization"
	"github.com/davidleathers/performance-control-loop/internal/service/report"
	"github.com/davidleathers/performance-control-loop/internal/service/scheduler"
)

const defaultListLimit = 50

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 1000 {
		return 0, errors.NewValidationError("INVALID_LIMIT", "limit must be between 1 and 1000").
			WithDetails(map[string]interface{}{"limit": raw})
	}
	return n, nil
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	fields, err := s.decode(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if fields != nil {
		s.writeValidation(w, r, fields)
		return
	}

	unit := r.PathValue("unit")
	if err := s.services.Feed.Append(r.Context(), unit, req.Samples()...); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusAccepted, map[string]interface{}{"unit": unit, "accepted": len(req.Interactions)})
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, r, http.StatusOK, s.services.Alerts.Rules())
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	fields, err := s.decode(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if fields != nil {
		s.writeValidation(w, r, fields)
		return
	}

	rule := req.Rule()
	if err := s.services.Alerts.AddRule(rule); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "alert rule created", "rule_id", rule.ID, "name", rule.Name)
	w.Header().Set("Location", "/api/v1/rules/"+rule.ID)
	s.writeData(w, r, http.StatusCreated, rule)
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.services.Alerts.RemoveRule(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "alert rule removed", "rule_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setRuleEnabled(w http.ResponseWriter, r *http.Request) {
	var req SetEnabledRequest
	fields, err := s.decode(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if fields != nil {
		s.writeValidation(w, r, fields)
		return
	}

	id := r.PathValue("id")
	if err := s.services.Alerts.SetRuleEnabled(id, *req.Enabled); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]interface{}{"id": id, "enabled": *req.Enabled})
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, r, http.StatusOK, s.services.Schedules.Schedules())
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.services.Schedules.Get(r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, sched)
}

func (s *Server) putSchedule(w http.ResponseWriter, r *http.Request) {
	var req PutScheduleRequest
	fields, err := s.decode(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if fields != nil {
		s.writeValidation(w, r, fields)
		return
	}

	tier, _ := scheduler.ParseTier(req.Tier)
	enabled := req.Enabled == nil || *req.Enabled
	sched, err := s.services.Schedules.Put(r.PathValue("name"), req.Job, tier, enabled)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, sched)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Schedules.Remove(r.PathValue("name")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) optimizationStatus(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, r, http.StatusOK, s.services.Optimization.Status())
}

func (s *Server) listActions(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, r, http.StatusOK, s.services.Optimization.Actions())
}

func (s *Server) setOptimizationEnabled(w http.ResponseWriter, r *http.Request) {
	var req SetEnabledRequest
	fields, err := s.decode(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if fields != nil {
		s.writeValidation(w, r, fields)
		return
	}
	s.services.Optimization.SetEnabled(*req.Enabled)
	s.writeData(w, r, http.StatusOK, s.services.Optimization.Status())
}

func (s *Server) setStrategy(w http.ResponseWriter, r *http.Request) {
	var req SetStrategyRequest
	fields, err := s.decode(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if fields != nil {
		s.writeValidation(w, r, fields)
		return
	}
	strategy, _ := optimization.ParseStrategy(req.Strategy)
	s.services.Optimization.SetStrategy(strategy)
	s.writeData(w, r, http.StatusOK, s.services.Optimization.Status())
}

func (s *Server) runOptimization(w http.ResponseWriter, r *http.Request) {
	rep, err := s.services.Optimization.Run(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, rep)
}

func (s *Server) revertAction(w http.ResponseWriter, r *http.Request) {
	action, err := s.services.Optimization.Revert(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, action)
}

// optimizationReport renders the last cycle's report as JSON or prose.
func (s *Server) optimizationReport(w http.ResponseWriter, r *http.Request) {
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rep := s.services.Optimization.LastReport()
	if rep == nil {
		s.writeError(w, r, errors.NewNotFoundError("optimization report"))
		return
	}
	var buf bytes.Buffer
	if err := report.Optimization(&buf, format, rep); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeRaw(w, format, buf.Bytes())
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, s.services.Alerts.History(limit))
}

func (s *Server) alertSummary(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, r, http.StatusOK, s.services.Alerts.Summary())
}

func (s *Server) evaluateAlerts(w http.ResponseWriter, r *http.Request) {
	fired, err := s.services.Alerts.Evaluate(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]interface{}{
		"fired":  len(fired),
		"alerts": fired,
	})
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.services.Snapshots.Summarize(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, sum)
}

// snapshotReport collects a fresh snapshot and renders it unwrapped. A
// partial snapshot is still rendered with its error markers.
func (s *Server) snapshotReport(w http.ResponseWriter, r *http.Request) {
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.services.Snapshots.Collect(r.Context())
	if snap == nil {
		s.writeError(w, r, err)
		return
	}
	if err != nil {
		s.logger.WarnContext(r.Context(), "rendering partial snapshot", "error", err)
	}
	var buf bytes.Buffer
	if err := report.Snapshot(&buf, format, snap); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeRaw(w, format, buf.Bytes())
}

func writeRaw(w http.ResponseWriter, format report.Format, body []byte) {
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status               string    `json:"status"`
	Version              string    `json:"version"`
	Uptime               string    `json:"uptime"`
	Timestamp            time.Time `json:"timestamp"`
	Rules                int       `json:"rules"`
	Schedules            int       `json:"schedules"`
	OptimizationEnabled  bool      `json:"optimization_enabled"`
	OptimizationInFlight int       `json:"optimization_in_flight"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := s.services.Optimization.Status()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:               "healthy",
		Version:              s.cfg.Version,
		Uptime:               time.Since(s.started).Round(time.Second).String(),
		Timestamp:            time.Now().UTC(),
		Rules:                len(s.services.Alerts.Rules()),
		Schedules:            len(s.services.Schedules.Schedules()),
		OptimizationEnabled:  status.Enabled,
		OptimizationInFlight: status.InFlight,
	})
}
