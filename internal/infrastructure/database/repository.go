package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/davidleathers/performance-control-loop/internal/domain/alert"
	"github.com/davidleathers/performance-control-loop/internal/domain/errors"
	"github.com/davidleathers/performance-control-loop/internal/domain/optimization"
)

// DefaultListLimit applies when a caller asks for a non-positive limit.
const DefaultListLimit = 100

// Repository is the durable archive of fired alerts and optimization
// results. It satisfies alerting.Archive and optimization.Archive.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

func (r *Repository) SaveAlert(ctx context.Context, a *alert.Alert) error {
	violations, err := json.Marshal(a.Violations)
	if err != nil {
		return errors.NewInternalError("failed to encode violations").WithCause(err)
	}
	thresholds, err := json.Marshal(a.Thresholds)
	if err != nil {
		return errors.NewInternalError("failed to encode thresholds").WithCause(err)
	}
	recs, err := json.Marshal(a.Recommendations)
	if err != nil {
		return errors.NewInternalError("failed to encode recommendations").WithCause(err)
	}

	const query = `
		INSERT INTO alerts (id, rule_id, rule_name, severity, category, violations, thresholds, recommendations, fired_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`
	_, err = r.pool.Exec(ctx, query,
		a.ID, a.RuleID, a.RuleName, a.Severity.String(), a.Category.String(),
		violations, thresholds, recs, a.Timestamp)
	if err != nil {
		r.logger.Error("failed to archive alert", zap.String("alert_id", a.ID), zap.Error(err))
		return errors.NewIntegrationError("postgres", "failed to archive alert").WithCause(err)
	}
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (r *Repository) RecentAlerts(ctx context.Context, limit int) ([]*alert.Alert, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	const query = `
		SELECT id, rule_id, rule_name, severity, category, violations, thresholds, recommendations, fired_at
		FROM alerts
		ORDER BY fired_at DESC
		LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.NewIntegrationError("postgres", "failed to query alerts").WithCause(err)
	}

	out, err := pgx.CollectRows(rows, scanAlert)
	if err != nil {
		return nil, errors.NewIntegrationError("postgres", "failed to read alerts").WithCause(err)
	}
	return out, nil
}

func scanAlert(row pgx.CollectableRow) (*alert.Alert, error) {
	var (
		a                      alert.Alert
		severity, category     string
		violations, thresholds []byte
		recs                   []byte
	)
	if err := row.Scan(&a.ID, &a.RuleID, &a.RuleName, &severity, &category, &violations, &thresholds, &recs, &a.Timestamp); err != nil {
		return nil, err
	}
	if err := a.Severity.UnmarshalText([]byte(severity)); err != nil {
		return nil, err
	}
	if err := a.Category.UnmarshalText([]byte(category)); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(violations, &a.Violations); err != nil {
		return nil, fmt.Errorf("decode violations: %w", err)
	}
	if err := json.Unmarshal(thresholds, &a.Thresholds); err != nil {
		return nil, fmt.Errorf("decode thresholds: %w", err)
	}
	if err := json.Unmarshal(recs, &a.Recommendations); err != nil {
		return nil, fmt.Errorf("decode recommendations: %w", err)
	}
	a.Timestamp = a.Timestamp.UTC()
	return &a, nil
}

func (r *Repository) SaveResult(ctx context.Context, res *optimization.Result) error {
	impact, err := json.Marshal(res.PerformanceImpact)
	if err != nil {
		return errors.NewInternalError("failed to encode performance impact").WithCause(err)
	}
	sideEffects, err := json.Marshal(res.SideEffects)
	if err != nil {
		return errors.NewInternalError("failed to encode side effects").WithCause(err)
	}

	const query = `
		INSERT INTO optimization_results
			(action_id, action_type, target_metric, status, actual_improvement, performance_impact, side_effects, duration_ms, error, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = r.pool.Exec(ctx, query,
		res.ActionID, res.ActionType.String(), res.TargetMetric, res.Status.String(), res.ActualImprovement,
		impact, sideEffects, res.Duration.Milliseconds(), res.Error, res.CompletedAt)
	if err != nil {
		r.logger.Error("failed to archive result", zap.String("action_id", res.ActionID), zap.Error(err))
		return errors.NewIntegrationError("postgres", "failed to archive optimization result").WithCause(err)
	}
	return nil
}

// RecentResults returns up to limit results, newest first.
func (r *Repository) RecentResults(ctx context.Context, limit int) ([]*optimization.Result, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	const query = `
		SELECT action_id, action_type, target_metric, status, actual_improvement, performance_impact, side_effects, duration_ms, error, completed_at
		FROM optimization_results
		ORDER BY completed_at DESC, id DESC
		LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.NewIntegrationError("postgres", "failed to query optimization results").WithCause(err)
	}

	out, err := pgx.CollectRows(rows, scanResult)
	if err != nil {
		return nil, errors.NewIntegrationError("postgres", "failed to read optimization results").WithCause(err)
	}
	return out, nil
}

func scanResult(row pgx.CollectableRow) (*optimization.Result, error) {
	var (
		res                 optimization.Result
		actionType, status  string
		impact, sideEffects []byte
		durationMS          int64
	)
	if err := row.Scan(&res.ActionID, &actionType, &res.TargetMetric, &status, &res.ActualImprovement,
		&impact, &sideEffects, &durationMS, &res.Error, &res.CompletedAt); err != nil {
		return nil, err
	}
	if err := res.ActionType.UnmarshalText([]byte(actionType)); err != nil {
		return nil, err
	}
	if err := res.Status.UnmarshalText([]byte(status)); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(impact, &res.PerformanceImpact); err != nil {
		return nil, fmt.Errorf("decode performance impact: %w", err)
	}
	if err := json.Unmarshal(sideEffects, &res.SideEffects); err != nil {
		return nil, fmt.Errorf("decode side effects: %w", err)
	}
	res.Duration = time.Duration(durationMS) * time.Millisecond
	res.CompletedAt = res.CompletedAt.UTC()
	return &res, nil
}
