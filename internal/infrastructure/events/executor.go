package events

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/performance-control-loop/internal/domain/errors"
	"github.com/davidleathers/performance-control-loop/internal/domain/optimization"
)

// WebhookExecutor hands optimization actions to a remote actuator. The
// actuator answers POST {base}/execute with an optimization.Outcome and
// POST {base}/rollback with any 2xx.
type WebhookExecutor struct {
	base   string
	client *webhookClient
	logger *zap.Logger
}

func NewWebhookExecutor(baseURL, secret string, timeout time.Duration, logger *zap.Logger) *WebhookExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Remote actions are never replayed.
	once := RetryPolicy{MaxAttempts: 1}
	return &WebhookExecutor{
		base:   strings.TrimRight(baseURL, "/"),
		client: newWebhookClient(timeout, secret, once, logger),
		logger: logger.With(zap.String("component", "webhook_executor")),
	}
}

func (x *WebhookExecutor) Execute(ctx context.Context, action *optimization.Action) (*optimization.Outcome, error) {
	var out optimization.Outcome
	if err := x.client.post(ctx, x.base+"/execute", nil, action, &out); err != nil {
		return nil, errors.NewExecutionError(action.ID, "actuator rejected the action").WithCause(err)
	}
	x.logger.Info("action executed remotely",
		zap.String("action_id", action.ID),
		zap.String("type", action.Type.String()),
		zap.Float64("actual_improvement", out.ActualImprovement))
	return &out, nil
}

func (x *WebhookExecutor) Rollback(ctx context.Context, action *optimization.Action) error {
	if err := x.client.post(ctx, x.base+"/rollback", nil, action, nil); err != nil {
		return errors.NewExecutionError(action.ID, "actuator rollback failed").WithCause(err)
	}
	x.logger.Info("action rolled back remotely", zap.String("action_id", action.ID))
	return nil
}
