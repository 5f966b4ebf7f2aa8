package events

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidleathers/performance-control-loop/internal/domain/errors"
	"github.com/davidleathers/performance-control-loop/internal/service/notify"
)

// WebhookSink delivers notification payloads as signed JSON POSTs. A token
// bucket spaces deliveries so an alert storm cannot flood the receiver.
type WebhookSink struct {
	url     string
	client  *webhookClient
	limiter *rate.Limiter
	logger  *zap.Logger
}

type WebhookSinkConfig struct {
	URL           string
	Secret        string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	Retry         RetryPolicy
}

func NewWebhookSink(cfg WebhookSinkConfig, logger *zap.Logger) *WebhookSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &WebhookSink{
		url:     cfg.URL,
		client:  newWebhookClient(cfg.Timeout, cfg.Secret, cfg.Retry, logger),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With(zap.String("component", "webhook_sink")),
	}
}

func (s *WebhookSink) Send(ctx context.Context, p notify.Payload) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return errors.NewIntegrationError("webhook", "rate limit wait aborted").WithCause(err)
	}
	headers := map[string]string{KindHeader: string(p.Kind)}
	if err := s.client.post(ctx, s.url, headers, p, nil); err != nil {
		s.logger.Warn("notification delivery failed",
			zap.String("kind", string(p.Kind)),
			zap.String("severity", p.Severity),
			zap.Error(err))
		return err
	}
	s.logger.Debug("notification delivered", zap.String("kind", string(p.Kind)), zap.Int("items", len(p.Items)))
	return nil
}
