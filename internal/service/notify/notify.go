// Package notify defines the outbound notification contract. Transports live
// in infrastructure packages; this package only shapes payloads.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/performance-control-loop/internal/domain/alert"
)

type Kind string

const (
	KindAlert   Kind = "alert"
	KindBatch   Kind = "batch"
	KindSummary Kind = "summary"
)

// Payload is what a sink delivers. Items carries the individual entries of a
// batch.
type Payload struct {
	Kind       Kind               `json:"kind"`
	Severity   string             `json:"severity,omitempty"`
	Content    string             `json:"content"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Thresholds map[string]float64 `json:"thresholds,omitempty"`
	Items      []Payload          `json:"items,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Sink delivers payloads. Implementations should not retry forever; the
// caller logs and drops failed deliveries.
type Sink interface {
	Send(ctx context.Context, p Payload) error
}

// AlertPayload renders one alert.
func AlertPayload(a *alert.Alert) Payload {
	metrics := make(map[string]float64, len(a.Violations))
	parts := make([]string, 0, len(a.Violations))
	for _, v := range a.Violations {
		metrics[v.Metric] = v.Value
		parts = append(parts, fmt.Sprintf("%s=%.3f (%s)", v.Metric, v.Value, v.Threshold))
	}
	content := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(a.Severity.String()), a.RuleName, strings.Join(parts, ", "))
	if len(a.Recommendations) > 0 {
		content += "\n- " + strings.Join(a.Recommendations, "\n- ")
	}
	return Payload{
		Kind:       KindAlert,
		Severity:   a.Severity.String(),
		Content:    content,
		Metrics:    metrics,
		Thresholds: a.Thresholds,
		Timestamp:  a.Timestamp,
	}
}

// BatchPayload wraps several alerts in one delivery. The batch severity is
// the highest among its alerts.
func BatchPayload(alerts []*alert.Alert, now time.Time) Payload {
	p := Payload{Kind: KindBatch, Timestamp: now}
	top := alert.SeverityLow
	lines := make([]string, 0, len(alerts))
	for _, a := range alerts {
		item := AlertPayload(a)
		p.Items = append(p.Items, item)
		if a.Severity > top {
			top = a.Severity
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", a.Severity, a.RuleName))
	}
	p.Severity = top.String()
	p.Content = fmt.Sprintf("%d alerts fired\n%s", len(alerts), strings.Join(lines, "\n"))
	return p
}

// Deliver sends a single alert as-is and several as one batch. Nothing is
// sent for an empty slice.
func Deliver(ctx context.Context, sink Sink, alerts []*alert.Alert, now time.Time) error {
	switch len(alerts) {
	case 0:
		return nil
	case 1:
		return sink.Send(ctx, AlertPayload(alerts[0]))
	default:
		return sink.Send(ctx, BatchPayload(alerts, now))
	}
}

// LogSink writes payloads to the logger.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Send(_ context.Context, p Payload) error {
	s.logger.Info("notification",
		zap.String("kind", string(p.Kind)),
		zap.String("severity", p.Severity),
		zap.String("content", p.Content),
		zap.Int("items", len(p.Items)))
	return nil
}

// MultiSink fans a payload out to every sink and reports the first error
// after trying them all.
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, p Payload) error {
	var first error
	for _, s := range m {
		if err := s.Send(ctx, p); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Discard drops everything.
type Discard struct{}

func (Discard) Send(context.Context, Payload) error { return nil }
