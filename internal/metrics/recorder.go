// Package metrics exposes control loop instrumentation. Engines report
// through Recorder; Collectors publishes to Prometheus and Registry to the
// OpenTelemetry meter provider.
package metrics

import "time"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Recorder receives control loop events.
type Recorder interface {
	AlertFired(severity, category string)
	AlertSuppressed(reason string)
	EvaluationObserved(d time.Duration, err error)
	ActionFinished(actionType, status string)
	BatchAborted()
	CycleObserved(d time.Duration, err error)
	SnapshotObserved(healthScore, reliabilityScore float64)
	JobRun(job string, err error)
	NotificationSent(kind string, err error)
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}

// Nop discards everything.
type Nop struct{}

func (Nop) AlertFired(string, string) {}
func (Nop) AlertSuppressed(string) {}
func (Nop) EvaluationObserved(time.Duration, error) {}
func (Nop) ActionFinished(string, string) {}
func (Nop) BatchAborted() {}
func (Nop) CycleObserved(time.Duration, error) {}
func (Nop) SnapshotObserved(float64, float64) {}
func (Nop) JobRun(string, error) {}
func (Nop) NotificationSent(string, error) {}

// Multi fans every event out to each recorder.
type Multi []Recorder

func (m Multi) AlertFired(severity, category string) {
	for _, r := range m {
		r.AlertFired(severity, category)
	}
}

func (m Multi) AlertSuppressed(reason string) {
	for _, r := range m {
		r.AlertSuppressed(reason)
	}
}

func (m Multi) EvaluationObserved(d time.Duration, err error) {
	for _, r := range m {
		r.EvaluationObserved(d, err)
	}
}

func (m Multi) ActionFinished(actionType, status string) {
	for _, r := range m {
		r.ActionFinished(actionType, status)
	}
}

func (m Multi) BatchAborted() {
	for _, r := range m {
		r.BatchAborted()
	}
}

func (m Multi) CycleObserved(d time.Duration, err error) {
	for _, r := range m {
		r.CycleObserved(d, err)
	}
}

func (m Multi) SnapshotObserved(healthScore, reliabilityScore float64) {
	for _, r := range m {
		r.SnapshotObserved(healthScore, reliabilityScore)
	}
}

func (m Multi) JobRun(job string, err error) {
	for _, r := range m {
		r.JobRun(job, err)
	}
}

func (m Multi) NotificationSent(kind string, err error) {
	for _, r := range m {
		r.NotificationSent(kind, err)
	}
}
