// Package scheduler runs named jobs on fixed-interval tiers. Each schedule
// has its own loop; cancelling the scheduler or replacing a schedule stops a
// loop between runs and never interrupts a run in progress.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/performance-control-loop/internal/domain/errors"
	"github.com/davidleathers/performance-control-loop/internal/metrics"
)

type Tier int

const (
	TierContinuous Tier = iota
	TierHigh
	TierMedium
	TierLow
	TierDaily
	TierWeekly
)

var Tiers = []Tier{TierContinuous, TierHigh, TierMedium, TierLow, TierDaily, TierWeekly}

func (t Tier) String() string {
	switch t {
	case TierContinuous:
		return "continuous"
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	case TierLow:
		return "low"
	case TierDaily:
		return "daily"
	case TierWeekly:
		return "weekly"
	default:
		return "unknown"
	}
}

// Interval is the fixed period of the tier.
func (t Tier) Interval() time.Duration {
	switch t {
	case TierContinuous:
		return time.Minute
	case TierHigh:
		return 5 * time.Minute
	case TierMedium:
		return 15 * time.Minute
	case TierLow:
		return time.Hour
	case TierDaily:
		return 24 * time.Hour
	default:
		return 168 * time.Hour
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func ParseTier(s string) (Tier, error) {
	for _, t := range Tiers {
		if t.String() == s {
			return t, nil
		}
	}
	return TierMedium, fmt.Errorf("unknown schedule tier %q", s)
}

// Job is the work a schedule triggers. Its context is never cancelled by the
// scheduler.
type Job func(ctx context.Context) error

// Schedule is a snapshot of one named trigger.
type Schedule struct {
	Name      string        `json:"name"`
	Job       string        `json:"job"`
	Tier      Tier          `json:"tier"`
	Interval  time.Duration `json:"interval"`
	Enabled   bool          `json:"enabled"`
	Runs      int           `json:"runs"`
	LastRun   *time.Time    `json:"last_run,omitempty"`
	NextRun   *time.Time    `json:"next_run,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

type entry struct {
	Schedule
	run    sync.Mutex
	cancel context.CancelFunc
}

type Scheduler struct {
	mu        sync.Mutex
	jobs      map[string]Job
	schedules map[string]*entry
	ctx       context.Context
	wg        sync.WaitGroup

	interval func(Tier) time.Duration
	recorder metrics.Recorder
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Scheduler)

// WithIntervals overrides the tier to period mapping.
func WithIntervals(f func(Tier) time.Duration) Option {
	return func(s *Scheduler) { s.interval = f }
}

func WithRecorder(r metrics.Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		jobs:      make(map[string]Job),
		schedules: make(map[string]*entry),
		interval:  Tier.Interval,
		recorder:  metrics.Nop{},
		logger:    logger.With(zap.String("component", "scheduler")),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterJob makes a job available to schedules by name.
func (s *Scheduler) RegisterJob(name string, job Job) error {
	if name == "" || job == nil {
		return errors.NewValidationError("INVALID_JOB", "job name and func are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return errors.NewConflictError(fmt.Sprintf("job %s already registered", name))
	}
	s.jobs[name] = job
	return nil
}

// Jobs lists registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Put adds a schedule or updates an existing one. An update on a running
// scheduler restarts the schedule's loop with the new interval.
func (s *Scheduler) Put(name, job string, tier Tier, enabled bool) (Schedule, error) {
	if name == "" {
		return Schedule{}, errors.NewValidationError("INVALID_SCHEDULE", "schedule name is required")
	}
	if tier < TierContinuous || tier > TierWeekly {
		return Schedule{}, errors.NewValidationError("INVALID_SCHEDULE", "unknown tier")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job]; !ok {
		return Schedule{}, errors.NewValidationError("INVALID_SCHEDULE", fmt.Sprintf("job %s is not registered", job))
	}

	e, ok := s.schedules[name]
	if !ok {
		e = &entry{Schedule: Schedule{Name: name}}
		s.schedules[name] = e
	}
	e.Job = job
	e.Tier = tier
	e.Interval = s.interval(tier)
	e.Enabled = enabled
	e.NextRun = nil

	s.stopLoop(e)
	if s.ctx != nil && enabled {
		s.startLoop(e)
	}

	s.logger.Info("schedule saved",
		zap.String("schedule", name),
		zap.String("job", job),
		zap.String("tier", tier.String()),
		zap.Duration("interval", e.Interval),
		zap.Bool("enabled", enabled))
	return e.snapshot(), nil
}

func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.schedules[name]
	if !ok {
		return errors.NewNotFoundError("schedule")
	}
	s.stopLoop(e)
	delete(s.schedules, name)
	s.logger.Info("schedule removed", zap.String("schedule", name))
	return nil
}

func (s *Scheduler) Get(name string) (Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.schedules[name]
	if !ok {
		return Schedule{}, errors.NewNotFoundError("schedule")
	}
	return e.snapshot(), nil
}

// Schedules returns every schedule ordered by name.
func (s *Scheduler) Schedules() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Schedule, 0, len(s.schedules))
	for _, e := range s.schedules {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start launches a loop per enabled schedule. Loops stop when ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return
	}
	s.ctx = ctx
	for _, e := range s.schedules {
		if e.Enabled {
			s.startLoop(e)
		}
	}
	s.logger.Info("scheduler started", zap.Int("schedules", len(s.schedules)))
}

// Stop cancels every loop and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for _, e := range s.schedules {
		s.stopLoop(e)
	}
	s.ctx = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// startLoop must be called with mu held.
func (s *Scheduler) startLoop(e *entry) {
	ctx, cancel := context.WithCancel(s.ctx)
	e.cancel = cancel
	next := s.now().Add(e.Interval)
	e.NextRun = &next

	s.wg.Add(1)
	go s.loop(ctx, e, e.Interval)
}

// stopLoop must be called with mu held.
func (s *Scheduler) stopLoop(e *entry) {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (s *Scheduler) loop(ctx context.Context, e *entry, interval time.Duration) {
	defer s.wg.Done()
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.runOnce(context.WithoutCancel(ctx), e, interval)
		timer.Reset(interval)
	}
}

// runOnce executes the schedule's job. Runs of the same schedule never
// overlap, even across a loop restart.
func (s *Scheduler) runOnce(ctx context.Context, e *entry, interval time.Duration) {
	e.run.Lock()
	defer e.run.Unlock()

	s.mu.Lock()
	name, jobName := e.Name, e.Job
	job := s.jobs[jobName]
	s.mu.Unlock()
	if job == nil {
		return
	}

	start := s.now()
	err := job(ctx)
	s.recorder.JobRun(jobName, err)

	s.mu.Lock()
	e.Runs++
	e.LastRun = &start
	next := s.now().Add(interval)
	e.NextRun = &next
	e.LastError = ""
	if err != nil {
		e.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("scheduled job failed",
			zap.String("schedule", name),
			zap.String("job", jobName),
			zap.Error(err))
		return
	}
	s.logger.Debug("scheduled job completed",
		zap.String("schedule", name),
		zap.String("job", jobName),
		zap.Duration("duration", s.now().Sub(start)))
}

// snapshot must be called with mu held.
func (e *entry) snapshot() Schedule {
	out := e.Schedule
	if e.LastRun != nil {
		t := *e.LastRun
		out.LastRun = &t
	}
	if e.NextRun != nil {
		t := *e.NextRun
		out.NextRun = &t
	}
	return out
}
