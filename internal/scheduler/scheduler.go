// Package scheduler maintains one aggregation job per tenant and drives them
// on a fixed cadence. The job table is in-memory only: it is rebuilt from the
// tenant registry at process start and updated when tenants are onboarded, so
// losing it on shutdown is harmless.
//
// The loop is deliberately simple: a coarse ticker wakes it, due jobs run
// sequentially in registration order, and each job has its own error
// boundary. Sequential execution bounds concurrent load on the shared
// warehouse connection; the trade-off is that a slow job delays the rest of
// that tick's due jobs, which is acceptable at the tenant counts this engine
// targets.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"pulse/internal/etl"
	"pulse/internal/types"
)

// DefaultTickInterval is the cadence at which the loop scans for due jobs.
const DefaultTickInterval = time.Minute

// DefaultRetryBackoff is how soon a failed job is retried, instead of
// waiting its full interval.
const DefaultRetryBackoff = 5 * time.Minute

// DefaultJobIntervalMinutes is the run interval applied when onboarding
// does not specify one.
const DefaultJobIntervalMinutes = 60

// Runner executes one aggregation pass. Satisfied by *etl.Runner.
type Runner interface {
	Run(ctx context.Context, tenantID string, p types.PeriodType, forceRefresh bool) etl.RunResult
}

// job is the internal mutable job state. All access goes through the
// scheduler's mutex; the tick loop and onboarding calls never touch a job
// concurrently.
type job struct {
	tenantID  string
	periods   []types.PeriodType
	interval  time.Duration
	lastRunAt *time.Time
	nextRunAt time.Time
	enabled   bool
	order     int
}

// JobSnapshot is the read-only view of a job returned by ListJobs.
type JobSnapshot struct {
	TenantID        string             `json:"tenant_id"`
	Periods         []types.PeriodType `json:"periods"`
	IntervalMinutes int                `json:"interval_minutes"`
	LastRunAt       *time.Time         `json:"last_run_at,omitempty"`
	NextRunAt       time.Time          `json:"next_run_at"`
	Enabled         bool               `json:"enabled"`
}

// TriggerResult is one per-period outcome of a manual trigger.
type TriggerResult struct {
	TenantID   string           `json:"tenant_id"`
	PeriodType types.PeriodType `json:"period_type"`
	Success    bool             `json:"success"`
	Message    string           `json:"message"`
}

// Scheduler owns the job table and the tick loop.
type Scheduler struct {
	runner       Runner
	logger       *slog.Logger
	tickInterval time.Duration
	retryBackoff time.Duration
	enabled      bool
	nowFn        func() time.Time

	mu    sync.Mutex
	jobs  map[string]*job
	order int
}

// Config holds the configuration for creating a Scheduler.
type Config struct {
	Runner       Runner
	Logger       *slog.Logger
	TickInterval time.Duration
	RetryBackoff time.Duration
	// Enabled is the process-wide switch, resolved from the environment at
	// startup. When false the tick loop never starts; the job table is
	// still maintained so a later restart with the switch on picks up
	// where onboarding left off.
	Enabled bool
	NowFn   func() time.Time
}

// New creates a Scheduler with the given configuration.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	nowFn := cfg.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Scheduler{
		runner:       cfg.Runner,
		logger:       logger,
		tickInterval: tick,
		retryBackoff: backoff,
		enabled:      cfg.Enabled,
		nowFn:        nowFn,
		jobs:         make(map[string]*job),
	}
}

// AddOrUpdateJob upserts the job for a tenant. New jobs are due immediately
// (first tick picks them up); updates keep the existing schedule and last-run
// stamp so onboarding edits never pull a run earlier than the previously
// computed next-run time.
func (s *Scheduler) AddOrUpdateJob(tenantID string, periods []types.PeriodType, intervalMinutes int) error {
	if tenantID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "tenant id is required", nil)
	}
	if intervalMinutes <= 0 {
		intervalMinutes = DefaultJobIntervalMinutes
	}
	if len(periods) == 0 {
		periods = types.AllPeriods
	}
	for _, p := range periods {
		if !p.Valid() {
			return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidPeriod,
				"unknown period type", nil, map[string]any{"period": string(p)})
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	interval := time.Duration(intervalMinutes) * time.Minute
	if existing, ok := s.jobs[tenantID]; ok {
		existing.periods = append([]types.PeriodType(nil), periods...)
		existing.interval = interval
		existing.enabled = true
		return nil
	}

	s.order++
	s.jobs[tenantID] = &job{
		tenantID:  tenantID,
		periods:   append([]types.PeriodType(nil), periods...),
		interval:  interval,
		nextRunAt: s.nowFn().UTC(),
		enabled:   true,
		order:     s.order,
	}
	return nil
}

// ListJobs returns a snapshot of every job in registration order.
func (s *Scheduler) ListJobs() []JobSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].order < jobs[k].order })

	out := make([]JobSnapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, snapshotOf(j))
	}
	return out
}

// Start runs the tick loop until ctx is cancelled. When the process-wide
// switch is off, the loop never starts; Start blocks until cancellation so
// the caller's lifecycle management stays uniform.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.enabled {
		s.logger.InfoContext(ctx, "scheduler disabled, tick loop not started",
			"jobs", len(s.jobs),
		)
		<-ctx.Done()
		return nil
	}

	s.logger.InfoContext(ctx, "scheduler starting",
		"tick_interval", s.tickInterval.String(),
		"retry_backoff", s.retryBackoff.String(),
	)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduler stopping")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick scans the job table once and runs every due job sequentially in
// registration order. Exported so manual invocations and tests can drive
// the loop deterministically.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.nowFn().UTC()

	s.mu.Lock()
	due := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.enabled && !j.nextRunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].order < due[k].order })
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}

	s.logger.InfoContext(ctx, "tick: running due jobs", "due", len(due))

	for _, j := range due {
		ok := s.executeJob(ctx, j)

		finished := s.nowFn().UTC()
		s.mu.Lock()
		started := now
		j.lastRunAt = &started
		if ok {
			j.nextRunAt = finished.Add(j.interval)
		} else {
			// Failed runs retry on a short backoff instead of waiting the
			// full interval, so a transient warehouse outage does not cost
			// the tenant a whole cycle.
			j.nextRunAt = finished.Add(s.retryBackoff)
		}
		s.mu.Unlock()
	}
}

// executeJob runs every period of one job inside an error boundary. A panic
// or failed period marks the job failed but never stops the tick loop or
// the remaining periods.
func (s *Scheduler) executeJob(ctx context.Context, j *job) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "panic in scheduled job",
				"tenant_id", j.tenantID,
				"panic", fmt.Sprintf("%v", r),
			)
			ok = false
		}
	}()

	ok = true
	for _, p := range j.periods {
		result := s.runner.Run(ctx, j.tenantID, p, true)
		if !result.Success {
			ok = false
			s.logger.WarnContext(ctx, "scheduled run failed",
				"tenant_id", j.tenantID,
				"period", string(p),
				"message", result.Message,
			)
			continue
		}
		s.logger.InfoContext(ctx, "scheduled run complete",
			"tenant_id", j.tenantID,
			"period", string(p),
			"message", result.Message,
		)
	}
	return ok
}

// RunNow executes an aggregation pass immediately, outside the tick cadence.
// tenantID narrows the trigger to one tenant ("" runs every job); periods
// narrows the granularities (nil uses each job's configured set). The job
// schedule is left untouched: a manual poke never shifts nextRunAt, so the
// regular cadence is undisturbed.
func (s *Scheduler) RunNow(ctx context.Context, tenantID string, periods []types.PeriodType) ([]TriggerResult, error) {
	for _, p := range periods {
		if !p.Valid() {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidPeriod,
				"unknown period type", nil, map[string]any{"period": string(p)})
		}
	}

	s.mu.Lock()
	targets := make([]*job, 0, len(s.jobs))
	if tenantID != "" {
		j, ok := s.jobs[tenantID]
		if !ok {
			s.mu.Unlock()
			return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundJob,
				"no job registered for tenant", nil, map[string]any{"tenant_id": tenantID})
		}
		targets = append(targets, j)
	} else {
		for _, j := range s.jobs {
			targets = append(targets, j)
		}
		sort.Slice(targets, func(i, k int) bool { return targets[i].order < targets[k].order })
	}
	// Copy what the run needs before releasing the lock; the runner call
	// must not hold the job table hostage.
	type target struct {
		tenantID string
		periods  []types.PeriodType
	}
	plans := make([]target, 0, len(targets))
	for _, j := range targets {
		ps := periods
		if len(ps) == 0 {
			ps = append([]types.PeriodType(nil), j.periods...)
		}
		plans = append(plans, target{tenantID: j.tenantID, periods: ps})
	}
	s.mu.Unlock()

	var results []TriggerResult
	for _, plan := range plans {
		for _, p := range plan.periods {
			result := s.runner.Run(ctx, plan.tenantID, p, true)
			results = append(results, TriggerResult{
				TenantID:   plan.tenantID,
				PeriodType: p,
				Success:    result.Success,
				Message:    result.Message,
			})
		}
	}

	s.logger.InfoContext(ctx, "manual trigger complete",
		"tenant_id", tenantID,
		"results", len(results),
	)
	return results, nil
}

// Enabled reports whether the process-wide scheduling switch is on.
func (s *Scheduler) Enabled() bool {
	return s.enabled
}

func snapshotOf(j *job) JobSnapshot {
	snap := JobSnapshot{
		TenantID:        j.tenantID,
		Periods:         append([]types.PeriodType(nil), j.periods...),
		IntervalMinutes: int(j.interval / time.Minute),
		NextRunAt:       j.nextRunAt,
		Enabled:         j.enabled,
	}
	if j.lastRunAt != nil {
		t := *j.lastRunAt
		snap.LastRunAt = &t
	}
	return snap
}
