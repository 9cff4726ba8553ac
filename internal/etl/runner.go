// Package etl orchestrates one aggregation pass: for a tenant and a period
// granularity it evaluates every active metric definition and persists the
// results as upserted time-series points. Re-running a pass is always safe;
// points are keyed by (tenant, metric key, window start, period type,
// is-goal) and never duplicated.
package etl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pulse/internal/metrics"
	"pulse/internal/types"
)

// TenantLookup resolves the tenant being processed.
type TenantLookup interface {
	Get(ctx context.Context, tenantID string) (*types.Tenant, error)
}

// MetricRegistry reads a tenant's metric definitions.
type MetricRegistry interface {
	// ListActive returns the tenant's active definitions in creation order.
	ListActive(ctx context.Context, tenantID string) ([]types.MetricDefinition, error)
	// MarkCalculated records when a definition was last evaluated.
	// Best effort; failures are logged, not surfaced.
	MarkCalculated(ctx context.Context, metricID string, at time.Time) error
}

// SeriesWriter persists time-series points.
type SeriesWriter interface {
	// Upsert writes a point by its logical key. With overwrite=true an
	// existing point is replaced; with overwrite=false an existing point
	// is kept untouched. Neither mode ever creates a duplicate.
	Upsert(ctx context.Context, point *types.TimeSeriesPoint, overwrite bool) error
}

// Evaluator computes one metric for one tenant and period.
// Satisfied by *metrics.Evaluator.
type Evaluator interface {
	Evaluate(ctx context.Context, tenant *types.Tenant, def *types.MetricDefinition, p types.PeriodType, now time.Time) metrics.Evaluation
}

// RunResult summarizes one aggregation pass. It is the only thing that
// crosses the runner boundary: failures are folded into Success/Message so
// the scheduler can apply its retry policy without a process crash.
type RunResult struct {
	TenantID         string           `json:"tenant_id"`
	PeriodType       types.PeriodType `json:"period_type"`
	Success          bool             `json:"success"`
	Message          string           `json:"message"`
	MetricsProcessed int              `json:"metrics_processed"`
	MetricsDegraded  int              `json:"metrics_degraded"`
	WriteFailures    int              `json:"write_failures"`
}

// Runner executes aggregation passes.
type Runner struct {
	tenants   TenantLookup
	registry  MetricRegistry
	series    SeriesWriter
	evaluator Evaluator
	logger    *slog.Logger

	// nowFn is injected for deterministic tests; defaults to time.Now.
	nowFn func() time.Time
}

// RunnerConfig holds the dependencies for creating a Runner.
type RunnerConfig struct {
	Tenants   TenantLookup
	Registry  MetricRegistry
	Series    SeriesWriter
	Evaluator Evaluator
	Logger    *slog.Logger
	NowFn     func() time.Time
}

// NewRunner creates a Runner with the given configuration.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Runner{
		tenants:   cfg.Tenants,
		registry:  cfg.Registry,
		series:    cfg.Series,
		evaluator: cfg.Evaluator,
		logger:    logger,
		nowFn:     nowFn,
	}
}

// Run evaluates every active metric of the tenant for the given granularity
// and upserts one actual point and one goal point per metric, stamped at the
// window start.
//
// forceRefresh=true overwrites points already stored for the same logical
// key; forceRefresh=false keeps existing points. Either way a re-run never
// grows row counts, which makes retries after partial failures safe.
//
// Degraded metrics (evaluation fell back to zero) do not fail the run; the
// dashboard prefers partial data over an error page. Write failures do fail
// the run so the scheduler retries on its backoff cadence.
func (r *Runner) Run(ctx context.Context, tenantID string, p types.PeriodType, forceRefresh bool) RunResult {
	result := RunResult{TenantID: tenantID, PeriodType: p}
	now := r.nowFn().UTC()
	ctx = types.WithTenantID(ctx, tenantID)

	if !p.Valid() {
		result.Message = fmt.Sprintf("unknown period type %q", p)
		return result
	}

	tenant, err := r.tenants.Get(ctx, tenantID)
	if err != nil {
		result.Message = fmt.Sprintf("loading tenant: %v", err)
		return result
	}

	defs, err := r.registry.ListActive(ctx, tenantID)
	if err != nil {
		result.Message = fmt.Sprintf("listing metric definitions: %v", err)
		return result
	}
	if len(defs) == 0 {
		result.Success = true
		result.Message = "no active metrics"
		return result
	}

	for i := range defs {
		def := &defs[i]
		eval := r.evaluator.Evaluate(ctx, tenant, def, p, now)
		result.MetricsProcessed++
		if eval.Degraded {
			result.MetricsDegraded++
		}

		if err := r.writePoints(ctx, tenant, def, &eval, forceRefresh); err != nil {
			result.WriteFailures++
			r.logger.ErrorContext(ctx, "failed to persist metric points",
				"tenant_id", tenantID,
				"metric_key", def.Key,
				"period", string(p),
				"error", err,
			)
			// Keep going; one metric's write failure must not starve the
			// rest of the tenant's dashboard.
			continue
		}

		if err := r.registry.MarkCalculated(ctx, def.ID, now); err != nil {
			r.logger.WarnContext(ctx, "failed to stamp last_calculated_at",
				"tenant_id", tenantID,
				"metric_key", def.Key,
				"error", err,
			)
		}
	}

	result.Success = result.WriteFailures == 0
	if result.Success {
		result.Message = fmt.Sprintf("processed %d metrics (%d degraded)",
			result.MetricsProcessed, result.MetricsDegraded)
	} else {
		result.Message = fmt.Sprintf("processed %d metrics, %d write failures (%d degraded)",
			result.MetricsProcessed, result.WriteFailures, result.MetricsDegraded)
	}
	return result
}

// writePoints upserts the actual and goal points for one evaluation, both
// stamped at the window start so re-runs within the same period hit the
// same logical key.
func (r *Runner) writePoints(ctx context.Context, tenant *types.Tenant, def *types.MetricDefinition, eval *metrics.Evaluation, overwrite bool) error {
	actual := &types.TimeSeriesPoint{
		TenantID:   tenant.ID,
		MetricKey:  def.Key,
		Timestamp:  eval.Window.Start,
		PeriodType: eval.Window.Type,
		IsGoal:     false,
		Value:      eval.CurrentValue,
		RunningSum: eval.CurrentValue,
	}
	if err := r.series.Upsert(ctx, actual, overwrite); err != nil {
		return fmt.Errorf("upserting actual point: %w", err)
	}

	goal := &types.TimeSeriesPoint{
		TenantID:   tenant.ID,
		MetricKey:  def.Key,
		Timestamp:  eval.Window.Start,
		PeriodType: eval.Window.Type,
		IsGoal:     true,
		Value:      eval.GoalValue,
		RunningSum: eval.GoalValue,
	}
	if err := r.series.Upsert(ctx, goal, overwrite); err != nil {
		return fmt.Errorf("upserting goal point: %w", err)
	}
	return nil
}
