// Package metrics evaluates one metric definition for one tenant and period:
// the period-to-date value, the goal it is measured against, the percentage
// of goal reached, and the historical trend series for charting.
//
// Evaluation is deliberately forgiving: a broken expression, a missing
// relation, or an unreachable warehouse degrades that one metric to a zero
// value with Degraded set, so a single bad definition never takes down a
// tenant's dashboard or aborts an ETL pass.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"pulse/internal/goals"
	"pulse/internal/period"
	"pulse/internal/types"
	"pulse/internal/warehouse"
)

// Store is the warehouse read surface the evaluator needs.
type Store interface {
	QueryValue(ctx context.Context, tenant *types.Tenant, query string, args ...any) (float64, error)
	QuerySeries(ctx context.Context, tenant *types.Tenant, query string, args ...any) ([]warehouse.SeriesRow, error)
}

// GoalResolver resolves the target value for a metric in a period.
// Satisfied by *goals.Resolver.
type GoalResolver interface {
	Resolve(ctx context.Context, def *types.MetricDefinition, p types.PeriodType, now time.Time) float64
}

// Evaluation is the computed result for one metric in one period.
type Evaluation struct {
	MetricKey    string             `json:"metric_key"`
	Window       types.PeriodWindow `json:"window"`
	CurrentValue float64            `json:"current_value"`
	GoalValue    float64            `json:"goal_value"`
	Percentage   float64            `json:"percentage"`
	Trend        []types.TrendPoint `json:"trend"`
	// Degraded marks a metric whose value could not be computed; the
	// dashboard shows "could not calculate" instead of an error page.
	Degraded bool `json:"degraded"`
}

// Evaluator computes metric evaluations against the tenant warehouse.
type Evaluator struct {
	store  Store
	goals  GoalResolver
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(store Store, resolver GoalResolver, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{store: store, goals: resolver, logger: logger}
}

var _ GoalResolver = (*goals.Resolver)(nil)

// Evaluate computes the current value, goal, percentage, and trend series
// for one definition. It never returns an error: store failures degrade the
// metric to zero and are logged with the tenant and metric key.
func (e *Evaluator) Evaluate(ctx context.Context, tenant *types.Tenant, def *types.MetricDefinition, p types.PeriodType, now time.Time) Evaluation {
	w := period.Window(p, now)
	result := Evaluation{
		MetricKey: def.Key,
		Window:    w,
		GoalValue: e.goals.Resolve(ctx, def, p, now),
	}

	value, err := e.currentValue(ctx, tenant, def, w)
	if err != nil {
		e.logger.WarnContext(ctx, "metric evaluation degraded to zero",
			"tenant_id", tenant.ID,
			"metric_key", def.Key,
			"period", string(p),
			"error", err,
		)
		result.Degraded = true
		result.Trend = period.Buckets(p, now)
		return result
	}
	result.CurrentValue = value

	// Guard against divide-by-zero: an absent or zero goal yields 0%,
	// never NaN or Inf.
	if result.GoalValue > 0 {
		result.Percentage = result.CurrentValue / result.GoalValue * 100
	}

	result.Trend = e.trend(ctx, tenant, def, p, now)
	return result
}

// currentValue runs the period-to-date aggregate for the definition, using
// either the expression/relation pair or the raw-query override.
func (e *Evaluator) currentValue(ctx context.Context, tenant *types.Tenant, def *types.MetricDefinition, w types.PeriodWindow) (float64, error) {
	if def.UsesRawQuery() {
		if err := ValidateRawQuery(def, tenant); err != nil {
			return 0, err
		}
		return e.store.QueryValue(ctx, tenant, def.RawQuery)
	}

	query, args, err := BuildValueQuery(def, w)
	if err != nil {
		return 0, err
	}
	return e.store.QueryValue(ctx, tenant, query, args...)
}

// trend fills the bucket grid for the granularity from a grouped historical
// query. Raw-query metrics have no date column to bucket on, and any query
// failure leaves the grid zeroed; the chart renders flat rather than
// failing the evaluation.
func (e *Evaluator) trend(ctx context.Context, tenant *types.Tenant, def *types.MetricDefinition, p types.PeriodType, now time.Time) []types.TrendPoint {
	buckets := period.Buckets(p, now)
	if def.UsesRawQuery() {
		return buckets
	}

	query, err := BuildTrendQuery(def, p)
	if err != nil {
		e.logger.WarnContext(ctx, "trend query build failed",
			"tenant_id", tenant.ID,
			"metric_key", def.Key,
			"error", err,
		)
		return buckets
	}

	lookbackStart := buckets[0].Start
	lookbackEnd := buckets[len(buckets)-1].End
	rows, err := e.store.QuerySeries(ctx, tenant, query, lookbackStart, lookbackEnd)
	if err != nil {
		e.logger.WarnContext(ctx, "trend query failed, returning empty series",
			"tenant_id", tenant.ID,
			"metric_key", def.Key,
			"period", string(p),
			"error", err,
		)
		return buckets
	}

	for _, row := range rows {
		for i := range buckets {
			if buckets[i].Contains(row.Bucket) {
				buckets[i].Value += row.Value
				break
			}
		}
	}
	return buckets
}
