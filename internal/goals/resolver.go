// Package goals resolves the target value a metric is measured against for a
// given period. Resolution walks three sources in order: an explicitly stored
// per-period goal, the prorated yearly goal from the metric definition, and a
// category heuristic used when a tenant has configured no goal at all.
package goals

import (
	"context"
	"log/slog"
	"time"

	"pulse/internal/types"
)

// Lookup abstracts the stored-goal read. Absence of a record is not an
// error; implementations return (nil, nil) when no goal matches.
type Lookup interface {
	// Find returns the goal record for the metric whose granularity matches
	// the period type and whose validity window contains "at", or nil.
	Find(ctx context.Context, tenantID, metricKey string, granularity types.PeriodType, at time.Time) (*types.GoalRecord, error)
}

// heuristicBaseUnit is the yearly base amount the fallback heuristic scales.
// The heuristic exists so percentage math stays meaningful before a tenant
// has configured any goals. It is a deliberately conservative placeholder,
// not a forecast.
const heuristicBaseUnit = 1000.0

// Resolver computes goal values. The lookup collaborator is optional; a nil
// lookup skips straight to proration.
type Resolver struct {
	lookup Lookup
	logger *slog.Logger
}

// NewResolver creates a Resolver. lookup may be nil.
func NewResolver(lookup Lookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{lookup: lookup, logger: logger}
}

// Resolve returns the target value for the metric in the given period.
// It never returns an error: lookup failures fall through to proration, and
// the heuristic guarantees a non-negative result, so downstream percentage
// math degrades gracefully instead of failing a whole evaluation pass.
//
// Resolution order, first match wins:
//  1. A stored GoalRecord matching (metric key, granularity) whose validity
//     window contains now.
//  2. The definition's yearly goal divided by the period's year fraction
//     (365 daily, 52 weekly, 12 monthly, 4 quarterly, 1 yearly).
//  3. The category heuristic: base unit scaled by the same fraction and a
//     category multiplier (revenue x100, profit x50, otherwise x10).
func (r *Resolver) Resolve(ctx context.Context, def *types.MetricDefinition, p types.PeriodType, now time.Time) float64 {
	if def == nil || !p.Valid() {
		return 0
	}

	if r.lookup != nil {
		rec, err := r.lookup.Find(ctx, def.TenantID, def.Key, p, now)
		if err != nil {
			r.logger.WarnContext(ctx, "goal lookup failed, falling back to proration",
				"tenant_id", def.TenantID,
				"metric_key", def.Key,
				"period", string(p),
				"error", err,
			)
		} else if rec != nil {
			return rec.TargetValue
		}
	}

	if def.YearlyGoal != nil {
		return *def.YearlyGoal / p.YearFraction()
	}

	return heuristicGoal(def.Category, p)
}

// heuristicGoal is the no-goal fallback: the yearly base unit prorated to
// the period and scaled by how large the category's values tend to run.
func heuristicGoal(category types.MetricCategory, p types.PeriodType) float64 {
	multiplier := 10.0
	switch category {
	case types.CategoryRevenue:
		multiplier = 100
	case types.CategoryProfit:
		multiplier = 50
	}
	return heuristicBaseUnit / p.YearFraction() * multiplier
}
