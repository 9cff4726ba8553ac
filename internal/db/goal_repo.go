package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"pulse/internal/types"
)

// GoalRepository provides read access to the goal_records table. Records are
// managed externally; the engine only consults them during goal resolution.
type GoalRepository struct {
	db DBTX
}

// NewGoalRepository creates a new GoalRepository backed by the given
// database connection (pool or transaction).
func NewGoalRepository(db DBTX) *GoalRepository {
	return &GoalRepository{db: db}
}

// Find returns the goal record for the metric whose granularity matches the
// period type and whose validity window contains "at". Absence is not an
// error; (nil, nil) tells the resolver to fall through to proration.
func (r *GoalRepository) Find(ctx context.Context, tenantID, metricKey string, granularity types.PeriodType, at time.Time) (*types.GoalRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT tenant_id, metric_key, granularity, target_value, period_start, period_end
		 FROM goal_records
		 WHERE tenant_id = $1 AND metric_key = $2 AND granularity = $3
		   AND period_start <= $4 AND period_end >= $4
		 ORDER BY period_start DESC
		 LIMIT 1`,
		tenantID, metricKey, granularity, at,
	)

	var rec types.GoalRecord
	err := row.Scan(
		&rec.TenantID,
		&rec.MetricKey,
		&rec.Granularity,
		&rec.TargetValue,
		&rec.PeriodStart,
		&rec.PeriodEnd,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up goal record", err)
	}
	return &rec, nil
}
