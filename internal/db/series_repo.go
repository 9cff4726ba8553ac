package db

import (
	"context"
	"time"

	"pulse/internal/types"
)

// SeriesRepository provides data access for the time_series_points table,
// the aggregated output the dashboard reads. Points are keyed by
// (tenant_id, metric_key, timestamp, period_type, is_goal); writes always go
// through the upsert so re-population never duplicates rows.
type SeriesRepository struct {
	db DBTX
}

// NewSeriesRepository creates a new SeriesRepository backed by the given
// database connection (pool or transaction).
func NewSeriesRepository(db DBTX) *SeriesRepository {
	return &SeriesRepository{db: db}
}

// Upsert writes a point by its logical key. With overwrite=true an existing
// point is replaced (forced refresh); with overwrite=false an existing point
// is kept untouched. Neither mode ever creates a duplicate.
func (r *SeriesRepository) Upsert(ctx context.Context, point *types.TimeSeriesPoint, overwrite bool) error {
	conflictAction := `DO NOTHING`
	if overwrite {
		conflictAction = `DO UPDATE SET
			value = EXCLUDED.value,
			running_sum = EXCLUDED.running_sum,
			updated_at = NOW()`
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO time_series_points
		 (tenant_id, metric_key, timestamp, period_type, is_goal, value, running_sum, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		 ON CONFLICT (tenant_id, metric_key, timestamp, period_type, is_goal) `+conflictAction,
		point.TenantID,
		point.MetricKey,
		point.Timestamp,
		point.PeriodType,
		point.IsGoal,
		point.Value,
		point.RunningSum,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert time-series point", err)
	}
	return nil
}

// ListRange returns a metric's points of one granularity inside [start, end],
// both actual and goal rows, ordered by timestamp.
func (r *SeriesRepository) ListRange(ctx context.Context, tenantID, metricKey string, p types.PeriodType, start, end time.Time) ([]types.TimeSeriesPoint, error) {
	rows, err := r.db.Query(ctx,
		`SELECT tenant_id, metric_key, timestamp, period_type, is_goal,
		        value, running_sum, created_at, updated_at
		 FROM time_series_points
		 WHERE tenant_id = $1 AND metric_key = $2 AND period_type = $3
		   AND timestamp BETWEEN $4 AND $5
		 ORDER BY timestamp, is_goal`,
		tenantID, metricKey, p, start, end,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query time-series points", err)
	}
	defer rows.Close()

	var points []types.TimeSeriesPoint
	for rows.Next() {
		var pt types.TimeSeriesPoint
		err := rows.Scan(
			&pt.TenantID,
			&pt.MetricKey,
			&pt.Timestamp,
			&pt.PeriodType,
			&pt.IsGoal,
			&pt.Value,
			&pt.RunningSum,
			&pt.CreatedAt,
			&pt.UpdatedAt,
		)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan time-series row", err)
		}
		points = append(points, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate time-series rows", err)
	}
	return points, nil
}
