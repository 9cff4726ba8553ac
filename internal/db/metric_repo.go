package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"pulse/internal/types"
)

// MetricRepository provides data access for the metric_definitions table.
// Definitions are authored elsewhere; the engine reads them and stamps
// last_calculated_at after each run.
type MetricRepository struct {
	db DBTX
}

// NewMetricRepository creates a new MetricRepository backed by the given
// database connection (pool or transaction).
func NewMetricRepository(db DBTX) *MetricRepository {
	return &MetricRepository{db: db}
}

const metricColumns = `m.id, m.tenant_id, m.key, m.name, m.category, m.format,
	m.yearly_goal, m.direction, m.source_relation, m.value_expression,
	m.date_column, m.filter_predicate, m.raw_query, m.status,
	m.last_calculated_at, m.created_at`

// scanMetric scans a single metric definition row. The columns must match
// the order defined in metricColumns.
func scanMetric(row pgx.Row) (*types.MetricDefinition, error) {
	var def types.MetricDefinition
	var sourceRelation, valueExpression, dateColumn, filterPredicate, rawQuery *string

	err := row.Scan(
		&def.ID,
		&def.TenantID,
		&def.Key,
		&def.Name,
		&def.Category,
		&def.Format,
		&def.YearlyGoal,
		&def.Direction,
		&sourceRelation,
		&valueExpression,
		&dateColumn,
		&filterPredicate,
		&rawQuery,
		&def.Status,
		&def.LastCalculatedAt,
		&def.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sourceRelation != nil {
		def.SourceRelation = *sourceRelation
	}
	if valueExpression != nil {
		def.ValueExpression = *valueExpression
	}
	if dateColumn != nil {
		def.DateColumn = *dateColumn
	}
	if filterPredicate != nil {
		def.FilterPredicate = *filterPredicate
	}
	if rawQuery != nil {
		def.RawQuery = *rawQuery
	}
	return &def, nil
}

// GetByKey retrieves one definition by its tenant-scoped key. Returns
// ErrCodeNotFoundMetric when no such definition exists.
func (r *MetricRepository) GetByKey(ctx context.Context, tenantID, key string) (*types.MetricDefinition, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+metricColumns+`
		 FROM metric_definitions m
		 WHERE m.tenant_id = $1 AND m.key = $2`,
		tenantID, key,
	)

	def, err := scanMetric(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundMetric, "metric definition not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve metric definition", err)
	}
	return def, nil
}

// ListActive returns the tenant's active definitions in creation order.
// Draft and archived definitions are never evaluated.
func (r *MetricRepository) ListActive(ctx context.Context, tenantID string) ([]types.MetricDefinition, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+metricColumns+`
		 FROM metric_definitions m
		 WHERE m.tenant_id = $1 AND m.status = $2
		 ORDER BY m.created_at`,
		tenantID, types.MetricStatusActive,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list metric definitions", err)
	}
	defer rows.Close()

	var defs []types.MetricDefinition
	for rows.Next() {
		def, err := scanMetric(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan metric definition row", err)
		}
		defs = append(defs, *def)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate metric definition rows", err)
	}
	return defs, nil
}

// MarkCalculated stamps when a definition was last evaluated.
func (r *MetricRepository) MarkCalculated(ctx context.Context, metricID string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE metric_definitions SET last_calculated_at = $1 WHERE id = $2`,
		at, metricID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to stamp metric definition", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundMetric, "metric definition not found", nil)
	}
	return nil
}
