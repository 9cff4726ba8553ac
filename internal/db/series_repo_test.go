package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pulse/internal/types"
)

func marchPoint() *types.TimeSeriesPoint {
	return &types.TimeSeriesPoint{
		TenantID:   "t-1",
		MetricKey:  "revenue",
		Timestamp:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodType: types.PeriodMonthly,
		IsGoal:     false,
		Value:      8000,
		RunningSum: 8000,
	}
}

func TestSeriesRepository_Upsert_Overwrite(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSeriesRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sql := args.Get(1).(string)
			assert.Contains(t, sql, "ON CONFLICT (tenant_id, metric_key, timestamp, period_type, is_goal)")
			assert.Contains(t, sql, "DO UPDATE SET")
		}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, repo.Upsert(context.Background(), marchPoint(), true))
	db.AssertExpectations(t)
}

func TestSeriesRepository_Upsert_KeepExisting(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSeriesRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sql := args.Get(1).(string)
			assert.Contains(t, sql, "DO NOTHING")
			assert.NotContains(t, sql, "DO UPDATE")
		}).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	require.NoError(t, repo.Upsert(context.Background(), marchPoint(), false))
	db.AssertExpectations(t)
}

func TestSeriesRepository_Upsert_Error(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSeriesRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("deadlock detected"))

	err := repo.Upsert(context.Background(), marchPoint(), true)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestSeriesRepository_ListRange(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSeriesRepository(db)

	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()
	rows := newMockRows([][]any{
		{"t-1", "revenue", ts, "monthly", false, 8000.0, 8000.0, now, now},
		{"t-1", "revenue", ts, "monthly", true, 10000.0, 10000.0, now, now},
	})

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	points, err := repo.ListRange(context.Background(), "t-1", "revenue", types.PeriodMonthly,
		ts.AddDate(-1, 0, 0), ts)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.False(t, points[0].IsGoal)
	assert.True(t, points[1].IsGoal)
	assert.Equal(t, 10000.0, points[1].Value)

	db.AssertExpectations(t)
}
