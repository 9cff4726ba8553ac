package etl

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/metrics"
	"pulse/internal/types"
)

var runNow = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

// ============================================================
// Mock Implementations
// ============================================================

type mockTenants struct {
	tenant *types.Tenant
	err    error
}

func (m *mockTenants) Get(_ context.Context, _ string) (*types.Tenant, error) {
	return m.tenant, m.err
}

type mockRegistry struct {
	defs      []types.MetricDefinition
	listErr   error
	marked    []string
	markErr   error
}

func (m *mockRegistry) ListActive(_ context.Context, _ string) ([]types.MetricDefinition, error) {
	return m.defs, m.listErr
}

func (m *mockRegistry) MarkCalculated(_ context.Context, metricID string, _ time.Time) error {
	m.marked = append(m.marked, metricID)
	return m.markErr
}

// pointKey is the logical time-series key.
type pointKey struct {
	TenantID   string
	MetricKey  string
	Timestamp  time.Time
	PeriodType types.PeriodType
	IsGoal     bool
}

// mockSeries stores points by logical key, mirroring the repository's
// ON CONFLICT behavior.
type mockSeries struct {
	points    map[pointKey]*types.TimeSeriesPoint
	upsertErr error
	// failOnGoal makes only goal-point writes fail, for partial-failure tests.
	failOnGoal bool
	writes     int
}

func newMockSeries() *mockSeries {
	return &mockSeries{points: map[pointKey]*types.TimeSeriesPoint{}}
}

func (m *mockSeries) Upsert(_ context.Context, p *types.TimeSeriesPoint, overwrite bool) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if m.failOnGoal && p.IsGoal {
		return errors.New("write failed")
	}
	m.writes++
	key := pointKey{p.TenantID, p.MetricKey, p.Timestamp, p.PeriodType, p.IsGoal}
	if _, exists := m.points[key]; exists && !overwrite {
		return nil
	}
	cp := *p
	m.points[key] = &cp
	return nil
}

// mockEvaluator returns canned evaluations keyed by metric key.
type mockEvaluator struct {
	evals map[string]metrics.Evaluation
}

func (m *mockEvaluator) Evaluate(_ context.Context, _ *types.Tenant, def *types.MetricDefinition, p types.PeriodType, now time.Time) metrics.Evaluation {
	if e, ok := m.evals[def.Key]; ok {
		return e
	}
	return metrics.Evaluation{MetricKey: def.Key}
}

func marchWindow() types.PeriodWindow {
	return types.PeriodWindow{
		Start: time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, time.March, 31, 23, 59, 59, 0, time.UTC),
		Type:  types.PeriodMonthly,
	}
}

func testRunner(series *mockSeries, registry *mockRegistry, evaluator Evaluator) *Runner {
	return NewRunner(RunnerConfig{
		Tenants:   &mockTenants{tenant: &types.Tenant{ID: "t-1", Slug: "acme"}},
		Registry:  registry,
		Series:    series,
		Evaluator: evaluator,
		NowFn:     func() time.Time { return runNow },
	})
}

func revenueDefs() []types.MetricDefinition {
	return []types.MetricDefinition{{
		ID:       "m-1",
		TenantID: "t-1",
		Key:      "revenue",
		Status:   types.MetricStatusActive,
	}}
}

// ============================================================
// Tests
// ============================================================

func TestRunWritesActualAndGoalPoints(t *testing.T) {
	series := newMockSeries()
	registry := &mockRegistry{defs: revenueDefs()}
	evaluator := &mockEvaluator{evals: map[string]metrics.Evaluation{
		"revenue": {MetricKey: "revenue", Window: marchWindow(), CurrentValue: 8000, GoalValue: 10000, Percentage: 80},
	}}
	r := testRunner(series, registry, evaluator)

	result := r.Run(context.Background(), "t-1", types.PeriodMonthly, true)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.MetricsProcessed)
	assert.Zero(t, result.WriteFailures)
	require.Len(t, series.points, 2)

	actual := series.points[pointKey{"t-1", "revenue", marchWindow().Start, types.PeriodMonthly, false}]
	require.NotNil(t, actual)
	assert.Equal(t, 8000.0, actual.Value)

	goal := series.points[pointKey{"t-1", "revenue", marchWindow().Start, types.PeriodMonthly, true}]
	require.NotNil(t, goal)
	assert.Equal(t, 10000.0, goal.Value)

	assert.Equal(t, []string{"m-1"}, registry.marked)
}

func TestRunIdempotentWithForceRefresh(t *testing.T) {
	series := newMockSeries()
	registry := &mockRegistry{defs: revenueDefs()}
	evaluator := &mockEvaluator{evals: map[string]metrics.Evaluation{
		"revenue": {MetricKey: "revenue", Window: marchWindow(), CurrentValue: 8000, GoalValue: 10000},
	}}
	r := testRunner(series, registry, evaluator)

	first := r.Run(context.Background(), "t-1", types.PeriodMonthly, true)
	second := r.Run(context.Background(), "t-1", types.PeriodMonthly, true)

	assert.True(t, first.Success)
	assert.True(t, second.Success)
	// Re-running must not create a second row for March.
	assert.Len(t, series.points, 2)
}

func TestRunForceRefreshOverwritesValues(t *testing.T) {
	series := newMockSeries()
	registry := &mockRegistry{defs: revenueDefs()}
	evaluator := &mockEvaluator{evals: map[string]metrics.Evaluation{
		"revenue": {MetricKey: "revenue", Window: marchWindow(), CurrentValue: 8000, GoalValue: 10000},
	}}
	r := testRunner(series, registry, evaluator)
	r.Run(context.Background(), "t-1", types.PeriodMonthly, true)

	evaluator.evals["revenue"] = metrics.Evaluation{
		MetricKey: "revenue", Window: marchWindow(), CurrentValue: 9500, GoalValue: 10000,
	}
	r.Run(context.Background(), "t-1", types.PeriodMonthly, true)

	actual := series.points[pointKey{"t-1", "revenue", marchWindow().Start, types.PeriodMonthly, false}]
	assert.Equal(t, 9500.0, actual.Value)
}

func TestRunWithoutForceRefreshKeepsExistingPoints(t *testing.T) {
	series := newMockSeries()
	registry := &mockRegistry{defs: revenueDefs()}
	evaluator := &mockEvaluator{evals: map[string]metrics.Evaluation{
		"revenue": {MetricKey: "revenue", Window: marchWindow(), CurrentValue: 8000, GoalValue: 10000},
	}}
	r := testRunner(series, registry, evaluator)
	r.Run(context.Background(), "t-1", types.PeriodMonthly, false)

	evaluator.evals["revenue"] = metrics.Evaluation{
		MetricKey: "revenue", Window: marchWindow(), CurrentValue: 9500, GoalValue: 10000,
	}
	r.Run(context.Background(), "t-1", types.PeriodMonthly, false)

	actual := series.points[pointKey{"t-1", "revenue", marchWindow().Start, types.PeriodMonthly, false}]
	assert.Equal(t, 8000.0, actual.Value)
	assert.Len(t, series.points, 2)
}

func TestRunDegradedMetricsDoNotFailTheRun(t *testing.T) {
	series := newMockSeries()
	registry := &mockRegistry{defs: revenueDefs()}
	evaluator := &mockEvaluator{evals: map[string]metrics.Evaluation{
		"revenue": {MetricKey: "revenue", Window: marchWindow(), Degraded: true, GoalValue: 10000},
	}}
	r := testRunner(series, registry, evaluator)

	result := r.Run(context.Background(), "t-1", types.PeriodMonthly, true)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.MetricsDegraded)
	// A zero point is still written so the dashboard has a row to show.
	actual := series.points[pointKey{"t-1", "revenue", marchWindow().Start, types.PeriodMonthly, false}]
	require.NotNil(t, actual)
	assert.Zero(t, actual.Value)
}

func TestRunWriteFailureSurfacesInResult(t *testing.T) {
	series := newMockSeries()
	series.upsertErr = errors.New("disk full")
	registry := &mockRegistry{defs: revenueDefs()}
	evaluator := &mockEvaluator{evals: map[string]metrics.Evaluation{
		"revenue": {MetricKey: "revenue", Window: marchWindow(), CurrentValue: 1, GoalValue: 2},
	}}
	r := testRunner(series, registry, evaluator)

	result := r.Run(context.Background(), "t-1", types.PeriodMonthly, true)

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.WriteFailures)
	assert.Contains(t, result.Message, "write failures")
	assert.Empty(t, registry.marked, "failed metrics are not stamped")
}

func TestRunOneWriteFailureDoesNotStopOtherMetrics(t *testing.T) {
	series := newMockSeries()
	series.failOnGoal = true
	defs := revenueDefs()
	defs = append(defs, types.MetricDefinition{ID: "m-2", TenantID: "t-1", Key: "expenses", Status: types.MetricStatusActive})
	registry := &mockRegistry{defs: defs}
	evaluator := &mockEvaluator{evals: map[string]metrics.Evaluation{
		"revenue":  {MetricKey: "revenue", Window: marchWindow(), CurrentValue: 1, GoalValue: 2},
		"expenses": {MetricKey: "expenses", Window: marchWindow(), CurrentValue: 3, GoalValue: 4},
	}}
	r := testRunner(series, registry, evaluator)

	result := r.Run(context.Background(), "t-1", types.PeriodMonthly, true)

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.MetricsProcessed)
	assert.Equal(t, 2, result.WriteFailures)
}

func TestRunTenantLookupFailure(t *testing.T) {
	r := NewRunner(RunnerConfig{
		Tenants:   &mockTenants{err: errors.New("not found")},
		Registry:  &mockRegistry{},
		Series:    newMockSeries(),
		Evaluator: &mockEvaluator{},
		NowFn:     func() time.Time { return runNow },
	})

	result := r.Run(context.Background(), "missing", types.PeriodMonthly, false)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "loading tenant")
}

func TestRunNoActiveMetricsSucceeds(t *testing.T) {
	r := testRunner(newMockSeries(), &mockRegistry{}, &mockEvaluator{})

	result := r.Run(context.Background(), "t-1", types.PeriodMonthly, false)

	assert.True(t, result.Success)
	assert.Equal(t, "no active metrics", result.Message)
}

func TestRunInvalidPeriod(t *testing.T) {
	r := testRunner(newMockSeries(), &mockRegistry{defs: revenueDefs()}, &mockEvaluator{})

	result := r.Run(context.Background(), "t-1", types.PeriodType("hourly"), false)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "unknown period type")
}

func TestRunTenantIsolation(t *testing.T) {
	// Two tenants with identical metric keys and source relations must land
	// on distinct logical keys.
	series := newMockSeries()
	evaluator := &mockEvaluator{evals: map[string]metrics.Evaluation{
		"revenue": {MetricKey: "revenue", Window: marchWindow(), CurrentValue: 100, GoalValue: 200},
	}}

	for _, tenantID := range []string{"t-a", "t-b"} {
		r := NewRunner(RunnerConfig{
			Tenants: &mockTenants{tenant: &types.Tenant{ID: tenantID, Slug: fmt.Sprintf("slug-%s", tenantID)}},
			Registry: &mockRegistry{defs: []types.MetricDefinition{{
				ID: "m-1", TenantID: tenantID, Key: "revenue", Status: types.MetricStatusActive,
			}}},
			Series:    series,
			Evaluator: evaluator,
			NowFn:     func() time.Time { return runNow },
		})
		result := r.Run(context.Background(), tenantID, types.PeriodMonthly, true)
		require.True(t, result.Success)
	}

	assert.Len(t, series.points, 4, "two tenants, one actual and one goal point each")
	assert.NotNil(t, series.points[pointKey{"t-a", "revenue", marchWindow().Start, types.PeriodMonthly, false}])
	assert.NotNil(t, series.points[pointKey{"t-b", "revenue", marchWindow().Start, types.PeriodMonthly, false}])
}
