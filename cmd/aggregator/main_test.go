package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/config"
	"pulse/internal/etl"
	"pulse/internal/scheduler"
	"pulse/internal/types"
)

type stubTenantLister struct {
	tenants []types.Tenant
	err     error
}

func (s *stubTenantLister) ListActive(_ context.Context) ([]types.Tenant, error) {
	return s.tenants, s.err
}

type noopRunner struct{}

func (noopRunner) Run(_ context.Context, tenantID string, p types.PeriodType, _ bool) etl.RunResult {
	return etl.RunResult{TenantID: tenantID, PeriodType: p, Success: true}
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "local",
		Service:     "pulse-aggregator",
		LogLevel:    "info",
		Scheduler: config.SchedulerConfig{
			Enabled:            true,
			TickInterval:       time.Minute,
			RetryBackoff:       5 * time.Minute,
			JobIntervalMinutes: 60,
		},
	}
}

func TestSeedJobs(t *testing.T) {
	sched := scheduler.New(scheduler.Config{Runner: noopRunner{}, Enabled: true})
	lister := &stubTenantLister{tenants: []types.Tenant{
		{ID: "t-1", Slug: "acme", Status: types.TenantStatusActive},
		{ID: "t-2", Slug: "globex", Status: types.TenantStatusActive},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := seedJobs(context.Background(), sched, lister, testConfig(), logger)

	require.NoError(t, err)
	jobs := sched.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "t-1", jobs[0].TenantID)
	assert.Equal(t, 60, jobs[0].IntervalMinutes)
	assert.Equal(t, types.AllPeriods, jobs[0].Periods)
}

func TestSeedJobs_ListFailure(t *testing.T) {
	sched := scheduler.New(scheduler.Config{Runner: noopRunner{}, Enabled: true})
	lister := &stubTenantLister{err: errors.New("connection refused")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := seedJobs(context.Background(), sched, lister, testConfig(), logger)

	require.Error(t, err)
	assert.Empty(t, sched.ListJobs())
}

func TestNewLoggerLevels(t *testing.T) {
	cfg := testConfig()
	cfg.LogLevel = "debug"
	logger := newLogger(cfg)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	cfg.LogLevel = "error"
	logger = newLogger(cfg)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelError))

	cfg.LogLevel = "unknown"
	logger = newLogger(cfg)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}
