// Package warehouse is the anti-corruption layer between the aggregation
// engine and the tenant analytics store. All reads of tenant business data go
// through the Client, which enforces the two store-level guarantees the
// engine relies on:
//
//   - Tenant isolation: every query runs in a transaction whose search_path
//     is pinned to the calling tenant's own schema, so relation names in
//     metric definitions can only resolve inside that tenant's namespace.
//   - Resilience: calls are wrapped in a circuit breaker so a dead warehouse
//     fails fast instead of stalling every scheduler tick.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sony/gobreaker/v2"

	"pulse/internal/types"
)

// identPattern is the allowlist for schema, relation, and column names that
// may be interpolated into query text. Anything else is rejected before a
// query is built. Window bounds and other values are always bound parameters.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s is safe to use as a SQL identifier.
func ValidIdentifier(s string) bool {
	return s != "" && len(s) <= 63 && identPattern.MatchString(s)
}

// QuoteIdentifier validates s against the identifier allowlist and returns it
// double-quoted. It returns an AppError for anything outside the allowlist.
func QuoteIdentifier(s string) (string, error) {
	if !ValidIdentifier(s) {
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidIdentifier,
			"identifier is not allowlisted",
			nil,
			map[string]any{"identifier": s},
		)
	}
	return `"` + s + `"`, nil
}

// SeriesRow is one bucketed row returned by QuerySeries.
type SeriesRow struct {
	Bucket time.Time
	Value  float64
}

// Pool is the subset of *pgxpool.Pool the client needs. An interface keeps
// the client testable without a live database.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Client executes tenant-scoped reads against the analytics warehouse.
type Client struct {
	pool    Pool
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewClient creates a warehouse Client with its own circuit breaker. The
// breaker opens after five consecutive failures and probes again after 30s,
// matching the engine's tolerance for a warehouse outage: scheduled runs
// fail fast and are retried on the scheduler's backoff cadence.
func NewClient(pool Pool, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "warehouse",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &Client{pool: pool, breaker: cb, logger: logger}
}

// QueryValue runs an aggregate query expected to return a single numeric row
// inside the tenant's namespace. A NULL or empty result yields 0, matching
// COALESCE semantics the dashboard expects.
func (c *Client) QueryValue(ctx context.Context, tenant *types.Tenant, query string, args ...any) (float64, error) {
	v, err := c.execute(ctx, tenant, func(tx pgx.Tx) (any, error) {
		var value *float64
		if err := tx.QueryRow(ctx, query, args...).Scan(&value); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0.0, nil
			}
			return nil, err
		}
		if value == nil {
			return 0.0, nil
		}
		return *value, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// QuerySeries runs a grouped query returning (bucket timestamp, value) rows
// inside the tenant's namespace, for trend chart population.
func (c *Client) QuerySeries(ctx context.Context, tenant *types.Tenant, query string, args ...any) ([]SeriesRow, error) {
	v, err := c.execute(ctx, tenant, func(tx pgx.Tx) (any, error) {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []SeriesRow
		for rows.Next() {
			var r SeriesRow
			var value *float64
			if err := rows.Scan(&r.Bucket, &value); err != nil {
				return nil, err
			}
			if value != nil {
				r.Value = *value
			}
			out = append(out, r)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]SeriesRow), nil
}

// execute wraps fn in the circuit breaker and a transaction pinned to the
// tenant's schema. SET LOCAL scopes the search_path to the transaction, so
// pooled connections never leak one tenant's namespace into another's query.
func (c *Client) execute(ctx context.Context, tenant *types.Tenant, fn func(pgx.Tx) (any, error)) (any, error) {
	if tenant == nil {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "tenant is required for warehouse queries", nil)
	}
	schema, err := QuoteIdentifier(tenant.Schema())
	if err != nil {
		return nil, err
	}

	v, err := c.breaker.Execute(func() (any, error) {
		tx, err := c.pool.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("beginning warehouse transaction: %w", err)
		}
		defer tx.Rollback(ctx) //nolint:errcheck

		if _, err := tx.Exec(ctx, "SET LOCAL search_path TO "+schema); err != nil {
			return nil, fmt.Errorf("pinning search_path to %s: %w", schema, err)
		}

		out, err := fn(tx)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("committing warehouse transaction: %w", err)
		}
		return out, nil
	})
	if err != nil {
		return nil, c.mapError(ctx, tenant, err)
	}
	return v, nil
}

// mapError translates breaker and driver failures into the AppError taxonomy.
func (c *Client) mapError(ctx context.Context, tenant *types.Tenant, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.logger.WarnContext(ctx, "warehouse circuit open, rejecting query",
			"tenant_id", tenant.ID,
		)
		return types.NewAppError(types.ErrCodeUpstreamBreaker, "warehouse circuit breaker is open", err)
	}
	return types.NewAppError(types.ErrCodeUpstreamWarehouse, "warehouse query failed", err)
}
