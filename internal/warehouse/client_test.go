package warehouse

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/types"
)

// ============================================================
// Mock Implementations
// ============================================================

// mockRow implements pgx.Row.
type mockRow struct {
	scanFn func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFn(dest...) }

// mockTx implements pgx.Tx with recording of executed statements.
type mockTx struct {
	execStatements []string
	execErr        error
	row            *mockRow
	queryErr       error
	committed      bool
	rolledBack     bool
}

func (t *mockTx) Begin(_ context.Context) (pgx.Tx, error) { return t, nil }
func (t *mockTx) Commit(_ context.Context) error {
	t.committed = true
	return nil
}
func (t *mockTx) Rollback(_ context.Context) error {
	t.rolledBack = true
	return nil
}
func (t *mockTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *mockTx) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }
func (t *mockTx) LargeObjects() pgx.LargeObjects                             { return pgx.LargeObjects{} }
func (t *mockTx) Prepare(_ context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *mockTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.execStatements = append(t.execStatements, sql)
	return pgconn.CommandTag{}, t.execErr
}
func (t *mockTx) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, t.queryErr
}
func (t *mockTx) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	if t.row != nil {
		return t.row
	}
	return &mockRow{scanFn: func(dest ...any) error { return pgx.ErrNoRows }}
}
func (t *mockTx) Conn() *pgx.Conn { return nil }

// mockPool implements Pool.
type mockPool struct {
	tx       *mockTx
	beginErr error
}

func (p *mockPool) Begin(_ context.Context) (pgx.Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	return p.tx, nil
}

func testTenant() *types.Tenant {
	return &types.Tenant{ID: "t-1", Slug: "acme", DatabaseName: "acme_db"}
}

// ============================================================
// Tests
// ============================================================

func TestValidIdentifier(t *testing.T) {
	assert.True(t, ValidIdentifier("core_quickbooks_revenue"))
	assert.True(t, ValidIdentifier("AMOUNT"))
	assert.False(t, ValidIdentifier(""))
	assert.False(t, ValidIdentifier("orders; DROP TABLE users"))
	assert.False(t, ValidIdentifier(`orders" --`))
	assert.False(t, ValidIdentifier("1orders"))
}

func TestQueryValuePinsTenantSchema(t *testing.T) {
	scanned := 123.45
	tx := &mockTx{row: &mockRow{scanFn: func(dest ...any) error {
		*(dest[0].(**float64)) = &scanned
		return nil
	}}}
	c := NewClient(&mockPool{tx: tx}, nil)

	got, err := c.QueryValue(context.Background(), testTenant(), "SELECT SUM(amount) FROM orders")

	require.NoError(t, err)
	assert.Equal(t, 123.45, got)
	require.NotEmpty(t, tx.execStatements)
	assert.Equal(t, `SET LOCAL search_path TO "acme_db"`, tx.execStatements[0])
	assert.True(t, tx.committed)
}

func TestQueryValueDerivesSchemaFromSlug(t *testing.T) {
	tx := &mockTx{}
	c := NewClient(&mockPool{tx: tx}, nil)
	tenant := &types.Tenant{ID: "t-2", Slug: "Globex"}

	_, err := c.QueryValue(context.Background(), tenant, "SELECT 1")

	require.NoError(t, err)
	assert.Equal(t, `SET LOCAL search_path TO "globex_db"`, tx.execStatements[0])
}

func TestQueryValueRejectsUnsafeSchema(t *testing.T) {
	c := NewClient(&mockPool{tx: &mockTx{}}, nil)
	tenant := &types.Tenant{ID: "t-3", DatabaseName: `evil"; DROP SCHEMA core`}

	_, err := c.QueryValue(context.Background(), tenant, "SELECT 1")

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationInvalidIdentifier, appErr.Code)
}

func TestQueryValueNullAndMissingRowsYieldZero(t *testing.T) {
	// NULL aggregate.
	tx := &mockTx{row: &mockRow{scanFn: func(dest ...any) error {
		*(dest[0].(**float64)) = nil
		return nil
	}}}
	c := NewClient(&mockPool{tx: tx}, nil)
	got, err := c.QueryValue(context.Background(), testTenant(), "SELECT SUM(amount) FROM orders")
	require.NoError(t, err)
	assert.Zero(t, got)

	// No rows at all.
	c = NewClient(&mockPool{tx: &mockTx{}}, nil)
	got, err = c.QueryValue(context.Background(), testTenant(), "SELECT amount FROM orders LIMIT 1")
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestQueryValueMapsDriverError(t *testing.T) {
	tx := &mockTx{row: &mockRow{scanFn: func(_ ...any) error {
		return errors.New("relation does not exist")
	}}}
	c := NewClient(&mockPool{tx: tx}, nil)

	_, err := c.QueryValue(context.Background(), testTenant(), "SELECT SUM(x) FROM missing")

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamWarehouse, appErr.Code)
	assert.True(t, tx.rolledBack)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	pool := &mockPool{beginErr: errors.New("connection refused")}
	c := NewClient(pool, nil)

	// Six consecutive failures trip the breaker.
	for i := 0; i < 6; i++ {
		_, err := c.QueryValue(context.Background(), testTenant(), "SELECT 1")
		require.Error(t, err)
	}

	_, err := c.QueryValue(context.Background(), testTenant(), "SELECT 1")
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamBreaker, appErr.Code)
}

func TestQuerySeriesScansBuckets(t *testing.T) {
	// QuerySeries goes through tx.Query; simulate failure path and the
	// isolation pin. Row iteration is covered by evaluator tests with a
	// higher-level mock.
	tx := &mockTx{queryErr: errors.New("syntax error")}
	c := NewClient(&mockPool{tx: tx}, nil)

	_, err := c.QuerySeries(context.Background(), testTenant(), "SELECT day, SUM(v) FROM t GROUP BY 1")

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamWarehouse, appErr.Code)
	assert.Equal(t, `SET LOCAL search_path TO "acme_db"`, tx.execStatements[0])
}
