package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"pulse/internal/types"
)

// TenantRepository provides data access for the tenants table.
type TenantRepository struct {
	db DBTX
}

// NewTenantRepository creates a new TenantRepository backed by the given
// database connection (pool or transaction).
func NewTenantRepository(db DBTX) *TenantRepository {
	return &TenantRepository{db: db}
}

// tenantColumns defines the standard set of columns selected for tenant
// queries. Used consistently across all query methods to avoid column drift.
const tenantColumns = `t.id, t.name, t.slug, t.database_name, t.status, t.created_at`

// scanTenant scans a single tenant row. The columns must match the order
// defined in tenantColumns.
func scanTenant(row pgx.Row) (*types.Tenant, error) {
	var tenant types.Tenant
	var databaseName *string

	err := row.Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.Slug,
		&databaseName,
		&tenant.Status,
		&tenant.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if databaseName != nil {
		tenant.DatabaseName = *databaseName
	}
	return &tenant, nil
}

// Create inserts a new tenant record. The caller must set the ID and slug
// before calling; database_name may be empty, in which case the warehouse
// namespace is derived from the slug at query time.
func (r *TenantRepository) Create(ctx context.Context, tenant *types.Tenant) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO tenants (id, name, slug, database_name, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		tenant.ID,
		tenant.Name,
		tenant.Slug,
		nilIfEmpty(tenant.DatabaseName),
		tenant.Status,
		nilIfZeroTime(tenant.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create tenant", err)
	}
	return nil
}

// Get retrieves a tenant by its ID. Returns ErrCodeNotFoundTenant when no
// such tenant exists.
func (r *TenantRepository) Get(ctx context.Context, id string) (*types.Tenant, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+tenantColumns+`
		 FROM tenants t
		 WHERE t.id = $1`,
		id,
	)

	tenant, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTenant, "tenant not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve tenant", err)
	}
	return tenant, nil
}

// ListActive returns every active tenant ordered by creation time. Used at
// startup to seed the scheduler's job table.
func (r *TenantRepository) ListActive(ctx context.Context) ([]types.Tenant, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+tenantColumns+`
		 FROM tenants t
		 WHERE t.status = $1
		 ORDER BY t.created_at`,
		types.TenantStatusActive,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list tenants", err)
	}
	defer rows.Close()

	var tenants []types.Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan tenant row", err)
		}
		tenants = append(tenants, *tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate tenant rows", err)
	}
	return tenants, nil
}
