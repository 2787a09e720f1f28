package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Neno73/promidata-sync/internal/domain"
	"github.com/Neno73/promidata-sync/pkg/database"
	apperrors "github.com/Neno73/promidata-sync/pkg/errors"
)

// SupplierRepository implements repository.SupplierRepository using PostgreSQL.
type SupplierRepository struct {
	pool database.DBTX
}

// NewSupplierRepository creates a new PostgreSQL-backed supplier repository.
func NewSupplierRepository(pool database.DBTX) *SupplierRepository {
	return &SupplierRepository{pool: pool}
}

const supplierColumns = `id, code, name, is_active, auto_import, last_sync_at, last_sync_status, last_sync_message, created_at, updated_at`

// Create inserts a new supplier row.
func (r *SupplierRepository) Create(ctx context.Context, s *domain.Supplier) error {
	query := `
		INSERT INTO suppliers (id, code, name, is_active, auto_import, last_sync_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.Code, s.Name, s.IsActive, s.AutoImport, s.LastSyncStatus, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert supplier: %w", err)
	}
	return nil
}

// UpsertByCode inserts a supplier or refreshes its name by code. A supplier
// arriving without an id gets one assigned; the conflict clause never touches
// the id of an existing row.
func (r *SupplierRepository) UpsertByCode(ctx context.Context, s *domain.Supplier) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	query := `
		INSERT INTO suppliers (id, code, name, is_active, auto_import, last_sync_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.Code, s.Name, s.IsActive, s.AutoImport, s.LastSyncStatus, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert supplier: %w", err)
	}
	return nil
}

// GetByID retrieves a supplier by its ID.
func (r *SupplierRepository) GetByID(ctx context.Context, id string) (*domain.Supplier, error) {
	query := `SELECT ` + supplierColumns + ` FROM suppliers WHERE id = $1`
	return r.scanSupplier(ctx, query, id)
}

// GetByCode retrieves a supplier by its feed code.
func (r *SupplierRepository) GetByCode(ctx context.Context, code string) (*domain.Supplier, error) {
	query := `SELECT ` + supplierColumns + ` FROM suppliers WHERE code = $1`
	return r.scanSupplier(ctx, query, code)
}

// List returns suppliers ordered by code, optionally only active ones.
func (r *SupplierRepository) List(ctx context.Context, activeOnly bool) ([]domain.Supplier, error) {
	query := `SELECT ` + supplierColumns + ` FROM suppliers`
	if activeOnly {
		query += ` WHERE is_active = true`
	}
	query += ` ORDER BY code ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list suppliers: %w", err)
	}
	defer rows.Close()

	var suppliers []domain.Supplier
	for rows.Next() {
		var s domain.Supplier
		if err := scanSupplierRow(rows, &s); err != nil {
			return nil, fmt.Errorf("scan supplier row: %w", err)
		}
		suppliers = append(suppliers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate supplier rows: %w", err)
	}

	if suppliers == nil {
		suppliers = []domain.Supplier{}
	}
	return suppliers, nil
}

// UpdateSyncStatus writes the last sync status and message. Terminal statuses
// also stamp last_sync_at.
func (r *SupplierRepository) UpdateSyncStatus(ctx context.Context, id, status, message string) error {
	if !domain.IsValidSyncStatus(status) {
		return &apperrors.ValidationError{Field: "status", Reason: "unknown sync status " + status}
	}

	now := time.Now().UTC()
	query := `
		UPDATE suppliers
		SET last_sync_status = $1,
		    last_sync_message = $2,
		    last_sync_at = CASE WHEN $3 THEN $4 ELSE last_sync_at END,
		    updated_at = $4
		WHERE id = $5`

	terminal := status == domain.SyncStatusCompleted ||
		status == domain.SyncStatusFailed ||
		status == domain.SyncStatusCancelled

	ct, err := r.pool.Exec(ctx, query, status, message, terminal, now, id)
	if err != nil {
		return fmt.Errorf("update supplier sync status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *SupplierRepository) scanSupplier(ctx context.Context, query string, args ...any) (*domain.Supplier, error) {
	var s domain.Supplier
	err := scanSupplierRow(r.pool.QueryRow(ctx, query, args...), &s)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan supplier: %w", err)
	}
	return &s, nil
}

func scanSupplierRow(row pgx.Row, s *domain.Supplier) error {
	return row.Scan(
		&s.ID,
		&s.Code,
		&s.Name,
		&s.IsActive,
		&s.AutoImport,
		&s.LastSyncAt,
		&s.LastSyncStatus,
		&s.LastSyncMessage,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
}
