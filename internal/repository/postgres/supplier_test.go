package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Neno73/promidata-sync/internal/domain"
	"github.com/Neno73/promidata-sync/pkg/database"
	apperrors "github.com/Neno73/promidata-sync/pkg/errors"
)

func setupSupplierRepo(t *testing.T) (*SupplierRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	return NewSupplierRepository(mock), mock
}

var supplierCols = []string{
	"id", "code", "name", "is_active", "auto_import",
	"last_sync_at", "last_sync_status", "last_sync_message", "created_at", "updated_at",
}

func sampleSupplier() domain.Supplier {
	return domain.Supplier{
		ID:             "sup-1",
		Code:           "A23",
		Name:           "Supplier A23",
		IsActive:       true,
		AutoImport:     true,
		LastSyncStatus: domain.SyncStatusIdle,
		CreatedAt:      time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC),
	}
}

func supplierRow(s domain.Supplier) *pgxmock.Rows {
	return pgxmock.NewRows(supplierCols).AddRow(
		s.ID, s.Code, s.Name, s.IsActive, s.AutoImport,
		s.LastSyncAt, s.LastSyncStatus, s.LastSyncMessage, s.CreatedAt, s.UpdatedAt,
	)
}

func TestSupplierRepository_Create(t *testing.T) {
	repo, mock := setupSupplierRepo(t)
	defer mock.Close()

	s := sampleSupplier()
	mock.ExpectExec("INSERT INTO suppliers").
		WithArgs(s.ID, s.Code, s.Name, s.IsActive, s.AutoImport, s.LastSyncStatus, s.CreatedAt, s.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), &s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSupplierRepository_GetByCode(t *testing.T) {
	repo, mock := setupSupplierRepo(t)
	defer mock.Close()

	s := sampleSupplier()
	mock.ExpectQuery("SELECT .+ FROM suppliers WHERE code").
		WithArgs("A23").
		WillReturnRows(supplierRow(s))

	got, err := repo.GetByCode(context.Background(), "A23")
	require.NoError(t, err)
	assert.Equal(t, "sup-1", got.ID)
	assert.Equal(t, "A23", got.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSupplierRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := setupSupplierRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM suppliers WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(supplierCols))

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSupplierRepository_List_ActiveOnly(t *testing.T) {
	repo, mock := setupSupplierRepo(t)
	defer mock.Close()

	s := sampleSupplier()
	mock.ExpectQuery("SELECT .+ FROM suppliers WHERE is_active = true ORDER BY code").
		WillReturnRows(supplierRow(s))

	list, err := repo.List(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "A23", list[0].Code)
}

func TestSupplierRepository_List_EmptyReturnsSlice(t *testing.T) {
	repo, mock := setupSupplierRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM suppliers ORDER BY code").
		WillReturnRows(pgxmock.NewRows(supplierCols))

	list, err := repo.List(context.Background(), false)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestSupplierRepository_UpdateSyncStatus(t *testing.T) {
	repo, mock := setupSupplierRepo(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE suppliers").
		WithArgs(domain.SyncStatusCompleted, "42 families", true, pgxmock.AnyArg(), "sup-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.UpdateSyncStatus(context.Background(), "sup-1", domain.SyncStatusCompleted, "42 families")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSupplierRepository_UpdateSyncStatus_RunningDoesNotStampSyncTime(t *testing.T) {
	repo, mock := setupSupplierRepo(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE suppliers").
		WithArgs(domain.SyncStatusRunning, "", false, pgxmock.AnyArg(), "sup-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.UpdateSyncStatus(context.Background(), "sup-1", domain.SyncStatusRunning, ""))
}

func TestSupplierRepository_UpdateSyncStatus_UnknownStatus(t *testing.T) {
	repo, mock := setupSupplierRepo(t)
	defer mock.Close()

	err := repo.UpdateSyncStatus(context.Background(), "sup-1", "bogus", "")
	var ve *apperrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestSupplierRepository_UpdateSyncStatus_NotFound(t *testing.T) {
	repo, mock := setupSupplierRepo(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE suppliers").
		WithArgs(domain.SyncStatusFailed, "boom", true, pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.UpdateSyncStatus(context.Background(), "missing", domain.SyncStatusFailed, "boom")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSupplierRepository_UpsertByCode_AssignsMissingID(t *testing.T) {
	repo, mock := setupSupplierRepo(t)
	defer mock.Close()

	s := sampleSupplier()
	s.ID = ""
	mock.ExpectExec("INSERT INTO suppliers").
		WithArgs(pgxmock.AnyArg(), s.Code, s.Name, s.IsActive, s.AutoImport, s.LastSyncStatus, s.CreatedAt, s.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.UpsertByCode(context.Background(), &s))
	assert.NotEmpty(t, s.ID, "seeded suppliers must not share the empty-string primary key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSupplierRepository_UpsertByCode_ExecError(t *testing.T) {
	repo, mock := setupSupplierRepo(t)
	defer mock.Close()

	s := sampleSupplier()
	mock.ExpectExec("INSERT INTO suppliers").
		WithArgs(s.ID, s.Code, s.Name, s.IsActive, s.AutoImport, s.LastSyncStatus, s.CreatedAt, s.UpdatedAt).
		WillReturnError(errors.New("connection reset"))

	assert.Error(t, repo.UpsertByCode(context.Background(), &s))
}
