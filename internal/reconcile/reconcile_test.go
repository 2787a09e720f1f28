package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Neno73/promidata-sync/internal/domain"
	"github.com/Neno73/promidata-sync/internal/grouping"
	"github.com/Neno73/promidata-sync/internal/repository"
	apperrors "github.com/Neno73/promidata-sync/pkg/errors"
)

// --- Mock Repository ---

type mockProductRepository struct {
	mock.Mock
}

func (m *mockProductRepository) StoredHashes(ctx context.Context, supplierID string, familyKeys []string) (map[string]string, error) {
	args := m.Called(ctx, supplierID, familyKeys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

func (m *mockProductRepository) UpsertFamily(ctx context.Context, product *domain.Product, variants []domain.ProductVariant) (*repository.UpsertResult, error) {
	args := m.Called(ctx, product, variants)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.UpsertResult), args.Error(1)
}

func (m *mockProductRepository) RollbackHash(ctx context.Context, productID, previousHash string) error {
	args := m.Called(ctx, productID, previousHash)
	return args.Error(0)
}

func (m *mockProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Product), args.Error(1)
}

func (m *mockProductRepository) GetBySKU(ctx context.Context, supplierID, sku string) (*domain.Product, error) {
	args := m.Called(ctx, supplierID, sku)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Product), args.Error(1)
}

func (m *mockProductRepository) ClearHashes(ctx context.Context, supplierID string) (int64, error) {
	args := m.Called(ctx, supplierID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockProductRepository) SetMainImage(ctx context.Context, productID, mediaID string) error {
	args := m.Called(ctx, productID, mediaID)
	return args.Error(0)
}

func (m *mockProductRepository) SetVariantPrimaryImage(ctx context.Context, variantID, mediaID, url string) error {
	args := m.Called(ctx, variantID, mediaID, url)
	return args.Error(0)
}

func (m *mockProductRepository) AppendVariantGalleryImage(ctx context.Context, variantID, mediaID, url string) error {
	args := m.Called(ctx, variantID, mediaID, url)
	return args.Error(0)
}

func (m *mockProductRepository) SetGeminiSync(ctx context.Context, productID, fileURI, syncedHash string) error {
	args := m.Called(ctx, productID, fileURI, syncedHash)
	return args.Error(0)
}

func (m *mockProductRepository) RecentlyUpdated(ctx context.Context, since time.Time, limit int) ([]domain.Product, error) {
	args := m.Called(ctx, since, limit)
	return args.Get(0).([]domain.Product), args.Error(1)
}

type mockImagePlanner struct {
	mock.Mock
}

func (m *mockImagePlanner) PlanFamilyImages(ctx context.Context, result *repository.UpsertResult, variants []domain.VariantRecord) (int, error) {
	args := m.Called(ctx, result, variants)
	return args.Int(0), args.Error(1)
}

type mockEventPublisher struct {
	mock.Mock
}

func (m *mockEventPublisher) PublishProductUpserted(ctx context.Context, product *domain.Product, created bool) error {
	args := m.Called(ctx, product, created)
	return args.Error(0)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func family(key, manifestHash string, variants ...domain.VariantRecord) grouping.Family {
	return grouping.Family{
		Key:          key,
		Record:       domain.FamilyRecord{FamilyKey: key, SupplierCode: "A23"},
		Variants:     variants,
		ManifestHash: manifestHash,
	}
}

// --- FilterForSync ---

func TestFilterForSyncPartitionsByHash(t *testing.T) {
	repo := new(mockProductRepository)
	r := New(repo, nil, nil, newTestLogger())

	families := []grouping.Family{
		family("FAM-1", "h1"),
		family("FAM-2", "h2-new"),
		family("FAM-3", "h3"),
	}
	repo.On("StoredHashes", mock.Anything, "sup-1", []string{"FAM-1", "FAM-2", "FAM-3"}).
		Return(map[string]string{"FAM-1": "h1", "FAM-2": "h2-old"}, nil)

	result, err := r.FilterForSync(context.Background(), "sup-1", families)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.ToProcess, 2)
	assert.Equal(t, "FAM-2", result.ToProcess[0].Family.Key)
	assert.Equal(t, "h2-old", result.ToProcess[0].PreviousHash)
	assert.Equal(t, "FAM-3", result.ToProcess[1].Family.Key)
	assert.Empty(t, result.ToProcess[1].PreviousHash, "new family has no stored hash")
	assert.InDelta(t, 1.0/3.0, result.Efficiency, 1e-9)
	repo.AssertExpectations(t)
}

func TestFilterForSyncComputesHashWhenManifestHashMissing(t *testing.T) {
	repo := new(mockProductRepository)
	r := New(repo, nil, nil, newTestLogger())

	fam := family("FAM-1", "", domain.VariantRecord{SKU: "FAM-1-A"})
	computed := grouping.FamilyHash(fam.Record, fam.Variants)

	repo.On("StoredHashes", mock.Anything, "sup-1", []string{"FAM-1"}).
		Return(map[string]string{"FAM-1": computed}, nil)

	result, err := r.FilterForSync(context.Background(), "sup-1", []grouping.Family{fam})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, result.ToProcess)
}

func TestFilterForSyncEmptyInput(t *testing.T) {
	repo := new(mockProductRepository)
	r := New(repo, nil, nil, newTestLogger())

	result, err := r.FilterForSync(context.Background(), "sup-1", nil)
	require.NoError(t, err)
	assert.Zero(t, result.Total)
	assert.InDelta(t, 1.0, result.Efficiency, 1e-9)
	repo.AssertNotCalled(t, "StoredHashes")
}

// --- UpsertFamily ---

func upsertInput() FamilyInput {
	return FamilyInput{
		SupplierID: "sup-1",
		Family:     domain.FamilyRecord{FamilyKey: "FAM-1", SupplierCode: "A23", Category: "Bags"},
		Variants: []domain.VariantRecord{
			{SKU: "FAM-1-RED-S", Color: "Red", Size: "S", PrimaryImageURL: "A23/red.jpg"},
			{SKU: "FAM-1-RED-M", Color: "Red", Size: "M"},
			{SKU: "FAM-1-BLU-S", Color: "Blue", Size: "S"},
		},
		Hash:         "h-new",
		PreviousHash: "h-old",
	}
}

func TestUpsertFamilyMarksPrimaryPerColor(t *testing.T) {
	repo := new(mockProductRepository)
	planner := new(mockImagePlanner)
	events := new(mockEventPublisher)
	r := New(repo, planner, events, newTestLogger())

	var captured []domain.ProductVariant
	repo.On("UpsertFamily", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(2).([]domain.ProductVariant)
		}).
		Return(&repository.UpsertResult{Product: &domain.Product{ID: "prod-1"}, Created: true}, nil)
	planner.On("PlanFamilyImages", mock.Anything, mock.Anything, mock.Anything).Return(1, nil)
	events.On("PublishProductUpserted", mock.Anything, mock.Anything, true).Return(nil)

	result, err := r.UpsertFamily(context.Background(), upsertInput())
	require.NoError(t, err)
	require.NotNil(t, result)

	require.Len(t, captured, 3)
	assert.True(t, captured[0].IsPrimaryForColor, "first Red variant is primary")
	assert.False(t, captured[1].IsPrimaryForColor, "second Red variant is not")
	assert.True(t, captured[2].IsPrimaryForColor, "first Blue variant is primary")
	repo.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestUpsertFamilyZeroVariantsSkips(t *testing.T) {
	repo := new(mockProductRepository)
	r := New(repo, nil, nil, newTestLogger())

	in := upsertInput()
	in.Variants = nil

	result, err := r.UpsertFamily(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, result)
	repo.AssertNotCalled(t, "UpsertFamily")
}

func TestUpsertFamilyRetriesConflictOnce(t *testing.T) {
	repo := new(mockProductRepository)
	r := New(repo, nil, nil, newTestLogger())

	conflict := &apperrors.ConflictError{Entity: "product", Key: "FAM-1"}
	repo.On("UpsertFamily", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, conflict).Once()
	repo.On("UpsertFamily", mock.Anything, mock.Anything, mock.Anything).
		Return(&repository.UpsertResult{Product: &domain.Product{ID: "prod-1"}}, nil).Once()

	result, err := r.UpsertFamily(context.Background(), upsertInput())
	require.NoError(t, err)
	assert.NotNil(t, result)
	repo.AssertExpectations(t)
}

func TestUpsertFamilyRepeatedConflictEscalates(t *testing.T) {
	repo := new(mockProductRepository)
	r := New(repo, nil, nil, newTestLogger())

	conflict := &apperrors.ConflictError{Entity: "product", Key: "FAM-1"}
	repo.On("UpsertFamily", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, conflict).Twice()

	_, err := r.UpsertFamily(context.Background(), upsertInput())
	var fe *apperrors.FamilyError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "FAM-1", fe.FamilyKey)
	assert.Equal(t, PhaseUpsert, fe.Phase)
}

func TestUpsertFamilyImageFailureDoesNotFailFamily(t *testing.T) {
	repo := new(mockProductRepository)
	planner := new(mockImagePlanner)
	events := new(mockEventPublisher)
	r := New(repo, planner, events, newTestLogger())

	repo.On("UpsertFamily", mock.Anything, mock.Anything, mock.Anything).
		Return(&repository.UpsertResult{Product: &domain.Product{ID: "prod-1"}}, nil)
	planner.On("PlanFamilyImages", mock.Anything, mock.Anything, mock.Anything).
		Return(0, errors.New("queue unavailable"))
	events.On("PublishProductUpserted", mock.Anything, mock.Anything, false).Return(nil)

	_, err := r.UpsertFamily(context.Background(), upsertInput())
	assert.NoError(t, err)
	events.AssertExpectations(t)
}

func TestUpsertFamilyPublishFailureRollsBackHash(t *testing.T) {
	repo := new(mockProductRepository)
	events := new(mockEventPublisher)
	r := New(repo, nil, events, newTestLogger())

	repo.On("UpsertFamily", mock.Anything, mock.Anything, mock.Anything).
		Return(&repository.UpsertResult{Product: &domain.Product{ID: "prod-1"}}, nil)
	events.On("PublishProductUpserted", mock.Anything, mock.Anything, false).
		Return(errors.New("broker down"))
	repo.On("RollbackHash", mock.Anything, "prod-1", "h-old").Return(nil)

	_, err := r.UpsertFamily(context.Background(), upsertInput())
	var fe *apperrors.FamilyError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, PhasePublish, fe.Phase)
	repo.AssertCalled(t, "RollbackHash", mock.Anything, "prod-1", "h-old")
}
