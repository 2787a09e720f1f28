package cron

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Neno73/promidata-sync/internal/domain"
	"github.com/Neno73/promidata-sync/internal/indexer"
	"github.com/Neno73/promidata-sync/internal/lock"
	"github.com/Neno73/promidata-sync/internal/queue"
	"github.com/Neno73/promidata-sync/internal/repository"
)

type mockSupplierRepo struct {
	mock.Mock
}

func (m *mockSupplierRepo) Create(ctx context.Context, supplier *domain.Supplier) error {
	args := m.Called(ctx, supplier)
	return args.Error(0)
}

func (m *mockSupplierRepo) UpsertByCode(ctx context.Context, supplier *domain.Supplier) error {
	args := m.Called(ctx, supplier)
	return args.Error(0)
}

func (m *mockSupplierRepo) GetByID(ctx context.Context, id string) (*domain.Supplier, error) {
	args := m.Called(ctx, id)
	if s := args.Get(0); s != nil {
		return s.(*domain.Supplier), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSupplierRepo) GetByCode(ctx context.Context, code string) (*domain.Supplier, error) {
	args := m.Called(ctx, code)
	if s := args.Get(0); s != nil {
		return s.(*domain.Supplier), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSupplierRepo) List(ctx context.Context, activeOnly bool) ([]domain.Supplier, error) {
	args := m.Called(ctx, activeOnly)
	if s := args.Get(0); s != nil {
		return s.([]domain.Supplier), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSupplierRepo) UpdateSyncStatus(ctx context.Context, id, status, message string) error {
	args := m.Called(ctx, id, status, message)
	return args.Error(0)
}

type mockProductRepo struct {
	mock.Mock
}

func (m *mockProductRepo) StoredHashes(ctx context.Context, supplierID string, familyKeys []string) (map[string]string, error) {
	args := m.Called(ctx, supplierID, familyKeys)
	if h := args.Get(0); h != nil {
		return h.(map[string]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProductRepo) UpsertFamily(ctx context.Context, product *domain.Product, variants []domain.ProductVariant) (*repository.UpsertResult, error) {
	args := m.Called(ctx, product, variants)
	if r := args.Get(0); r != nil {
		return r.(*repository.UpsertResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProductRepo) RollbackHash(ctx context.Context, productID, previousHash string) error {
	args := m.Called(ctx, productID, previousHash)
	return args.Error(0)
}

func (m *mockProductRepo) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	args := m.Called(ctx, id)
	if p := args.Get(0); p != nil {
		return p.(*domain.Product), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProductRepo) GetBySKU(ctx context.Context, supplierID, sku string) (*domain.Product, error) {
	args := m.Called(ctx, supplierID, sku)
	if p := args.Get(0); p != nil {
		return p.(*domain.Product), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProductRepo) ClearHashes(ctx context.Context, supplierID string) (int64, error) {
	args := m.Called(ctx, supplierID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockProductRepo) SetMainImage(ctx context.Context, productID, mediaID string) error {
	args := m.Called(ctx, productID, mediaID)
	return args.Error(0)
}

func (m *mockProductRepo) SetVariantPrimaryImage(ctx context.Context, variantID, mediaID, url string) error {
	args := m.Called(ctx, variantID, mediaID, url)
	return args.Error(0)
}

func (m *mockProductRepo) AppendVariantGalleryImage(ctx context.Context, variantID, mediaID, url string) error {
	args := m.Called(ctx, variantID, mediaID, url)
	return args.Error(0)
}

func (m *mockProductRepo) SetGeminiSync(ctx context.Context, productID, fileURI, syncedHash string) error {
	args := m.Called(ctx, productID, fileURI, syncedHash)
	return args.Error(0)
}

func (m *mockProductRepo) RecentlyUpdated(ctx context.Context, since time.Time, limit int) ([]domain.Product, error) {
	args := m.Called(ctx, since, limit)
	if p := args.Get(0); p != nil {
		return p.([]domain.Product), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Index(ctx context.Context, doc *indexer.ProductDocument) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *mockEngine) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockEngine) BulkIndex(ctx context.Context, docs []indexer.ProductDocument) error {
	args := m.Called(ctx, docs)
	return args.Error(0)
}

func (m *mockEngine) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type fixture struct {
	scheduler *Scheduler
	suppliers *mockSupplierRepo
	products  *mockProductRepo
	engine    *mockEngine
	locks     *lock.Store
	supplierQ *queue.Queue
	familyQ   *queue.Queue
	client    *goredis.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	suppliers := new(mockSupplierRepo)
	products := new(mockProductRepo)
	engine := new(mockEngine)
	locks := lock.NewStore(client, time.Hour, 5*time.Minute)
	supplierQ := queue.New(client, domain.QueueSupplierSync)
	familyQ := queue.New(client, domain.QueueProductFamily)
	queues := map[string]*queue.Queue{
		domain.QueueSupplierSync:  supplierQ,
		domain.QueueProductFamily: familyQ,
	}

	scheduler := NewScheduler(suppliers, products, engine, locks, supplierQ, queues,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &fixture{
		scheduler: scheduler,
		suppliers: suppliers,
		products:  products,
		engine:    engine,
		locks:     locks,
		supplierQ: supplierQ,
		familyQ:   familyQ,
		client:    client,
	}
}

func TestRunNightlySyncSkipsLockedAndManual(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.locks.Acquire(ctx, "sup-2")
	require.NoError(t, err)

	fx.suppliers.On("List", mock.Anything, true).Return([]domain.Supplier{
		{ID: "sup-1", AutoImport: true},
		{ID: "sup-2", AutoImport: true},
		{ID: "sup-3", AutoImport: false},
	}, nil)

	fx.scheduler.RunNightlySync(ctx)

	stats, err := fx.supplierQ.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Waiting, "only the unlocked auto-import supplier is scheduled")
}

func TestRunNightlySyncDoesNotDoubleEnqueue(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.suppliers.On("List", mock.Anything, true).Return([]domain.Supplier{
		{ID: "sup-1", AutoImport: true},
	}, nil)

	fx.scheduler.RunNightlySync(ctx)
	fx.scheduler.RunNightlySync(ctx)

	stats, err := fx.supplierQ.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Waiting, "the pending marker absorbs the second pass")
}

func TestRunReindexBulkIndexesRecentProducts(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.products.On("RecentlyUpdated", mock.Anything, mock.Anything, 1000).Return([]domain.Product{
		{ID: "prod-1", SKU: "A1"},
		{ID: "prod-2", SKU: "A2"},
	}, nil)
	fx.engine.On("BulkIndex", mock.Anything, mock.MatchedBy(func(docs []indexer.ProductDocument) bool {
		return len(docs) == 2 && docs[0].ID == "prod-1"
	})).Return(nil)

	fx.scheduler.RunReindex(ctx)
	fx.engine.AssertExpectations(t)
}

func TestRunReindexNoRecentProducts(t *testing.T) {
	fx := newFixture(t)

	fx.products.On("RecentlyUpdated", mock.Anything, mock.Anything, 1000).Return([]domain.Product{}, nil)

	fx.scheduler.RunReindex(context.Background())
	fx.engine.AssertNotCalled(t, "BulkIndex", mock.Anything, mock.Anything)
}

func TestRunQueueCleanEvictsOldJobs(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// One job finished two days ago, one just now.
	job, err := fx.familyQ.Enqueue(ctx, "family-sync", map[string]string{"family_key": "OLD"}, "OLD")
	require.NoError(t, err)
	dequeued, err := fx.familyQ.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, fx.familyQ.Complete(ctx, dequeued, nil))

	oldScore := time.Now().Add(-48 * time.Hour).UnixMilli()
	require.NoError(t, fx.client.ZAdd(ctx, "promiq:product-family:completed", goredis.Z{
		Score:  float64(oldScore),
		Member: job.ID,
	}).Err())

	fresh, err := fx.familyQ.Enqueue(ctx, "family-sync", map[string]string{"family_key": "NEW"}, "NEW")
	require.NoError(t, err)
	dequeued, err = fx.familyQ.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, fx.familyQ.Complete(ctx, dequeued, nil))

	fx.scheduler.RunQueueClean(ctx)

	stats, err := fx.familyQ.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Completed, "only the stale job is evicted, fresh job "+strconv.Quote(fresh.ID)+" remains")
}

func TestRunHealthCheckToleratesEmptyQueues(t *testing.T) {
	fx := newFixture(t)
	fx.scheduler.RunHealthCheck(context.Background())
}
