package indexer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Neno73/promidata-sync/internal/event"
	pkgkafka "github.com/Neno73/promidata-sync/pkg/kafka"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Index(ctx context.Context, doc *ProductDocument) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *mockEngine) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockEngine) BulkIndex(ctx context.Context, docs []ProductDocument) error {
	args := m.Called(ctx, docs)
	return args.Error(0)
}

func (m *mockEngine) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type mockSemantic struct {
	mock.Mock
}

func (m *mockSemantic) SyncProduct(ctx context.Context, data *event.ProductUpsertedData) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func upsertedEvent(t *testing.T, data event.ProductUpsertedData) *pkgkafka.Event {
	t.Helper()
	evt, err := pkgkafka.NewEvent(pkgkafka.TopicProductUpserted, data.ProductID, "product", "promidata-sync", data)
	require.NoError(t, err)
	return evt
}

func TestHandleProductUpserted(t *testing.T) {
	engine := new(mockEngine)
	semantic := new(mockSemantic)
	consumer := NewConsumer(engine, semantic, discardLogger())

	data := event.ProductUpsertedData{
		ProductID:  "prod-1",
		SupplierID: "sup-1",
		SKU:        "A123-MUG",
		Name:       map[string]string{"en": "Mug", "de": "Tasse"},
		IsActive:   true,
	}

	engine.On("Index", mock.Anything, mock.MatchedBy(func(doc *ProductDocument) bool {
		return doc.ID == "prod-1" && doc.SKU == "A123-MUG" && doc.Name["de"] == "Tasse"
	})).Return(nil)
	semantic.On("SyncProduct", mock.Anything, mock.Anything).Return(nil)

	err := consumer.Handle(context.Background(), upsertedEvent(t, data))
	require.NoError(t, err)

	engine.AssertExpectations(t)
	semantic.AssertExpectations(t)
}

func TestHandleProductUpsertedIndexFailureSkipsSemantic(t *testing.T) {
	engine := new(mockEngine)
	semantic := new(mockSemantic)
	consumer := NewConsumer(engine, semantic, discardLogger())

	engine.On("Index", mock.Anything, mock.Anything).Return(errors.New("cluster red"))

	err := consumer.Handle(context.Background(), upsertedEvent(t, event.ProductUpsertedData{ProductID: "prod-1"}))
	assert.ErrorContains(t, err, "cluster red")
	semantic.AssertNotCalled(t, "SyncProduct", mock.Anything, mock.Anything)
}

func TestHandleProductUpsertedWithoutSemanticSink(t *testing.T) {
	engine := new(mockEngine)
	consumer := NewConsumer(engine, nil, discardLogger())

	engine.On("Index", mock.Anything, mock.Anything).Return(nil)

	err := consumer.Handle(context.Background(), upsertedEvent(t, event.ProductUpsertedData{ProductID: "prod-1"}))
	require.NoError(t, err)
	engine.AssertExpectations(t)
}

func TestHandleProductDeleted(t *testing.T) {
	engine := new(mockEngine)
	consumer := NewConsumer(engine, nil, discardLogger())

	evt, err := pkgkafka.NewEvent(pkgkafka.TopicProductDeleted, "prod-9", "product", "promidata-sync",
		event.ProductDeletedData{ProductID: "prod-9", SKU: "A9-OLD"})
	require.NoError(t, err)

	engine.On("Delete", mock.Anything, "prod-9").Return(nil)

	require.NoError(t, consumer.Handle(context.Background(), evt))
	engine.AssertExpectations(t)
}

func TestHandleUnknownEventTypeIgnored(t *testing.T) {
	engine := new(mockEngine)
	consumer := NewConsumer(engine, nil, discardLogger())

	evt, err := pkgkafka.NewEvent("inventory.stock.adjusted", "x", "stock", "elsewhere", map[string]int{"qty": 3})
	require.NoError(t, err)

	require.NoError(t, consumer.Handle(context.Background(), evt))
	engine.AssertNotCalled(t, "Index", mock.Anything, mock.Anything)
	engine.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}
