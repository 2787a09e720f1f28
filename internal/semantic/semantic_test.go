package semantic

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Neno73/promidata-sync/internal/domain"
	"github.com/Neno73/promidata-sync/internal/event"
	apperrors "github.com/Neno73/promidata-sync/pkg/errors"
)

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	args := m.Called(ctx, id)
	if p := args.Get(0); p != nil {
		return p.(*domain.Product), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRecorder) SetGeminiSync(ctx context.Context, productID, fileURI, syncedHash string) error {
	args := m.Called(ctx, productID, fileURI, syncedHash)
	return args.Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

func TestSyncProductUploadsAndRecords(t *testing.T) {
	var gotAuth, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/files", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_ = json.NewEncoder(w).Encode(map[string]string{"file_uri": "files/abc-123"})
	}))
	defer server.Close()

	products := new(mockRecorder)
	store := NewStore(Config{BaseURL: server.URL, APIKey: "secret"}, products, discardLogger())

	products.On("GetByID", mock.Anything, "prod-1").Return(&domain.Product{
		ID:            "prod-1",
		SKU:           "A123-MUG",
		Name:          domain.LocalizedText{"en": "Mug"},
		PromidataHash: "hash-v2",
	}, nil)
	products.On("SetGeminiSync", mock.Anything, "prod-1", "files/abc-123", "hash-v2").Return(nil)

	err := store.SyncProduct(context.Background(), &event.ProductUpsertedData{ProductID: "prod-1"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Contains(t, gotBody, "A123-MUG")
	assert.Contains(t, gotBody, "Mug")
	products.AssertExpectations(t)
}

func TestSyncProductSkipsWhenHashCurrent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no upload expected")
	}))
	defer server.Close()

	products := new(mockRecorder)
	store := NewStore(Config{BaseURL: server.URL}, products, discardLogger())

	products.On("GetByID", mock.Anything, "prod-1").Return(&domain.Product{
		ID:               "prod-1",
		PromidataHash:    "hash-v2",
		GeminiSyncedHash: strPtr("hash-v2"),
	}, nil)

	require.NoError(t, store.SyncProduct(context.Background(), &event.ProductUpsertedData{ProductID: "prod-1"}))
	products.AssertNotCalled(t, "SetGeminiSync", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncProductMissingProductIsNoop(t *testing.T) {
	products := new(mockRecorder)
	store := NewStore(Config{BaseURL: "http://unused"}, products, discardLogger())

	products.On("GetByID", mock.Anything, "gone").Return(nil, apperrors.ErrNotFound)

	require.NoError(t, store.SyncProduct(context.Background(), &event.ProductUpsertedData{ProductID: "gone"}))
}

func TestSyncProductServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	products := new(mockRecorder)
	store := NewStore(Config{BaseURL: server.URL}, products, discardLogger())

	products.On("GetByID", mock.Anything, "prod-1").Return(&domain.Product{
		ID: "prod-1", SKU: "A1", PromidataHash: "h",
	}, nil)

	err := store.SyncProduct(context.Background(), &event.ProductUpsertedData{ProductID: "prod-1"})
	var transient *apperrors.TransientStoreError
	assert.ErrorAs(t, err, &transient)
	products.AssertNotCalled(t, "SetGeminiSync", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncProductClientErrorNotTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	products := new(mockRecorder)
	store := NewStore(Config{BaseURL: server.URL}, products, discardLogger())

	products.On("GetByID", mock.Anything, "prod-1").Return(&domain.Product{
		ID: "prod-1", SKU: "A1", PromidataHash: "h",
	}, nil)

	err := store.SyncProduct(context.Background(), &event.ProductUpsertedData{ProductID: "prod-1"})
	require.Error(t, err)
	var transient *apperrors.TransientStoreError
	assert.False(t, apperrors.IsRetryable(err))
	assert.NotErrorAs(t, err, &transient)
}

func TestRenderProductOrdering(t *testing.T) {
	min, max := 1.5, 9.99
	p := &domain.Product{
		SKU:             "A123-MUG",
		Category:        "Drinkware",
		Name:            domain.LocalizedText{"de": "Tasse", "en": "Mug"},
		AvailableColors: []string{"Red", "Blue"},
		PriceMin:        &min,
		PriceMax:        &max,
	}

	out := RenderProduct(p)
	assert.Equal(t, "SKU: A123-MUG\n"+
		"Category: Drinkware\n"+
		"Name (en): Mug\n"+
		"Name (de): Tasse\n"+
		"Colors: Red, Blue\n"+
		"Price range: 1.50 to 9.99 EUR\n", out)
}
