package indexer_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Neno73/promidata-sync/internal/indexer"
)

// newTestEngine creates an Elasticsearch engine for integration tests.
// It skips the test if ELASTICSEARCH_URL is not set.
func newTestEngine(t *testing.T) *indexer.ElasticEngine {
	t.Helper()

	esURL := os.Getenv("ELASTICSEARCH_URL")
	if esURL == "" {
		t.Skip("ELASTICSEARCH_URL not set, skipping Elasticsearch integration tests")
	}

	indexName := fmt.Sprintf("test_promidata_products_%d", time.Now().UnixNano())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng, err := indexer.NewElasticEngine(esURL, indexName, logger)
	require.NoError(t, err)
	return eng
}

func TestElasticEngineIndexAndDelete(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	doc := indexer.ProductDocument{
		ID:       "it-prod-1",
		SKU:      "A1-IT",
		Name:     map[string]string{"en": "Integration Mug"},
		IsActive: true,
	}
	require.NoError(t, eng.Index(ctx, &doc))
	require.NoError(t, eng.Delete(ctx, doc.ID))

	// Deleting an absent document is not an error.
	require.NoError(t, eng.Delete(ctx, "never-existed"))
}

func TestElasticEngineBulkIndex(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	docs := []indexer.ProductDocument{
		{ID: "it-bulk-1", SKU: "A1-B1"},
		{ID: "it-bulk-2", SKU: "A1-B2"},
	}
	require.NoError(t, eng.BulkIndex(ctx, docs))
	require.NoError(t, eng.Ping(ctx))
}
