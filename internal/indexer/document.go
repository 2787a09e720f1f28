// Package indexer keeps the full-text search index in step with the catalog.
// It consumes product events from Kafka and mirrors them into Elasticsearch.
package indexer

import (
	"time"

	"github.com/Neno73/promidata-sync/internal/domain"
	"github.com/Neno73/promidata-sync/internal/event"
)

// ProductDocument is the shape of a product in the search index. Localized
// fields stay keyed by language so each language gets its own analyzer.
type ProductDocument struct {
	ID              string               `json:"id"`
	SupplierID      string               `json:"supplier_id"`
	SKU             string               `json:"sku"`
	Name            domain.LocalizedText `json:"name,omitempty"`
	Description     domain.LocalizedText `json:"description,omitempty"`
	Category        string               `json:"category,omitempty"`
	Categories      []string             `json:"categories,omitempty"`
	AvailableColors []string             `json:"available_colors,omitempty"`
	AvailableSizes  []string             `json:"available_sizes,omitempty"`
	HexColors       []string             `json:"hex_colors,omitempty"`
	PriceMin        *float64             `json:"price_min,omitempty"`
	PriceMax        *float64             `json:"price_max,omitempty"`
	MainImageID     *string              `json:"main_image_id,omitempty"`
	IsActive        bool                 `json:"is_active"`
	IndexedAt       time.Time            `json:"indexed_at"`
}

// DocumentFromEvent builds the index document from an upserted-event payload.
func DocumentFromEvent(data *event.ProductUpsertedData) ProductDocument {
	return ProductDocument{
		ID:              data.ProductID,
		SupplierID:      data.SupplierID,
		SKU:             data.SKU,
		Name:            data.Name,
		Description:     data.Description,
		Category:        data.Category,
		Categories:      data.Categories,
		AvailableColors: data.AvailableColors,
		AvailableSizes:  data.AvailableSizes,
		HexColors:       data.HexColors,
		PriceMin:        data.PriceMin,
		PriceMax:        data.PriceMax,
		MainImageID:     data.MainImageID,
		IsActive:        data.IsActive,
		IndexedAt:       time.Now().UTC(),
	}
}

// DocumentFromProduct builds the index document straight from a stored
// product. Used by the incremental reindex task, which bypasses Kafka.
func DocumentFromProduct(p *domain.Product) ProductDocument {
	return ProductDocument{
		ID:              p.ID,
		SupplierID:      p.SupplierID,
		SKU:             p.SKU,
		Name:            p.Name,
		Description:     p.Description,
		Category:        p.Category,
		Categories:      p.Categories,
		AvailableColors: p.AvailableColors,
		AvailableSizes:  p.AvailableSizes,
		HexColors:       p.HexColors,
		PriceMin:        p.PriceMin,
		PriceMax:        p.PriceMax,
		MainImageID:     p.MainImageID,
		IsActive:        p.IsActive,
		IndexedAt:       time.Now().UTC(),
	}
}
