// Package event publishes catalog change events for downstream sinks.
package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Neno73/promidata-sync/internal/domain"
	pkgkafka "github.com/Neno73/promidata-sync/pkg/kafka"
)

const (
	aggregateTypeProduct = "product"
	eventSource          = "promidata-sync"
)

// kafkaPublisher is the slice of the Kafka producer the package uses.
type kafkaPublisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// ProductUpsertedData is the payload of a catalog.product.upserted event. It
// carries the fields the search and semantic sinks index, not the full row.
type ProductUpsertedData struct {
	ProductID       string               `json:"product_id"`
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
	PromidataHash   string               `json:"promidata_hash,omitempty"`
	IsActive        bool                 `json:"is_active"`
	Created         bool                 `json:"created"`
}

// ProductDeletedData is the payload of a catalog.product.deleted event.
type ProductDeletedData struct {
	ProductID  string `json:"product_id"`
	SupplierID string `json:"supplier_id"`
	SKU        string `json:"sku"`
}

// Producer publishes product lifecycle events to Kafka.
type Producer struct {
	kafka  kafkaPublisher
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka kafkaPublisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishProductUpserted publishes a catalog.product.upserted event after a
// family transaction commits.
func (p *Producer) PublishProductUpserted(ctx context.Context, product *domain.Product, created bool) error {
	data := ProductUpsertedData{
		ProductID:       product.ID,
		SupplierID:      product.SupplierID,
		SKU:             product.SKU,
		Name:            product.Name,
		Description:     product.Description,
		Category:        product.Category,
		Categories:      product.Categories,
		AvailableColors: product.AvailableColors,
		AvailableSizes:  product.AvailableSizes,
		HexColors:       product.HexColors,
		PriceMin:        product.PriceMin,
		PriceMax:        product.PriceMax,
		MainImageID:     product.MainImageID,
		PromidataHash:   product.PromidataHash,
		IsActive:        product.IsActive,
		Created:         created,
	}

	event, err := pkgkafka.NewEvent(pkgkafka.TopicProductUpserted, product.ID, aggregateTypeProduct, eventSource, data)
	if err != nil {
		return fmt.Errorf("create product upserted event: %w", err)
	}

	if err := p.kafka.Publish(ctx, pkgkafka.TopicProductUpserted, event); err != nil {
		return fmt.Errorf("publish product upserted event: %w", err)
	}

	p.logger.DebugContext(ctx, "product upserted event published",
		slog.String("product_id", product.ID),
		slog.String("sku", product.SKU),
		slog.Bool("created", created),
	)
	return nil
}

// PublishProductDeleted publishes a catalog.product.deleted event when a
// family is purged from the catalog.
func (p *Producer) PublishProductDeleted(ctx context.Context, product *domain.Product) error {
	data := ProductDeletedData{
		ProductID:  product.ID,
		SupplierID: product.SupplierID,
		SKU:        product.SKU,
	}

	event, err := pkgkafka.NewEvent(pkgkafka.TopicProductDeleted, product.ID, aggregateTypeProduct, eventSource, data)
	if err != nil {
		return fmt.Errorf("create product deleted event: %w", err)
	}

	if err := p.kafka.Publish(ctx, pkgkafka.TopicProductDeleted, event); err != nil {
		return fmt.Errorf("publish product deleted event: %w", err)
	}

	p.logger.DebugContext(ctx, "product deleted event published",
		slog.String("product_id", product.ID),
		slog.String("sku", product.SKU),
	)
	return nil
}
