package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Neno73/promidata-sync/internal/event"
	pkgkafka "github.com/Neno73/promidata-sync/pkg/kafka"
)

// SemanticSink pushes a product rendition to the semantic store. Implemented
// by the semantic package; nil disables the semantic leg.
type SemanticSink interface {
	SyncProduct(ctx context.Context, data *event.ProductUpsertedData) error
}

// Consumer processes product events from Kafka and keeps the downstream
// sinks consistent with the catalog.
type Consumer struct {
	engine   Engine
	semantic SemanticSink
	logger   *slog.Logger
}

// NewConsumer creates an event consumer over the given sinks. semantic may
// be nil.
func NewConsumer(engine Engine, semantic SemanticSink, logger *slog.Logger) *Consumer {
	return &Consumer{
		engine:   engine,
		semantic: semantic,
		logger:   logger,
	}
}

// Handle processes a single event. Errors are retried by the Kafka consumer
// policy; both sinks are idempotent so a retry may repeat completed work.
func (c *Consumer) Handle(ctx context.Context, evt *pkgkafka.Event) error {
	switch evt.EventType {
	case pkgkafka.TopicProductUpserted:
		return c.handleProductUpserted(ctx, evt)
	case pkgkafka.TopicProductDeleted:
		return c.handleProductDeleted(ctx, evt)
	default:
		c.logger.DebugContext(ctx, "ignoring unknown event type",
			slog.String("event_type", evt.EventType),
		)
		return nil
	}
}

func (c *Consumer) handleProductUpserted(ctx context.Context, evt *pkgkafka.Event) error {
	var data event.ProductUpsertedData
	if err := evt.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal product upserted data: %w", err)
	}

	doc := DocumentFromEvent(&data)
	if err := c.engine.Index(ctx, &doc); err != nil {
		return fmt.Errorf("index product %s: %w", data.ProductID, err)
	}

	if c.semantic != nil {
		if err := c.semantic.SyncProduct(ctx, &data); err != nil {
			return fmt.Errorf("semantic sync product %s: %w", data.ProductID, err)
		}
	}

	c.logger.DebugContext(ctx, "product indexed",
		slog.String("product_id", data.ProductID),
		slog.String("sku", data.SKU),
	)
	return nil
}

func (c *Consumer) handleProductDeleted(ctx context.Context, evt *pkgkafka.Event) error {
	var data event.ProductDeletedData
	if err := evt.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal product deleted data: %w", err)
	}

	if err := c.engine.Delete(ctx, data.ProductID); err != nil {
		return fmt.Errorf("delete product %s from index: %w", data.ProductID, err)
	}
	return nil
}
