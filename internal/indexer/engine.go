package indexer

import "context"

// Engine is the search backend the indexer writes into.
type Engine interface {
	// Index adds or updates a single product document.
	Index(ctx context.Context, doc *ProductDocument) error

	// Delete removes a product document by its ID.
	Delete(ctx context.Context, id string) error

	// BulkIndex adds or updates many documents in one round trip.
	BulkIndex(ctx context.Context, docs []ProductDocument) error

	// Ping checks backend reachability.
	Ping(ctx context.Context) error
}
