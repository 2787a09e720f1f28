// Package repository defines the persistence interfaces the sync engine
// depends on. Implementations live in the postgres subpackage.
package repository

import (
	"context"
	"time"

	"github.com/Neno73/promidata-sync/internal/domain"
)

// SupplierRepository persists supplier rows and their sync status.
type SupplierRepository interface {
	// Create inserts a new supplier.
	Create(ctx context.Context, supplier *domain.Supplier) error

	// UpsertByCode inserts a supplier or refreshes its name by code. Used
	// by the manifest-driven bootstrap.
	UpsertByCode(ctx context.Context, supplier *domain.Supplier) error

	// GetByID retrieves a supplier by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Supplier, error)

	// GetByCode retrieves a supplier by its feed code.
	GetByCode(ctx context.Context, code string) (*domain.Supplier, error)

	// List returns suppliers, optionally only active ones.
	List(ctx context.Context, activeOnly bool) ([]domain.Supplier, error)

	// UpdateSyncStatus writes the supplier's last sync status and message.
	// A completed, failed, or cancelled status also stamps last_sync_at.
	UpdateSyncStatus(ctx context.Context, id, status, message string) error
}

// UpsertResult reports the outcome of one family upsert.
type UpsertResult struct {
	Product  *domain.Product
	Created  bool
	Variants []domain.ProductVariant

	// ImagesQueued is filled in by the reconciler's image planning step.
	ImagesQueued int
}

// ProductRepository persists product families and variants.
type ProductRepository interface {
	// StoredHashes returns family_key -> promidata_hash for the given
	// family keys of one supplier, in a single batch query. Keys without a
	// product row are absent from the map.
	StoredHashes(ctx context.Context, supplierID string, familyKeys []string) (map[string]string, error)

	// UpsertFamily writes the product row, its variants, and the derived
	// aggregates in one transaction. Variants match by SKU; a SKU owned by
	// another family is re-parented.
	UpsertFamily(ctx context.Context, product *domain.Product, variants []domain.ProductVariant) (*UpsertResult, error)

	// RollbackHash restores a product's promidata_hash after a failed
	// non-transactional step so the next sync re-attempts the family.
	RollbackHash(ctx context.Context, productID, previousHash string) error

	// GetByID retrieves a product by id.
	GetByID(ctx context.Context, id string) (*domain.Product, error)

	// GetBySKU retrieves a product by supplier and family SKU.
	GetBySKU(ctx context.Context, supplierID, sku string) (*domain.Product, error)

	// ClearHashes blanks promidata_hash for one supplier (or all when
	// supplierID is empty), forcing a full re-sync.
	ClearHashes(ctx context.Context, supplierID string) (int64, error)

	// SetMainImage sets the product's main image if not already set to the
	// same media.
	SetMainImage(ctx context.Context, productID, mediaID string) error

	// SetVariantPrimaryImage attaches a media row as a variant's primary
	// image.
	SetVariantPrimaryImage(ctx context.Context, variantID, mediaID, url string) error

	// AppendVariantGalleryImage adds a media row to a variant's gallery,
	// idempotently.
	AppendVariantGalleryImage(ctx context.Context, variantID, mediaID, url string) error

	// SetGeminiSync records the semantic store's file reference and the
	// hash it was built from.
	SetGeminiSync(ctx context.Context, productID, fileURI, syncedHash string) error

	// RecentlyUpdated lists products updated since the given time, for the
	// incremental reindex task.
	RecentlyUpdated(ctx context.Context, since time.Time, limit int) ([]domain.Product, error)
}

// MediaRepository persists image metadata keyed by filename.
type MediaRepository interface {
	// GetByFilename retrieves a media row by its unique filename.
	GetByFilename(ctx context.Context, filename string) (*domain.Media, error)

	// Create inserts a new media row.
	Create(ctx context.Context, media *domain.Media) error
}
