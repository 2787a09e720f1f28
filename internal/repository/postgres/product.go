package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Neno73/promidata-sync/internal/domain"
	"github.com/Neno73/promidata-sync/internal/repository"
	"github.com/Neno73/promidata-sync/pkg/database"
	apperrors "github.com/Neno73/promidata-sync/pkg/errors"
)

// pgUniqueViolation is the PostgreSQL error code for unique-key violations.
const pgUniqueViolation = "23505"

// ProductRepository implements repository.ProductRepository using PostgreSQL.
type ProductRepository struct {
	pool database.DBTX
}

// NewProductRepository creates a new PostgreSQL-backed product repository.
func NewProductRepository(pool database.DBTX) *ProductRepository {
	return &ProductRepository{pool: pool}
}

const productColumns = `id, supplier_id, sku, a_number, supplier_sku, name, description, short_description,
	model_name, material, category, categories, main_image_id, gallery_image_ids, price_tiers, dimensions,
	country_of_origin, delivery_time, promidata_hash, last_synced_at, is_active, available_colors,
	available_sizes, hex_colors, price_min, price_max, gemini_file_uri, gemini_synced_hash, created_at, updated_at`

// StoredHashes returns sku -> promidata_hash for the given family keys of one
// supplier in a single batch query.
func (r *ProductRepository) StoredHashes(ctx context.Context, supplierID string, familyKeys []string) (map[string]string, error) {
	hashes := make(map[string]string, len(familyKeys))
	if len(familyKeys) == 0 {
		return hashes, nil
	}

	query := `SELECT sku, promidata_hash FROM products WHERE supplier_id = $1 AND sku = ANY($2)`

	rows, err := r.pool.Query(ctx, query, supplierID, familyKeys)
	if err != nil {
		return nil, storeErr("batch hash lookup", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sku, hash string
		if err := rows.Scan(&sku, &hash); err != nil {
			return nil, fmt.Errorf("scan hash row: %w", err)
		}
		hashes[sku] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hash rows: %w", err)
	}
	return hashes, nil
}

// UpsertFamily writes the product, its variants, and the derived aggregates
// in a single transaction. Variants match by SKU and are re-parented when a
// SKU moves between families; variants absent from the incoming family are
// deactivated so stale colors and sizes drop out of the aggregates.
func (r *ProductRepository) UpsertFamily(ctx context.Context, product *domain.Product, variants []domain.ProductVariant) (*repository.UpsertResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin family transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	result, err := r.upsertFamilyTx(ctx, tx, product, variants)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit family transaction", err)
	}
	return result, nil
}

func (r *ProductRepository) upsertFamilyTx(ctx context.Context, tx pgx.Tx, product *domain.Product, variants []domain.ProductVariant) (*repository.UpsertResult, error) {
	nameJSON, err := marshalJSON(product.Name)
	if err != nil {
		return nil, err
	}
	descJSON, err := marshalJSON(product.Description)
	if err != nil {
		return nil, err
	}
	shortDescJSON, err := marshalJSON(product.ShortDescription)
	if err != nil {
		return nil, err
	}
	modelJSON, err := marshalJSON(product.ModelName)
	if err != nil {
		return nil, err
	}
	materialJSON, err := marshalJSON(product.Material)
	if err != nil {
		return nil, err
	}
	tiersJSON, err := marshalJSON(product.PriceTiers)
	if err != nil {
		return nil, err
	}
	dimsJSON, err := marshalJSON(product.Dimensions)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	productQuery := `
		INSERT INTO products (id, supplier_id, sku, a_number, supplier_sku, name, description, short_description,
			model_name, material, category, categories, price_tiers, dimensions, country_of_origin, delivery_time,
			promidata_hash, last_synced_at, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $20)
		ON CONFLICT (supplier_id, sku) DO UPDATE
		SET a_number = EXCLUDED.a_number,
		    supplier_sku = EXCLUDED.supplier_sku,
		    name = EXCLUDED.name,
		    description = EXCLUDED.description,
		    short_description = EXCLUDED.short_description,
		    model_name = EXCLUDED.model_name,
		    material = EXCLUDED.material,
		    category = EXCLUDED.category,
		    categories = EXCLUDED.categories,
		    price_tiers = EXCLUDED.price_tiers,
		    dimensions = EXCLUDED.dimensions,
		    country_of_origin = EXCLUDED.country_of_origin,
		    delivery_time = EXCLUDED.delivery_time,
		    promidata_hash = EXCLUDED.promidata_hash,
		    last_synced_at = EXCLUDED.last_synced_at,
		    is_active = EXCLUDED.is_active,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, (xmax = 0) AS created`

	var (
		productID string
		created   bool
	)
	err = tx.QueryRow(ctx, productQuery,
		product.ID, product.SupplierID, product.SKU, product.ANumber, product.SupplierSKU,
		nameJSON, descJSON, shortDescJSON, modelJSON, materialJSON,
		product.Category, product.Categories, tiersJSON, dimsJSON,
		product.CountryOfOrigin, product.DeliveryTime,
		product.PromidataHash, now, product.IsActive, now,
	).Scan(&productID, &created)
	if err != nil {
		return nil, translatePgErr("product", product.SKU, err)
	}
	product.ID = productID
	product.UpdatedAt = now

	variantQuery := `
		INSERT INTO product_variants (id, product_id, sku, color, hex_color, size,
			dim_length, dim_width, dim_height, dim_diameter, dim_weight,
			primary_image_url, gallery_image_urls, is_primary_for_color, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		ON CONFLICT (sku) DO UPDATE
		SET product_id = EXCLUDED.product_id,
		    color = EXCLUDED.color,
		    hex_color = EXCLUDED.hex_color,
		    size = EXCLUDED.size,
		    dim_length = EXCLUDED.dim_length,
		    dim_width = EXCLUDED.dim_width,
		    dim_height = EXCLUDED.dim_height,
		    dim_diameter = EXCLUDED.dim_diameter,
		    dim_weight = EXCLUDED.dim_weight,
		    primary_image_url = EXCLUDED.primary_image_url,
		    gallery_image_urls = EXCLUDED.gallery_image_urls,
		    is_primary_for_color = EXCLUDED.is_primary_for_color,
		    is_active = EXCLUDED.is_active,
		    updated_at = EXCLUDED.updated_at
		RETURNING id`

	upserted := make([]domain.ProductVariant, 0, len(variants))
	for _, v := range variants {
		v.ProductID = productID
		err := tx.QueryRow(ctx, variantQuery,
			v.ID, v.ProductID, v.SKU, v.Color, v.HexColor, v.Size,
			v.DimLength, v.DimWidth, v.DimHeight, v.DimDiameter, v.DimWeight,
			v.PrimaryImageURL, v.GalleryImageURLs, v.IsPrimaryForColor, v.IsActive, now,
		).Scan(&v.ID)
		if err != nil {
			return nil, translatePgErr("variant", v.SKU, err)
		}
		v.UpdatedAt = now
		upserted = append(upserted, v)
	}

	incomingSKUs := make([]string, 0, len(variants))
	for _, v := range variants {
		incomingSKUs = append(incomingSKUs, v.SKU)
	}
	// Clearing is_primary_for_color here keeps at most one primary per color
	// when the incoming family reassigns the flag to a surviving variant.
	deactivateQuery := `
		UPDATE product_variants
		SET is_active = false, is_primary_for_color = false, updated_at = $3
		WHERE product_id = $1 AND is_active AND NOT (sku = ANY($2))`
	if _, err := tx.Exec(ctx, deactivateQuery, productID, incomingSKUs, now); err != nil {
		return nil, storeErr("deactivate removed variants", err)
	}

	live, err := r.liveVariants(ctx, tx, productID)
	if err != nil {
		return nil, err
	}

	agg := domain.ComputeAggregates(live, product.PriceTiers)
	aggQuery := `
		UPDATE products
		SET available_colors = $1, available_sizes = $2, hex_colors = $3, price_min = $4, price_max = $5, updated_at = $6
		WHERE id = $7`
	if _, err := tx.Exec(ctx, aggQuery,
		agg.AvailableColors, agg.AvailableSizes, agg.HexColors, agg.PriceMin, agg.PriceMax, now, productID,
	); err != nil {
		return nil, storeErr("write product aggregates", err)
	}
	product.AvailableColors = agg.AvailableColors
	product.AvailableSizes = agg.AvailableSizes
	product.HexColors = agg.HexColors
	product.PriceMin = agg.PriceMin
	product.PriceMax = agg.PriceMax

	return &repository.UpsertResult{Product: product, Created: created, Variants: upserted}, nil
}

func (r *ProductRepository) liveVariants(ctx context.Context, tx pgx.Tx, productID string) ([]domain.ProductVariant, error) {
	query := `SELECT sku, color, hex_color, size, is_active FROM product_variants WHERE product_id = $1 AND is_active`

	rows, err := tx.Query(ctx, query, productID)
	if err != nil {
		return nil, storeErr("list live variants", err)
	}
	defer rows.Close()

	var variants []domain.ProductVariant
	for rows.Next() {
		var v domain.ProductVariant
		if err := rows.Scan(&v.SKU, &v.Color, &v.HexColor, &v.Size, &v.IsActive); err != nil {
			return nil, fmt.Errorf("scan variant row: %w", err)
		}
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variant rows: %w", err)
	}
	return variants, nil
}

// RollbackHash restores a product's previous hash after a failed follow-up
// step.
func (r *ProductRepository) RollbackHash(ctx context.Context, productID, previousHash string) error {
	query := `UPDATE products SET promidata_hash = $1, updated_at = $2 WHERE id = $3`
	ct, err := r.pool.Exec(ctx, query, previousHash, time.Now().UTC(), productID)
	if err != nil {
		return storeErr("rollback product hash", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// GetByID retrieves a product by id.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	return r.scanProduct(ctx, query, id)
}

// GetBySKU retrieves a product by supplier and family SKU.
func (r *ProductRepository) GetBySKU(ctx context.Context, supplierID, sku string) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE supplier_id = $1 AND sku = $2`
	return r.scanProduct(ctx, query, supplierID, sku)
}

// ClearHashes blanks promidata_hash for one supplier, or for every product
// when supplierID is empty. Returns the number of affected rows.
func (r *ProductRepository) ClearHashes(ctx context.Context, supplierID string) (int64, error) {
	query := `UPDATE products SET promidata_hash = '', updated_at = $1 WHERE ($2 = '' OR supplier_id = $2)`
	ct, err := r.pool.Exec(ctx, query, time.Now().UTC(), supplierID)
	if err != nil {
		return 0, storeErr("clear product hashes", err)
	}
	return ct.RowsAffected(), nil
}

// SetMainImage sets the product's main image.
func (r *ProductRepository) SetMainImage(ctx context.Context, productID, mediaID string) error {
	query := `UPDATE products SET main_image_id = $1, updated_at = $2 WHERE id = $3`
	ct, err := r.pool.Exec(ctx, query, mediaID, time.Now().UTC(), productID)
	if err != nil {
		return storeErr("set product main image", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// SetVariantPrimaryImage attaches a media row as a variant's primary image.
func (r *ProductRepository) SetVariantPrimaryImage(ctx context.Context, variantID, mediaID, url string) error {
	query := `UPDATE product_variants SET primary_image_id = $1, primary_image_url = $2, updated_at = $3 WHERE id = $4`
	ct, err := r.pool.Exec(ctx, query, mediaID, url, time.Now().UTC(), variantID)
	if err != nil {
		return storeErr("set variant primary image", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// AppendVariantGalleryImage adds a media row to a variant's gallery. The
// array_position guard keeps the operation idempotent.
func (r *ProductRepository) AppendVariantGalleryImage(ctx context.Context, variantID, mediaID, url string) error {
	query := `
		UPDATE product_variants
		SET gallery_image_ids = array_append(gallery_image_ids, $1),
		    gallery_image_urls = array_append(gallery_image_urls, $2),
		    updated_at = $3
		WHERE id = $4 AND array_position(gallery_image_ids, $1) IS NULL`
	if _, err := r.pool.Exec(ctx, query, mediaID, url, time.Now().UTC(), variantID); err != nil {
		return storeErr("append variant gallery image", err)
	}
	return nil
}

// SetGeminiSync records the semantic store's file reference for a product.
func (r *ProductRepository) SetGeminiSync(ctx context.Context, productID, fileURI, syncedHash string) error {
	query := `UPDATE products SET gemini_file_uri = $1, gemini_synced_hash = $2, updated_at = $3 WHERE id = $4`
	ct, err := r.pool.Exec(ctx, query, fileURI, syncedHash, time.Now().UTC(), productID)
	if err != nil {
		return storeErr("set gemini sync", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// RecentlyUpdated lists products updated since the given time.
func (r *ProductRepository) RecentlyUpdated(ctx context.Context, since time.Time, limit int) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE updated_at >= $1 ORDER BY updated_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, storeErr("list recently updated products", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := scanProductRow(rows, &p); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}

	if products == nil {
		products = []domain.Product{}
	}
	return products, nil
}

func (r *ProductRepository) scanProduct(ctx context.Context, query string, args ...any) (*domain.Product, error) {
	var p domain.Product
	err := scanProductRow(r.pool.QueryRow(ctx, query, args...), &p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}
	return &p, nil
}

func scanProductRow(row pgx.Row, p *domain.Product) error {
	var (
		nameJSON, descJSON, shortDescJSON []byte
		modelJSON, materialJSON           []byte
		tiersJSON, dimsJSON               []byte
	)

	if err := row.Scan(
		&p.ID, &p.SupplierID, &p.SKU, &p.ANumber, &p.SupplierSKU,
		&nameJSON, &descJSON, &shortDescJSON, &modelJSON, &materialJSON,
		&p.Category, &p.Categories, &p.MainImageID, &p.GalleryImageIDs,
		&tiersJSON, &dimsJSON, &p.CountryOfOrigin, &p.DeliveryTime,
		&p.PromidataHash, &p.LastSyncedAt, &p.IsActive,
		&p.AvailableColors, &p.AvailableSizes, &p.HexColors,
		&p.PriceMin, &p.PriceMax, &p.GeminiFileURI, &p.GeminiSyncedHash,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return err
	}

	for _, pair := range []struct {
		data   []byte
		target any
	}{
		{nameJSON, &p.Name},
		{descJSON, &p.Description},
		{shortDescJSON, &p.ShortDescription},
		{modelJSON, &p.ModelName},
		{materialJSON, &p.Material},
		{tiersJSON, &p.PriceTiers},
		{dimsJSON, &p.Dimensions},
	} {
		if pair.data == nil {
			continue
		}
		if err := json.Unmarshal(pair.data, pair.target); err != nil {
			return fmt.Errorf("unmarshal product field: %w", err)
		}
	}
	return nil
}

func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal product field: %w", err)
	}
	return b, nil
}

// translatePgErr maps unique violations to ConflictError and everything else
// to TransientStoreError or a plain wrap.
func translatePgErr(entity, key string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return &apperrors.ConflictError{Entity: entity, Key: key, Cause: err}
	}
	return storeErr("upsert "+entity, err)
}

func storeErr(op string, err error) error {
	return &apperrors.TransientStoreError{Op: op, Cause: err}
}
