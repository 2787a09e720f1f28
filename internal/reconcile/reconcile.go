// Package reconcile decides which families need syncing and applies family
// upserts with their post-commit side effects.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Neno73/promidata-sync/internal/domain"
	"github.com/Neno73/promidata-sync/internal/grouping"
	"github.com/Neno73/promidata-sync/internal/repository"
	apperrors "github.com/Neno73/promidata-sync/pkg/errors"
)

// Upsert phases recorded in FamilyError.
const (
	PhaseUpsert  = "upsert"
	PhaseImages  = "images"
	PhasePublish = "publish"
)

// ImagePlanner schedules image work for an upserted family: deduplicated
// images attach immediately, the rest become image-upload jobs.
type ImagePlanner interface {
	PlanFamilyImages(ctx context.Context, result *repository.UpsertResult, variants []domain.VariantRecord) (queued int, err error)
}

// EventPublisher announces a successful family upsert to the downstream
// sinks.
type EventPublisher interface {
	PublishProductUpserted(ctx context.Context, product *domain.Product, created bool) error
}

// Candidate is one family that passed the hash check, carrying both the
// incoming and the previously stored hash.
type Candidate struct {
	Family       grouping.Family
	Hash         string
	PreviousHash string
}

// FilterResult reports the outcome of the batch hash check.
type FilterResult struct {
	ToProcess  []Candidate
	Total      int
	Skipped    int
	Efficiency float64
}

// FamilyInput is the unit of work for one family upsert.
type FamilyInput struct {
	SupplierID   string
	Family       domain.FamilyRecord
	Variants     []domain.VariantRecord
	Hash         string
	PreviousHash string
}

// Reconciler applies family changes to the relational store.
type Reconciler struct {
	products repository.ProductRepository
	images   ImagePlanner
	events   EventPublisher
	logger   *slog.Logger
}

// New creates a reconciler. images and events may be nil in tests.
func New(products repository.ProductRepository, images ImagePlanner, events EventPublisher, logger *slog.Logger) *Reconciler {
	return &Reconciler{products: products, images: images, events: events, logger: logger}
}

// FilterForSync performs the single batch hash lookup and partitions the
// grouped families into to-process and skipped.
func (r *Reconciler) FilterForSync(ctx context.Context, supplierID string, families []grouping.Family) (*FilterResult, error) {
	result := &FilterResult{Total: len(families)}
	if len(families) == 0 {
		result.Efficiency = 1
		return result, nil
	}

	keys := make([]string, 0, len(families))
	for _, fam := range families {
		keys = append(keys, fam.Key)
	}

	stored, err := r.products.StoredHashes(ctx, supplierID, keys)
	if err != nil {
		return nil, err
	}

	for _, fam := range families {
		hash := fam.ManifestHash
		if hash == "" {
			hash = grouping.FamilyHash(fam.Record, fam.Variants)
		}
		previous, exists := stored[fam.Key]
		if exists && previous == hash {
			result.Skipped++
			continue
		}
		result.ToProcess = append(result.ToProcess, Candidate{
			Family:       fam,
			Hash:         hash,
			PreviousHash: previous,
		})
	}

	result.Efficiency = float64(result.Skipped) / float64(result.Total)
	return result, nil
}

// UpsertFamily writes one family and runs the post-commit side effects:
// image planning and the downstream upsert event. Failures come back as
// FamilyError; a failed publish rolls the hash back so the next sync
// re-attempts the family.
func (r *Reconciler) UpsertFamily(ctx context.Context, in FamilyInput) (*repository.UpsertResult, error) {
	if len(in.Variants) == 0 {
		r.logger.Warn("family has no variants, skipping",
			slog.String("family_key", in.Family.FamilyKey))
		return nil, nil
	}

	product := productFromRecord(in.SupplierID, in.Family, in.Hash)
	variants := variantsFromRecords(in.Variants)

	result, err := r.products.UpsertFamily(ctx, product, variants)
	if err != nil {
		var conflict *apperrors.ConflictError
		if errors.As(err, &conflict) {
			// One retry after the conflicting row has landed; the
			// second conflict escalates.
			result, err = r.products.UpsertFamily(ctx, product, variants)
		}
		if err != nil {
			return nil, apperrors.NewFamilyError(in.Family.FamilyKey, PhaseUpsert, err)
		}
	}

	if r.images != nil {
		queued, err := r.images.PlanFamilyImages(ctx, result, in.Variants)
		result.ImagesQueued = queued
		if err != nil {
			// A variant may exist without an image; it is re-attempted
			// on the next sync.
			r.logger.Warn("image planning failed",
				slog.String("family_key", in.Family.FamilyKey),
				slog.String("error", err.Error()))
		}
	}

	if r.events != nil {
		if err := r.events.PublishProductUpserted(ctx, result.Product, result.Created); err != nil {
			if rbErr := r.products.RollbackHash(ctx, result.Product.ID, in.PreviousHash); rbErr != nil {
				r.logger.Error("hash rollback failed",
					slog.String("product_id", result.Product.ID),
					slog.String("error", rbErr.Error()))
			}
			return nil, apperrors.NewFamilyError(in.Family.FamilyKey, PhasePublish, err)
		}
	}

	return result, nil
}

func productFromRecord(supplierID string, rec domain.FamilyRecord, hash string) *domain.Product {
	now := time.Now().UTC()
	return &domain.Product{
		ID:               uuid.NewString(),
		SKU:              rec.FamilyKey,
		ANumber:          rec.ANumber,
		SupplierSKU:      rec.SupplierSKU,
		SupplierID:       supplierID,
		Name:             rec.Name,
		Description:      rec.Description,
		ShortDescription: rec.ShortDescription,
		ModelName:        rec.ModelName,
		Material:         rec.Material,
		Category:         rec.Category,
		Categories:       categoriesFor(rec.Category),
		PriceTiers:       rec.PriceTiers,
		Dimensions:       rec.Dimensions,
		CountryOfOrigin:  rec.CountryOfOrigin,
		DeliveryTime:     rec.DeliveryTime,
		PromidataHash:    hash,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func categoriesFor(category string) []string {
	if category == "" {
		return nil
	}
	return []string{category}
}

// variantsFromRecords converts variant records, marking the first variant of
// each color as its primary.
func variantsFromRecords(records []domain.VariantRecord) []domain.ProductVariant {
	now := time.Now().UTC()
	seenColor := make(map[string]struct{})

	variants := make([]domain.ProductVariant, 0, len(records))
	for _, rec := range records {
		_, colorSeen := seenColor[rec.Color]
		seenColor[rec.Color] = struct{}{}

		variants = append(variants, domain.ProductVariant{
			ID:                uuid.NewString(),
			SKU:               rec.SKU,
			Color:             rec.Color,
			HexColor:          rec.HexColor,
			Size:              rec.Size,
			DimLength:         rec.DimLength,
			DimWidth:          rec.DimWidth,
			DimHeight:         rec.DimHeight,
			DimDiameter:       rec.DimDiameter,
			DimWeight:         rec.DimWeight,
			PrimaryImageURL:   rec.PrimaryImageURL,
			GalleryImageURLs:  rec.GalleryImageURLs,
			IsPrimaryForColor: !colorSeen,
			IsActive:          true,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}
	return variants
}
