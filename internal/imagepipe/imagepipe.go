// Package imagepipe moves product images from the upstream feed into the
// object store, deduplicating by filename so an image is transferred at most
// once across all suppliers and runs.
package imagepipe

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Neno73/promidata-sync/internal/domain"
	"github.com/Neno73/promidata-sync/internal/repository"
	"github.com/Neno73/promidata-sync/internal/storage"
	apperrors "github.com/Neno73/promidata-sync/pkg/errors"
)

const (
	downloadTimeout    = 30 * time.Second
	largeMasterTimeout = 60 * time.Second
)

// Fetcher is the slice of the upstream client the pipeline needs.
type Fetcher interface {
	FetchBytes(ctx context.Context, url string, timeout time.Duration) ([]byte, string, error)
}

// JobEnqueuer schedules one image-upload job. The function form keeps
// imagepipe decoupled from the queue package; the app wiring adapts it.
type JobEnqueuer func(ctx context.Context, payload domain.ImagePayload) error

// Pipeline implements both halves of image handling: planning at family
// upsert time and transferring inside image-upload jobs.
type Pipeline struct {
	media    repository.MediaRepository
	products repository.ProductRepository
	store    storage.ObjectStore
	fetcher  Fetcher
	enqueue  JobEnqueuer
	logger   *slog.Logger
}

// New creates the image pipeline. enqueue may be nil when only Process is
// exercised.
func New(
	media repository.MediaRepository,
	products repository.ProductRepository,
	store storage.ObjectStore,
	fetcher Fetcher,
	enqueue JobEnqueuer,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		media:    media,
		products: products,
		store:    store,
		fetcher:  fetcher,
		enqueue:  enqueue,
		logger:   logger,
	}
}

// FilenameFromURL derives the dedup key from an image URL: the basename with
// query strings stripped. URLs without a usable basename fall back to a hash
// of the full URL.
func FilenameFromURL(rawURL string) string {
	cleaned := rawURL
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Path != "" {
		cleaned = parsed.Path
	} else if idx := strings.IndexAny(cleaned, "?#"); idx >= 0 {
		cleaned = cleaned[:idx]
	}

	base := path.Base(cleaned)
	if base == "" || base == "." || base == "/" {
		sum := sha256.Sum256([]byte(rawURL))
		return hex.EncodeToString(sum[:])[:16] + ".img"
	}
	return base
}

// PlanFamilyImages walks an upserted family's variants and, per image,
// either attaches an existing Media row immediately (the dedup fast path,
// zero transfers) or enqueues an image-upload job. Returns the number of jobs
// enqueued.
func (p *Pipeline) PlanFamilyImages(ctx context.Context, result *repository.UpsertResult, records []domain.VariantRecord) (int, error) {
	variantBySKU := make(map[string]domain.ProductVariant, len(result.Variants))
	for _, v := range result.Variants {
		variantBySKU[v.SKU] = v
	}

	queued := 0
	var firstErr error
	for i, rec := range records {
		variant, ok := variantBySKU[rec.SKU]
		if !ok {
			continue
		}

		firstOfFamily := i == 0
		if rec.PrimaryImageURL != "" {
			// The first variant's primary becomes the product main image;
			// masters tend to be the largest renditions the feed serves.
			payload := domain.ImagePayload{
				SourceURL:              rec.PrimaryImageURL,
				VariantID:              variant.ID,
				Role:                   domain.ImageRolePrimary,
				IsFirstVariantOfFamily: firstOfFamily,
				LargeMaster:            firstOfFamily,
				ProductID:              result.Product.ID,
			}
			n, err := p.planOne(ctx, payload)
			queued += n
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		for _, galleryURL := range rec.GalleryImageURLs {
			payload := domain.ImagePayload{
				SourceURL: galleryURL,
				VariantID: variant.ID,
				Role:      domain.ImageRoleGallery,
				ProductID: result.Product.ID,
			}
			n, err := p.planOne(ctx, payload)
			queued += n
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return queued, firstErr
}

// planOne resolves one image: attach on dedup hit, enqueue otherwise.
// Returns 1 when a job was enqueued.
func (p *Pipeline) planOne(ctx context.Context, payload domain.ImagePayload) (int, error) {
	filename := FilenameFromURL(payload.SourceURL)

	media, err := p.media.GetByFilename(ctx, filename)
	switch {
	case err == nil:
		// Dedup hit: attach immediately so the product never shows an
		// empty main image window.
		if err := p.attach(ctx, payload, media); err != nil {
			return 0, err
		}
		return 0, nil
	case errors.Is(err, apperrors.ErrNotFound):
		if p.enqueue == nil {
			return 0, nil
		}
		if err := p.enqueue(ctx, payload); err != nil {
			return 0, err
		}
		return 1, nil
	default:
		return 0, err
	}
}

// Process executes one image-upload job: dedup check, download, upload,
// media insert, attachment. Safe to re-run.
func (p *Pipeline) Process(ctx context.Context, payload domain.ImagePayload) (*domain.Media, error) {
	filename := FilenameFromURL(payload.SourceURL)

	media, err := p.media.GetByFilename(ctx, filename)
	if err == nil {
		// Raced with another job or a previous attempt; no transfer.
		if err := p.attach(ctx, payload, media); err != nil {
			return nil, err
		}
		return media, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	timeout := downloadTimeout
	if payload.LargeMaster {
		timeout = largeMasterTimeout
	}
	body, contentType, err := p.fetcher.FetchBytes(ctx, payload.SourceURL, timeout)
	if err != nil {
		return nil, err
	}

	publicURL, err := p.store.Put(ctx, filename, contentType, bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("upload image %s: %w", filename, err)
	}

	sum := sha256.Sum256(body)
	media = &domain.Media{
		ID:        uuid.NewString(),
		Filename:  filename,
		URL:       publicURL,
		Size:      int64(len(body)),
		Hash:      hex.EncodeToString(sum[:]),
		CreatedAt: time.Now().UTC(),
	}
	if err := p.media.Create(ctx, media); err != nil {
		var conflict *apperrors.ConflictError
		if !errors.As(err, &conflict) {
			return nil, err
		}
		// Concurrent insert won; reuse the winner's row.
		media, err = p.media.GetByFilename(ctx, filename)
		if err != nil {
			return nil, err
		}
	}

	if err := p.attach(ctx, payload, media); err != nil {
		return nil, err
	}
	return media, nil
}

// attach wires a media row onto its owner variant and, for the first
// variant's primary image, onto the product's main image.
func (p *Pipeline) attach(ctx context.Context, payload domain.ImagePayload, media *domain.Media) error {
	switch payload.Role {
	case domain.ImageRolePrimary:
		if err := p.products.SetVariantPrimaryImage(ctx, payload.VariantID, media.ID, media.URL); err != nil {
			return err
		}
		if payload.IsFirstVariantOfFamily && payload.ProductID != "" {
			if err := p.products.SetMainImage(ctx, payload.ProductID, media.ID); err != nil {
				return err
			}
		}
	case domain.ImageRoleGallery:
		if err := p.products.AppendVariantGalleryImage(ctx, payload.VariantID, media.ID, media.URL); err != nil {
			return err
		}
	default:
		return &apperrors.ValidationError{Field: "role", Reason: "unknown image role " + payload.Role}
	}
	return nil
}
