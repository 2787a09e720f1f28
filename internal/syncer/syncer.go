// Package syncer implements the job handlers of the three-tier pipeline:
// supplier-sync orchestration, per-family reconciliation, and per-image
// transfers.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Neno73/promidata-sync/internal/domain"
	"github.com/Neno73/promidata-sync/internal/grouping"
	"github.com/Neno73/promidata-sync/internal/imagepipe"
	"github.com/Neno73/promidata-sync/internal/manifest"
	"github.com/Neno73/promidata-sync/internal/normalize"
	"github.com/Neno73/promidata-sync/internal/queue"
	"github.com/Neno73/promidata-sync/internal/reconcile"
	"github.com/Neno73/promidata-sync/internal/repository"
	apperrors "github.com/Neno73/promidata-sync/pkg/errors"
)

// Job names within their queues.
const (
	JobSupplierSync = "supplier-sync"
	JobFamilySync   = "family-sync"
	JobImageUpload  = "image-upload"
)

// Supplier job progress steps, in order.
const (
	StepParseManifest  = "parse_manifest"
	StepFetchVariants  = "fetch_variants"
	StepGroup          = "group"
	StepBatchHashCheck = "batch_hash_check"
	StepEnqueueFams    = "enqueue_families"
	StepDone           = "done"
)

// progressEvery bounds progress writes during the variant fetch loop.
const progressEvery = 10

// feed is the slice of the upstream client the syncer uses.
type feed interface {
	FetchText(ctx context.Context, url string) (string, error)
	FetchJSON(ctx context.Context, url string, target any) error
	Resolve(url string) string
}

// enqueuer schedules jobs on a downstream queue.
type enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, keyField string) (*queue.Job, error)
}

// progressSink records job progress. Satisfied by *queue.Queue.
type progressSink interface {
	UpdateProgress(ctx context.Context, job *queue.Job, step string, percent int) error
}

// stopper is the lock store's cancellation surface.
type stopper interface {
	Acquire(ctx context.Context, supplierID string) (string, error)
	Release(ctx context.Context, supplierID, holderID string) (bool, error)
	StopRequested(ctx context.Context, supplierID string) (bool, error)
	ClearStop(ctx context.Context, supplierID string) error
	ClearPending(ctx context.Context, supplierID string) error
}

// Syncer holds the dependencies shared by the three job handlers.
type Syncer struct {
	suppliers   repository.SupplierRepository
	products    repository.ProductRepository
	reconciler  *reconcile.Reconciler
	pipeline    *imagepipe.Pipeline
	upstream    feed
	locks       stopper
	familyQueue enqueuer
	supplierQ   progressSink
	manifestURL string
	logger      *slog.Logger
}

// New creates the syncer.
func New(
	suppliers repository.SupplierRepository,
	products repository.ProductRepository,
	reconciler *reconcile.Reconciler,
	pipeline *imagepipe.Pipeline,
	upstream feed,
	locks stopper,
	familyQueue enqueuer,
	supplierQ progressSink,
	manifestURL string,
	logger *slog.Logger,
) *Syncer {
	return &Syncer{
		suppliers:   suppliers,
		products:    products,
		reconciler:  reconciler,
		pipeline:    pipeline,
		upstream:    upstream,
		locks:       locks,
		familyQueue: familyQueue,
		supplierQ:   supplierQ,
		manifestURL: manifestURL,
		logger:      logger,
	}
}

// HandleSupplierSync runs one supplier-sync job end to end: manifest parse,
// variant fetch, grouping, batch hash check, family enqueue. A stop sentinel
// observed at a safe point finishes the current unit and completes the job
// with the cancelled flag set.
func (s *Syncer) HandleSupplierSync(ctx context.Context, job *queue.Job) (any, error) {
	var payload domain.SupplierSyncPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return nil, &apperrors.ValidationError{Field: "payload", Reason: err.Error()}
	}

	supplier, err := s.suppliers.GetByID(ctx, payload.SupplierID)
	if err != nil {
		s.clearPending(ctx, payload.SupplierID)
		return nil, fmt.Errorf("load supplier %s: %w", payload.SupplierID, err)
	}

	holder, err := s.locks.Acquire(ctx, supplier.ID)
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock for %s: %w", supplier.ID, err)
	}
	// The lock now guards the supplier; the enqueue-time marker is done.
	s.clearPending(ctx, supplier.ID)
	defer func() {
		if _, relErr := s.locks.Release(context.WithoutCancel(ctx), supplier.ID, holder); relErr != nil {
			s.logger.Error("lock release failed",
				slog.String("supplier_id", supplier.ID),
				slog.String("error", relErr.Error()))
		}
	}()

	// A stale sentinel from a previous run must not cancel this one.
	if err := s.locks.ClearStop(ctx, supplier.ID); err != nil {
		return nil, fmt.Errorf("clear stale stop sentinel: %w", err)
	}

	if err := s.suppliers.UpdateSyncStatus(ctx, supplier.ID, domain.SyncStatusRunning, ""); err != nil {
		return nil, err
	}

	result, runErr := s.runSupplierSync(ctx, job, supplier, payload)
	if runErr != nil {
		s.recordStatus(ctx, supplier.ID, domain.SyncStatusFailed, runErr.Error())
		return nil, runErr
	}

	status := domain.SyncStatusCompleted
	message := fmt.Sprintf("%d families, %d skipped, %d enqueued, %d failed",
		result.Total, result.Skipped, result.Processed, result.Failed)
	switch {
	case result.Cancelled:
		status = domain.SyncStatusCancelled
	case result.Failed*2 > result.Total:
		status = domain.SyncStatusFailed
	}
	s.recordStatus(ctx, supplier.ID, status, message)

	return result, nil
}

func (s *Syncer) runSupplierSync(ctx context.Context, job *queue.Job, supplier *domain.Supplier, payload domain.SupplierSyncPayload) (*domain.SupplierSyncResult, error) {
	result := &domain.SupplierSyncResult{SupplierID: supplier.ID}

	if payload.Force {
		cleared, err := s.products.ClearHashes(ctx, supplier.ID)
		if err != nil {
			return nil, fmt.Errorf("clear stored hashes: %w", err)
		}
		s.logger.Info("forced full re-sync",
			slog.String("supplier_id", supplier.ID),
			slog.Int64("hashes_cleared", cleared))
	}

	s.progress(ctx, job, StepParseManifest, 5)
	manifestText, err := s.upstream.FetchText(ctx, s.manifestURL)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	entries := manifest.FilterSupplier(manifest.Parse(manifestText), supplier.Code)
	if len(entries) == 0 {
		s.progress(ctx, job, StepDone, 100)
		result.Efficiency = 1
		return result, nil
	}

	if s.stopRequested(ctx, supplier.ID) {
		result.Cancelled = true
		return result, nil
	}

	s.progress(ctx, job, StepFetchVariants, 10)
	families := make([]grouping.Family, 0, len(entries))
	for i, entry := range entries {
		if s.stopRequested(ctx, supplier.ID) {
			result.Cancelled = true
			break
		}

		var doc map[string]any
		if err := s.upstream.FetchJSON(ctx, s.upstream.Resolve(entry.URL), &doc); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entry.SKU, err))
			s.logger.Warn("variant document fetch failed",
				slog.String("supplier_id", supplier.ID),
				slog.String("url", entry.URL),
				slog.String("error", err.Error()))
			continue
		}

		rec, variants := normalize.Normalize(supplier.Code, entry.SKU, doc)
		families = append(families, grouping.Family{
			Key:          rec.FamilyKey,
			Record:       rec,
			Variants:     variants,
			ManifestHash: entry.Hash,
		})

		if (i+1)%progressEvery == 0 {
			s.progress(ctx, job, StepFetchVariants, 10+50*(i+1)/len(entries))
		}
	}

	s.progress(ctx, job, StepGroup, 65)
	grouped := grouping.GroupByFamily(families)

	s.progress(ctx, job, StepBatchHashCheck, 75)
	filtered, err := s.reconciler.FilterForSync(ctx, supplier.ID, grouped)
	if err != nil {
		return nil, fmt.Errorf("batch hash check: %w", err)
	}
	result.Total = filtered.Total
	result.Skipped = filtered.Skipped
	result.Efficiency = filtered.Efficiency

	s.progress(ctx, job, StepEnqueueFams, 85)
	for _, candidate := range filtered.ToProcess {
		if !result.Cancelled && s.stopRequested(ctx, supplier.ID) {
			result.Cancelled = true
		}
		if result.Cancelled {
			break
		}

		familyPayload := domain.FamilyPayload{
			SupplierID:   supplier.ID,
			FamilyKey:    candidate.Family.Key,
			FamilyHash:   candidate.Hash,
			PreviousHash: candidate.PreviousHash,
			Family:       candidate.Family.Record,
			Variants:     candidate.Family.Variants,
		}
		if _, err := s.familyQueue.Enqueue(ctx, JobFamilySync, familyPayload, candidate.Family.Key); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: enqueue: %v", candidate.Family.Key, err))
			continue
		}
		result.Processed++
	}

	s.progress(ctx, job, StepDone, 100)
	return result, nil
}

// HandleFamily applies one changed family: reconcile the product and its
// variants, then plan images and publish the sink event.
func (s *Syncer) HandleFamily(ctx context.Context, job *queue.Job) (any, error) {
	var payload domain.FamilyPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return nil, &apperrors.ValidationError{Field: "payload", Reason: err.Error()}
	}

	result, err := s.reconciler.UpsertFamily(ctx, reconcile.FamilyInput{
		SupplierID:   payload.SupplierID,
		Family:       payload.Family,
		Variants:     payload.Variants,
		Hash:         payload.FamilyHash,
		PreviousHash: payload.PreviousHash,
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		// Zero variants; the product was not touched.
		return &domain.FamilyResult{FamilyKey: payload.FamilyKey}, nil
	}

	return &domain.FamilyResult{
		FamilyKey:      payload.FamilyKey,
		Created:        result.Created,
		VariantCount:   len(result.Variants),
		ImagesEnqueued: result.ImagesQueued,
	}, nil
}

// HandleImage transfers one image: dedup, download, upload, attach.
func (s *Syncer) HandleImage(ctx context.Context, job *queue.Job) (any, error) {
	var payload domain.ImagePayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return nil, &apperrors.ValidationError{Field: "payload", Reason: err.Error()}
	}

	media, err := s.pipeline.Process(ctx, payload)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"media_id": media.ID,
		"filename": media.Filename,
		"url":      media.URL,
	}, nil
}

// SeedSuppliers parses the global manifest and upserts one supplier row per
// distinct feed code. Run once at startup.
func (s *Syncer) SeedSuppliers(ctx context.Context) (int, error) {
	manifestText, err := s.upstream.FetchText(ctx, s.manifestURL)
	if err != nil {
		return 0, fmt.Errorf("fetch manifest: %w", err)
	}

	seen := make(map[string]bool)
	seeded := 0
	now := time.Now().UTC()
	for _, entry := range manifest.Parse(manifestText) {
		if entry.SupplierCode == "" || seen[entry.SupplierCode] {
			continue
		}
		seen[entry.SupplierCode] = true

		supplier := &domain.Supplier{
			ID:             uuid.NewString(),
			Code:           entry.SupplierCode,
			Name:           entry.SupplierCode,
			IsActive:       true,
			AutoImport:     true,
			LastSyncStatus: domain.SyncStatusIdle,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.suppliers.UpsertByCode(ctx, supplier); err != nil {
			return seeded, fmt.Errorf("seed supplier %s: %w", entry.SupplierCode, err)
		}
		seeded++
	}
	return seeded, nil
}

// clearPending drops the enqueue-time duplicate guard. Failures only delay
// the next manual start until the marker's TTL runs out, so a warning is
// enough.
func (s *Syncer) clearPending(ctx context.Context, supplierID string) {
	if err := s.locks.ClearPending(context.WithoutCancel(ctx), supplierID); err != nil {
		s.logger.Warn("pending marker clear failed",
			slog.String("supplier_id", supplierID),
			slog.String("error", err.Error()))
	}
}

// stopRequested reads the stop sentinel; read errors count as "no stop" so a
// flaky Redis read cannot cancel a healthy run.
func (s *Syncer) stopRequested(ctx context.Context, supplierID string) bool {
	stopped, err := s.locks.StopRequested(ctx, supplierID)
	if err != nil {
		s.logger.Warn("stop sentinel read failed",
			slog.String("supplier_id", supplierID),
			slog.String("error", err.Error()))
		return false
	}
	return stopped
}

func (s *Syncer) progress(ctx context.Context, job *queue.Job, step string, percent int) {
	if s.supplierQ == nil {
		return
	}
	if err := s.supplierQ.UpdateProgress(ctx, job, step, percent); err != nil {
		s.logger.Warn("progress update failed",
			slog.String("job_id", job.ID),
			slog.String("step", step),
			slog.String("error", err.Error()))
	}
}

func (s *Syncer) recordStatus(ctx context.Context, supplierID, status, message string) {
	if err := s.suppliers.UpdateSyncStatus(context.WithoutCancel(ctx), supplierID, status, message); err != nil {
		s.logger.Error("supplier status update failed",
			slog.String("supplier_id", supplierID),
			slog.String("status", status),
			slog.String("error", err.Error()))
	}
}
