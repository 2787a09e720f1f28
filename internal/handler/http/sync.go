package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Neno73/promidata-sync/internal/domain"
	"github.com/Neno73/promidata-sync/internal/queue"
	"github.com/Neno73/promidata-sync/internal/repository"
	"github.com/Neno73/promidata-sync/internal/syncer"
	apperrors "github.com/Neno73/promidata-sync/pkg/errors"
	"github.com/Neno73/promidata-sync/pkg/httputil"
	"github.com/Neno73/promidata-sync/pkg/validator"
)

// lockPlane is the slice of the lock store the sync endpoints use.
type lockPlane interface {
	ActiveLocks(ctx context.Context) ([]string, error)
	MarkPending(ctx context.Context, supplierID string) (bool, error)
	ClearPending(ctx context.Context, supplierID string) error
	RequestStop(ctx context.Context, supplierID string) error
}

// supplierEnqueuer schedules supplier-sync jobs.
type supplierEnqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, keyField string) (*queue.Job, error)
}

// SyncHandler serves the /sync endpoints.
type SyncHandler struct {
	suppliers repository.SupplierRepository
	locks     lockPlane
	queue     supplierEnqueuer
	logger    *slog.Logger
}

// NewSyncHandler creates the sync endpoint handler.
func NewSyncHandler(suppliers repository.SupplierRepository, locks lockPlane, q supplierEnqueuer, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{suppliers: suppliers, locks: locks, queue: q, logger: logger}
}

type startRequest struct {
	SupplierID string `json:"supplier_id,omitempty" validate:"omitempty,max=128"`
	Force      bool   `json:"force,omitempty"`
}

type startResponse struct {
	Mode   string   `json:"mode"`
	JobIDs []string `json:"job_ids"`
}

// Start enqueues a supplier-sync job for one supplier, or for every active
// supplier when no supplier_id is given. A supplier whose lock is already
// held, or whose sync job is still waiting for a worker, yields 409 (single
// supplier) or is skipped (all-supplier mode).
func (h *SyncHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, r, &apperrors.ValidationError{Field: "body", Reason: "invalid JSON"}, h.logger)
			return
		}
	}
	if err := validator.Validate(&req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	locked, err := h.locks.ActiveLocks(ctx)
	if err != nil {
		httputil.WriteError(w, r, &apperrors.TransientStoreError{Op: "list locks", Cause: err}, h.logger)
		return
	}
	lockedSet := make(map[string]bool, len(locked))
	for _, id := range locked {
		lockedSet[id] = true
	}

	var targets []domain.Supplier
	if req.SupplierID != "" {
		supplier, err := h.suppliers.GetByID(ctx, req.SupplierID)
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		if lockedSet[supplier.ID] {
			httputil.WriteError(w, r, fmt.Errorf("supplier %s: %w", supplier.ID, apperrors.ErrLockHeld), h.logger)
			return
		}
		ok, err := h.locks.MarkPending(ctx, supplier.ID)
		if err != nil {
			httputil.WriteError(w, r, &apperrors.TransientStoreError{Op: "mark pending", Cause: err}, h.logger)
			return
		}
		if !ok {
			httputil.WriteError(w, r, fmt.Errorf("supplier %s: sync already queued: %w", supplier.ID, apperrors.ErrLockHeld), h.logger)
			return
		}
		targets = []domain.Supplier{*supplier}
	} else {
		all, err := h.suppliers.List(ctx, true)
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		for _, s := range all {
			if lockedSet[s.ID] {
				continue
			}
			ok, err := h.locks.MarkPending(ctx, s.ID)
			if err != nil {
				httputil.WriteError(w, r, &apperrors.TransientStoreError{Op: "mark pending", Cause: err}, h.logger)
				return
			}
			if ok {
				targets = append(targets, s)
			}
		}
	}

	jobIDs := make([]string, 0, len(targets))
	for _, supplier := range targets {
		payload := domain.SupplierSyncPayload{
			SupplierID: supplier.ID,
			Manual:     true,
			Force:      req.Force,
		}
		job, err := h.queue.Enqueue(ctx, syncer.JobSupplierSync, payload, supplier.ID)
		if err != nil {
			if clearErr := h.locks.ClearPending(ctx, supplier.ID); clearErr != nil {
				h.logger.Warn("pending marker clear failed",
					slog.String("supplier_id", supplier.ID),
					slog.String("error", clearErr.Error()))
			}
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		jobIDs = append(jobIDs, job.ID)
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: startResponse{Mode: "queued", JobIDs: jobIDs},
	})
}

// Active lists supplier ids with a held sync lock.
func (h *SyncHandler) Active(w http.ResponseWriter, r *http.Request) {
	locked, err := h.locks.ActiveLocks(r.Context())
	if err != nil {
		httputil.WriteError(w, r, &apperrors.TransientStoreError{Op: "list locks", Cause: err}, h.logger)
		return
	}
	if locked == nil {
		locked = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string][]string{"supplier_ids": locked},
	})
}

type supplierStatus struct {
	SupplierID      string     `json:"supplier_id"`
	Code            string     `json:"code"`
	Name            string     `json:"name"`
	IsActive        bool       `json:"is_active"`
	Running         bool       `json:"running"`
	LastSyncStatus  string     `json:"last_sync_status"`
	LastSyncMessage string     `json:"last_sync_message,omitempty"`
	LastSyncAt      *time.Time `json:"last_sync_at,omitempty"`
}

// Status summarizes every supplier's last sync outcome and whether a sync is
// currently running.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	suppliers, err := h.suppliers.List(ctx, false)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	locked, err := h.locks.ActiveLocks(ctx)
	if err != nil {
		httputil.WriteError(w, r, &apperrors.TransientStoreError{Op: "list locks", Cause: err}, h.logger)
		return
	}
	lockedSet := make(map[string]bool, len(locked))
	for _, id := range locked {
		lockedSet[id] = true
	}

	statuses := make([]supplierStatus, 0, len(suppliers))
	for _, s := range suppliers {
		statuses = append(statuses, supplierStatus{
			SupplierID:      s.ID,
			Code:            s.Code,
			Name:            s.Name,
			IsActive:        s.IsActive,
			Running:         lockedSet[s.ID],
			LastSyncStatus:  s.LastSyncStatus,
			LastSyncMessage: s.LastSyncMessage,
			LastSyncAt:      s.LastSyncAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]any{"suppliers": statuses},
	})
}

// Stop sets the cooperative stop sentinel for a supplier. Succeeds whether or
// not a sync is actually running.
func (h *SyncHandler) Stop(w http.ResponseWriter, r *http.Request) {
	supplierID := chi.URLParam(r, "supplier_id")

	if _, err := h.suppliers.GetByID(r.Context(), supplierID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		// A flaky supplier read must not block a stop request.
		h.logger.Warn("supplier lookup failed during stop",
			slog.String("supplier_id", supplierID),
			slog.String("error", err.Error()))
	}

	if err := h.locks.RequestStop(r.Context(), supplierID); err != nil {
		httputil.WriteError(w, r, &apperrors.TransientStoreError{Op: "request stop", Cause: err}, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]any{"supplier_id": supplierID, "stop_requested": true},
	})
}
