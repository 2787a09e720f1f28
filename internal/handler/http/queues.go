package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Neno73/promidata-sync/internal/queue"
	"github.com/Neno73/promidata-sync/internal/stats"
	apperrors "github.com/Neno73/promidata-sync/pkg/errors"
	"github.com/Neno73/promidata-sync/pkg/httputil"
	"github.com/Neno73/promidata-sync/pkg/validator"
)

const (
	defaultPageSize   = 20
	defaultRetryLimit = 100
)

// QueueHandler serves the /queues endpoints.
type QueueHandler struct {
	queues map[string]*queue.Queue
	stats  *stats.Collector
	logger *slog.Logger
}

// NewQueueHandler creates the queue endpoint handler.
func NewQueueHandler(queues map[string]*queue.Queue, collector *stats.Collector, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{queues: queues, stats: collector, logger: logger}
}

// queueFor resolves the {queue} URL parameter, writing a 400 on unknown
// names.
func (h *QueueHandler) queueFor(w http.ResponseWriter, r *http.Request) (*queue.Queue, bool) {
	name := chi.URLParam(r, "queue")
	q, ok := h.queues[name]
	if !ok {
		httputil.WriteError(w, r, &apperrors.ValidationError{Field: "queue", Reason: "unknown queue " + name}, h.logger)
		return nil, false
	}
	return q, true
}

// AllStats returns the cached counters for every queue.
func (h *QueueHandler) AllStats(w http.ResponseWriter, r *http.Request) {
	all, err := h.stats.AllStats(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: all})
}

// QueueStats returns the cached counters for one queue.
func (h *QueueHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.stats.QueueStats(r.Context(), chi.URLParam(r, "queue"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: s})
}

// ListJobs returns a page of jobs in one state, newest first. The q parameter
// matches job id, job name, and a fixed allow-list of payload fields.
func (h *QueueHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q, ok := h.queueFor(w, r)
	if !ok {
		return
	}

	state := r.URL.Query().Get("state")
	if state == "" {
		state = queue.StateWaiting
	}
	page := intParam(r, "page", 1)
	pageSize := intParam(r, "page_size", defaultPageSize)
	search := r.URL.Query().Get("q")

	jobs, total, err := q.List(r.Context(), state, page, pageSize, search)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(jobs, total, page, pageSize))
}

// GetJob returns one job with full payload, progress, error, and stacktrace.
func (h *QueueHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	q, ok := h.queueFor(w, r)
	if !ok {
		return
	}

	job, err := q.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: job})
}

// DeleteJob removes one job from every queue structure.
func (h *QueueHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	q, ok := h.queueFor(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := q.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.stats.Invalidate(q.Name())
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"deleted": id}})
}

// RetryJob re-enqueues one failed job with its attempt counter reset.
func (h *QueueHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	q, ok := h.queueFor(w, r)
	if !ok {
		return
	}

	job, err := q.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.stats.Invalidate(q.Name())
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: job})
}

type retryFailedRequest struct {
	Limit int `json:"limit,omitempty" validate:"min=1,max=1000"`
}

// RetryFailed re-enqueues up to limit failed jobs, oldest first.
func (h *QueueHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	q, ok := h.queueFor(w, r)
	if !ok {
		return
	}

	req := retryFailedRequest{Limit: defaultRetryLimit}
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

	retried, err := q.RetryFailed(r.Context(), req.Limit)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.stats.Invalidate(q.Name())
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]int{"retried": retried}})
}

// Pause stops workers from picking up jobs; enqueueing continues.
func (h *QueueHandler) Pause(w http.ResponseWriter, r *http.Request) {
	q, ok := h.queueFor(w, r)
	if !ok {
		return
	}

	if err := q.Pause(r.Context()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.stats.Invalidate(q.Name())
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]bool{"paused": true}})
}

// Resume reopens a paused queue.
func (h *QueueHandler) Resume(w http.ResponseWriter, r *http.Request) {
	q, ok := h.queueFor(w, r)
	if !ok {
		return
	}

	if err := q.Resume(r.Context()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.stats.Invalidate(q.Name())
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]bool{"paused": false}})
}

type cleanRequest struct {
	GraceMS int64  `json:"grace_ms" validate:"min=0"`
	Status  string `json:"status" validate:"required,oneof=completed failed"`
}

// Clean evicts completed or failed jobs older than the grace window.
func (h *QueueHandler) Clean(w http.ResponseWriter, r *http.Request) {
	q, ok := h.queueFor(w, r)
	if !ok {
		return
	}

	var req cleanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, r, &apperrors.ValidationError{Field: "body", Reason: "invalid JSON"}, h.logger)
		return
	}
	if err := validator.Validate(&req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	removed, err := q.Clean(r.Context(), time.Duration(req.GraceMS)*time.Millisecond, req.Status)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.stats.Invalidate(q.Name())
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]int{"removed": removed}})
}

// Drain removes every job from the queue regardless of state.
func (h *QueueHandler) Drain(w http.ResponseWriter, r *http.Request) {
	q, ok := h.queueFor(w, r)
	if !ok {
		return
	}

	if err := q.Drain(r.Context()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.logger.Warn("queue drained", slog.String("queue", q.Name()))
	h.stats.Invalidate(q.Name())
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]bool{"drained": true}})
}

func intParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}
