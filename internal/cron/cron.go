// Package cron runs the engine's periodic tasks: the nightly supplier sync,
// the incremental search reindex, queue eviction, and queue health checks.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"

	"github.com/Neno73/promidata-sync/internal/domain"
	"github.com/Neno73/promidata-sync/internal/indexer"
	"github.com/Neno73/promidata-sync/internal/queue"
	"github.com/Neno73/promidata-sync/internal/repository"
	"github.com/Neno73/promidata-sync/internal/syncer"
)

const (
	scheduleNightlySync = "0 2 * * *"
	scheduleReindex     = "@every 12h"
	scheduleQueueClean  = "@every 6h"
	scheduleHealthCheck = "@every 15m"

	cleanGrace     = 24 * time.Hour
	reindexWindow  = 12 * time.Hour
	reindexLimit   = 1000
	taskTimeout    = 10 * time.Minute
	failedWarnAt   = 50
	waitingWarnAt  = 100
)

var queueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "sync_queue_jobs",
		Help: "Number of jobs per queue and state.",
	},
	[]string{"queue", "state"},
)

// lockReader lists held supplier locks and reserves suppliers for enqueued
// syncs.
type lockReader interface {
	ActiveLocks(ctx context.Context) ([]string, error)
	MarkPending(ctx context.Context, supplierID string) (bool, error)
	ClearPending(ctx context.Context, supplierID string) error
}

// enqueuer schedules supplier-sync jobs.
type enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, keyField string) (*queue.Job, error)
}

// Scheduler owns the periodic task registrations.
type Scheduler struct {
	cron      *cron.Cron
	suppliers repository.SupplierRepository
	products  repository.ProductRepository
	engine    indexer.Engine
	locks     lockReader
	supplierQ enqueuer
	queues    map[string]*queue.Queue
	logger    *slog.Logger
}

// NewScheduler creates the scheduler. engine may be nil when the search sink
// is disabled; the reindex task then no-ops.
func NewScheduler(
	suppliers repository.SupplierRepository,
	products repository.ProductRepository,
	engine indexer.Engine,
	locks lockReader,
	supplierQ enqueuer,
	queues map[string]*queue.Queue,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		suppliers: suppliers,
		products:  products,
		engine:    engine,
		locks:     locks,
		supplierQ: supplierQ,
		queues:    queues,
		logger:    logger,
	}
}

// Start registers all tasks and starts the cron loop.
func (s *Scheduler) Start() error {
	tasks := []struct {
		schedule string
		name     string
		run      func(context.Context)
	}{
		{scheduleNightlySync, "nightly_supplier_sync", s.RunNightlySync},
		{scheduleReindex, "incremental_reindex", s.RunReindex},
		{scheduleQueueClean, "queue_clean", s.RunQueueClean},
		{scheduleHealthCheck, "queue_health_check", s.RunHealthCheck},
	}

	for _, task := range tasks {
		task := task
		if _, err := s.cron.AddFunc(task.schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
			defer cancel()
			task.run(ctx)
		}); err != nil {
			return err
		}
		s.logger.Info("cron task registered",
			slog.String("task", task.name),
			slog.String("schedule", task.schedule))
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for running tasks.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunNightlySync enqueues a supplier-sync job for every auto-import supplier
// that is not already running.
func (s *Scheduler) RunNightlySync(ctx context.Context) {
	suppliers, err := s.suppliers.List(ctx, true)
	if err != nil {
		s.logger.Error("nightly sync: supplier list failed", slog.String("error", err.Error()))
		return
	}

	locked, err := s.locks.ActiveLocks(ctx)
	if err != nil {
		s.logger.Error("nightly sync: lock enumeration failed", slog.String("error", err.Error()))
		return
	}
	lockedSet := make(map[string]bool, len(locked))
	for _, id := range locked {
		lockedSet[id] = true
	}

	enqueued := 0
	for _, supplier := range suppliers {
		if !supplier.AutoImport || lockedSet[supplier.ID] {
			continue
		}
		ok, err := s.locks.MarkPending(ctx, supplier.ID)
		if err != nil {
			s.logger.Error("nightly sync: pending marker failed",
				slog.String("supplier_id", supplier.ID),
				slog.String("error", err.Error()))
			continue
		}
		if !ok {
			// A manual start already queued this supplier.
			continue
		}
		payload := domain.SupplierSyncPayload{SupplierID: supplier.ID}
		if _, err := s.supplierQ.Enqueue(ctx, syncer.JobSupplierSync, payload, supplier.ID); err != nil {
			s.logger.Error("nightly sync: enqueue failed",
				slog.String("supplier_id", supplier.ID),
				slog.String("error", err.Error()))
			if clearErr := s.locks.ClearPending(ctx, supplier.ID); clearErr != nil {
				s.logger.Error("nightly sync: pending marker clear failed",
					slog.String("supplier_id", supplier.ID),
					slog.String("error", clearErr.Error()))
			}
			continue
		}
		enqueued++
	}
	s.logger.Info("nightly sync scheduled", slog.Int("suppliers", enqueued))
}

// RunReindex pushes recently updated products into the search index in one
// bulk call, covering changes the event stream may have missed.
func (s *Scheduler) RunReindex(ctx context.Context) {
	if s.engine == nil {
		return
	}

	products, err := s.products.RecentlyUpdated(ctx, time.Now().UTC().Add(-reindexWindow), reindexLimit)
	if err != nil {
		s.logger.Error("reindex: recently-updated query failed", slog.String("error", err.Error()))
		return
	}
	if len(products) == 0 {
		return
	}

	docs := make([]indexer.ProductDocument, 0, len(products))
	for i := range products {
		docs = append(docs, indexer.DocumentFromProduct(&products[i]))
	}
	if err := s.engine.BulkIndex(ctx, docs); err != nil {
		s.logger.Error("reindex: bulk index failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("incremental reindex complete", slog.Int("products", len(docs)))
}

// RunQueueClean evicts completed and failed jobs older than the grace window
// from every queue.
func (s *Scheduler) RunQueueClean(ctx context.Context) {
	for name, q := range s.queues {
		for _, state := range []string{queue.StateCompleted, queue.StateFailed} {
			removed, err := q.Clean(ctx, cleanGrace, state)
			if err != nil {
				s.logger.Error("queue clean failed",
					slog.String("queue", name),
					slog.String("state", state),
					slog.String("error", err.Error()))
				continue
			}
			if removed > 0 {
				s.logger.Info("queue cleaned",
					slog.String("queue", name),
					slog.String("state", state),
					slog.Int("removed", removed))
			}
		}
	}
}

// RunHealthCheck warns when a queue shows signs of distress: a failed
// backlog, a deep waiting list, or waiting jobs behind a paused gate.
func (s *Scheduler) RunHealthCheck(ctx context.Context) {
	for name, q := range s.queues {
		stats, err := q.Stats(ctx)
		if err != nil {
			s.logger.Error("health check: stats read failed",
				slog.String("queue", name),
				slog.String("error", err.Error()))
			continue
		}

		queueDepth.WithLabelValues(name, queue.StateWaiting).Set(float64(stats.Waiting))
		queueDepth.WithLabelValues(name, queue.StateActive).Set(float64(stats.Active))
		queueDepth.WithLabelValues(name, queue.StateFailed).Set(float64(stats.Failed))
		queueDepth.WithLabelValues(name, queue.StateDelayed).Set(float64(stats.Delayed))

		if stats.Failed > failedWarnAt {
			s.logger.Warn("queue has a failed backlog",
				slog.String("queue", name),
				slog.Int64("failed", stats.Failed))
		}
		if stats.Waiting > waitingWarnAt {
			s.logger.Warn("queue waiting list is deep",
				slog.String("queue", name),
				slog.Int64("waiting", stats.Waiting))
		}
		if stats.Paused && stats.Waiting > 0 {
			s.logger.Warn("queue is paused with waiting jobs",
				slog.String("queue", name),
				slog.Int64("waiting", stats.Waiting))
		}
	}
}
