// Package app wires the sync engine together: stores, queues, workers, sinks,
// the cron scheduler, and the admin HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Neno73/promidata-sync/internal/config"
	"github.com/Neno73/promidata-sync/internal/cron"
	"github.com/Neno73/promidata-sync/internal/domain"
	"github.com/Neno73/promidata-sync/internal/event"
	handler "github.com/Neno73/promidata-sync/internal/handler/http"
	"github.com/Neno73/promidata-sync/internal/imagepipe"
	"github.com/Neno73/promidata-sync/internal/indexer"
	"github.com/Neno73/promidata-sync/internal/lock"
	"github.com/Neno73/promidata-sync/internal/queue"
	"github.com/Neno73/promidata-sync/internal/reconcile"
	"github.com/Neno73/promidata-sync/internal/repository/postgres"
	"github.com/Neno73/promidata-sync/internal/semantic"
	"github.com/Neno73/promidata-sync/internal/stats"
	"github.com/Neno73/promidata-sync/internal/storage"
	"github.com/Neno73/promidata-sync/internal/syncer"
	"github.com/Neno73/promidata-sync/internal/upstream"
	"github.com/Neno73/promidata-sync/migrations"
	"github.com/Neno73/promidata-sync/pkg/database"
	"github.com/Neno73/promidata-sync/pkg/health"
	"github.com/Neno73/promidata-sync/pkg/httpclient"
	pkgkafka "github.com/Neno73/promidata-sync/pkg/kafka"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// drainTimeout bounds the graceful shutdown: active jobs get this long to
// finish their current attempt before the process exits.
const drainTimeout = 30 * time.Second

// App holds the engine's long-lived components.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	pool     *pgxpool.Pool
	redis    *redis.Client
	producer *pkgkafka.Producer

	queues    map[string]*queue.Queue
	workers   []*queue.Worker
	consumers []*pkgkafka.Consumer
	scheduler *cron.Scheduler
	syncer    *syncer.Syncer

	httpServer *http.Server
}

// NewApp creates the application with all dependencies wired. An error here
// means a dependency could not be reached or initialized.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Relational store and schema.
	pool, err := database.NewPostgresPool(ctx, database.DefaultPostgresConfig(cfg.DBDSN), logger)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	// Queue and lock store.
	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	suppliers := postgres.NewSupplierRepository(pool)
	products := postgres.NewProductRepository(pool)
	media := postgres.NewMediaRepository(pool)

	supplierQ := queue.New(redisClient, domain.QueueSupplierSync)
	familyQ := queue.New(redisClient, domain.QueueProductFamily)
	imageQ := queue.New(redisClient, domain.QueueImageUpload)
	queues := map[string]*queue.Queue{
		domain.QueueSupplierSync:  supplierQ,
		domain.QueueProductFamily: familyQ,
		domain.QueueImageUpload:   imageQ,
	}

	locks := lock.NewStore(redisClient, cfg.LockTTL(), cfg.StopTTL())

	objectStore, err := storage.NewS3Store(storage.S3Config{
		Endpoint:  cfg.ObjectStoreEndpoint,
		AccessKey: cfg.ObjectStoreAccessKey,
		Secret:    cfg.ObjectStoreSecret,
		Bucket:    cfg.ObjectStoreBucket,
		PublicURL: cfg.ObjectStorePublicURL,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init object store: %w", err)
	}

	feed := upstream.New(cfg.UpstreamBaseURL, httpclient.DefaultConfig(), logger)

	// Event stream.
	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	events := event.NewProducer(producer, logger)

	// Image pipeline; planning enqueues onto the image queue.
	pipeline := imagepipe.New(media, products, objectStore, feed,
		func(ctx context.Context, payload domain.ImagePayload) error {
			_, err := imageQ.Enqueue(ctx, syncer.JobImageUpload, payload, payload.SourceURL)
			return err
		}, logger)

	reconciler := reconcile.New(products, pipeline, events, logger)

	sync := syncer.New(suppliers, products, reconciler, pipeline, feed, locks,
		familyQ, supplierQ, cfg.ManifestURL(), logger)

	// Workers. Supplier sync is serial; families and images fan out.
	workers := []*queue.Worker{
		queue.NewWorker(supplierQ, sync.HandleSupplierSync, 1, cfg.TimeoutSupplier(), logger),
		queue.NewWorker(familyQ, sync.HandleFamily, cfg.ConcurrencyFamilies, cfg.TimeoutFamily(), logger),
		queue.NewWorker(imageQ, sync.HandleImage, cfg.ConcurrencyImages, cfg.TimeoutImage(), logger),
	}

	// Search sink.
	engine, err := indexer.NewElasticEngine(cfg.ElasticsearchURL, indexer.DefaultIndexName, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init elasticsearch: %w", err)
	}

	// Semantic sink is optional.
	var semanticSink indexer.SemanticSink
	var semanticStore *semantic.Store
	if cfg.SemanticStoreURL != "" {
		semanticStore = semantic.NewStore(semantic.Config{
			BaseURL: cfg.SemanticStoreURL,
			APIKey:  cfg.SemanticStoreKey,
		}, products, logger)
		semanticSink = semanticStore
		logger.Info("semantic sink enabled", slog.String("url", cfg.SemanticStoreURL))
	}

	sinkConsumer := indexer.NewConsumer(engine, semanticSink, logger)
	var consumers []*pkgkafka.Consumer
	for _, topic := range []string{pkgkafka.TopicProductUpserted, pkgkafka.TopicProductDeleted} {
		consumers = append(consumers, pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:  cfg.KafkaBrokers,
			GroupID:  "promidata-sync",
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		}, sinkConsumer.Handle, logger))
	}

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", pool.Ping)
	healthHandler.Register("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthHandler.Register("kafka", func(ctx context.Context) error {
		return pkgkafka.PingBrokers(ctx, cfg.KafkaBrokers)
	})
	healthHandler.Register("elasticsearch", engine.Ping)
	healthHandler.Register("object_store", objectStore.Ping)
	if semanticStore != nil {
		healthHandler.Register("semantic_store", semanticStore.Ping)
	}

	// Admin control surface.
	collector := stats.NewCollector(queues)
	syncHandler := handler.NewSyncHandler(suppliers, locks, supplierQ, logger)
	queueHandler := handler.NewQueueHandler(queues, collector, logger)
	router := handler.NewRouter(syncHandler, queueHandler, healthHandler, cfg.AdminToken, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler := cron.NewScheduler(suppliers, products, engine, locks, supplierQ, queues, logger)

	return &App{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		redis:      redisClient,
		producer:   producer,
		queues:     queues,
		workers:    workers,
		consumers:  consumers,
		scheduler:  scheduler,
		syncer:     sync,
		httpServer: httpServer,
	}, nil
}

// Run starts every component and blocks until the context is cancelled or a
// component fails.
func (a *App) Run(ctx context.Context) error {
	a.startupTasks(ctx)

	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for _, w := range a.workers {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}

	errCh := make(chan error, 1+len(a.consumers))
	for _, c := range a.consumers {
		c := c
		go func() {
			if err := c.Start(runCtx); err != nil {
				errCh <- fmt.Errorf("kafka consumer: %w", err)
			}
		}()
	}

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	cancel()
	return errors.Join(runErr, a.shutdown(g))
}

// startupTasks runs the one-shot recovery and seeding steps. Failures are
// logged but never fatal: a broken feed must not keep the engine down.
func (a *App) startupTasks(ctx context.Context) {
	for name, q := range a.queues {
		requeued, err := q.RequeueOrphans(ctx)
		if err != nil {
			a.logger.Error("orphan requeue failed",
				slog.String("queue", name),
				slog.String("error", err.Error()))
			continue
		}
		if requeued > 0 {
			a.logger.Info("orphaned jobs requeued",
				slog.String("queue", name),
				slog.Int("requeued", requeued))
		}
	}

	seeded, err := a.syncer.SeedSuppliers(ctx)
	if err != nil {
		a.logger.Warn("supplier seeding failed", slog.String("error", err.Error()))
		return
	}
	a.logger.Info("suppliers seeded from manifest", slog.Int("suppliers", seeded))
}

// shutdown drains workers, stops the scheduler and consumers, and closes
// connections.
func (a *App) shutdown(workers *errgroup.Group) error {
	a.logger.Info("shutting down")
	var errs []error

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// Workers finish their active attempt; bound the wait.
	done := make(chan error, 1)
	go func() { done <- workers.Wait() }()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("worker drain: %w", err))
		}
	case <-shutdownCtx.Done():
		a.logger.Warn("worker drain timed out", slog.Duration("timeout", drainTimeout))
	}

	a.scheduler.Stop()

	for _, c := range a.consumers {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close: %w", err))
		}
	}
	if err := a.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("producer close: %w", err))
	}
	if err := a.redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("redis close: %w", err))
	}
	a.pool.Close()

	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
