// Package http exposes the admin control surface: sync start/stop and queue
// management.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Neno73/promidata-sync/pkg/health"
	"github.com/Neno73/promidata-sync/pkg/middleware"
)

// NewRouter creates a chi router with all control surface routes registered.
func NewRouter(
	syncHandler *SyncHandler,
	queueHandler *QueueHandler,
	healthHandler *health.Handler,
	adminToken string,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("promidata-sync"))

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminAuth(adminToken))

		r.Route("/sync", func(r chi.Router) {
			r.Post("/start", syncHandler.Start)
			r.Get("/active", syncHandler.Active)
			r.Get("/status", syncHandler.Status)
			r.Post("/stop/{supplier_id}", syncHandler.Stop)
		})

		r.Route("/queues", func(r chi.Router) {
			r.Get("/stats", queueHandler.AllStats)
			r.Get("/stats/{queue}", queueHandler.QueueStats)

			r.Route("/{queue}", func(r chi.Router) {
				r.Get("/jobs", queueHandler.ListJobs)
				r.Get("/jobs/{id}", queueHandler.GetJob)
				r.Delete("/jobs/{id}", queueHandler.DeleteJob)
				r.Post("/jobs/{id}/retry", queueHandler.RetryJob)
				r.Post("/retry-failed", queueHandler.RetryFailed)
				r.Post("/pause", queueHandler.Pause)
				r.Post("/resume", queueHandler.Resume)
				r.Post("/clean", queueHandler.Clean)
				r.Post("/drain", queueHandler.Drain)
			})
		})
	})

	return r
}
