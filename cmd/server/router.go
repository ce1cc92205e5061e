package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forgelight/imageforge/internal/api"
	apiMiddleware "github.com/forgelight/imageforge/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	// The interface stays nil when Redis is off so status polls read the
	// store directly.
	var statusReader api.StatusReader
	if app.statusCache != nil {
		statusReader = app.statusCache
	}

	taskHandler := api.NewTaskHandler(
		app.taskStore,
		app.processor.Coordinator(),
		app.enqueue,
		app.limiter,
		statusReader,
		app.logger,
	)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apiMiddleware.OwnerMiddleware)

			r.Post("/tasks", taskHandler.CreateTask)
			r.Get("/tasks", taskHandler.ListActiveTasks)
			r.Get("/tasks/{id}", taskHandler.GetTask)
			r.Get("/tasks/{id}/status", taskHandler.GetTaskStatus)
			r.Delete("/tasks/{id}", taskHandler.CancelTask)
			r.Get("/batches/{id}", taskHandler.GetBatchStatus)
		})

		r.Get("/queue/stats", taskHandler.GetQueueStats)
	})

	// Status push channel. One socket per task or batch ID; batch
	// subscribers receive every sibling transition.
	r.Get("/ws/tasks/{id}", app.statusHub.AttachHandler(func(r *http.Request) string {
		return chi.URLParam(r, "id")
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
