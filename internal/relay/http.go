package relay

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/galnet/marketsync/internal/metrics"
	"github.com/galnet/marketsync/internal/model"
)

// NewRouter serves the worker's local view of the sync status. Dashboards
// and application handlers poll /status; /metrics exposes Prometheus
// collectors.
func NewRouter(r *Relay) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.RealIP)

	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"marketsync-worker"}`))
	})

	router.Handle("/metrics", metrics.Handler())

	router.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		status := r.Status()
		w.Header().Set("Content-Type", "application/json")
		if status.State == model.StateOffline || status.State == model.StateError {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	})

	return router
}
