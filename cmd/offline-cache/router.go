package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	offlinecache "github.com/always-cache/offline-cache"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// newRouter serves every public request from the worker.
func newRouter(worker *offlinecache.Worker) http.Handler {
	r := chi.NewRouter()
	useRequestLogging(r)
	r.Handle("/*", worker)
	return r
}

// newAdminRouter serves the status, install and metrics endpoints.
// It is meant for a separate, private listener.
func newAdminRouter(worker *offlinecache.Worker, metrics *offlinecache.Metrics) http.Handler {
	r := chi.NewRouter()
	useRequestLogging(r)
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		status, err := worker.Status()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, status)
	})
	r.Post("/install", func(w http.ResponseWriter, r *http.Request) {
		err := worker.Start(r.Context())
		var perr *offlinecache.CachePopulationError
		switch {
		case errors.As(err, &perr):
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error(), "url": perr.URL})
			return
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		status, _ := worker.Status()
		writeJSON(w, http.StatusOK, status)
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

func useRequestLogging(r chi.Router) {
	r.Use(
		hlog.NewHandler(log.Logger),
		hlog.RequestIDHandler("req_id", "X-Request-Id"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Trace().
				Str("method", r.Method).
				Stringer("url", r.URL).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("Handled request")
		}),
	)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Could not write response")
	}
}
