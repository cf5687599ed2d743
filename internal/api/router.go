package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"substitution-engine/internal/common/logger"
)

// Checker is a dependency checked by /ready.
type Checker interface {
	Name() string
	Ping(ctx context.Context) error
}

// NewRouter mounts the handoff routes plus health, readiness and metrics.
func NewRouter(h *Handler, checkers []Checker, log logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/health", health)
	r.Get("/ready", ready(checkers))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/postings/{postingID}", func(r chi.Router) {
			r.Post("/publication", h.PublishPosting)
			r.Post("/candidacies", h.Apply)
			r.Post("/selection", h.SelectInitialCandidate)
			r.Post("/cancellation", h.CancelPosting)
			r.Post("/candidacies/{candidacyID}/confirmation", h.ResolveConfirmation)
		})
		r.Post("/sweeps", h.RunSweep)
	})
	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func ready(checkers []Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checkers))
		for _, c := range checkers {
			if err := c.Ping(ctx); err != nil {
				deps[c.Name()] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[c.Name()] = "ok"
		}
		state := "ready"
		if status != http.StatusOK {
			state = "not_ready"
		}
		writeJSON(w, status, map[string]interface{}{"status": state, "dependencies": deps})
	}
}

func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http request", map[string]interface{}{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"durationMs": time.Since(start).Milliseconds(),
				"requestId":  middleware.GetReqID(r.Context()),
			})
		})
	}
}
