package handler

import (
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/health"
)

// Routes registers the matcher API and the health endpoints on one mux.
func (h *Handler) Routes(checker *health.Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/match", h.Match)
	mux.HandleFunc("POST /api/v1/validate", h.Validate)
	mux.HandleFunc("POST /api/v1/validate/batch", h.ValidateBatch)
	mux.HandleFunc("POST /api/v1/articles", h.Ingest)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	return mux
}
