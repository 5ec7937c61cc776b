// Package handler serves the ingestion HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/articlematch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/logger"
)

// Ingester accepts a validated article.
type Ingester interface {
	Ingest(ctx context.Context, req *ingestion.ArticleRequest) (*ingestion.ArticleResponse, error)
}

type Handler struct {
	ingester     Ingester
	maxTextBytes int
	logger       *slog.Logger
}

func New(ing Ingester, maxTextBytes int) *Handler {
	return &Handler{
		ingester:     ing,
		maxTextBytes: maxTextBytes,
		logger:       slog.Default().With("component", "ingestion-handler"),
	}
}

// Ingest handles POST /api/v1/articles.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req ingestion.ArticleRequest
	if !DecodeJSON(w, r, &req, h.maxTextBytes) {
		return
	}
	if err := validator.ValidateArticleRequest(&req, h.maxTextBytes); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			WriteJSON(w, apperrors.HTTPStatusCode(err), map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.ingester.Ingest(ctx, &req)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("ingestion failed", "error", err, "status_code", statusCode)
		WriteError(w, statusCode, apperrors.Message(err))
		return
	}
	log.Info("article accepted",
		"key_hash", resp.KeyHash,
		"status", resp.Status,
		"bytes", len(req.Text),
	)
	WriteJSON(w, http.StatusAccepted, resp)
}

// DecodeJSON reads a JSON body into dst, allowing maxTextBytes of payload
// plus escaping and envelope overhead. It writes the error response itself
// and reports whether decoding succeeded.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any, maxTextBytes int) bool {
	limit := int64(maxTextBytes)*2 + 64<<10
	if maxTextBytes <= 0 {
		limit = 8 << 20
	}
	return DecodeJSONBody(w, r, dst, limit)
}

// DecodeJSONBody is DecodeJSON with an explicit bound on the raw body size.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBodyBytes int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("failed to write response", "error", err)
	}
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}
