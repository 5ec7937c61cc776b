// Package handler serves the matcher HTTP API: match queries, pairwise and
// batch containment checks, direct ingestion, stats and cache control.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/archive"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/containment"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer/hasher"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/ingestion"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/articlematch/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/articlematch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/tracing"
)

const (
	// MaxBatchPairs bounds a single batch validation request.
	MaxBatchPairs = 256
	// DefaultMaxBatchBytes bounds a batch request body when Deps leaves
	// MaxBatchBytes unset.
	DefaultMaxBatchBytes = 8 << 20
	batchWorkers         = 8
)

// Engine is what the handler needs from the index.
type Engine interface {
	IngestArticle(key, text string, source indexer.Source) string
	Validate(a, b string) containment.Result
	Stats() index.Stats
}

// MatchExecutor runs match requests.
type MatchExecutor interface {
	Execute(ctx context.Context, req executor.Request) (*executor.Result, error)
	Limit(requested int) int
}

// Archive saves directly ingested articles so they survive a restart.
type Archive interface {
	Save(ctx context.Context, a archive.Article) (int64, error)
}

// Deps are the handler's collaborators. Cache, Archive and Metrics may be
// nil.
type Deps struct {
	Engine        Engine
	Executor      MatchExecutor
	Cache         *cache.MatchCache
	Archive       Archive
	Metrics       *metrics.Metrics
	MaxTextBytes  int
	MaxBatchBytes int
}

type Handler struct {
	deps   Deps
	logger *slog.Logger
}

func New(deps Deps) *Handler {
	return &Handler{
		deps:   deps,
		logger: slog.Default().With("component", "match-handler"),
	}
}

// ValidateRequest is the body of POST /api/v1/validate.
type ValidateRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

// ValidateResponse embeds the containment result with its summary line.
type ValidateResponse struct {
	containment.Result
	Summary string `json:"summary"`
}

type BatchRequest struct {
	Pairs []ValidateRequest `json:"pairs"`
}

type BatchResponse struct {
	Results []ValidateResponse `json:"results"`
}

// Match handles POST /api/v1/match.
func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := tracing.StartSpan(r.Context(), "match", middleware.GetRequestID(r))
	log := logger.FromContext(ctx)

	var req executor.Request
	if !ingesthandler.DecodeJSON(w, r, &req, h.deps.MaxTextBytes) {
		return
	}
	if h.deps.MaxTextBytes > 0 && len(req.Query) > h.deps.MaxTextBytes {
		ingesthandler.WriteError(w, http.StatusRequestEntityTooLarge, "query too large")
		return
	}
	req.Limit = h.deps.Executor.Limit(req.Limit)

	result, hit, err := h.deps.Cache.GetOrCompute(ctx, req, func() (*executor.Result, error) {
		return h.deps.Executor.Execute(ctx, req)
	})
	cacheStatus := "miss"
	if hit {
		cacheStatus = "hit"
	}
	span.SetAttr("cache", cacheStatus)
	span.End()
	span.Log(log)

	elapsed := time.Since(start)
	if err != nil {
		h.deps.Metrics.ObserveMatch(metrics.OutcomeError, cacheStatus, elapsed.Seconds(), 0)
		log.Error("match failed", "error", err)
		ingesthandler.WriteError(w, apperrors.HTTPStatusCode(err), apperrors.Message(err))
		return
	}

	outcome := metrics.OutcomeNoMatch
	if result.Best.Found {
		outcome = metrics.OutcomeMatch
	}
	h.deps.Metrics.ObserveMatch(outcome, cacheStatus, elapsed.Seconds(), result.Best.Score)
	log.Info("match completed",
		"found", result.Best.Found,
		"key_hash", result.Best.KeyHash,
		"score", result.Best.Score,
		"candidates", len(result.Candidates),
		"cache", cacheStatus,
		"latency_ms", elapsed.Milliseconds(),
	)
	ingesthandler.WriteJSON(w, http.StatusOK, result)
}

// Validate handles POST /api/v1/validate.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !ingesthandler.DecodeJSON(w, r, &req, 2*h.deps.MaxTextBytes) {
		return
	}
	if !h.withinLimit(w, req) {
		return
	}
	ingesthandler.WriteJSON(w, http.StatusOK, h.validate(req))
}

// ValidateBatch handles POST /api/v1/validate/batch. Results are returned in
// request order.
func (h *Handler) ValidateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	maxBody := int64(h.deps.MaxBatchBytes)
	if maxBody <= 0 {
		maxBody = DefaultMaxBatchBytes
	}
	if !ingesthandler.DecodeJSONBody(w, r, &req, maxBody) {
		return
	}
	if len(req.Pairs) > MaxBatchPairs {
		ingesthandler.WriteError(w, http.StatusRequestEntityTooLarge, "too many pairs")
		return
	}
	for _, p := range req.Pairs {
		if !h.withinLimit(w, p) {
			return
		}
	}

	results := make([]ValidateResponse, len(req.Pairs))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(batchWorkers)
	for i, p := range req.Pairs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = h.validate(p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.FromContext(r.Context()).Warn("batch validation aborted", "error", err)
		ingesthandler.WriteError(w, http.StatusGatewayTimeout, "batch validation aborted")
		return
	}
	ingesthandler.WriteJSON(w, http.StatusOK, BatchResponse{Results: results})
}

// Ingest handles POST /api/v1/articles on a matcher: the article goes
// straight into the local index, and into the archive when one is
// configured.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req ingestion.ArticleRequest
	if !ingesthandler.DecodeJSON(w, r, &req, h.deps.MaxTextBytes) {
		return
	}
	if err := validator.ValidateArticleRequest(&req, h.deps.MaxTextBytes); err != nil {
		ingesthandler.WriteJSON(w, apperrors.HTTPStatusCode(err), map[string]any{
			"error":  "validation failed",
			"detail": err.Error(),
		})
		return
	}

	resp := ingestion.ArticleResponse{Key: req.Key, KeyHash: hasher.DigestString(req.Key)}
	if h.deps.Archive != nil {
		id, err := h.deps.Archive.Save(ctx, archive.Article{KeyHash: resp.KeyHash, Key: req.Key, Body: req.Text})
		if err != nil {
			log.Error("archiving article failed", "key_hash", resp.KeyHash, "error", err)
			if errors.Is(err, apperrors.ErrInvalidInput) {
				ingesthandler.WriteError(w, http.StatusBadRequest, "article rejected by archive")
				return
			}
			ingesthandler.WriteError(w, http.StatusServiceUnavailable, "archive unavailable")
			return
		}
		resp.ArchiveID = id
	}

	h.deps.Engine.IngestArticle(req.Key, req.Text, indexer.SourceHTTP)
	resp.Status = ingestion.StatusIndexed
	if err := h.deps.Cache.Invalidate(ctx); err != nil {
		log.Warn("match cache invalidation failed", "error", err)
	}
	log.Info("article indexed", "key_hash", resp.KeyHash, "bytes", len(req.Text))
	ingesthandler.WriteJSON(w, http.StatusAccepted, resp)
}

// Stats handles GET /api/v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	hits, misses := h.deps.Cache.Stats()
	ingesthandler.WriteJSON(w, http.StatusOK, map[string]any{
		"index": h.deps.Engine.Stats(),
		"cache": map[string]any{
			"enabled": h.deps.Cache != nil,
			"hits":    hits,
			"misses":  misses,
		},
	})
}

// CacheInvalidate handles POST /api/v1/cache/invalidate.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cache == nil {
		ingesthandler.WriteError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.deps.Cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		ingesthandler.WriteError(w, http.StatusServiceUnavailable, "cache invalidation failed")
		return
	}
	ingesthandler.WriteJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) validate(req ValidateRequest) ValidateResponse {
	res := h.deps.Engine.Validate(req.A, req.B)
	return ValidateResponse{Result: res, Summary: res.String()}
}

func (h *Handler) withinLimit(w http.ResponseWriter, req ValidateRequest) bool {
	limit := h.deps.MaxTextBytes
	if limit > 0 && (len(req.A) > limit || len(req.B) > limit) {
		ingesthandler.WriteError(w, http.StatusRequestEntityTooLarge, "text too large")
		return false
	}
	return true
}
