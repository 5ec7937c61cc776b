// Package indexer owns the process-wide shingle index. The Engine is the
// single writer and the lock that makes the index safe to share between the
// HTTP handlers, the Kafka consumer and start-up replay.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/archive"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/containment"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/config"
)

// Source labels where an ingested article came from.
type Source string

const (
	SourceHTTP   Source = "http"
	SourceStream Source = "stream"
	SourceReplay Source = "replay"
)

// Observer receives index activity. *metrics.Metrics implements it.
type Observer interface {
	ObserveIngest(source string, shingles int, stats index.Stats)
	ObserveValidation(verdict bool)
}

// ArticleSource streams archived articles in insertion order.
type ArticleSource interface {
	Each(ctx context.Context, batchSize int, fn func(archive.Article) error) error
}

type nopObserver struct{}

func (nopObserver) ObserveIngest(string, int, index.Stats) {}
func (nopObserver) ObserveValidation(bool)                 {}

type Engine struct {
	mu        sync.RWMutex
	idx       *index.ArticleIndex
	validator *containment.Validator
	cfg       config.MatcherConfig
	obs       Observer
	logger    *slog.Logger

	// replayedThrough is the highest archive ID restored by Replay.
	replayedThrough atomic.Int64
}

// NewEngine builds an empty index from cfg. obs may be nil.
func NewEngine(cfg config.MatcherConfig, obs Observer) (*Engine, error) {
	idx, err := index.New(cfg.ShingleWidth, cfg.HashShingles)
	if err != nil {
		return nil, fmt.Errorf("creating article index: %w", err)
	}
	if obs == nil {
		obs = nopObserver{}
	}
	e := &Engine{
		idx:       idx,
		validator: containment.New(cfg.HashShingles),
		cfg:       cfg,
		obs:       obs,
		logger:    slog.Default().With("component", "indexer"),
	}
	e.logger.Info("index created", "shingle_width", cfg.ShingleWidth, "hashed", cfg.HashShingles)
	return e, nil
}

// IngestArticle adds text under key and returns the key hash.
func (e *Engine) IngestArticle(key, text string, source Source) string {
	e.mu.Lock()
	keyHash, shingles := e.idx.Ingest(text, key)
	stats := e.idx.Stats()
	e.mu.Unlock()

	e.obs.ObserveIngest(string(source), shingles, stats)
	e.logger.Debug("article ingested",
		"key_hash", keyHash,
		"shingles", shingles,
		"source", source,
	)
	return keyHash
}

// Match returns the best-scoring article for query.
func (e *Engine) Match(query string) index.Match {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.idx.Match(query)
}

// Candidates returns up to limit ranked articles; limit <= 0 means all.
func (e *Engine) Candidates(query string, limit int) []index.Candidate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.idx.Candidates(query, limit)
}

// Validate runs the containment check on a and b. It takes no lock: the
// validator is stateless.
func (e *Engine) Validate(a, b string) containment.Result {
	r := e.validator.Validate(a, b)
	e.obs.ObserveValidation(r.Verdict)
	return r
}

func (e *Engine) Stats() index.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.idx.Stats()
}

// Config returns the matcher configuration the engine was built with.
func (e *Engine) Config() config.MatcherConfig {
	return e.cfg
}

// Ping reports whether the engine can serve; an in-memory index always can.
func (e *Engine) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Replayed reports whether the archived article archiveID is already in the
// index because Replay restored it. Zero means "not archived" and is never
// reported as replayed.
func (e *Engine) Replayed(archiveID int64) bool {
	return archiveID > 0 && archiveID <= e.replayedThrough.Load()
}

// Replay ingests every article from src in order and returns the count. It
// holds the write lock per article, so matches keep being served while a
// replay runs. Replaying into a non-empty index duplicates postings. The
// highest archive ID seen is remembered for Replayed, even when the replay
// stops early.
func (e *Engine) Replay(ctx context.Context, src ArticleSource) (int, error) {
	start := time.Now()
	count := 0
	progress := time.Now()
	var highest int64
	defer func() { e.markReplayed(highest) }()
	err := src.Each(ctx, e.cfg.ReplayBatchSize, func(a archive.Article) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.IngestArticle(a.Key, a.Body, SourceReplay)
		highest = max(highest, a.ID)
		count++
		if time.Since(progress) >= 5*time.Second {
			e.logger.Info("replay progress", "articles", count)
			progress = time.Now()
		}
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("replaying archive after %d articles: %w", count, err)
	}
	stats := e.Stats()
	e.logger.Info("replay complete",
		"articles", count,
		"shingles", stats.Shingles,
		"keys", stats.Keys,
		"through_archive_id", highest,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return count, nil
}

func (e *Engine) markReplayed(id int64) {
	for {
		cur := e.replayedThrough.Load()
		if id <= cur || e.replayedThrough.CompareAndSwap(cur, id) {
			return
		}
	}
}
