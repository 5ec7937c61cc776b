// Package cache stores match results in Redis keyed by the normalized query,
// the index's shingle settings and an invalidation generation. Concurrent
// misses for the same key are collapsed with singleflight, and a circuit
// breaker stops the matcher from waiting on an unhealthy Redis.
//
// Invalidate bumps the generation before flushing, so a result computed
// against the index as it was before an ingest is stored under a key no
// later lookup reads.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/resilience"
)

const (
	keyPrefix = "match:"
	// generationKey lies outside keyPrefix so flushing never resets it.
	generationKey = "match-generation"
)

// Store is the byte-level key/value backend. *redis.Client implements it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Options configures a MatchCache.
type Options struct {
	TTL          time.Duration
	ShingleWidth int
	Hashed       bool
	// IsMiss reports whether a Store.Get error means "key absent".
	IsMiss  func(error) bool
	Breaker *resilience.CircuitBreaker
	Metrics *metrics.Metrics
}

// MatchCache is safe for concurrent use. A nil *MatchCache is valid and
// caches nothing.
type MatchCache struct {
	store  Store
	opts   Options
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func New(store Store, opts Options) *MatchCache {
	if opts.IsMiss == nil {
		opts.IsMiss = func(error) bool { return false }
	}
	return &MatchCache{
		store:  store,
		opts:   opts,
		logger: slog.Default().With("component", "match-cache"),
	}
}

// GetOrCompute returns the cached result for req or computes and stores it.
// The boolean reports a cache hit. Cache failures never fail the request.
// The returned result echoes req.Query as the caller spelled it.
func (c *MatchCache) GetOrCompute(
	ctx context.Context,
	req executor.Request,
	computeFn func() (*executor.Result, error),
) (*executor.Result, bool, error) {
	if c == nil {
		res, err := computeFn()
		return res, false, err
	}
	gen, ok := c.generation(ctx)
	if !ok {
		c.miss()
		res, err := computeFn()
		return res, false, err
	}
	key := c.buildKey(req, gen)
	if result, ok := c.get(ctx, key); ok {
		result.Query = req.Query
		return result, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		if result, ok := c.get(ctx, key); ok {
			return result, nil
		}
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	// Callers collapsed by singleflight share val; each gets its own copy.
	result := *val.(*executor.Result)
	result.Query = req.Query
	return &result, false, nil
}

// Invalidate drops every cached match result.
func (c *MatchCache) Invalidate(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var gen, deleted int64
	err := c.guard(func() error {
		var err error
		if gen, err = c.store.Incr(ctx, generationKey); err != nil {
			return err
		}
		deleted, err = c.store.FlushByPattern(ctx, keyPrefix+"*")
		return err
	})
	if err != nil {
		return fmt.Errorf("invalidating match cache: %w", err)
	}
	c.logger.Debug("cache invalidated", "generation", gen, "keys_deleted", deleted)
	return nil
}

// generation reads the current invalidation generation. A missing counter
// is generation zero. false means the store cannot be read and the cache
// must be bypassed.
func (c *MatchCache) generation(ctx context.Context) (int64, bool) {
	var gen int64
	err := c.guard(func() error {
		data, err := c.store.Get(ctx, generationKey)
		if err != nil {
			if c.opts.IsMiss(err) {
				return nil
			}
			return err
		}
		gen, err = strconv.ParseInt(string(data), 10, 64)
		return err
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Error("reading cache generation failed", "error", err)
		}
		return 0, false
	}
	return gen, true
}

// Stats returns the hit and miss counts since start-up.
func (c *MatchCache) Stats() (hits, misses int64) {
	if c == nil {
		return 0, 0
	}
	return c.hits.Load(), c.misses.Load()
}

func (c *MatchCache) get(ctx context.Context, key string) (*executor.Result, bool) {
	var data []byte
	err := c.guard(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		if err != nil && c.opts.IsMiss(err) {
			data = nil
			return nil
		}
		return err
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	if data == nil {
		c.miss()
		return nil, false
	}
	var result executor.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.opts.Metrics != nil {
		c.opts.Metrics.CacheHitsTotal.Inc()
	}
	return &result, true
}

func (c *MatchCache) set(ctx context.Context, key string, result *executor.Result) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.guard(func() error {
		return c.store.Set(ctx, key, data, c.opts.TTL)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

func (c *MatchCache) miss() {
	c.misses.Add(1)
	if c.opts.Metrics != nil {
		c.opts.Metrics.CacheMissesTotal.Inc()
	}
}

func (c *MatchCache) guard(fn func() error) error {
	if c.opts.Breaker == nil {
		return fn()
	}
	return c.opts.Breaker.Execute(fn)
}

// buildKey hashes everything that determines a result: the invalidation
// generation, the index's shingle settings, the candidate limit, the verify
// flag and the query with its whitespace collapsed (which cannot change its
// shingles).
func (c *MatchCache) buildKey(req executor.Request, gen int64) string {
	raw := fmt.Sprintf("g=%d|w=%d|h=%t|k=%d|v=%t|%s",
		gen, c.opts.ShingleWidth, c.opts.Hashed, req.Limit, req.Verify,
		strings.Join(strings.Fields(req.Query), " "))
	sum := sha256.Sum256([]byte(raw))
	return keyPrefix + hex.EncodeToString(sum[:16])
}
