// Package ratelimit keeps one golang.org/x/time/rate token bucket per client
// and evicts buckets that have gone idle. The number of buckets is capped;
// at the cap a new client displaces the least recently seen one.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMaxKeys bounds the buckets a Limiter from New holds.
const DefaultMaxKeys = 100_000

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter gives every key limit requests per window, refilled continuously,
// with a burst of limit.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	every   rate.Limit
	burst   int
	window  time.Duration
	maxKeys int
	now     func() time.Time
}

func New(limit int, window time.Duration) *Limiter {
	every := rate.Limit(0)
	if limit > 0 {
		every = rate.Every(window / time.Duration(limit))
	}
	return &Limiter{
		entries: make(map[string]*entry),
		every:   every,
		burst:   limit,
		window:  window,
		maxKeys: DefaultMaxKeys,
		now:     time.Now,
	}
}

// Allow consumes one token for key and reports whether one was available.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= l.maxKeys {
			l.evictLocked(now)
		}
		e = &entry{limiter: rate.NewLimiter(l.every, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// Prune drops buckets idle for more than two windows and returns how many
// were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(l.now())
}

// Len returns the number of buckets held.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// evictLocked makes room for one bucket: idle buckets go first, else the
// least recently seen.
func (l *Limiter) evictLocked(now time.Time) {
	if l.pruneLocked(now) > 0 {
		return
	}
	var oldest string
	var oldestSeen time.Time
	found := false
	for key, e := range l.entries {
		if !found || e.lastSeen.Before(oldestSeen) {
			oldest, oldestSeen, found = key, e.lastSeen, true
		}
	}
	if found {
		delete(l.entries, oldest)
	}
}

func (l *Limiter) pruneLocked(now time.Time) int {
	cutoff := now.Add(-2 * l.window)
	removed := 0
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Run prunes idle buckets every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}
