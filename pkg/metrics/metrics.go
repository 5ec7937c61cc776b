// Package metrics defines the Prometheus collectors used by the matcher
// services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer/index"
)

// Match outcome label values.
const (
	OutcomeMatch   = "match"
	OutcomeNoMatch = "no_match"
	OutcomeError   = "error"
)

// Metrics holds all Prometheus collectors for the matcher.
type Metrics struct {
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestsInFlight  prometheus.Gauge
	HTTPResponseBytes     *prometheus.HistogramVec
	ArticlesIngestedTotal *prometheus.CounterVec
	ShinglesPerArticle    prometheus.Histogram
	MatchQueriesTotal     *prometheus.CounterVec
	MatchLatency          *prometheus.HistogramVec
	MatchScore            prometheus.Histogram
	ValidationsTotal      *prometheus.CounterVec
	IndexShingles         prometheus.Gauge
	IndexKeys             prometheus.Gauge
	IndexPostings         prometheus.Gauge
	CacheHitsTotal        prometheus.Counter
	CacheMissesTotal      prometheus.Counter
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		HTTPResponseBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response body size in bytes.",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"path"},
		),
		ArticlesIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "articles_ingested_total",
				Help: "Articles ingested into the shingle index by source (http, stream, replay).",
			},
			[]string{"source"},
		),
		ShinglesPerArticle: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "article_shingles",
				Help:    "Distinct shingles produced per ingested article.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		MatchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_queries_total",
				Help: "Match queries by outcome (match, no_match, error).",
			},
			[]string{"outcome"},
		),
		MatchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "match_latency_seconds",
				Help:    "Match query latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		MatchScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "match_winning_score",
				Help:    "Weighted vote total of the winning article.",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
			},
		),
		ValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "containment_validations_total",
				Help: "Pairwise containment checks by verdict.",
			},
			[]string{"verdict"},
		),
		IndexShingles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_shingles",
				Help: "Distinct shingles held by the index.",
			},
		),
		IndexKeys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_keys",
				Help: "Distinct article keys held by the index.",
			},
		),
		IndexPostings: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_postings",
				Help: "Posting-list entries held by the index.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "match_cache_hits_total",
				Help: "Total number of match cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "match_cache_misses_total",
				Help: "Total number of match cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.HTTPResponseBytes,
		m.ArticlesIngestedTotal,
		m.ShinglesPerArticle,
		m.MatchQueriesTotal,
		m.MatchLatency,
		m.MatchScore,
		m.ValidationsTotal,
		m.IndexShingles,
		m.IndexKeys,
		m.IndexPostings,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveIngest records one ingested article. A nil receiver is a no-op so
// components can run without metrics.
func (m *Metrics) ObserveIngest(source string, shingles int, stats index.Stats) {
	if m == nil {
		return
	}
	m.ArticlesIngestedTotal.WithLabelValues(source).Inc()
	m.ShinglesPerArticle.Observe(float64(shingles))
	m.SetIndexStats(stats)
}

// SetIndexStats updates the index size gauges.
func (m *Metrics) SetIndexStats(stats index.Stats) {
	if m == nil {
		return
	}
	m.IndexShingles.Set(float64(stats.Shingles))
	m.IndexKeys.Set(float64(stats.Keys))
	m.IndexPostings.Set(float64(stats.Postings))
}

// ObserveMatch records a completed match query.
func (m *Metrics) ObserveMatch(outcome string, cacheStatus string, seconds float64, score float64) {
	if m == nil {
		return
	}
	m.MatchQueriesTotal.WithLabelValues(outcome).Inc()
	m.MatchLatency.WithLabelValues(cacheStatus).Observe(seconds)
	if outcome == OutcomeMatch {
		m.MatchScore.Observe(score)
	}
}

// ObserveValidation records a containment verdict.
func (m *Metrics) ObserveValidation(verdict bool) {
	if m == nil {
		return
	}
	label := "mismatch"
	if verdict {
		label = "match"
	}
	m.ValidationsTotal.WithLabelValues(label).Inc()
}

// Handler returns the Prometheus scrape HTTP handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
