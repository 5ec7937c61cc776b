package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer/index"
)

func TestObserveIngestUpdatesGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveIngest("http", 12, index.Stats{Shingles: 12, Keys: 1, Postings: 12})
	m.ObserveIngest("stream", 3, index.Stats{Shingles: 14, Keys: 2, Postings: 15})

	if got := testutil.ToFloat64(m.ArticlesIngestedTotal.WithLabelValues("http")); got != 1 {
		t.Errorf("http ingests = %v", got)
	}
	if got := testutil.ToFloat64(m.IndexShingles); got != 14 {
		t.Errorf("index_shingles = %v, want 14", got)
	}
	if got := testutil.ToFloat64(m.IndexPostings); got != 15 {
		t.Errorf("index_postings = %v, want 15", got)
	}
}

func TestObserveMatchAndValidation(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveMatch(OutcomeMatch, "miss", 0.002, 3.5)
	m.ObserveMatch(OutcomeNoMatch, "hit", 0.0001, 0)
	m.ObserveValidation(true)
	m.ObserveValidation(false)
	m.ObserveValidation(false)

	if got := testutil.ToFloat64(m.MatchQueriesTotal.WithLabelValues(OutcomeMatch)); got != 1 {
		t.Errorf("match outcomes = %v", got)
	}
	if got := testutil.ToFloat64(m.ValidationsTotal.WithLabelValues("mismatch")); got != 2 {
		t.Errorf("mismatch verdicts = %v", got)
	}
	if n := testutil.CollectAndCount(m.MatchScore); n != 1 {
		t.Errorf("match score collected %d series", n)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveIngest("replay", 1, index.Stats{})
	m.ObserveMatch(OutcomeError, "miss", 0, 0)
	m.ObserveValidation(true)
}

func TestHandlerExposesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.CacheHitsTotal.Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "match_cache_hits_total 1") {
		t.Errorf("scrape output missing cache hits:\n%s", body)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	srv := NewServer(0, prometheus.NewRegistry())
	srv.Addr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, srv) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
