// Command loadtest seeds a matcher with synthetic articles and then drives
// POST /api/v1/match from concurrent workers, reporting throughput, latency
// percentiles and the share of queries resolved to their source article.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"maps"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Articles    int
	Words       int
	Verify      bool
}

// Query outcomes as seen by the load generator.
const (
	outcomeResolved = iota // best match is the article the excerpt came from
	outcomeWrong           // some other article won
	outcomeNoMatch
	outcomeHTTPError
	outcomeTransport
	numOutcomes
)

var outcomeNames = [numOutcomes]string{"resolved", "wrong article", "no match", "http error", "transport error"}

// Recorder collects per-query outcomes and latencies from all workers.
type Recorder struct {
	outcomes [numOutcomes]atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	status    map[int]int64
}

func NewRecorder() *Recorder {
	return &Recorder{
		latencies: make([]time.Duration, 0, 100000),
		status:    make(map[int]int64),
	}
}

func (r *Recorder) Record(outcome int, status int, latency time.Duration) {
	r.outcomes[outcome].Add(1)
	if outcome == outcomeTransport {
		return
	}
	r.mu.Lock()
	r.latencies = append(r.latencies, latency)
	r.status[status]++
	r.mu.Unlock()
}

func (r *Recorder) total() int64 {
	var n int64
	for i := range r.outcomes {
		n += r.outcomes[i].Load()
	}
	return n
}

type seeded struct {
	key   string
	words []string
}

type matchResponse struct {
	Best struct {
		Key   string `json:"key"`
		Found bool   `json:"found"`
	} `json:"best"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the matcher service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	articles := flag.Int("articles", 200, "synthetic articles to ingest before the run")
	words := flag.Int("words", 300, "words per synthetic article")
	verify := flag.Bool("verify", false, "request containment verification of each winner")
	flag.Parse()
	if *words < 30 || *articles < 1 || *concurrency < 1 {
		fmt.Fprintln(os.Stderr, "need at least 1 article, 1 worker and 30 words per article")
		os.Exit(2)
	}

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		Articles:    *articles,
		Words:       *words,
		Verify:      *verify,
	}

	fmt.Println("=== Article Matcher Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Articles:    %d x %d words\n", cfg.Articles, cfg.Words)
	fmt.Println()

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	corpus, err := seed(client, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seeding failed: %v\n", err)
		os.Exit(1)
	}
	printReport(runLoadTest(client, cfg, corpus), cfg.Duration)
}

// seed ingests synthetic articles drawn from a shared vocabulary so that
// queries hit many overlapping posting lists.
func seed(client *http.Client, cfg Config) ([]seeded, error) {
	vocab := make([]string, 5000)
	for i := range vocab {
		vocab[i] = fmt.Sprintf("w%04d", i)
	}
	rng := rand.New(rand.NewPCG(1, 2))
	runID := uuid.NewString()[:8]

	fmt.Print("Seeding")
	corpus := make([]seeded, cfg.Articles)
	for i := range corpus {
		words := make([]string, cfg.Words)
		for j := range words {
			words[j] = vocab[rng.IntN(len(vocab))]
		}
		corpus[i] = seeded{key: fmt.Sprintf("loadtest/%s/%d", runID, i), words: words}

		body, _ := json.Marshal(map[string]string{"key": corpus[i].key, "text": strings.Join(words, " ")})
		resp, err := client.Post(cfg.BaseURL+"/api/v1/articles", "application/json", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			return nil, fmt.Errorf("ingest %s: status %d", corpus[i].key, resp.StatusCode)
		}
		if i%50 == 0 {
			fmt.Print(".")
		}
	}
	fmt.Println(" done!")
	return corpus, nil
}

func runLoadTest(client *http.Client, cfg Config, corpus []seeded) *Recorder {
	rec := NewRecorder()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := range cfg.Concurrency {
		wg.Go(func() {
			rng := rand.New(rand.NewPCG(uint64(w), 7))
			for ctx.Err() == nil {
				doc := corpus[rng.IntN(len(corpus))]
				outcome, status, elapsed := query(ctx, client, cfg, doc, excerpt(rng, doc.words))
				if outcome == outcomeTransport && ctx.Err() != nil {
					return
				}
				rec.Record(outcome, status, elapsed)
			}
		})
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return rec
}

// excerpt returns a contiguous third of words starting in the first half.
func excerpt(rng *rand.Rand, words []string) string {
	start := rng.IntN(len(words) / 2)
	return strings.Join(words[start:start+len(words)/3], " ")
}

func query(ctx context.Context, client *http.Client, cfg Config, doc seeded, text string) (int, int, time.Duration) {
	body, _ := json.Marshal(map[string]any{"query": text, "verify": cfg.Verify})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/v1/match", bytes.NewReader(body))
	if err != nil {
		panic(fmt.Sprintf("creating request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	begin := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(begin)
	if err != nil {
		return outcomeTransport, 0, elapsed
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return outcomeHTTPError, resp.StatusCode, elapsed
	}
	var result matchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return outcomeHTTPError, resp.StatusCode, elapsed
	}
	switch {
	case !result.Best.Found:
		return outcomeNoMatch, resp.StatusCode, elapsed
	case result.Best.Key != doc.key:
		return outcomeWrong, resp.StatusCode, elapsed
	default:
		return outcomeResolved, resp.StatusCode, elapsed
	}
}

func printReport(rec *Recorder, duration time.Duration) {
	total := rec.total()
	fmt.Println("=== Results ===")
	fmt.Printf("Queries:      %d\n", total)
	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No queries completed. Is the matcher running?")
		os.Exit(1)
	}
	fmt.Printf("Queries/sec:  %.2f\n", float64(total)/duration.Seconds())
	for i, name := range outcomeNames {
		n := rec.outcomes[i].Load()
		fmt.Printf("  %-16s %8d  %6.2f%%\n", name+":", n, float64(n)/float64(total)*100)
	}

	rec.mu.Lock()
	latencies := slices.Clone(rec.latencies)
	codes := slices.Sorted(maps.Keys(rec.status))
	status := maps.Clone(rec.status)
	rec.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:  %s\n", latencies[0])
		fmt.Printf("Avg:  %s\n", sum/time.Duration(len(latencies)))
		for _, p := range []float64{50, 90, 99} {
			fmt.Printf("P%.0f:  %s\n", p, percentile(latencies, p))
		}
		fmt.Printf("Max:  %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, status[code])
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
