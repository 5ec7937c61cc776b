package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/archive"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer/hasher"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/config"
)

type countingCache struct {
	calls int
	err   error
}

func (c *countingCache) Invalidate(context.Context) error {
	c.calls++
	return c.err
}

func newEngine(t *testing.T) *indexer.Engine {
	t.Helper()
	e, err := indexer.NewEngine(config.MatcherConfig{ShingleWidth: 2, HashShingles: true, ReplayBatchSize: 10}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func encode(t *testing.T, ev ingestion.ArticleEvent) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestHandleMessageIngestsAndInvalidates(t *testing.T) {
	engine, cache := newEngine(t), &countingCache{}
	handle := HandleMessage(engine, cache)

	ev := ingestion.ArticleEvent{Key: "doc1", KeyHash: hasher.DigestString("doc1"), Text: "the quick fox", IngestedAt: time.Now()}
	if err := handle(context.Background(), []byte(ev.KeyHash), encode(t, ev)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if m := engine.Match("the quick fox"); m.Key != "doc1" {
		t.Errorf("Match = %+v", m)
	}
	if cache.calls != 1 {
		t.Errorf("invalidations = %d", cache.calls)
	}
}

type articles []archive.Article

func (a articles) Each(_ context.Context, _ int, fn func(archive.Article) error) error {
	for _, art := range a {
		if err := fn(art); err != nil {
			return err
		}
	}
	return nil
}

// The ingestion service archives and publishes every article, so a matcher
// that replayed the archive sees the same articles again on the stream.
func TestHandleMessageSkipsReplayedArticles(t *testing.T) {
	engine, cache := newEngine(t), &countingCache{}
	archived := articles{
		{ID: 1, Key: "old", Body: "the quick brown fox"},
		{ID: 2, Key: "recent", Body: "the quick brown dog"},
	}
	if _, err := engine.Replay(context.Background(), archived); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	before := engine.Candidates("the quick brown", 0)

	handle := HandleMessage(engine, cache)
	for _, a := range archived {
		ev := ingestion.ArticleEvent{Key: a.Key, KeyHash: hasher.DigestString(a.Key), Text: a.Body, ArchiveID: a.ID}
		if err := handle(context.Background(), []byte(ev.KeyHash), encode(t, ev)); err != nil {
			t.Fatalf("handle %s: %v", a.Key, err)
		}
	}
	if got := engine.Stats().Ingested; got != 2 {
		t.Fatalf("ingested = %d after redelivery, want 2", got)
	}
	after := engine.Candidates("the quick brown", 0)
	if len(after) != 2 || after[0].Score != after[1].Score || after[0] != before[0] {
		t.Errorf("candidates changed by redelivery: before %v, after %v", before, after)
	}
	if cache.calls != 0 {
		t.Errorf("skipped events invalidated the cache %d times", cache.calls)
	}

	fresh := ingestion.ArticleEvent{Key: "new", Text: "the quick brown cat", ArchiveID: 3}
	if err := handle(context.Background(), nil, encode(t, fresh)); err != nil {
		t.Fatalf("handle new: %v", err)
	}
	unarchived := ingestion.ArticleEvent{Key: "loose", Text: "an unarchived story"}
	if err := handle(context.Background(), nil, encode(t, unarchived)); err != nil {
		t.Fatalf("handle unarchived: %v", err)
	}
	if got := engine.Stats().Ingested; got != 4 {
		t.Errorf("ingested = %d, want 4 after two new articles", got)
	}
}

func TestHandleMessageSkipsGarbage(t *testing.T) {
	engine, cache := newEngine(t), &countingCache{}
	handle := HandleMessage(engine, cache)
	for _, value := range [][]byte{[]byte("not json"), []byte(`{"text":"no key here"}`)} {
		if err := handle(context.Background(), nil, value); err != nil {
			t.Errorf("garbage message returned %v; it would never be committed", err)
		}
	}
	if engine.Stats().Ingested != 0 || cache.calls != 0 {
		t.Errorf("garbage reached the index: %+v", engine.Stats())
	}
}

func TestHandleMessageToleratesCacheFailure(t *testing.T) {
	engine := newEngine(t)
	handle := HandleMessage(engine, &countingCache{err: errors.New("redis down")})
	ev := ingestion.ArticleEvent{Key: "doc1", Text: "a b c"}
	if err := handle(context.Background(), nil, encode(t, ev)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if engine.Stats().Ingested != 1 {
		t.Error("article not ingested")
	}
}

func TestHandleMessageNilCache(t *testing.T) {
	engine := newEngine(t)
	if err := HandleMessage(engine, nil)(context.Background(), nil, encode(t, ingestion.ArticleEvent{Key: "k", Text: "x y"})); err != nil {
		t.Fatal(err)
	}
}
