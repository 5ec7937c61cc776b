package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/archive"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer/hasher"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/articlematch/pkg/errors"
)

const (
	archived = "the mayor said on tuesday that the new bridge would open to traffic next spring after years of delay"
	scraped  = "The mayor said on Tuesday   that the new bridge would open to traffic next spring after years of delay"
)

type mapTexts map[string]archive.Article

func (m mapTexts) Get(_ context.Context, keyHash string) (archive.Article, error) {
	a, ok := m[keyHash]
	if !ok {
		return archive.Article{}, apperrors.ErrArticleNotFound
	}
	return a, nil
}

type slowTexts struct{}

func (slowTexts) Get(ctx context.Context, _ string) (archive.Article, error) {
	<-ctx.Done()
	return archive.Article{}, ctx.Err()
}

type brokenTexts struct{}

func (brokenTexts) Get(context.Context, string) (archive.Article, error) {
	return archive.Article{}, errors.New("connection reset")
}

func newEngine(t *testing.T) *indexer.Engine {
	t.Helper()
	e, err := indexer.NewEngine(config.MatcherConfig{ShingleWidth: 3, HashShingles: true, ReplayBatchSize: 10}, nil)
	if err != nil {
		t.Fatal(err)
	}
	e.IngestArticle("bridge", archived, indexer.SourceHTTP)
	e.IngestArticle("other", "a completely different story about the weather and the mayor", indexer.SourceHTTP)
	return e
}

func TestExecuteBestMatchesEngine(t *testing.T) {
	eng := newEngine(t)
	ex := New(eng, nil, 5, time.Second)
	res, err := ex.Execute(context.Background(), Request{Query: scraped})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Best.Found || res.Best.Key != "bridge" {
		t.Errorf("best = %+v", res.Best)
	}
	if want := eng.Match(scraped); res.Best != want {
		t.Errorf("best %+v disagrees with engine match %+v", res.Best, want)
	}
	if res.Verification != nil {
		t.Error("verification present without being requested")
	}
}

func TestExecuteVerification(t *testing.T) {
	texts := mapTexts{hasher.DigestString("bridge"): {Key: "bridge", Body: archived}}
	tests := []struct {
		name   string
		texts  TextSource
		query  string
		status string
	}{
		{"checked", texts, scraped, VerifyChecked},
		{"no match", texts, "zebra yak quokka", VerifyNoMatch},
		{"no archive", nil, scraped, VerifyUnavailable},
		{"not archived", mapTexts{}, scraped, VerifyNotFound},
		{"slow archive", slowTexts{}, scraped, VerifyTimeout},
		{"broken archive", brokenTexts{}, scraped, VerifyUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := New(newEngine(t), tt.texts, 5, 20*time.Millisecond)
			res, err := ex.Execute(context.Background(), Request{Query: tt.query, Verify: true})
			if err != nil {
				t.Fatal(err)
			}
			if res.Verification == nil || res.Verification.Status != tt.status {
				t.Fatalf("verification = %+v, want %s", res.Verification, tt.status)
			}
			if tt.status == VerifyChecked {
				r := res.Verification.Result
				if r == nil || !r.Verdict {
					t.Errorf("scraped copy failed verification: %+v", r)
				}
			}
		})
	}
}

func TestExecuteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(newEngine(t), nil, 5, time.Second).Execute(ctx, Request{Query: scraped})
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Errorf("err = %v", err)
	}
}

func TestLimit(t *testing.T) {
	ex := New(newEngine(t), nil, 5, time.Second)
	for requested, want := range map[int]int{0: 5, -1: 5, 3: 3, 50: 50, 51: 5} {
		if got := ex.Limit(requested); got != want {
			t.Errorf("Limit(%d) = %d, want %d", requested, got, want)
		}
	}
}
