package benchmark

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/archive"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/containment"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/articlematch/pkg/errors"
)

// BenchmarkVoteAndRank measures vote accumulation and sorting for different
// numbers of hit lists.
func BenchmarkVoteAndRank(b *testing.B) {
	for _, lists := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("lists_%d", lists), func(b *testing.B) {
			hits := make([][]string, lists)
			for i := range hits {
				hits[i] = []string{
					fmt.Sprintf("key-%d", i%50),
					fmt.Sprintf("key-%d", (i+1)%50),
				}
			}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = ranker.Rank(ranker.Vote(hits), 5)
			}
		})
	}
}

func BenchmarkValidate(b *testing.B) {
	for _, hashed := range []bool{false, true} {
		b.Run(fmt.Sprintf("hashed_%t", hashed), func(b *testing.B) {
			v := containment.New(hashed)
			a, c := article(1, 400), article(1, 300)
			b.ReportAllocs()
			b.SetBytes(int64(len(a) + len(c)))
			for i := 0; i < b.N; i++ {
				_ = v.Validate(a, c)
			}
		})
	}
}

// BenchmarkExecute measures the full match pipeline with and without the
// containment check on the best candidate.
func BenchmarkExecute(b *testing.B) {
	engine, err := indexer.NewEngine(config.MatcherConfig{ShingleWidth: 10, HashShingles: true}, nil)
	if err != nil {
		b.Fatal(err)
	}
	texts := make(map[string]string)
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("article-%d", i)
		texts[engine.IngestArticle(key, article(i, 200), indexer.SourceReplay)] = article(i, 200)
	}
	exec := executor.New(engine, benchTexts(texts), 5, time.Second)
	query := article(42, 150)

	for _, verify := range []bool{false, true} {
		b.Run(fmt.Sprintf("verify_%t", verify), func(b *testing.B) {
			req := executor.Request{Query: query, Limit: 5, Verify: verify}
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := exec.Execute(context.Background(), req); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

type benchTexts map[string]string

func (t benchTexts) Get(_ context.Context, keyHash string) (archive.Article, error) {
	body, ok := t[keyHash]
	if !ok {
		return archive.Article{}, apperrors.ErrArticleNotFound
	}
	return archive.Article{KeyHash: keyHash, Body: body}, nil
}
