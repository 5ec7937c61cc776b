package index

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer/hasher"
)

const (
	jimmyArchive = "Five minutes. That's roughly how long it took Jimmy Ryce, 9, to vanish Monday - within sight of his family's south Dade home, where his mother was waiting for him to return from school."
	jimmyScraped = "Five minutes.\n\nThat's roughly how long it took Jimmy Ryce, 9, to vanish Monday -   within sight of his family's south Dade home, where his mother was waiting for him to return from school.\n\nOriginally Published: September 14, 1995"
	roofArchive  = "Getting your house back to normal can help you get back to normal. But remember that damaged homes can pose danger. Take your time."
)

func mustNew(t *testing.T, width int, hashed bool) *ArticleIndex {
	t.Helper()
	x, err := New(width, hashed)
	if err != nil {
		t.Fatalf("New(%d, %v): %v", width, hashed, err)
	}
	return x
}

func TestNewRejectsNonPositiveWidth(t *testing.T) {
	for _, width := range []int{0, -3} {
		if _, err := New(width, false); !errors.Is(err, ErrInvalidWidth) {
			t.Errorf("New(%d) error = %v, want ErrInvalidWidth", width, err)
		}
	}
}

func TestMatchEmptyIndex(t *testing.T) {
	x := mustNew(t, 3, true)
	m := x.Match("anything at all goes here")
	if m.Found || m.Score != 0 || m.Key != "" {
		t.Errorf("empty index returned %+v, want no match", m)
	}
	if c := x.Candidates("anything at all goes here", 0); len(c) != 0 {
		t.Errorf("empty index returned candidates %v", c)
	}
}

func TestIngestAndMatchBigramScenario(t *testing.T) {
	x := mustNew(t, 2, false)
	keyHash, shingles := x.Ingest("the quick fox", "doc1")
	if shingles != 2 {
		t.Errorf("expected 2 shingles, got %d", shingles)
	}
	if keyHash != hasher.DigestString("doc1") {
		t.Errorf("key hash = %s, want digest of doc1", keyHash)
	}
	if got := x.postings["the quick"]; len(got) != 1 || got[0] != keyHash {
		t.Errorf(`postings["the quick"] = %v`, got)
	}
	if got := x.postings["quick fox"]; len(got) != 1 || got[0] != keyHash {
		t.Errorf(`postings["quick fox"] = %v`, got)
	}

	m := x.Match("the quick fox")
	if !m.Found || m.Key != "doc1" || m.Score <= 0 {
		t.Errorf("Match = %+v, want doc1 with positive score", m)
	}
	if m.Score != 2 {
		t.Errorf("score = %v, want 2 (two unshared shingles)", m.Score)
	}
}

func TestMatchSelfAfterIngest(t *testing.T) {
	x := mustNew(t, 4, true)
	x.Ingest(jimmyArchive, "https://archive.example/1995/09/14/jimmy-ryce")
	x.Ingest(roofArchive, "https://archive.example/1992/08/28/roof-repairs")

	m := x.Match(roofArchive)
	if !m.Found || m.Key != "https://archive.example/1992/08/28/roof-repairs" || m.Score <= 0 {
		t.Errorf("Match(roofArchive) = %+v", m)
	}
}

func TestMatchToleratesWhitespaceDrift(t *testing.T) {
	x := mustNew(t, 5, false)
	x.Ingest(jimmyArchive, "jimmy")
	x.Ingest(roofArchive, "roof")

	m := x.Match(jimmyScraped)
	if m.Key != "jimmy" {
		t.Errorf("scraped copy matched %q, want jimmy", m.Key)
	}
}

func TestMatchNoSharedShingle(t *testing.T) {
	x := mustNew(t, 2, false)
	x.Ingest("the quick fox", "doc1")
	m := x.Match("lazy brown dog")
	if m.Found || m.Score != 0 {
		t.Errorf("Match = %+v, want no match", m)
	}
	if m := x.Match("fox"); m.Found {
		t.Errorf("query shorter than width matched: %+v", m)
	}
}

func TestHashedAndPlainAgreeOnWinner(t *testing.T) {
	corpus := map[string]string{
		"jimmy": jimmyArchive,
		"roof":  roofArchive,
		"other": "An entirely different story about city council budgets and zoning votes held on Tuesday night.",
	}
	queries := []string{jimmyScraped, roofArchive, "city council budgets and zoning votes", "no overlap whatsoever here friend"}

	for width := 1; width <= 5; width++ {
		plain := mustNew(t, width, false)
		hashed := mustNew(t, width, true)
		for _, key := range []string{"jimmy", "roof", "other"} {
			plain.Ingest(corpus[key], key)
			hashed.Ingest(corpus[key], key)
		}
		for _, q := range queries {
			if p, h := plain.Match(q), hashed.Match(q); p != h {
				t.Errorf("width %d query %.20q: plain %+v, hashed %+v", width, q, p, h)
			}
		}
	}
}

// Small random corpora over a six-word vocabulary produce many exact ties
// reached through differently ordered shingles in the two modes.
func TestHashedAndPlainAgreeOnRandomTies(t *testing.T) {
	vocab := strings.Fields("a b c d e f")
	rng := rand.New(rand.NewPCG(641, 1))
	for trial := range 3000 {
		plain := mustNew(t, 1, false)
		hashed := mustNew(t, 1, true)
		for doc := range 2 + rng.IntN(3) {
			words := make([]string, 1+rng.IntN(4))
			for i := range words {
				words[i] = vocab[rng.IntN(len(vocab))]
			}
			text, key := strings.Join(words, " "), fmt.Sprintf("k%d", doc)
			plain.Ingest(text, key)
			hashed.Ingest(text, key)
		}
		query := "a b c d e f"
		if p, h := plain.Match(query), hashed.Match(query); p != h {
			t.Fatalf("trial %d: plain %+v, hashed %+v", trial, p, h)
		}
		pc, hc := plain.Candidates(query, 0), hashed.Candidates(query, 0)
		if !slices.Equal(pc, hc) {
			t.Fatalf("trial %d: plain candidates %v, hashed %v", trial, pc, hc)
		}
	}
}

func TestDoubleIngestInflatesScore(t *testing.T) {
	once := mustNew(t, 2, false)
	once.Ingest("the quick fox", "doc1")
	once.Ingest("the quick dog", "doc2")

	twice := mustNew(t, 2, false)
	twice.Ingest("the quick fox", "doc1")
	twice.Ingest("the quick fox", "doc1")
	twice.Ingest("the quick dog", "doc2")

	if got := twice.postings["quick fox"]; len(got) != 2 {
		t.Fatalf("posting list after double ingest = %v, want two entries", got)
	}

	// "the quick" is shared: once -> doc1 gets 1/2, twice -> doc1 gets 2/3.
	onceScore := once.Match("the quick").Score
	twiceScore := twice.Match("the quick").Score
	if twiceScore <= onceScore {
		t.Errorf("double ingestion did not inflate score: once %v, twice %v", onceScore, twiceScore)
	}
	if twice.Stats().Keys != 2 {
		t.Errorf("key table should hold 2 keys, got %d", twice.Stats().Keys)
	}
}

func TestTieBreakSmallestKeyHash(t *testing.T) {
	x := mustNew(t, 2, false)
	keys := []string{"alpha", "bravo", "charlie", "delta"}
	for _, k := range keys {
		x.Ingest("identical article text", k)
	}
	smallest := ""
	for _, k := range keys {
		h := hasher.DigestString(k)
		if smallest == "" || h < smallest {
			smallest = h
		}
	}
	for i := 0; i < 20; i++ {
		m := x.Match("identical article text")
		if m.KeyHash != smallest {
			t.Fatalf("run %d: winner %s, want smallest key hash %s", i, m.KeyHash, smallest)
		}
	}
}

func TestRepeatedKeyOverwritesKeyTable(t *testing.T) {
	x := mustNew(t, 2, false)
	h1, _ := x.Ingest("first version of text", "same-key")
	h2, _ := x.Ingest("second version of text", "same-key")
	if h1 != h2 {
		t.Fatal("key hash is not deterministic")
	}
	if key, ok := x.Key(h1); !ok || key != "same-key" {
		t.Errorf("Key(%s) = %q, %v", h1, key, ok)
	}
	if m := x.Match("first version"); m.Key != "same-key" {
		t.Errorf("older text no longer matches: %+v", m)
	}
}

func TestCandidatesOrdering(t *testing.T) {
	x := mustNew(t, 2, false)
	x.Ingest("a b c d e", "full")
	x.Ingest("a b c", "half")
	x.Ingest("x y a b", "tail")

	got := x.Candidates("a b c d e", 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d: %+v", len(got), got)
	}
	if got[0].Key != "full" {
		t.Errorf("first candidate = %q, want full", got[0].Key)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("candidates not sorted: %+v", got)
		}
	}
	if m := x.Match("a b c d e"); m.KeyHash != got[0].KeyHash || m.Score != got[0].Score {
		t.Errorf("Match %+v disagrees with first candidate %+v", m, got[0])
	}
	if top := x.Candidates("a b c d e", 1); len(top) != 1 {
		t.Errorf("limit 1 returned %d candidates", len(top))
	}
}

func TestEmptyTextIngest(t *testing.T) {
	x := mustNew(t, 3, true)
	keyHash, shingles := x.Ingest("", "empty")
	if shingles != 0 {
		t.Errorf("empty text produced %d shingles", shingles)
	}
	if key, ok := x.Key(keyHash); !ok || key != "empty" {
		t.Error("empty article should still be recorded in the key table")
	}
	if m := x.Match(""); m.Found {
		t.Errorf("empty query matched: %+v", m)
	}
}

func TestStats(t *testing.T) {
	x := mustNew(t, 2, true)
	for i := 0; i < 3; i++ {
		x.Ingest(fmt.Sprintf("shared words unique%d", i), fmt.Sprintf("k%d", i))
	}
	s := x.Stats()
	want := Stats{Width: 2, Hashed: true, Shingles: 4, Keys: 3, Postings: 6, Ingested: 3}
	if s != want {
		t.Errorf("Stats = %+v, want %+v", s, want)
	}
}
