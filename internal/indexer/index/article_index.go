// Package index holds the append-only shingle index: a map from shingle to
// the key hashes of every article that contained it, and a key table that
// resolves key hashes back to the caller's original article keys.
//
// ArticleIndex is not safe for concurrent use. One owner mutates it; any
// sharing across goroutines must be guarded by the caller (see
// indexer.Engine).
package index

import (
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer/hasher"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/searcher/ranker"
)

// ErrInvalidWidth is returned by New for a non-positive shingle width.
var ErrInvalidWidth = errors.New("shingle width must be positive")

type ArticleIndex struct {
	width    int
	hashed   bool
	postings map[string]PostingList
	keys     map[string]string
	entries  int
	ingested int
}

// New creates an empty index over shingles of width tokens. When hashed is
// set, shingles are stored and looked up by digest rather than raw text.
func New(width int, hashed bool) (*ArticleIndex, error) {
	if width <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWidth, width)
	}
	return &ArticleIndex{
		width:    width,
		hashed:   hashed,
		postings: make(map[string]PostingList),
		keys:     make(map[string]string),
	}, nil
}

// Width returns the shingle width fixed at construction.
func (x *ArticleIndex) Width() int { return x.width }

// Hashed reports whether shingles are stored as digests.
func (x *ArticleIndex) Hashed() bool { return x.hashed }

// Ingest registers text under key and returns the key hash and the number
// of distinct shingles appended. Ingesting the same article again appends
// its key hash to the same posting lists a second time, which raises its
// weight in later matches.
func (x *ArticleIndex) Ingest(text string, key string) (string, int) {
	shingles := tokenizer.Shingles(text, x.width, x.hashed)
	keyHash := hasher.DigestString(key)
	x.keys[keyHash] = key
	for g := range shingles {
		x.postings[g] = append(x.postings[g], keyHash)
	}
	x.entries += len(shingles)
	x.ingested++
	return keyHash, len(shingles)
}

// Hits returns the posting lists of every query shingle present in the
// index, ordered by shingle. The returned lists alias index storage and
// must not be modified.
func (x *ArticleIndex) Hits(query string) []PostingList {
	shingles := tokenizer.Shingles(query, x.width, x.hashed)
	if len(shingles) == 0 {
		return nil
	}
	hits := make([]PostingList, 0, len(shingles))
	for _, g := range shingles.Sorted() {
		if postings, ok := x.postings[g]; ok {
			hits = append(hits, postings)
		}
	}
	return hits
}

// Key resolves a key hash to the most recently ingested original key.
func (x *ArticleIndex) Key(keyHash string) (string, bool) {
	key, ok := x.keys[keyHash]
	return key, ok
}

// Match returns the article with the greatest weighted vote for query.
// Equal scores resolve to the smallest key hash.
func (x *ArticleIndex) Match(query string) Match {
	best, ok := ranker.Top(ranker.Vote(x.Hits(query)))
	if !ok {
		return Match{}
	}
	return Match{
		Key:     x.keys[best.KeyHash],
		KeyHash: best.KeyHash,
		Score:   best.Score,
		Found:   true,
	}
}

// Candidates returns up to limit articles ranked by weighted vote. The
// first candidate, when any, is the one Match returns. limit <= 0 returns
// every article that shares at least one shingle with query.
func (x *ArticleIndex) Candidates(query string, limit int) []Candidate {
	ranked := ranker.Rank(ranker.Vote(x.Hits(query)), limit)
	out := make([]Candidate, 0, len(ranked))
	for _, doc := range ranked {
		out = append(out, Candidate{
			Key:     x.keys[doc.KeyHash],
			KeyHash: doc.KeyHash,
			Score:   doc.Score,
		})
	}
	return out
}

func (x *ArticleIndex) Stats() Stats {
	return Stats{
		Width:    x.width,
		Hashed:   x.hashed,
		Shingles: len(x.postings),
		Keys:     len(x.keys),
		Postings: x.entries,
		Ingested: x.ingested,
	}
}
