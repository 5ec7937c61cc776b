// Package ranker turns posting-list hits into per-article vote totals.
//
// Each posting list found for a query shingle spreads one vote evenly over
// its entries, so a shingle shared by many ingested articles counts for less
// per article than a distinctive one. Only the shingle's own posting-list
// length is used; there is no corpus-wide weighting.
//
// Totals are exact fractions, so equal votes compare equal whatever order
// the posting lists were summed in.
package ranker

import (
	"math/big"
	"sort"
)

// ScoredDoc is a candidate article identified by its key hash.
type ScoredDoc struct {
	KeyHash string  `json:"key_hash"`
	Score   float64 `json:"score"`
}

// Totals maps key hashes to their exact vote totals.
type Totals map[string]*big.Rat

// Score returns the total for keyHash as the nearest float64, or zero.
func (t Totals) Score(keyHash string) float64 {
	r, ok := t[keyHash]
	if !ok {
		return 0
	}
	f, _ := r.Float64()
	return f
}

// Vote sums the weighted votes of every posting list in hits. An entry in a
// list of length L contributes 1/L to its key hash; duplicate entries vote
// once per occurrence. The result does not depend on the order of hits.
func Vote[L ~[]string](hits []L) Totals {
	totals := make(Totals)
	for _, postings := range hits {
		if len(postings) == 0 {
			continue
		}
		weight := big.NewRat(1, int64(len(postings)))
		for _, keyHash := range postings {
			total, ok := totals[keyHash]
			if !ok {
				total = new(big.Rat)
				totals[keyHash] = total
			}
			total.Add(total, weight)
		}
	}
	return totals
}

// ahead reports whether candidate a ranks before b: greater total first,
// then smaller key hash.
func ahead(aHash string, a *big.Rat, bHash string, b *big.Rat) bool {
	if c := a.Cmp(b); c != 0 {
		return c > 0
	}
	return aHash < bHash
}

// Rank orders totals by descending score. Equal scores are ordered by
// ascending key hash, which makes the winner independent of map iteration
// order. limit <= 0 returns every candidate.
func Rank(totals Totals, limit int) []ScoredDoc {
	keys := make([]string, 0, len(totals))
	for keyHash := range totals {
		keys = append(keys, keyHash)
	}
	sort.Slice(keys, func(i, j int) bool {
		return ahead(keys[i], totals[keys[i]], keys[j], totals[keys[j]])
	})
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	result := make([]ScoredDoc, len(keys))
	for i, keyHash := range keys {
		result[i] = ScoredDoc{KeyHash: keyHash, Score: totals.Score(keyHash)}
	}
	return result
}

// Top returns the single best candidate, or false when totals is empty.
func Top(totals Totals) (ScoredDoc, bool) {
	var bestHash string
	var best *big.Rat
	for keyHash, total := range totals {
		if best == nil || ahead(keyHash, total, bestHash, best) {
			bestHash, best = keyHash, total
		}
	}
	if best == nil {
		return ScoredDoc{}, false
	}
	return ScoredDoc{KeyHash: bestHash, Score: totals.Score(bestHash)}, true
}
