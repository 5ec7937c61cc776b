// Package containment decides whether two texts are near-duplicates by
// comparing their 5-token shingle sets in both directions.
//
// A pair is a match only when more than half of each text's shingles occur
// in the other, which rejects a short fragment embedded in a much longer,
// mostly unrelated article.
package containment

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer/tokenizer"
)

const (
	// Width is the shingle width used for every comparison, independent of
	// any index configuration.
	Width = 5
	// Threshold must be strictly exceeded by both containment scores.
	Threshold = 0.5
)

// Result is the outcome of comparing text A with text B.
type Result struct {
	IntersectionCount int     `json:"intersection_count"`
	ContainmentA      float64 `json:"containment_a"`
	ContainmentB      float64 `json:"containment_b"`
	Verdict           bool    `json:"verdict"`
}

// String renders r as a single human-readable line.
func (r Result) String() string {
	return fmt.Sprintf("matched with %d shared shingles, containment %.4f and %.4f, verdict %t",
		r.IntersectionCount, r.ContainmentA, r.ContainmentB, r.Verdict)
}

// Validator compares text pairs. It holds no state beyond the shingle
// representation and is safe for concurrent use.
type Validator struct {
	hashed bool
}

// New returns a Validator that hashes shingles when hashed is set, matching
// the representation of the index it accompanies.
func New(hashed bool) *Validator {
	return &Validator{hashed: hashed}
}

// Validate compares a and b. Texts with fewer than Width tokens have an
// empty shingle set and therefore zero containment.
func (v *Validator) Validate(a, b string) Result {
	setA := tokenizer.Shingles(a, Width, v.hashed)
	setB := tokenizer.Shingles(b, Width, v.hashed)
	inter := setA.Intersect(setB)
	r := Result{
		IntersectionCount: inter,
		ContainmentA:      ratio(inter, len(setA)),
		ContainmentB:      ratio(inter, len(setB)),
	}
	r.Verdict = r.ContainmentA > Threshold && r.ContainmentB > Threshold
	return r
}

func ratio(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}
