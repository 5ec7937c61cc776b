// Package tokenizer splits article text into whitespace-delimited tokens and
// builds the sets of contiguous token windows (shingles) that the index and
// the containment validator compare.
//
// No case folding, punctuation stripping or stemming is applied: two texts
// share a shingle only when the same tokens appear in the same order.
package tokenizer

import (
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer/hasher"
)

// Token is a single whitespace-delimited word and its position in the
// original text.
type Token struct {
	Term     string
	Position int
}

// Set is a set of shingles. Iteration order carries no meaning.
type Set map[string]struct{}

// Contains reports whether s holds shingle.
func (s Set) Contains(shingle string) bool {
	_, ok := s[shingle]
	return ok
}

// Sorted returns the members of s in ascending order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for g := range s {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Intersect returns the number of shingles present in both sets.
func (s Set) Intersect(other Set) int {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	n := 0
	for g := range small {
		if large.Contains(g) {
			n++
		}
	}
	return n
}

// Tokenize breaks text on runs of Unicode whitespace. Empty or
// whitespace-only text yields no tokens.
func Tokenize(text string) []Token {
	words := strings.Fields(text)
	tokens := make([]Token, 0, len(words))
	for pos, word := range words {
		tokens = append(tokens, Token{
			Term:     word,
			Position: pos,
		})
	}
	return tokens
}

// Shingles returns the distinct width-token windows of text, each rejoined
// with single spaces. When hashed is set every shingle is replaced by its
// hex digest. Text with fewer than width tokens, or a non-positive width,
// yields an empty set.
func Shingles(text string, width int, hashed bool) Set {
	words := strings.Fields(text)
	if width <= 0 || len(words) < width {
		return Set{}
	}
	set := make(Set, len(words)-width+1)
	for i := 0; i <= len(words)-width; i++ {
		shingle := strings.Join(words[i:i+width], " ")
		if hashed {
			shingle = hasher.DigestString(shingle)
		}
		set[shingle] = struct{}{}
	}
	return set
}
