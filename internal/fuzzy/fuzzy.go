// Package fuzzy resolves free-text names against a small candidate set using
// Levenshtein distance. There is no index: every lookup scans all candidates,
// which is fine for a registry of a few thousand patients.
package fuzzy

import (
	"strings"

	"rinocal/internal/names"
)

// DefaultMaxDistance is the largest edit distance still considered a match.
const DefaultMaxDistance = 3

// Matcher holds the match threshold. The zero value uses DefaultMaxDistance.
type Matcher struct {
	MaxDistance int
}

func (m Matcher) limit() int {
	if m.MaxDistance <= 0 {
		return DefaultMaxDistance
	}
	return m.MaxDistance
}

// Key is the form names are compared in.
func Key(s string) string {
	return strings.TrimSpace(names.Fold(s))
}

// Distance returns the Levenshtein distance between a and b, counted in
// runes with unit cost for insertion, deletion and substitution.
func Distance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Best returns the single best candidate for query, for callers that want one
// answer; the description updater uses All to see ambiguity. An exact key
// match wins immediately. Otherwise the candidate with the smallest distance
// within the threshold wins; equal distances go to the alphabetically first
// key, and equal keys to the earlier candidate.
func Best[T any](m Matcher, query string, candidates []T, key func(T) string) (T, bool) {
	var zero T
	q := Key(query)

	for _, c := range candidates {
		if Key(key(c)) == q {
			return c, true
		}
	}

	bestIdx, bestDist, bestKey := -1, m.limit()+1, ""
	for i, c := range candidates {
		k := Key(key(c))
		d := Distance(q, k)
		if d > m.limit() {
			continue
		}
		if d < bestDist || (d == bestDist && k < bestKey) {
			bestIdx, bestDist, bestKey = i, d, k
		}
	}
	if bestIdx < 0 {
		return zero, false
	}
	return candidates[bestIdx], true
}

// All returns every candidate matching query. If any candidate matches
// exactly, only the exact matches are returned; otherwise all candidates
// within the threshold are returned in input order. The result may be empty.
func All[T any](m Matcher, query string, candidates []T, key func(T) string) []T {
	q := Key(query)

	var exact []T
	for _, c := range candidates {
		if Key(key(c)) == q {
			exact = append(exact, c)
		}
	}
	if len(exact) > 0 {
		return exact
	}

	var near []T
	for _, c := range candidates {
		if Distance(q, Key(key(c))) <= m.limit() {
			near = append(near, c)
		}
	}
	return near
}
