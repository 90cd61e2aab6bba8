package improve

import (
	"context"
	"strings"
)

// TokenSimilarity measures question similarity as Jaccard overlap of
// lowercased word sets. It is the built-in fallback when no external
// embedding capability is wired in.
type TokenSimilarity struct{}

// NewTokenSimilarity creates the lexical fallback similarity scorer.
func NewTokenSimilarity() *TokenSimilarity {
	return &TokenSimilarity{}
}

// Score implements SimilarityScorer.
func (s *TokenSimilarity) Score(ctx context.Context, a, b string) (float64, error) {
	left := wordSet(a)
	right := wordSet(b)
	if len(left) == 0 || len(right) == 0 {
		return 0, nil
	}

	both := 0
	for w := range left {
		if _, ok := right[w]; ok {
			both++
		}
	}
	union := len(left) + len(right) - both
	return float64(both) / float64(union), nil
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) < 3 {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}
