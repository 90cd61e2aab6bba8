package autoresolve

import (
	"context"
	"strings"

	"github.com/odvcencio/steward/pkg/errors"
	"github.com/odvcencio/steward/pkg/storage"
)

// HeuristicScorer scores options by lexical overlap with the escalation's
// question and trigger evidence. It is the built-in fallback when no
// external reasoning capability is wired in; its confidences are
// deliberately conservative so it only clears low thresholds on strong
// matches.
type HeuristicScorer struct{}

// NewHeuristicScorer creates the lexical fallback scorer.
func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{}
}

// ScoreOptions implements ConfidenceScorer. Free-text questions are
// refused: inventing prose answers is beyond a lexical heuristic.
func (s *HeuristicScorer) ScoreOptions(ctx context.Context, esc *storage.Escalation) ([]Score, error) {
	if len(esc.Question.Options) == 0 {
		return nil, errors.New(errors.ErrCodeExternalCapability, "free-text question requires an external scorer").
			WithContext("escalation_id", esc.ID)
	}

	query := tokenSet(esc.Question.Text, esc.Question.Context, strings.Join(esc.Trigger.Evidence, " "))

	scores := make([]Score, 0, len(esc.Question.Options))
	for _, opt := range esc.Question.Options {
		optTokens := tokenSet(opt.Label, opt.Description, opt.Implications)
		scores = append(scores, Score{Option: opt.ID, Confidence: overlap(query, optTokens)})
	}
	return scores, nil
}

// overlap returns the share of the option's vocabulary that the question
// mentions. Empty sets score zero.
func overlap(query, option map[string]struct{}) float64 {
	if len(option) == 0 {
		return 0
	}
	hits := 0
	for tok := range option {
		if _, ok := query[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(option))
}

func tokenSet(parts ...string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, part := range parts {
		for _, tok := range strings.FieldsFunc(strings.ToLower(part), func(r rune) bool {
			return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
		}) {
			if len(tok) < 3 {
				continue
			}
			set[tok] = struct{}{}
		}
	}
	return set
}
