// Package improve mines the escalation history for systemic problems and
// proposes new outcomes that would remove their root causes.
package improve

import (
	"context"

	"github.com/odvcencio/steward/pkg/storage"
)

// Severity ranks how urgent a cluster's root cause is.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// bump raises severity by one tier, saturating at critical.
func (s Severity) bump() Severity {
	if s >= SeverityCritical {
		return SeverityCritical
	}
	return s + 1
}

// SimilarityScorer judges whether two escalation questions describe the same
// underlying problem. Implementations are external reasoning capabilities:
// pluggable, fallible, and not assumed deterministic. Scores are in [0, 1].
type SimilarityScorer interface {
	Score(ctx context.Context, a, b string) (float64, error)
}

// Cluster is a group of escalations sharing a trigger type and a similar
// question, treated as one root cause. Clusters are derived, never persisted.
type Cluster struct {
	TriggerType storage.TriggerType   `json:"trigger_type"`
	Members     []*storage.Escalation `json:"members"`
	// Pattern is the representative question text for the cluster.
	Pattern  string   `json:"pattern"`
	Severity Severity `json:"severity"`
	// PerWeek is the recurrence rate over the lookback window.
	PerWeek float64 `json:"per_week"`
	// HasFailedTask reports whether any member's trigger references a task
	// that ended failed.
	HasFailedTask bool `json:"has_failed_task"`
}

// Size returns the member count.
func (c *Cluster) Size() int { return len(c.Members) }

// ProposedTask is one task of an improvement proposal, carried into the
// created outcome verbatim.
type ProposedTask struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Phase       storage.TaskPhase `json:"phase"`
	Priority    int               `json:"priority"`
}

// Intent states what the proposed outcome should achieve.
type Intent struct {
	Summary         string   `json:"summary"`
	Goals           []string `json:"goals"`
	SuccessCriteria []string `json:"success_criteria"`
}

// Approach states how the proposed outcome should be pursued.
type Approach struct {
	Summary string   `json:"summary"`
	Steps   []string `json:"steps"`
	Risks   []string `json:"risks,omitempty"`
}

// Proposal is a synthesized recommendation addressing one cluster.
type Proposal struct {
	OutcomeName string         `json:"outcome_name"`
	Problem     string         `json:"problem"`
	Cluster     *Cluster       `json:"cluster"`
	Tasks       []ProposedTask `json:"tasks"`
	Intent      Intent         `json:"intent"`
	Approach    Approach       `json:"approach"`
}

// Params controls one analysis pass.
type Params struct {
	LookbackDays int `json:"lookback_days"`
	// OutcomeID restricts the pass to one outcome when set.
	OutcomeID    string `json:"outcome_id,omitempty"`
	MaxProposals int    `json:"max_proposals"`
	// AutoCreateOutcomes materializes each proposal as a draft outcome
	// with its tasks pre-populated.
	AutoCreateOutcomes bool `json:"auto_create_outcomes"`
}

// Report is the result of one analysis pass.
type Report struct {
	Clusters  []*Cluster  `json:"clusters"`
	Proposals []*Proposal `json:"proposals"`
	// OutcomesCreated lists the IDs of outcomes materialized from
	// proposals, in proposal order.
	OutcomesCreated []string `json:"outcomes_created,omitempty"`
}
