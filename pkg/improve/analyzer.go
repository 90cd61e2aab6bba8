package improve

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/steward/pkg/errors"
	"github.com/odvcencio/steward/pkg/logging"
	"github.com/odvcencio/steward/pkg/storage"
)

// similarityThreshold is the minimum score for two questions to land in the
// same sub-group.
const similarityThreshold = 0.7

// Analyzer clusters recent escalations and synthesizes improvement
// proposals. The pass itself is side-effect free and safe to re-run; only
// AutoCreateOutcomes writes anything.
type Analyzer struct {
	escalations *storage.EscalationStore
	outcomes    *storage.OutcomeStore
	tasks       *storage.TaskStore
	similarity  SimilarityScorer
	logger      *logging.Logger
}

// NewAnalyzer creates an analyzer over the store. A nil similarity scorer
// groups by trigger type alone.
func NewAnalyzer(store *storage.Store, similarity SimilarityScorer, logger *logging.Logger) *Analyzer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Analyzer{
		escalations: store.Escalations(),
		outcomes:    store.Outcomes(),
		tasks:       store.Tasks(),
		similarity:  similarity,
		logger:      logger,
	}
}

// Analyze runs one pass: fetch the lookback window, cluster, rank, and
// synthesize proposals for the top clusters. A window with no escalations
// yields an empty report, not an error.
func (a *Analyzer) Analyze(ctx context.Context, params Params) (*Report, error) {
	if params.LookbackDays <= 0 {
		return nil, errors.Validation("lookback days must be positive")
	}
	if params.MaxProposals < 0 {
		return nil, errors.Validation("max proposals cannot be negative")
	}

	window := time.Duration(params.LookbackDays) * 24 * time.Hour
	cutoff := time.Now().UTC().Add(-window)
	recent, err := a.escalations.ListSince(cutoff, params.OutcomeID)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return &Report{}, nil
	}

	clusters := a.cluster(ctx, recent, params.LookbackDays)
	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].Severity != clusters[j].Severity {
			return clusters[i].Severity > clusters[j].Severity
		}
		return clusters[i].Size() > clusters[j].Size()
	})

	report := &Report{Clusters: clusters}
	for _, c := range clusters {
		if len(report.Proposals) >= params.MaxProposals {
			break
		}
		report.Proposals = append(report.Proposals, synthesize(c))
	}

	if params.AutoCreateOutcomes {
		for _, p := range report.Proposals {
			id, err := a.materialize(p)
			if err != nil {
				return nil, err
			}
			report.OutcomesCreated = append(report.OutcomesCreated, id)
		}
	}

	a.logger.Info(logging.CategoryImprove, "analysis_complete", "", map[string]any{
		"escalations": len(recent),
		"clusters":    len(clusters),
		"proposals":   len(report.Proposals),
		"created":     len(report.OutcomesCreated),
	})
	return report, nil
}

// cluster groups escalations by trigger type, then sub-groups each type by
// question similarity. Singleton trigger types never form a cluster.
func (a *Analyzer) cluster(ctx context.Context, escalations []*storage.Escalation, windowDays int) []*Cluster {
	byTrigger := make(map[storage.TriggerType][]*storage.Escalation)
	var order []storage.TriggerType
	for _, esc := range escalations {
		if _, seen := byTrigger[esc.Trigger.Type]; !seen {
			order = append(order, esc.Trigger.Type)
		}
		byTrigger[esc.Trigger.Type] = append(byTrigger[esc.Trigger.Type], esc)
	}

	var clusters []*Cluster
	for _, trigger := range order {
		group := byTrigger[trigger]
		if len(group) < 2 {
			continue
		}
		for _, members := range a.subGroup(ctx, group) {
			if len(members) < 2 {
				continue
			}
			c := &Cluster{
				TriggerType: trigger,
				Members:     members,
				Pattern:     members[0].Question.Text,
				PerWeek:     float64(len(members)) / float64(windowDays) * 7,
			}
			c.HasFailedTask = a.referencesFailedTask(members)
			c.Severity = severityFor(c)
			clusters = append(clusters, c)
		}
	}
	return clusters
}

// subGroup splits one trigger type's escalations by question similarity,
// greedily attaching each escalation to the first sub-group whose seed it
// matches. A scorer failure is fail-open: the pair is treated as similar so
// the trigger-type grouping still holds.
func (a *Analyzer) subGroup(ctx context.Context, group []*storage.Escalation) [][]*storage.Escalation {
	if a.similarity == nil {
		return [][]*storage.Escalation{group}
	}

	var subs [][]*storage.Escalation
next:
	for _, esc := range group {
		for i, sub := range subs {
			score, err := a.similarity.Score(ctx, questionText(sub[0]), questionText(esc))
			if err != nil {
				a.logger.Warn(logging.CategoryImprove, "similarity_failed", err.Error(), map[string]any{
					"escalation_id": esc.ID,
				})
				score = 1
			}
			if score >= similarityThreshold {
				subs[i] = append(sub, esc)
				continue next
			}
		}
		subs = append(subs, []*storage.Escalation{esc})
	}
	return subs
}

func questionText(esc *storage.Escalation) string {
	if esc.Question.Context != "" {
		return esc.Question.Text + "\n" + esc.Question.Context
	}
	return esc.Question.Text
}

// referencesFailedTask reports whether any member's trigger points at a
// task that ended failed.
func (a *Analyzer) referencesFailedTask(members []*storage.Escalation) bool {
	for _, esc := range members {
		if esc.Trigger.TaskID == "" {
			continue
		}
		task, err := a.tasks.Get(esc.Trigger.TaskID)
		if err != nil {
			continue
		}
		if task.Status == storage.TaskFailed {
			return true
		}
	}
	return false
}

// severityFor computes the size/frequency baseline, bumped one tier when a
// member references a failed task.
func severityFor(c *Cluster) Severity {
	base := SeverityLow
	switch {
	case c.Size() >= 5 || c.PerWeek >= 3:
		base = SeverityHigh
	case c.Size() >= 3 || c.PerWeek >= 1:
		base = SeverityMedium
	}
	if c.HasFailedTask {
		base = base.bump()
	}
	return base
}

// synthesize turns one cluster into a concrete improvement proposal.
func synthesize(c *Cluster) *Proposal {
	name := fmt.Sprintf("Eliminate recurring %s escalations", c.TriggerType)
	problem := fmt.Sprintf(
		"%d escalations with trigger %q share a root cause (pattern: %q), recurring %.1f times per week.",
		c.Size(), c.TriggerType, c.Pattern, c.PerWeek,
	)
	if c.HasFailedTask {
		problem += " At least one occurrence left a task failed."
	}

	return &Proposal{
		OutcomeName: name,
		Problem:     problem,
		Cluster:     c,
		Tasks: []ProposedTask{
			{
				Title:       fmt.Sprintf("Diagnose root cause of %s escalations", c.TriggerType),
				Description: problem,
				Phase:       storage.PhaseInfrastructure,
				Priority:    10,
			},
			{
				Title:    "Implement the fix for the diagnosed cause",
				Phase:    storage.PhaseExecution,
				Priority: 8,
			},
			{
				Title:    "Verify the escalation pattern no longer recurs",
				Phase:    storage.PhaseExecution,
				Priority: 5,
			},
		},
		Intent: Intent{
			Summary: fmt.Sprintf("Stop workers from hitting %q decision points", c.TriggerType),
			Goals: []string{
				"Identify the shared root cause behind the clustered escalations",
				"Remove or automate the decision the escalations keep asking for",
			},
			SuccessCriteria: []string{
				fmt.Sprintf("No new %s escalations matching the pattern for one lookback window", c.TriggerType),
			},
		},
		Approach: Approach{
			Summary: "Diagnose first, then fix, then watch the escalation stream",
			Steps: []string{
				"Review the clustered escalations and their evidence",
				"Reproduce the condition that raises them",
				"Apply the fix and monitor subsequent runs",
			},
			Risks: []string{
				"Cluster may conflate two distinct causes with similar wording",
			},
		},
	}
}

// materialize creates a draft outcome carrying the proposal's tasks, with
// priorities carried through directly.
func (a *Analyzer) materialize(p *Proposal) (string, error) {
	outcome := &storage.Outcome{
		ID:              ulid.Make().String(),
		Name:            p.OutcomeName,
		Status:          storage.OutcomeDraft,
		AutoResolveMode: "manual",
	}
	if err := a.outcomes.Create(outcome); err != nil {
		return "", err
	}
	for _, pt := range p.Tasks {
		task := &storage.Task{
			ID:          ulid.Make().String(),
			OutcomeID:   outcome.ID,
			Title:       pt.Title,
			Description: pt.Description,
			Phase:       pt.Phase,
			Status:      storage.TaskPending,
			Priority:    pt.Priority,
		}
		if err := a.tasks.Create(task); err != nil {
			return "", err
		}
	}
	a.logger.Info(logging.CategoryImprove, "outcome_created", p.OutcomeName, map[string]any{
		"outcome_id": outcome.ID,
		"tasks":      len(p.Tasks),
	})
	return outcome.ID, nil
}
