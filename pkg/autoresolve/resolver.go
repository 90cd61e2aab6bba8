package autoresolve

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/odvcencio/steward/pkg/errors"
	"github.com/odvcencio/steward/pkg/escalation"
	"github.com/odvcencio/steward/pkg/logging"
	"github.com/odvcencio/steward/pkg/storage"
	"github.com/odvcencio/steward/pkg/telemetry"
)

// Config gates automatic resolution.
type Config struct {
	Mode Mode
	// ConfidenceThreshold is the minimum top-option confidence, in [0, 1].
	ConfidenceThreshold float64
}

// Validate checks the threshold range.
func (c Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.Newf(errors.ErrCodeValidation, "confidence threshold %.2f out of range [0, 1]", c.ConfidenceThreshold)
	}
	return nil
}

// ConfigForOutcome builds a resolver config from the policy stored on an
// outcome record.
func ConfigForOutcome(o *storage.Outcome) (Config, error) {
	mode, err := ParseMode(o.AutoResolveMode)
	if err != nil {
		return Config{}, errors.Wrap(err, errors.ErrCodeValidation, "outcome auto-resolve policy")
	}
	cfg := Config{Mode: mode, ConfidenceThreshold: o.AutoResolveThreshold}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Score is one option's scored confidence.
type Score struct {
	Option     string  `json:"option"`
	Confidence float64 `json:"confidence"`
}

// ConfidenceScorer scores an escalation's options. Implementations are
// external reasoning capabilities: pluggable, fallible, and not assumed
// deterministic. For free-text questions the scorer proposes the answer
// text as the option.
type ConfidenceScorer interface {
	ScoreOptions(ctx context.Context, esc *storage.Escalation) ([]Score, error)
}

// Result is the outcome of one resolution attempt.
type Result string

const (
	// ResultResolved means the escalation was answered by machine.
	ResultResolved Result = "resolved"
	// ResultSkipped means manual mode never acts.
	ResultSkipped Result = "skipped"
	// ResultBelowThreshold means the top confidence did not clear the bar.
	ResultBelowThreshold Result = "below_threshold"
	// ResultHighRisk means semi-auto mode refused a non-low-risk trigger.
	ResultHighRisk Result = "high_risk"
	// ResultFailed means the scorer call failed; the escalation stays
	// pending for a human.
	ResultFailed Result = "failed"
)

// Stats summarizes a batch resolution pass.
type Stats struct {
	Resolved int `json:"resolved"`
	Total    int `json:"total"`
}

// Resolver answers pending escalations through a confidence scorer.
type Resolver struct {
	engine  *escalation.Engine
	scorer  ConfidenceScorer
	limiter *rate.Limiter
	logger  *logging.Logger
}

// NewResolver creates a resolver. Scorer calls are rate limited to
// scorerLimit calls per second with the given burst; a zero limit disables
// limiting.
func NewResolver(engine *escalation.Engine, scorer ConfidenceScorer, scorerLimit float64, burst int, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	limit := rate.Inf
	if scorerLimit > 0 {
		limit = rate.Limit(scorerLimit)
	}
	if burst < 1 {
		burst = 1
	}
	return &Resolver{
		engine:  engine,
		scorer:  scorer,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Resolve attempts to answer one pending escalation. Manual mode always
// skips. Otherwise the scorer picks the highest-confidence option; semi-auto
// additionally requires a low-risk trigger. Below-threshold escalations are
// left pending, never guessed at. Scorer failures leave the escalation
// pending and report ResultFailed alongside the error.
func (r *Resolver) Resolve(ctx context.Context, esc *storage.Escalation, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return ResultFailed, err
	}
	if cfg.Mode == ModeManual {
		return ResultSkipped, nil
	}

	best, err := r.score(ctx, esc)
	if err != nil {
		return ResultFailed, err
	}

	if best.Confidence < cfg.ConfidenceThreshold {
		r.logger.Debug(logging.CategoryAutoResolve, "below_threshold", best.Option, map[string]any{
			"escalation_id": esc.ID,
			"confidence":    best.Confidence,
			"threshold":     cfg.ConfidenceThreshold,
		})
		return ResultBelowThreshold, nil
	}
	if cfg.Mode == ModeSemiAuto {
		if risk := escalation.RiskFor(esc.Trigger.Type); risk != escalation.RiskLow {
			r.logger.Info(logging.CategoryAutoResolve, "risk_refusal", string(esc.Trigger.Type), map[string]any{
				"escalation_id": esc.ID,
				"risk":          risk.String(),
			})
			return ResultHighRisk, nil
		}
	}

	_, err = r.engine.AnswerWith(ctx, esc.ID, &storage.Answer{
		Option:     best.Option,
		Machine:    true,
		Confidence: best.Confidence,
	})
	if err != nil {
		return ResultFailed, err
	}
	telemetry.RecordAutoResolved()
	r.logger.Info(logging.CategoryAutoResolve, "auto_resolved", best.Option, map[string]any{
		"escalation_id": esc.ID,
		"confidence":    best.Confidence,
		"mode":          cfg.Mode.String(),
	})
	return ResultResolved, nil
}

// ResolveAllPending processes the outcome's pending escalations oldest
// first, preserving causal ordering of decisions. One escalation's failure
// never aborts the rest; only context cancellation stops the pass early.
func (r *Resolver) ResolveAllPending(ctx context.Context, outcomeID string, cfg Config) (Stats, error) {
	if err := cfg.Validate(); err != nil {
		return Stats{}, err
	}

	pending, err := r.engine.ListPending(ctx, outcomeID)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Total: len(pending)}
	for _, esc := range pending {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		result, err := r.Resolve(ctx, esc, cfg)
		if err != nil {
			r.logger.Warn(logging.CategoryAutoResolve, "resolve_failed", err.Error(), map[string]any{
				"escalation_id": esc.ID,
				"result":        string(result),
			})
			continue
		}
		if result == ResultResolved {
			stats.Resolved++
		}
	}
	return stats, nil
}

// score rate-limits the scorer call and selects the argmax option.
func (r *Resolver) score(ctx context.Context, esc *storage.Escalation) (Score, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Score{}, errors.Wrap(err, errors.ErrCodeExternalCapability, "scorer rate limit")
	}
	scores, err := r.scorer.ScoreOptions(ctx, esc)
	if err != nil {
		return Score{}, errors.Wrap(err, errors.ErrCodeExternalCapability, "score options").
			WithContext("escalation_id", esc.ID)
	}
	if len(scores) == 0 {
		return Score{}, errors.New(errors.ErrCodeExternalCapability, "scorer returned no options").
			WithContext("escalation_id", esc.ID)
	}

	best := scores[0]
	for _, s := range scores[1:] {
		if s.Confidence > best.Confidence {
			best = s
		}
	}
	return best, nil
}
