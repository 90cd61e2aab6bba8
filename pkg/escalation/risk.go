package escalation

import "github.com/odvcencio/steward/pkg/storage"

// Risk classifies how dangerous it is to act on an escalation without a
// human in the loop.
type Risk int

const (
	// RiskLow covers triggers where a wrong machine answer is cheap to
	// correct later.
	RiskLow Risk = iota
	// RiskMedium covers triggers with moderate blast radius.
	RiskMedium
	// RiskHigh covers triggers where a wrong answer spends money, violates
	// policy, or acts on something we do not understand.
	RiskHigh
)

// String returns the tier name.
func (r Risk) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Blocking reports whether an open escalation at this tier prevents an
// outcome from converging.
func (r Risk) Blocking() bool {
	return r == RiskHigh
}

// RiskFor maps a trigger type onto a risk tier. Unknown triggers are high
// risk on purpose: if we cannot classify why an escalation was raised, a
// machine should not answer it.
func RiskFor(t storage.TriggerType) Risk {
	switch t {
	case storage.TriggerMissingCapability, storage.TriggerAmbiguousRequirement:
		return RiskLow
	case storage.TriggerRepeatedFailure, storage.TriggerExternalDependency:
		return RiskMedium
	case storage.TriggerBudget, storage.TriggerPolicy, storage.TriggerUnknown:
		return RiskHigh
	}
	return RiskHigh
}
