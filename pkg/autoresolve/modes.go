// Package autoresolve answers pending escalations automatically when a
// confidence scorer is certain enough and the resolution mode permits it.
//
// Modes determine how much latitude the machine has:
//   - Manual: never acts; every escalation waits for a human
//   - SemiAuto: acts only on low-risk triggers above the confidence threshold
//   - FullAuto: acts on any trigger above the confidence threshold
package autoresolve

import (
	"fmt"
	"strings"
)

// Mode represents an auto-resolution level.
type Mode int

const (
	// ModeManual never resolves escalations automatically. This is the
	// safest mode and the default.
	ModeManual Mode = iota

	// ModeSemiAuto resolves escalations whose trigger is classified
	// low-risk and whose top option scores at or above the threshold.
	ModeSemiAuto

	// ModeFullAuto resolves any escalation whose top option scores at or
	// above the threshold, irrespective of risk tier.
	ModeFullAuto
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "manual"
	case ModeSemiAuto:
		return "semi-auto"
	case ModeFullAuto:
		return "full-auto"
	default:
		return "unknown"
	}
}

// ParseMode converts a string to a resolution mode. The set is closed:
// unrecognized names are an error, never a silent default.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manual", "off":
		return ModeManual, nil
	case "semi-auto", "semiauto", "semi":
		return ModeSemiAuto, nil
	case "full-auto", "fullauto", "full":
		return ModeFullAuto, nil
	default:
		return ModeManual, fmt.Errorf("unknown auto-resolve mode: %s (valid: manual, semi-auto, full-auto)", s)
	}
}
