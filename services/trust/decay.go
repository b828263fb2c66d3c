package trust

import (
	"fmt"
	"time"

	"github.com/modelware/agentgate/models"
)

// DecayMode selects how an assignment's effective level erodes over time.
type DecayMode string

const (
	// DecayNone disables decay; the effective level always equals the
	// assigned level.
	DecayNone DecayMode = "none"

	// DecayCliff drops the effective level to the floor (Observer) the
	// instant the assignment passes its decay reference time.
	DecayCliff DecayMode = "cliff"

	// DecayGradual lowers the effective level by one per elapsed
	// StepInterval past the decay reference time, floored at Observer.
	DecayGradual DecayMode = "gradual"
)

// DecayConfig controls effective-level decay. Decay only ever lowers the
// effective level; raising trust always requires a new assignment.
type DecayConfig struct {
	Mode DecayMode

	// StepInterval is the time per lost level under DecayGradual.
	StepInterval time.Duration

	// ReviewInterval, when positive, is the decay reference for assignments
	// without an explicit expiry: decay begins ReviewInterval after
	// assignment. Zero means such assignments never decay.
	ReviewInterval time.Duration
}

// Validate fails fast on an unusable decay configuration.
func (c DecayConfig) Validate() error {
	switch c.Mode {
	case "", DecayNone, DecayCliff:
	case DecayGradual:
		if c.StepInterval <= 0 {
			return fmt.Errorf("trust: gradual decay requires a positive step interval")
		}
	default:
		return fmt.Errorf("trust: unknown decay mode %q", c.Mode)
	}
	if c.ReviewInterval < 0 {
		return fmt.Errorf("trust: review interval must not be negative")
	}
	return nil
}

// EffectiveLevel computes the decayed level for an assignment at the given
// instant. It is a pure function of (assignment, config, now): no side
// effects, no persisted intermediate state, recomputed on every read.
func EffectiveLevel(a models.TrustAssignment, cfg DecayConfig, now time.Time) models.TrustLevel {
	ref, ok := decayReference(a, cfg)
	if !ok || now.Before(ref) {
		return a.Level
	}

	switch cfg.Mode {
	case DecayCliff:
		return models.TrustObserver
	case DecayGradual:
		steps := int(now.Sub(ref) / cfg.StepInterval)
		level := int(a.Level) - steps
		if level < int(models.TrustObserver) {
			return models.TrustObserver
		}
		return models.TrustLevel(level)
	default:
		return a.Level
	}
}

// decayReference returns the instant decay begins for an assignment:
// the explicit expiry when set, otherwise AssignedAt plus the configured
// review interval. The second return is false when the assignment never
// decays.
func decayReference(a models.TrustAssignment, cfg DecayConfig) (time.Time, bool) {
	if cfg.Mode == "" || cfg.Mode == DecayNone {
		return time.Time{}, false
	}
	if a.ExpiresAt != nil {
		return *a.ExpiresAt, true
	}
	if cfg.ReviewInterval > 0 {
		return a.AssignedAt.Add(cfg.ReviewInterval), true
	}
	return time.Time{}, false
}
