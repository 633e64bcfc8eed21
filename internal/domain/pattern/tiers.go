package pattern

import (
	"fmt"

	"github.com/okian/draftwatch/internal/domain/model"
)

// Tier is the set of minimums a pair history must meet to reach a level.
type Tier struct {
	MinSessions      int     `koanf:"min_sessions"`
	MinColocated     int     `koanf:"min_colocated"`
	MinRate          float64 `koanf:"min_rate"`
	MinColocatedMean float64 `koanf:"min_colocated_mean"`
}

func (t Tier) admits(h *model.PairHistory) bool {
	return h.TotalSessionsTogether >= t.MinSessions &&
		h.SessionsWithPhysicalProximity >= t.MinColocated &&
		h.CoLocationRate >= t.MinRate &&
		h.MeanRiskWhenColocated >= t.MinColocatedMean
}

// Tiers are checked from critical down; a pair meeting none is low.
type Tiers struct {
	Critical Tier `koanf:"critical"`
	High     Tier `koanf:"high"`
	Medium   Tier `koanf:"medium"`
}

// DefaultTiers returns the stock classification thresholds.
func DefaultTiers() Tiers {
	return Tiers{
		Critical: Tier{MinSessions: 5, MinColocated: 5, MinRate: 0.8},
		High:     Tier{MinSessions: 3, MinRate: 0.5, MinColocatedMean: 60},
		Medium:   Tier{MinSessions: 2, MinRate: 0.3, MinColocatedMean: 40},
	}
}

// Validate checks that every tier asks for at least one session and that
// rates are fractions.
func (t Tiers) Validate() error {
	for name, tier := range map[string]Tier{"critical": t.Critical, "high": t.High, "medium": t.Medium} {
		if tier.MinSessions < 1 {
			return fmt.Errorf("tier %s: min_sessions must be at least 1: %w", name, ErrInvalidTiers)
		}
		if tier.MinRate < 0 || tier.MinRate > 1 {
			return fmt.Errorf("tier %s: min_rate must be within [0,1]: %w", name, ErrInvalidTiers)
		}
	}
	return nil
}

// Classify returns the highest level whose tier h satisfies.
func (t Tiers) Classify(h *model.PairHistory) model.RiskLevel {
	switch {
	case t.Critical.admits(h):
		return model.RiskCritical
	case t.High.admits(h):
		return model.RiskHigh
	case t.Medium.admits(h):
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}
