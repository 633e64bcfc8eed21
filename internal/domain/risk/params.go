package risk

import (
	"errors"
	"fmt"
)

// Params are the calibration inputs of the scorer. The defaults are
// hand-tuned starting points, not validated constants.
type Params struct {
	// Location
	LocationBoth          int `koanf:"location_both"`
	LocationPhysical      int `koanf:"location_physical"`
	LocationNetwork       int `koanf:"location_network"`
	RepeatedFlagThreshold int `koanf:"repeated_flag_threshold"` // bonus when event count exceeds this
	RepeatedFlagBonus     int `koanf:"repeated_flag_bonus"`

	// Behavior
	ReachThreshold         float64 `koanf:"reach_threshold"` // negative: picked earlier than expected
	FallThreshold          float64 `koanf:"fall_threshold"`  // positive: picked later than expected
	AsymmetricBonus        int     `koanf:"asymmetric_bonus"`
	MutualExtremeThreshold float64 `koanf:"mutual_extreme_threshold"`
	MutualExtremeBonus     int     `koanf:"mutual_extreme_bonus"`
	EgregiousThreshold     float64 `koanf:"egregious_threshold"`
	EgregiousMinPicks      int     `koanf:"egregious_min_picks"`
	EgregiousBonus         int     `koanf:"egregious_bonus"`

	// Benefit
	BenefitWindow             int     `koanf:"benefit_window"` // max pick gap between reach and follow-up
	BenefitValueThreshold     float64 `koanf:"benefit_value_threshold"`
	BenefitTotalThreshold     float64 `koanf:"benefit_total_threshold"`
	BenefitTotalBonus         int     `koanf:"benefit_total_bonus"`
	BenefitImbalanceThreshold float64 `koanf:"benefit_imbalance_threshold"`
	BenefitImbalanceBonus     int     `koanf:"benefit_imbalance_bonus"`
	BenefitHeavyThreshold     float64 `koanf:"benefit_heavy_threshold"`
	BenefitHeavyBonus         int     `koanf:"benefit_heavy_bonus"`

	// Composite
	WeightLocation float64 `koanf:"weight_location"`
	WeightBehavior float64 `koanf:"weight_behavior"`
	WeightBenefit  float64 `koanf:"weight_benefit"`

	// Recommendation cut-offs on the composite score.
	UrgentScore  int `koanf:"urgent_score"`
	ReviewScore  int `koanf:"review_score"`
	MonitorScore int `koanf:"monitor_score"`

	// UnflaggedInclusionScore admits unflagged pairs whose behavior or
	// benefit score reaches it.
	UnflaggedInclusionScore int `koanf:"unflagged_inclusion_score"`

	// DefaultExpectedRank substitutes for items missing from the consensus table.
	DefaultExpectedRank float64 `koanf:"default_expected_rank"`
}

// DefaultParams returns the stock calibration.
func DefaultParams() Params {
	return Params{
		LocationBoth:          80,
		LocationPhysical:      60,
		LocationNetwork:       40,
		RepeatedFlagThreshold: 5,
		RepeatedFlagBonus:     15,

		ReachThreshold:         -15,
		FallThreshold:          10,
		AsymmetricBonus:        40,
		MutualExtremeThreshold: 20,
		MutualExtremeBonus:     20,
		EgregiousThreshold:     -30,
		EgregiousMinPicks:      2,
		EgregiousBonus:         25,

		BenefitWindow:             24,
		BenefitValueThreshold:     10,
		BenefitTotalThreshold:     50,
		BenefitTotalBonus:         30,
		BenefitImbalanceThreshold: 30,
		BenefitImbalanceBonus:     25,
		BenefitHeavyThreshold:     100,
		BenefitHeavyBonus:         20,

		WeightLocation: 0.35,
		WeightBehavior: 0.30,
		WeightBenefit:  0.35,

		UrgentScore:  90,
		ReviewScore:  70,
		MonitorScore: 50,

		UnflaggedInclusionScore: 30,
		DefaultExpectedRank:     200,
	}
}

// ErrInvalidParams is returned by Validate.
var ErrInvalidParams = errors.New("invalid scoring parameters")

// Validate checks internal consistency of p.
func (p Params) Validate() error {
	switch {
	case p.ReachThreshold >= 0:
		return fmt.Errorf("reach_threshold must be negative: %w", ErrInvalidParams)
	case p.EgregiousThreshold > p.ReachThreshold:
		return fmt.Errorf("egregious_threshold must not exceed reach_threshold: %w", ErrInvalidParams)
	case p.FallThreshold <= 0, p.BenefitValueThreshold < 0:
		return fmt.Errorf("fall and benefit value thresholds must be positive: %w", ErrInvalidParams)
	case p.BenefitWindow < 1:
		return fmt.Errorf("benefit_window must be at least 1: %w", ErrInvalidParams)
	case p.WeightLocation < 0 || p.WeightBehavior < 0 || p.WeightBenefit < 0:
		return fmt.Errorf("weights must not be negative: %w", ErrInvalidParams)
	case !(p.MonitorScore <= p.ReviewScore && p.ReviewScore <= p.UrgentScore):
		return fmt.Errorf("recommendation cut-offs must be ordered: %w", ErrInvalidParams)
	case p.DefaultExpectedRank <= 0:
		return fmt.Errorf("default_expected_rank must be positive: %w", ErrInvalidParams)
	}
	return nil
}
