package tier

import (
	"fmt"

	"liquidityTiers/internal/model"
)

const (
	DefaultTier1Threshold = 1_000_000
	DefaultTier2Threshold = 250_000
)

// Thresholds are the minimum TVL for TIER_1 and TIER_2.
type Thresholds struct {
	Tier1 float64
	Tier2 float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Tier1: DefaultTier1Threshold, Tier2: DefaultTier2Threshold}
}

// Validate requires 0 < Tier2 <= Tier1.
func (t Thresholds) Validate() error {
	if t.Tier2 <= 0 {
		return fmt.Errorf("tier2 threshold must be positive, got %v", t.Tier2)
	}
	if t.Tier1 < t.Tier2 {
		return fmt.Errorf("tier1 threshold %v is below tier2 threshold %v", t.Tier1, t.Tier2)
	}
	return nil
}

// TierFor assigns a tier. TIER_1 is checked first so tvl == Tier1 is TIER_1.
func (t Thresholds) TierFor(tvl float64) model.Tier {
	if tvl >= t.Tier1 {
		return model.Tier1
	}
	if tvl >= t.Tier2 {
		return model.Tier2
	}
	return model.Tier3
}
