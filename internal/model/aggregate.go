package model

import "time"

// TierAggregate counts pools per tier for a single cycle.
type TierAggregate struct {
	Tier1      int       `json:"TIER_1"`
	Tier2      int       `json:"TIER_2"`
	Tier3      int       `json:"TIER_3"`
	Total      int       `json:"total"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// NewTierAggregate recomputes counts from a full classification set.
func NewTierAggregate(classifications []Classification, at time.Time) TierAggregate {
	agg := TierAggregate{LastUpdate: at}
	for _, c := range classifications {
		switch c.Tier {
		case Tier1:
			agg.Tier1++
		case Tier2:
			agg.Tier2++
		default:
			agg.Tier3++
		}
		agg.Total++
	}
	return agg
}

// Count returns the number of pools in tier.
func (a TierAggregate) Count(tier Tier) int {
	switch tier {
	case Tier1:
		return a.Tier1
	case Tier2:
		return a.Tier2
	case Tier3:
		return a.Tier3
	default:
		return 0
	}
}

// IsZero reports whether nothing has been aggregated yet.
func (a TierAggregate) IsZero() bool {
	return a.Total == 0 && a.LastUpdate.IsZero()
}
