package model

import (
	"errors"
	"fmt"
	"strings"
)

// Tier is a liquidity class. TIER_1 holds the deepest pools.
type Tier string

const (
	Tier1 Tier = "TIER_1"
	Tier2 Tier = "TIER_2"
	Tier3 Tier = "TIER_3"
)

// Tiers lists every tier in descending liquidity order.
var Tiers = []Tier{Tier1, Tier2, Tier3}

// ErrInvalidTier is returned for tier names outside the fixed enum.
var ErrInvalidTier = errors.New("invalid tier")

// ParseTier validates a tier name. Matching is exact.
func ParseTier(input string) (Tier, error) {
	switch Tier(input) {
	case Tier1, Tier2, Tier3:
		return Tier(input), nil
	default:
		return "", fmt.Errorf("%w: %q (want one of %s)", ErrInvalidTier, input, tierNames())
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	_, err := ParseTier(string(t))
	return err == nil
}

// Rank returns 1 for TIER_1, 2 for TIER_2, 3 for TIER_3 and 0 otherwise.
func (t Tier) Rank() int {
	for i, tier := range Tiers {
		if tier == t {
			return i + 1
		}
	}
	return 0
}

func (t Tier) String() string {
	return string(t)
}

func tierNames() string {
	names := make([]string, 0, len(Tiers))
	for _, tier := range Tiers {
		names = append(names, string(tier))
	}
	return strings.Join(names, ",")
}
