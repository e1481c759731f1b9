package cache

import "liquidityTiers/internal/model"

const DefaultPrefix = "tiers:"

// keys builds the Redis key layout:
//
//	{prefix}pool:{poolId}  hash, one classification
//	{prefix}tier:{tier}    set of pool ids
//	{prefix}stats          hash, the tier aggregate
type keys struct {
	prefix string
}

func (k keys) pool(poolID string) string {
	return k.prefix + "pool:" + poolID
}

func (k keys) tier(tier model.Tier) string {
	return k.prefix + "tier:" + string(tier)
}

func (k keys) stats() string {
	return k.prefix + "stats"
}
