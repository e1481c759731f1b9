package model

import "time"

// Classification is the persisted tier decision for a pool.
type Classification struct {
	PoolID        string    `json:"poolId"`
	TVL           float64   `json:"tvl"`
	Tier          Tier      `json:"tier"`
	Reserves      []Reserve `json:"reserves"`
	TotalAccounts uint64    `json:"totalAccounts"`
	TotalShares   string    `json:"totalShares"`
	LastModified  string    `json:"lastModified"`
	Timestamp     time.Time `json:"timestamp"`
	PriceVersion  string    `json:"priceVersion,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Degraded reports whether valuation failed for this pool.
func (c Classification) Degraded() bool {
	return c.Error != ""
}
