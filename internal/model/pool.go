package model

import "strconv"

// Reserve is one asset balance held by a pool. Amount stays decimal text.
type Reserve struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// PoolSnapshot is one cycle's raw view of a liquidity pool.
type PoolSnapshot struct {
	ID                 string    `json:"id"`
	FeeBP              int       `json:"feeBp"`
	Type               string    `json:"type"`
	Reserves           []Reserve `json:"reserves"`
	TotalAccounts      uint64    `json:"totalAccounts"`
	TotalShares        string    `json:"totalShares"`
	LastModifiedLedger int64     `json:"lastModifiedLedger"`
	LastModifiedTime   string    `json:"lastModifiedTime"`
}

// LastModified returns the source's update marker. The ledger sequence wins
// when present.
func (p PoolSnapshot) LastModified() string {
	if p.LastModifiedLedger > 0 {
		return strconv.FormatInt(p.LastModifiedLedger, 10)
	}
	return p.LastModifiedTime
}
