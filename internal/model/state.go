package model

import "time"

// CycleState records the last successful monitor cycle.
type CycleState struct {
	CycleID     string        `json:"cycleId"`
	CompletedAt time.Time     `json:"completedAt"`
	Aggregate   TierAggregate `json:"aggregate"`
}
