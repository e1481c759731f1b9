package storage

import (
	"context"
	"errors"
	"time"

	"liquidityTiers/internal/model"
)

// Archive is a sink for a cycle's classifications, kept beyond the cache TTL.
type Archive interface {
	PutCycle(ctx context.Context, cycleID string, at time.Time, classifications []model.Classification) error
}

// HistoryRow is one archived classification.
type HistoryRow struct {
	CycleID  string    `json:"cycleId"`
	CycledAt time.Time `json:"cycledAt"`
	model.Classification
}

// HistoryRows tags every classification with the cycle it came from.
func HistoryRows(cycleID string, at time.Time, classifications []model.Classification) []HistoryRow {
	rows := make([]HistoryRow, 0, len(classifications))
	for _, c := range classifications {
		rows = append(rows, HistoryRow{CycleID: cycleID, CycledAt: at.UTC(), Classification: c})
	}
	return rows
}

// MultiArchive fans a cycle out to every archive and joins their errors.
type MultiArchive []Archive

func (m MultiArchive) PutCycle(ctx context.Context, cycleID string, at time.Time, classifications []model.Classification) error {
	var errs []error
	for _, archive := range m {
		if err := archive.PutCycle(ctx, cycleID, at, classifications); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
