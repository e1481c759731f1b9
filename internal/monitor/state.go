package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"liquidityTiers/internal/model"
	"liquidityTiers/internal/storage/postgres"
)

// StateStore persists the last successful cycle.
type StateStore interface {
	Load(ctx context.Context) (model.CycleState, bool, error)
	Save(ctx context.Context, state model.CycleState) error
}

// FileStateStore stores state in a local JSON file.
type FileStateStore struct {
	Path string
}

type stateRecord struct {
	model.CycleState
	UpdatedAt string `json:"updatedAt"`
}

func (s *FileStateStore) Load(ctx context.Context) (model.CycleState, bool, error) {
	if s == nil || s.Path == "" {
		return model.CycleState{}, false, nil
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.CycleState{}, false, nil
		}
		return model.CycleState{}, false, fmt.Errorf("read state: %w", err)
	}

	var rec stateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.CycleState{}, false, fmt.Errorf("parse state: %w", err)
	}
	return rec.CycleState, true, nil
}

func (s *FileStateStore) Save(ctx context.Context, state model.CycleState) error {
	if s == nil || s.Path == "" {
		return nil
	}
	dir := filepath.Dir(s.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	rec := stateRecord{
		CycleState: state,
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state tmp: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

// DBStateStore stores state in the monitor_state table.
type DBStateStore struct {
	Store *postgres.Store
	Name  string
}

func (s *DBStateStore) Load(ctx context.Context) (model.CycleState, bool, error) {
	if s == nil || s.Store == nil {
		return model.CycleState{}, false, nil
	}
	return s.Store.LoadState(ctx, s.Name)
}

func (s *DBStateStore) Save(ctx context.Context, state model.CycleState) error {
	if s == nil || s.Store == nil {
		return nil
	}
	return s.Store.SaveState(ctx, s.Name, state)
}
