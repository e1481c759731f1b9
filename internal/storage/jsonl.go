package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"liquidityTiers/internal/model"
)

// JSONLArchive appends classifications to a JSONL file, one line per pool.
type JSONLArchive struct {
	path string
	mu   sync.Mutex
}

func NewJSONLArchive(path string) *JSONLArchive {
	return &JSONLArchive{path: path}
}

// Path returns the file being appended to.
func (s *JSONLArchive) Path() string {
	return s.path
}

// PutCycle appends one line per classification tagged with the cycle id.
func (s *JSONLArchive) PutCycle(ctx context.Context, cycleID string, at time.Time, classifications []model.Classification) error {
	if len(classifications) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create archive dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open archive file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, row := range HistoryRows(cycleID, at, classifications) {
		line, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshal classification %s: %w", row.PoolID, err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write classification: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush archive: %w", err)
	}
	return nil
}
