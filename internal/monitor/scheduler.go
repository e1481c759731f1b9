package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"liquidityTiers/internal/model"
	"liquidityTiers/internal/storage"
)

// DefaultInterval is the time between cycle starts.
const DefaultInterval = 5 * time.Minute

// ErrCycleInFlight is returned by RunCycle while another cycle is running.
var ErrCycleInFlight = errors.New("cycle already in flight")

// ErrCyclePanicked marks a cycle that was aborted by a recovered panic.
var ErrCyclePanicked = errors.New("cycle panicked")

// Source lists the current pool snapshots.
type Source interface {
	FetchPools(ctx context.Context) ([]model.PoolSnapshot, error)
}

// Classifier turns snapshots into classifications.
type Classifier interface {
	ClassifyAll(snapshots []model.PoolSnapshot, at time.Time) ([]model.Classification, int)
}

// Writer replaces the stored view with a cycle's results.
type Writer interface {
	WriteCycle(ctx context.Context, classifications []model.Classification) (model.TierAggregate, error)
}

// Config holds scheduler settings and optional sinks.
type Config struct {
	Interval     time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	Archive storage.Archive
	State   StateStore
	Metrics *Metrics
	Now     func() time.Time
}

// CycleResult summarizes one completed cycle.
type CycleResult struct {
	CycleID   string
	StartedAt time.Time
	Duration  time.Duration
	Aggregate model.TierAggregate
	Degraded  int
}

// Status describes the most recent cycle.
type Status struct {
	CycleID       string    `json:"cycleId,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	CompletedAt   time.Time `json:"completedAt"`
	DurationMS    int64     `json:"durationMs"`
	Pools         int       `json:"pools"`
	Degraded      int       `json:"degraded"`
	Error         string    `json:"error,omitempty"`
	LastSuccessID string    `json:"lastSuccessId,omitempty"`
	InFlight      bool      `json:"inFlight"`
	SkippedTicks  uint64    `json:"skippedTicks"`
}

// Scheduler runs fetch, classify and write cycles on a fixed interval.
type Scheduler struct {
	cfg        Config
	source     Source
	classifier Classifier
	writer     Writer
	logger     *zap.Logger

	running atomic.Bool
	skipped atomic.Uint64
	wg      sync.WaitGroup

	mu     sync.RWMutex
	status Status

	warm     chan struct{}
	warmOnce sync.Once
}

func NewScheduler(cfg Config, source Source, classifier Classifier, writer Writer, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:        cfg,
		source:     source,
		classifier: classifier,
		writer:     writer,
		logger:     logger,
		warm:       make(chan struct{}),
	}
}

// Run starts a cycle immediately and then once per interval until ctx is
// cancelled. Ticks that arrive while a cycle is running are dropped. Cycle
// failures are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.source == nil || s.classifier == nil || s.writer == nil {
		return fmt.Errorf("scheduler requires source, classifier and writer")
	}
	s.loadState(ctx)

	s.logger.Info("monitor start", zap.Duration("interval", s.cfg.Interval))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	defer s.wg.Wait()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("monitor stop")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		n := s.skipped.Add(1)
		s.cfg.Metrics.skipTick()
		s.logger.Warn("cycle still running, tick skipped", zap.Uint64("skipped_ticks", n))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		_, _ = s.runCycle(ctx)
	}()
}

// RunCycle runs one cycle synchronously.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return CycleResult{}, ErrCycleInFlight
	}
	defer s.running.Store(false)
	return s.runCycle(ctx)
}

func (s *Scheduler) runCycle(ctx context.Context) (CycleResult, error) {
	result := CycleResult{
		CycleID:   uuid.NewString(),
		StartedAt: s.cfg.Now(),
	}
	logger := s.logger.With(zap.String("cycle_id", result.CycleID))
	s.setStatus(func(st *Status) {
		st.CycleID = result.CycleID
		st.StartedAt = result.StartedAt
	})

	logger.Info("cycle start")
	start := time.Now()
	err := s.guardedCycle(ctx, logger, &result)
	result.Duration = time.Since(start)
	defer s.warmOnce.Do(func() { close(s.warm) })
	s.cfg.Metrics.observeCycle(result.Duration, err)

	s.setStatus(func(st *Status) {
		st.CompletedAt = s.cfg.Now()
		st.DurationMS = result.Duration.Milliseconds()
		st.Pools = result.Aggregate.Total
		st.Degraded = result.Degraded
		st.Error = ""
		if err != nil {
			st.Error = err.Error()
			return
		}
		st.LastSuccessID = result.CycleID
	})

	if err != nil {
		logger.Error("cycle failed", zap.Error(err), zap.Duration("took", result.Duration))
		return result, err
	}

	logger.Info("cycle complete",
		zap.Int("pools", result.Aggregate.Total),
		zap.Int("tier1", result.Aggregate.Tier1),
		zap.Int("tier2", result.Aggregate.Tier2),
		zap.Int("tier3", result.Aggregate.Tier3),
		zap.Int("degraded", result.Degraded),
		zap.Duration("took", result.Duration),
	)
	return result, nil
}

// guardedCycle turns a panic inside a cycle into a failed cycle.
func (s *Scheduler) guardedCycle(ctx context.Context, logger *zap.Logger, result *CycleResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("%w: %v", ErrCyclePanicked, r)
		}
	}()
	return s.cycle(ctx, logger, result)
}

func (s *Scheduler) cycle(ctx context.Context, logger *zap.Logger, result *CycleResult) error {
	snapshots, err := s.fetchWithRetry(ctx, logger)
	if err != nil {
		return fmt.Errorf("fetch pools: %w", err)
	}
	logger.Debug("pools fetched", zap.Int("pools", len(snapshots)))

	classifications, degraded := s.classifier.ClassifyAll(snapshots, result.StartedAt)
	result.Degraded = degraded
	if degraded > 0 {
		for _, c := range classifications {
			if c.Degraded() {
				logger.Warn("classification degraded", zap.String("pool", c.PoolID), zap.String("error", c.Error))
			}
		}
	}

	agg, err := s.writer.WriteCycle(ctx, classifications)
	if err != nil {
		return fmt.Errorf("write cycle: %w", err)
	}
	result.Aggregate = agg
	s.cfg.Metrics.observeAggregate(agg, degraded)

	if s.cfg.Archive != nil {
		if err := s.cfg.Archive.PutCycle(ctx, result.CycleID, result.StartedAt, classifications); err != nil {
			logger.Warn("archive cycle failed", zap.Error(err))
		}
	}
	if s.cfg.State != nil {
		state := model.CycleState{CycleID: result.CycleID, CompletedAt: s.cfg.Now(), Aggregate: agg}
		if err := s.cfg.State.Save(ctx, state); err != nil {
			logger.Warn("save state failed", zap.Error(err))
		}
	}
	return nil
}

func (s *Scheduler) fetchWithRetry(ctx context.Context, logger *zap.Logger) ([]model.PoolSnapshot, error) {
	policy := retryPolicy{
		maxRetries: s.cfg.MaxRetries,
		backoff:    s.cfg.RetryBackoff,
		onRetry: func(attempt int, wait time.Duration, err error) {
			logger.Warn("fetch pools failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", s.cfg.MaxRetries),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		},
	}

	var snapshots []model.PoolSnapshot
	err := policy.do(ctx, func(ctx context.Context) error {
		var err error
		snapshots, err = s.source.FetchPools(ctx)
		return err
	})
	return snapshots, err
}

func (s *Scheduler) loadState(ctx context.Context) {
	if s.cfg.State == nil {
		return
	}
	state, ok, err := s.cfg.State.Load(ctx)
	if err != nil {
		s.logger.Warn("load state failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	s.setStatus(func(st *Status) { st.LastSuccessID = state.CycleID })
	s.logger.Info("previous cycle",
		zap.String("cycle_id", state.CycleID),
		zap.Time("completed_at", state.CompletedAt),
		zap.Int("pools", state.Aggregate.Total),
	)
}

// WaitWarm blocks until the first cycle has finished, successfully or not,
// or until timeout or ctx expires. It reports whether the first cycle
// finished.
func (s *Scheduler) WaitWarm(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.warm:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Status returns a snapshot of the most recent cycle.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()
	st.InFlight = s.running.Load()
	st.SkippedTicks = s.skipped.Load()
	return st
}

func (s *Scheduler) setStatus(update func(*Status)) {
	s.mu.Lock()
	update(&s.status)
	s.mu.Unlock()
}
