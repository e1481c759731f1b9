package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"liquidityTiers/internal/model"
	"liquidityTiers/internal/tier"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	fail  func(call int) error
	block chan struct{}
	pools []model.PoolSnapshot
}

func (f *fakeSource) FetchPools(ctx context.Context) ([]model.PoolSnapshot, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		if err := f.fail(call); err != nil {
			return nil, err
		}
	}
	return f.pools, nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeWriter struct {
	mu     sync.Mutex
	cycles [][]model.Classification
	err    error
}

func (f *fakeWriter) WriteCycle(ctx context.Context, cs []model.Classification) (model.TierAggregate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.TierAggregate{}, f.err
	}
	f.cycles = append(f.cycles, cs)
	return model.NewTierAggregate(cs, time.Now()), nil
}

func (f *fakeWriter) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cycles)
}

type fakeArchive struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakeArchive) PutCycle(ctx context.Context, cycleID string, at time.Time, cs []model.Classification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, cycleID)
	return f.err
}

func samplePools() []model.PoolSnapshot {
	return []model.PoolSnapshot{
		{ID: "P1", Reserves: []model.Reserve{{Asset: "USDC:GA5Z", Amount: "600000"}, {Asset: "native", Amount: "5000000"}}},
		{ID: "P2", Reserves: []model.Reserve{{Asset: "native", Amount: "2500000"}}},
		{ID: "P3", Reserves: []model.Reserve{{Asset: "native", Amount: "100"}}},
	}
}

func newClassifier() *tier.Classifier {
	return tier.NewClassifier(tier.DefaultPriceTable(), tier.DefaultThresholds())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func runInBackground(t *testing.T, s *Scheduler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("run returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("run did not stop")
		}
	})
	return cancel
}

func TestRunCycleClassifiesAndWrites(t *testing.T) {
	src := &fakeSource{pools: samplePools()}
	writer := &fakeWriter{}
	archive := &fakeArchive{}
	state := &FileStateStore{Path: filepath.Join(t.TempDir(), "state.json")}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	s := NewScheduler(Config{Archive: archive, State: state, Metrics: metrics}, src, newClassifier(), writer, nil)
	res, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	if res.CycleID == "" {
		t.Fatalf("expected cycle id")
	}
	want := model.TierAggregate{Tier1: 1, Tier2: 1, Tier3: 1, Total: 3}
	if res.Aggregate.Tier1 != want.Tier1 || res.Aggregate.Tier2 != want.Tier2 || res.Aggregate.Tier3 != want.Tier3 || res.Aggregate.Total != want.Total {
		t.Fatalf("unexpected aggregate: %+v", res.Aggregate)
	}

	if len(archive.ids) != 1 || archive.ids[0] != res.CycleID {
		t.Fatalf("archive ids = %v, want [%s]", archive.ids, res.CycleID)
	}
	saved, ok, err := state.Load(context.Background())
	if err != nil || !ok || saved.CycleID != res.CycleID {
		t.Fatalf("state = %+v ok=%v err=%v", saved, ok, err)
	}

	if got := testutil.ToFloat64(metrics.cyclesTotal.WithLabelValues(resultSuccess)); got != 1 {
		t.Fatalf("success cycles = %v", got)
	}
	if got := testutil.ToFloat64(metrics.poolsByTier.WithLabelValues(string(model.Tier1))); got != 1 {
		t.Fatalf("tier1 gauge = %v", got)
	}

	st := s.Status()
	if st.CycleID != res.CycleID || st.LastSuccessID != res.CycleID || st.Error != "" || st.Pools != 3 || st.InFlight {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestRunCycleRetriesFetch(t *testing.T) {
	src := &fakeSource{
		pools: samplePools(),
		fail: func(call int) error {
			if call == 1 {
				return errors.New("timeout")
			}
			return nil
		},
	}
	writer := &fakeWriter{}
	s := NewScheduler(Config{MaxRetries: 2, RetryBackoff: time.Millisecond}, src, newClassifier(), writer, nil)

	if _, err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if src.Calls() != 2 {
		t.Fatalf("expected 2 fetch attempts, got %d", src.Calls())
	}
}

func TestRunCycleFailureLeavesStoreUntouched(t *testing.T) {
	src := &fakeSource{fail: func(int) error { return errors.New("source unavailable") }}
	writer := &fakeWriter{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	s := NewScheduler(Config{RetryBackoff: time.Millisecond, Metrics: metrics}, src, newClassifier(), writer, nil)

	if _, err := s.RunCycle(context.Background()); err == nil {
		t.Fatalf("expected fetch failure")
	}
	if writer.Writes() != 0 {
		t.Fatalf("writer called after failed fetch")
	}
	if got := testutil.ToFloat64(metrics.cyclesTotal.WithLabelValues(resultFailure)); got != 1 {
		t.Fatalf("failure cycles = %v", got)
	}
	if st := s.Status(); st.Error == "" {
		t.Fatalf("expected error in status")
	}
}

func TestRunCycleSinkFailuresAreWarnings(t *testing.T) {
	src := &fakeSource{pools: samplePools()}
	archive := &fakeArchive{err: errors.New("disk full")}
	s := NewScheduler(Config{Archive: archive}, src, newClassifier(), &fakeWriter{}, nil)

	if _, err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("archive failure must not fail the cycle: %v", err)
	}
}

func TestRunStartsImmediately(t *testing.T) {
	src := &fakeSource{pools: samplePools()}
	writer := &fakeWriter{}
	s := NewScheduler(Config{Interval: time.Hour}, src, newClassifier(), writer, nil)

	runInBackground(t, s)
	waitFor(t, "first write", func() bool { return writer.Writes() == 1 })
}

func TestRunSurvivesFailedCycles(t *testing.T) {
	src := &fakeSource{
		pools: samplePools(),
		fail: func(call int) error {
			if call <= 2 {
				return errors.New("source unavailable")
			}
			return nil
		},
	}
	writer := &fakeWriter{}
	s := NewScheduler(Config{Interval: 10 * time.Millisecond, RetryBackoff: time.Millisecond}, src, newClassifier(), writer, nil)

	runInBackground(t, s)
	waitFor(t, "write after failures", func() bool { return writer.Writes() >= 1 })
	if src.Calls() < 3 {
		t.Fatalf("expected at least 3 fetches, got %d", src.Calls())
	}
}

func TestRunSkipsOverlappingTicks(t *testing.T) {
	release := make(chan struct{})
	src := &fakeSource{pools: samplePools(), block: release}
	writer := &fakeWriter{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	s := NewScheduler(Config{Interval: 5 * time.Millisecond, Metrics: metrics}, src, newClassifier(), writer, nil)

	runInBackground(t, s)
	waitFor(t, "skipped ticks", func() bool { return s.Status().SkippedTicks >= 2 })

	if src.Calls() != 1 {
		t.Fatalf("expected a single fetch while blocked, got %d", src.Calls())
	}
	if !s.Status().InFlight {
		t.Fatalf("expected cycle in flight")
	}
	if _, err := s.RunCycle(context.Background()); !errors.Is(err, ErrCycleInFlight) {
		t.Fatalf("expected ErrCycleInFlight, got %v", err)
	}
	if got := testutil.ToFloat64(metrics.skippedTicks); got < 2 {
		t.Fatalf("skipped ticks metric = %v", got)
	}

	close(release)
	waitFor(t, "blocked cycle to finish", func() bool { return writer.Writes() >= 1 })
}

func TestRunRequiresDependencies(t *testing.T) {
	s := NewScheduler(Config{}, nil, newClassifier(), &fakeWriter{}, nil)
	if err := s.Run(context.Background()); err == nil {
		t.Fatalf("expected error for missing source")
	}
}

type panickyWriter struct {
	fakeWriter
	mu     sync.Mutex
	panics int
}

func (p *panickyWriter) WriteCycle(ctx context.Context, cs []model.Classification) (model.TierAggregate, error) {
	p.mu.Lock()
	first := p.panics == 0
	if first {
		p.panics++
	}
	p.mu.Unlock()
	if first {
		panic("nil map write")
	}
	return p.fakeWriter.WriteCycle(ctx, cs)
}

func TestRunCycleRecoversPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	s := NewScheduler(Config{Metrics: metrics}, &fakeSource{pools: samplePools()}, newClassifier(), &panickyWriter{}, nil)

	_, err := s.RunCycle(context.Background())
	if !errors.Is(err, ErrCyclePanicked) {
		t.Fatalf("expected ErrCyclePanicked, got %v", err)
	}
	if got := testutil.ToFloat64(metrics.cyclesTotal.WithLabelValues(resultFailure)); got != 1 {
		t.Fatalf("failure cycles = %v", got)
	}
	if st := s.Status(); st.InFlight || st.Error == "" {
		t.Fatalf("unexpected status after panic: %+v", st)
	}

	if _, err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle after panic: %v", err)
	}
}

func TestRunSurvivesPanickingCycle(t *testing.T) {
	writer := &panickyWriter{}
	s := NewScheduler(Config{Interval: 10 * time.Millisecond}, &fakeSource{pools: samplePools()}, newClassifier(), writer, nil)

	runInBackground(t, s)
	waitFor(t, "write after panic", func() bool { return writer.Writes() >= 1 })
}

func TestRunCycleLogsRetryAttempts(t *testing.T) {
	src := &fakeSource{
		pools: samplePools(),
		fail: func(call int) error {
			if call <= 2 {
				return errors.New("timeout")
			}
			return nil
		},
	}
	core, logs := observer.New(zap.WarnLevel)
	s := NewScheduler(Config{MaxRetries: 2, RetryBackoff: time.Millisecond}, src, newClassifier(), &fakeWriter{}, zap.New(core))

	if _, err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	entries := logs.FilterMessage("fetch pools failed, retrying").All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 retry logs, got %d", len(entries))
	}
	for i, entry := range entries {
		fields := entry.ContextMap()
		if fields["attempt"] != int64(i+1) {
			t.Fatalf("entry %d attempt = %v", i, fields["attempt"])
		}
		if fields["backoff"] != time.Duration(1<<i)*time.Millisecond {
			t.Fatalf("entry %d backoff = %v", i, fields["backoff"])
		}
	}
}

func TestWaitWarmAfterFirstCycle(t *testing.T) {
	release := make(chan struct{})
	writer := &fakeWriter{}
	s := NewScheduler(Config{Interval: time.Hour}, &fakeSource{pools: samplePools(), block: release}, newClassifier(), writer, nil)

	if s.WaitWarm(context.Background(), 10*time.Millisecond) {
		t.Fatalf("warm before any cycle ran")
	}

	runInBackground(t, s)
	if s.WaitWarm(context.Background(), 20*time.Millisecond) {
		t.Fatalf("warm while first cycle is blocked")
	}

	close(release)
	if !s.WaitWarm(context.Background(), 2*time.Second) {
		t.Fatalf("not warm after first cycle")
	}
	if writer.Writes() != 1 {
		t.Fatalf("expected first cycle written before warm, got %d writes", writer.Writes())
	}
}

func TestWaitWarmAfterFailedCycle(t *testing.T) {
	src := &fakeSource{fail: func(int) error { return errors.New("source unavailable") }}
	s := NewScheduler(Config{RetryBackoff: time.Millisecond}, src, newClassifier(), &fakeWriter{}, nil)

	if _, err := s.RunCycle(context.Background()); err == nil {
		t.Fatalf("expected failure")
	}
	if !s.WaitWarm(context.Background(), time.Second) {
		t.Fatalf("a failed first cycle must still release waiters")
	}
}
