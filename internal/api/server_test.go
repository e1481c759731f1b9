package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"liquidityTiers/internal/cache"
	"liquidityTiers/internal/model"
	"liquidityTiers/internal/monitor"
	"liquidityTiers/internal/tier"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	mr     *miniredis.Miniredis
	store  *cache.Store
	server *Server
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	store := cache.NewStore(client, cache.Options{Now: func() time.Time { return testNow }})
	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	return &fixture{mr: mr, store: store, server: NewServer(store, opts)}
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	classifier := tier.NewClassifier(tier.DefaultPriceTable(), tier.DefaultThresholds())
	cs, _ := classifier.ClassifyAll([]model.PoolSnapshot{
		{ID: "P1", Reserves: []model.Reserve{{Asset: "native", Amount: "10000000"}}},
		{ID: "P2", Reserves: []model.Reserve{{Asset: "USDC-ISSUER", Amount: "500000"}}},
		{ID: "P3", Reserves: []model.Reserve{{Asset: "XYZ", Amount: "1000"}}},
		{ID: "P4", Reserves: []model.Reserve{{Asset: "native", Amount: "not-a-number"}}},
	}, testNow)
	_, err := f.store.WriteCycle(context.Background(), cs)
	require.NoError(t, err)
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGetPoolTier(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t)

	rec := f.get(t, "/api/pool/P1/tier")
	require.Equal(t, http.StatusOK, rec.Code)

	var got model.Classification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "P1", got.PoolID)
	require.Equal(t, model.Tier1, got.Tier)
	require.InDelta(t, 1_200_000, got.TVL, 1e-6)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	for _, key := range []string{"poolId", "tvl", "tier", "reserves", "totalAccounts", "totalShares", "lastModified", "timestamp"} {
		require.Contains(t, raw, key)
	}
}

func TestGetPoolTierDegraded(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t)

	rec := f.get(t, "/api/pool/P4/tier")
	require.Equal(t, http.StatusOK, rec.Code)

	var got model.Classification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, model.Tier3, got.Tier)
	require.Zero(t, got.TVL)
	require.NotEmpty(t, got.Error)
}

func TestGetPoolTierNotFound(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t)

	rec := f.get(t, "/api/pool/missing/tier")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "error")
}

func TestListTier(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t)

	rec := f.get(t, "/api/pools/tier/TIER_3")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []model.Classification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	require.Equal(t, "P3", got[0].PoolID)
	require.Equal(t, "P4", got[1].PoolID)
}

func TestListTierEmptyIsArray(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.get(t, "/api/pools/tier/TIER_1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}

func TestListTierRejectsInvalidTier(t *testing.T) {
	f := newFixture(t, Options{})

	for _, path := range []string{"/api/pools/tier/TIER_4", "/api/pools/tier/tier_1", "/api/pools/tier/gold"} {
		rec := f.get(t, path)
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
		require.Contains(t, rec.Body.String(), "error", path)
	}
}

func TestLiquidityStats(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t)

	rec := f.get(t, "/api/liquidity-stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.EqualValues(t, 1, got["TIER_1"])
	require.EqualValues(t, 1, got["TIER_2"])
	require.EqualValues(t, 2, got["TIER_3"])
	require.EqualValues(t, 4, got["total"])
	require.Contains(t, got, "lastUpdate")
}

func TestHealthy(t *testing.T) {
	status := monitor.Status{CycleID: "c1", Pools: 4}
	f := newFixture(t, Options{Status: func() monitor.Status { return status }})
	f.seed(t)

	rec := f.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Status    string              `json:"status"`
		Pools     model.TierAggregate `json:"pools"`
		Uptime    float64             `json:"uptime"`
		Timestamp time.Time           `json:"timestamp"`
		LastCycle *monitor.Status     `json:"lastCycle"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "healthy", got.Status)
	require.Equal(t, 4, got.Pools.Total)
	require.GreaterOrEqual(t, got.Uptime, 0.0)
	require.True(t, got.Timestamp.Equal(testNow))
	require.NotNil(t, got.LastCycle)
	require.Equal(t, "c1", got.LastCycle.CycleID)
}

func TestHealthBeforeFirstCycle(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total":0`)
}

func TestStoreDownReturns500(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t)
	f.mr.Close()

	rec := f.get(t, "/health")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, "unhealthy", health["status"])
	require.NotEmpty(t, health["error"])

	for _, path := range []string{"/api/pool/P1/tier", "/api/pools/tier/TIER_1", "/api/liquidity-stats"} {
		rec := f.get(t, path)
		require.Equal(t, http.StatusInternalServerError, rec.Code, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := monitor.NewMetrics(reg)
	require.NotNil(t, metrics)

	f := newFixture(t, Options{Gatherer: reg})
	rec := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "tiers_skipped_ticks_total"))
}

func TestMetricsDisabledWithoutGatherer(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.get(t, "/metrics")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	f := newFixture(t, Options{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not stop")
	}
}

func TestHealthWithUnreadableAggregate(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t)
	f.mr.HSet("tiers:stats", "total", "not-a-number")

	rec := f.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Status string              `json:"status"`
		Pools  model.TierAggregate `json:"pools"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "healthy", got.Status)
	require.Equal(t, model.TierAggregate{}, got.Pools)
}
