package tier

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"liquidityTiers/internal/model"
)

// ErrClassificationDegraded marks a pool whose reserves could not be valued.
var ErrClassificationDegraded = errors.New("classification degraded")

// Classifier values pool reserves and assigns tiers. It holds no mutable
// state and performs no I/O.
type Classifier struct {
	prices     PriceTable
	thresholds Thresholds
}

func NewClassifier(prices PriceTable, thresholds Thresholds) *Classifier {
	return &Classifier{prices: prices, thresholds: thresholds}
}

// PriceVersion returns the version of the price table in use.
func (c *Classifier) PriceVersion() string {
	return c.prices.Version
}

// Classify values a single snapshot. A malformed reserve never fails the
// call: the result is TIER_3 with zero TVL and Error set.
func (c *Classifier) Classify(snapshot model.PoolSnapshot, at time.Time) model.Classification {
	result := model.Classification{
		PoolID:        snapshot.ID,
		Reserves:      copyReserves(snapshot.Reserves),
		TotalAccounts: snapshot.TotalAccounts,
		TotalShares:   snapshot.TotalShares,
		LastModified:  snapshot.LastModified(),
		Timestamp:     at,
		PriceVersion:  c.prices.Version,
	}

	tvl, err := c.Value(snapshot.Reserves)
	if err != nil {
		result.TVL = 0
		result.Tier = model.Tier3
		result.Error = err.Error()
		return result
	}

	result.TVL = tvl
	result.Tier = c.thresholds.TierFor(tvl)
	return result
}

// ClassifyAll returns one classification per snapshot, in input order, and
// the number of degraded results.
func (c *Classifier) ClassifyAll(snapshots []model.PoolSnapshot, at time.Time) ([]model.Classification, int) {
	out := make([]model.Classification, 0, len(snapshots))
	degraded := 0
	for _, snapshot := range snapshots {
		result := c.Classify(snapshot, at)
		if result.Degraded() {
			degraded++
		}
		out = append(out, result)
	}
	return out, degraded
}

// Value sums reserve amounts times their multipliers.
func (c *Classifier) Value(reserves []model.Reserve) (float64, error) {
	total := decimal.Zero
	for i, reserve := range reserves {
		value, err := c.reserveValue(reserve)
		if err != nil {
			return 0, fmt.Errorf("%w: reserve %d: %v", ErrClassificationDegraded, i, err)
		}
		total = total.Add(value)
	}
	tvl, _ := total.Float64()
	if math.IsInf(tvl, 0) || math.IsNaN(tvl) {
		return 0, fmt.Errorf("%w: total %s out of range", ErrClassificationDegraded, total.String())
	}
	return tvl, nil
}

func (c *Classifier) reserveValue(reserve model.Reserve) (decimal.Decimal, error) {
	asset := strings.TrimSpace(reserve.Asset)
	if asset == "" {
		return decimal.Zero, fmt.Errorf("missing asset")
	}
	amount, err := parseAmount(reserve.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("asset %s: %w", asset, err)
	}
	return amount.Mul(c.prices.Multiplier(asset)), nil
}

func parseAmount(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", value)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %q", value)
	}
	return amount, nil
}

func copyReserves(reserves []model.Reserve) []model.Reserve {
	if reserves == nil {
		return []model.Reserve{}
	}
	return append([]model.Reserve(nil), reserves...)
}
