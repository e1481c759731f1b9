package tier

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	DefaultPriceVersion      = "v1"
	DefaultNativeAsset       = "native"
	DefaultNativeMultiplier  = 0.12
	DefaultOtherMultiplier   = 0.1
	stablecoinMultiplierText = "1"
)

// DefaultStablecoins are matched against asset identifiers by substring.
var DefaultStablecoins = []string{"USDC", "USDT"}

// PriceTable maps asset identifiers to a USD multiplier. It is a coarse
// placeholder for a real price feed and carries a version so stored
// classifications can be traced back to the table that produced them.
type PriceTable struct {
	Version           string
	NativeAsset       string
	NativeMultiplier  float64
	DefaultMultiplier float64
	Stablecoins       []string
	// Overrides pins exact asset identifiers and wins over every other rule.
	Overrides map[string]float64
}

// DefaultPriceTable returns the v1 table.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		Version:           DefaultPriceVersion,
		NativeAsset:       DefaultNativeAsset,
		NativeMultiplier:  DefaultNativeMultiplier,
		DefaultMultiplier: DefaultOtherMultiplier,
		Stablecoins:       append([]string(nil), DefaultStablecoins...),
	}
}

// Multiplier resolves the USD multiplier for an asset identifier.
func (p PriceTable) Multiplier(asset string) decimal.Decimal {
	if m, ok := p.Overrides[asset]; ok {
		return decimal.NewFromFloat(m)
	}
	if asset == p.nativeAsset() {
		return decimal.NewFromFloat(p.NativeMultiplier)
	}
	if p.IsStablecoin(asset) {
		return decimal.RequireFromString(stablecoinMultiplierText)
	}
	return decimal.NewFromFloat(p.DefaultMultiplier)
}

// IsStablecoin reports whether asset matches a USD-pegged code, either
// exactly or as a substring (issuer-qualified ids like "USDC:GA5Z...").
func (p PriceTable) IsStablecoin(asset string) bool {
	upper := strings.ToUpper(asset)
	for _, code := range p.Stablecoins {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" {
			continue
		}
		if upper == code || strings.Contains(upper, code) {
			return true
		}
	}
	return false
}

func (p PriceTable) nativeAsset() string {
	if p.NativeAsset == "" {
		return DefaultNativeAsset
	}
	return p.NativeAsset
}
