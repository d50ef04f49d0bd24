// Package curve converts raw pool state into bonding-curve progress and market cap.
package curve

import "math"

// Params are the supply constants of one bonding-curve venue.
type Params struct {
	TotalSupply         uint64 `mapstructure:"total_supply"`
	ReservedTokens      uint64 `mapstructure:"reserved_tokens"`
	InitialRealReserves uint64 `mapstructure:"initial_real_reserves"`
}

// PumpFun returns the pump.fun curve constants.
func PumpFun() Params {
	return Params{
		TotalSupply:         1_000_000_000,
		ReservedTokens:      206_900_000,
		InitialRealReserves: 793_100_000,
	}
}

// Progress returns the completion percentage for a raw token balance still held by the curve.
// A balance at or below the reserved amount counts as fully graduated. The result is always in [0,100].
func (p Params) Progress(rawBalance uint64) float64 {
	if rawBalance <= p.ReservedTokens {
		return 100
	}
	if p.InitialRealReserves == 0 {
		return 0
	}
	sold := float64(rawBalance-p.ReservedTokens) * 100 / float64(p.InitialRealReserves)
	return clamp(100-sold, 0, 100)
}

// MarketCap estimates fully diluted market cap. Negative and NaN prices yield 0.
func (p Params) MarketCap(priceUSD float64) float64 {
	if math.IsNaN(priceUSD) || priceUSD <= 0 {
		return 0
	}
	mc := priceUSD * float64(p.TotalSupply)
	if math.IsInf(mc, 0) {
		return math.MaxFloat64
	}
	return mc
}

// BalanceForProgress is the inverse of Progress: the raw balance at which the curve reaches pct.
func (p Params) BalanceForProgress(pct float64) uint64 {
	pct = clamp(pct, 0, 100)
	return p.ReservedTokens + uint64(math.Round(float64(p.InitialRealReserves)*(100-pct)/100))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
