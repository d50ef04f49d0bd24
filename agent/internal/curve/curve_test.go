package curve

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressGraduated(t *testing.T) {
	p := PumpFun()
	assert.Equal(t, 100.0, p.Progress(0))
	assert.Equal(t, 100.0, p.Progress(206_900_000))
	assert.Less(t, p.Progress(206_900_001), 100.0)
}

func TestProgressKnownValues(t *testing.T) {
	p := PumpFun()
	assert.InDelta(t, 0.0, p.Progress(1_000_000_000), 1e-9)
	assert.InDelta(t, 25.185, p.Progress(800_000_000), 0.01)
	assert.InDelta(t, 63.012, p.Progress(500_000_000), 0.01)
	assert.InDelta(t, 99.609, p.Progress(210_000_000), 0.01)
}

func TestProgressClampedAndMonotonic(t *testing.T) {
	p := PumpFun()
	prev := math.Inf(1)
	for _, b := range []uint64{0, 1, 100_000_000, 206_900_000, 300_000_000, 600_000_000, 1_000_000_000, 5_000_000_000, math.MaxUint64} {
		got := p.Progress(b)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 100.0)
		assert.LessOrEqual(t, got, prev, "balance %d", b)
		prev = got
	}
}

func TestProgressZeroInitialReserves(t *testing.T) {
	p := Params{TotalSupply: 1, ReservedTokens: 10}
	assert.Equal(t, 100.0, p.Progress(5))
	assert.Equal(t, 0.0, p.Progress(11))
}

func TestMarketCap(t *testing.T) {
	p := PumpFun()
	assert.InDelta(t, 50_000.0, p.MarketCap(0.00005), 1e-6)
	assert.Equal(t, 0.0, p.MarketCap(-1))
	assert.Equal(t, 0.0, p.MarketCap(math.NaN()))
}

func TestBalanceForProgressRoundTrip(t *testing.T) {
	p := PumpFun()
	for _, pct := range []float64{0, 25, 50, 95, 100} {
		assert.InDelta(t, pct, p.Progress(p.BalanceForProgress(pct)), 1e-6)
	}
	assert.Equal(t, uint64(206_900_000+793_100_000*5/100), p.BalanceForProgress(95))
}
