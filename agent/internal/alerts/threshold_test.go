package alerts

import (
	"sync"
	"testing"

	"curve-watch/agent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bondingSet = ThresholdSet{Name: "bonding", Metric: MetricBondingProgress, Values: []float64{50, 75, 90, 95, 99}}

func keys(cs []Crossing) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Key)
	}
	return out
}

func TestFireJumpFiresEveryCrossedThresholdOnce(t *testing.T) {
	s := NewState()

	got := s.Fire(bondingSet, 96)
	assert.Equal(t, []string{"bonding_50", "bonding_75", "bonding_90", "bonding_95"}, keys(got))

	assert.Empty(t, s.Fire(bondingSet, 96))
	assert.Equal(t, []string{"bonding_50", "bonding_75", "bonding_90", "bonding_95"}, s.Fired())
}

func TestFireIncremental(t *testing.T) {
	s := NewState()

	assert.Empty(t, s.Fire(bondingSet, 10))
	assert.Equal(t, []string{"bonding_50", "bonding_75"}, keys(s.Fire(bondingSet, 70+5)))
	assert.Empty(t, s.Fire(bondingSet, 60), "drop below does not re-arm")
	assert.Equal(t, []string{"bonding_90", "bonding_95", "bonding_99"}, keys(s.Fire(bondingSet, 100)))
}

func TestFireSeparateKeySpaces(t *testing.T) {
	s := NewState()
	mcap := ThresholdSet{Name: "mcap", Metric: MetricMarketCap, Values: []float64{50, 10000}}

	assert.Equal(t, []string{"bonding_50"}, keys(s.Fire(bondingSet, 55)))
	assert.Equal(t, []string{"mcap_50"}, keys(s.Fire(mcap, 55)))
}

func TestFireNaNNeverFires(t *testing.T) {
	s := NewState()
	var zero float64
	assert.Empty(t, s.Fire(bondingSet, zero/zero))
}

func TestClosedStateNeverFires(t *testing.T) {
	s := NewState()
	s.Close()
	assert.True(t, s.Closed())
	assert.Empty(t, s.Fire(bondingSet, 100))
	assert.Empty(t, s.Fired())
}

func TestFireConcurrentNoDuplicates(t *testing.T) {
	s := NewState()

	var mu sync.Mutex
	counts := map[string]int{}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			for _, c := range s.Fire(bondingSet, v) {
				mu.Lock()
				counts[c.Key]++
				mu.Unlock()
			}
		}(float64(50 + i*2))
	}
	wg.Wait()

	require.Len(t, counts, 5)
	for k, n := range counts {
		assert.Equal(t, 1, n, k)
	}
}

func TestThresholdSetKeyAndValidate(t *testing.T) {
	assert.Equal(t, "bonding_95", bondingSet.Key(95))
	assert.Equal(t, "mcap_10000", ThresholdSet{Name: "mcap"}.Key(10000))
	assert.Equal(t, "x_12.5", ThresholdSet{Name: "x"}.Key(12.5))

	require.NoError(t, bondingSet.Validate())
	require.Error(t, ThresholdSet{Name: "bad", Values: []float64{50, 50}}.Validate())
	require.Error(t, ThresholdSet{Values: []float64{1}}.Validate())
}

func TestMetricValue(t *testing.T) {
	tm := models.TokenMetrics{BondingProgressPct: 42, MarketCapUSD: 12345}
	assert.Equal(t, 42.0, MetricBondingProgress.Value(tm))
	assert.Equal(t, 12345.0, MetricMarketCap.Value(tm))
}
