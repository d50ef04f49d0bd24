// Package alerts decides which thresholds a metric has crossed and delivers the resulting notifications.
package alerts

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"curve-watch/agent/internal/models"
)

// Metric names a value derived from TokenMetrics that thresholds apply to.
type Metric string

const (
	MetricBondingProgress Metric = "bonding"
	MetricMarketCap       Metric = "mcap"
)

// Value extracts the metric from m.
func (m Metric) Value(tm models.TokenMetrics) float64 {
	switch m {
	case MetricMarketCap:
		return tm.MarketCapUSD
	default:
		return tm.BondingProgressPct
	}
}

// ThresholdSet is an ascending list of cutoffs for one metric. Name prefixes every key,
// so two sets over the same token never share keys.
type ThresholdSet struct {
	Name   string
	Metric Metric
	Values []float64
}

// Key returns the dedupe key of one threshold, e.g. "bonding_95".
func (s ThresholdSet) Key(v float64) string {
	return s.Name + "_" + strconv.FormatFloat(v, 'f', -1, 64)
}

// Validate checks that values are strictly ascending.
func (s ThresholdSet) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("threshold set has no name")
	}
	for i := 1; i < len(s.Values); i++ {
		if s.Values[i] <= s.Values[i-1] {
			return fmt.Errorf("threshold set %q: values must be strictly ascending, got %v", s.Name, s.Values)
		}
	}
	return nil
}

// Crossing is one threshold that fired.
type Crossing struct {
	Set       string
	Metric    Metric
	Key       string
	Threshold float64
	Value     float64
}

// State is the set of keys already fired for one (user, token) pair.
type State struct {
	mu     sync.Mutex
	fired  map[string]struct{}
	closed bool
}

func NewState() *State {
	return &State{fired: make(map[string]struct{})}
}

// Fire returns every threshold in set that value has reached and that has not fired yet,
// in ascending order, and marks them fired. A jump across several thresholds returns all of them.
// A closed state never fires.
func (s *State) Fire(set ThresholdSet, value float64) []Crossing {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	var out []Crossing
	for _, t := range set.Values {
		if !(value >= t) {
			// values are ascending, nothing further can match
			break
		}
		key := set.Key(t)
		if _, ok := s.fired[key]; ok {
			continue
		}
		s.fired[key] = struct{}{}
		out = append(out, Crossing{
			Set:       set.Name,
			Metric:    set.Metric,
			Key:       key,
			Threshold: t,
			Value:     value,
		})
	}
	return out
}

// Close discards the history and stops the state from firing again.
func (s *State) Close() {
	s.mu.Lock()
	s.closed = true
	s.fired = nil
	s.mu.Unlock()
}

func (s *State) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Fired lists fired keys in sorted order.
func (s *State) Fired() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.fired))
	for k := range s.fired {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
