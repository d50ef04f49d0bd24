package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"curve-watch/agent/internal/models"
)

// ErrInvalidRange rejects a listing whose progress bounds are NaN or inverted.
var ErrInvalidRange = errors.New("invalid progress range")

const (
	GraduatingThreshold = 95.0
	DefaultTrendingMin  = 10.0
	DefaultTrendingMax  = 95.0
)

// ListTrending returns up to limit tokens whose progress lies in [minPct, maxPct], highest market cap first.
// Without a Discovery source it lists the tokens this registry is already polling.
func (r *Registry) ListTrending(ctx context.Context, minPct, maxPct float64, limit int) ([]models.TokenSummary, error) {
	return r.list(ctx, minPct, maxPct, limit, false)
}

// ListGraduating returns tokens at or above minPct that have not graduated yet.
func (r *Registry) ListGraduating(ctx context.Context, minPct float64, limit int) ([]models.TokenSummary, error) {
	return r.list(ctx, minPct, 100, limit, true)
}

func (r *Registry) list(ctx context.Context, minPct, maxPct float64, limit int, excludeGraduated bool) ([]models.TokenSummary, error) {
	if math.IsNaN(minPct) || math.IsNaN(maxPct) || minPct > maxPct {
		return nil, fmt.Errorf("%w [%g, %g]", ErrInvalidRange, minPct, maxPct)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var candidates []models.TokenSummary
	if r.discovery != nil {
		ctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
		defer cancel()

		// Progress falls as balance rises, so the range bounds swap.
		pools, err := r.discovery.FetchPoolsInRange(ctx, r.curve.BalanceForProgress(maxPct), r.curve.BalanceForProgress(minPct), limit*5)
		if err != nil {
			return nil, fmt.Errorf("discover pools: %w", err)
		}
		for _, p := range pools {
			candidates = append(candidates, models.TokenSummary{
				TokenID:            p.TokenID,
				Name:               p.Name,
				Symbol:             p.Symbol,
				PriceUSD:           p.PriceUSD,
				MarketCapUSD:       r.curve.MarketCap(p.PriceUSD),
				BondingProgressPct: r.curve.Progress(p.BaseReserve),
				BaseReserve:        p.BaseReserve,
			})
		}
	} else {
		for _, t := range r.Monitored() {
			m, ok := r.Snapshot(t)
			if !ok || !m.HasReserves {
				continue
			}
			candidates = append(candidates, models.TokenSummary{
				TokenID:            m.TokenID,
				Name:               m.Name,
				Symbol:             m.Symbol,
				PriceUSD:           m.PriceUSD,
				MarketCapUSD:       m.MarketCapUSD,
				BondingProgressPct: m.BondingProgressPct,
				BaseReserve:        m.BaseReserve,
			})
		}
	}

	seen := make(map[models.TokenID]int, len(candidates))
	out := make([]models.TokenSummary, 0, len(candidates))
	for _, c := range candidates {
		if c.BondingProgressPct < minPct || c.BondingProgressPct > maxPct {
			continue
		}
		if excludeGraduated && c.BondingProgressPct >= 100 {
			continue
		}
		if i, dup := seen[c.TokenID]; dup {
			if c.MarketCapUSD > out[i].MarketCapUSD {
				out[i] = c
			}
			continue
		}
		seen[c.TokenID] = len(out)
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MarketCapUSD != out[j].MarketCapUSD {
			return out[i].MarketCapUSD > out[j].MarketCapUSD
		}
		return out[i].TokenID < out[j].TokenID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
