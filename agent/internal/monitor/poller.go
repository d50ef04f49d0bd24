package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"curve-watch/agent/internal/alerts"
	"curve-watch/agent/internal/curve"
	"curve-watch/agent/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// poller is the background loop of one token. It is the only writer of snapshot.
type poller struct {
	token    models.TokenID
	reg      *Registry
	cancel   context.CancelFunc
	done     chan struct{}
	snapshot atomic.Pointer[models.TokenMetrics]
}

func (p *poller) stop() {
	p.cancel()
}

func (p *poller) latest() (models.TokenMetrics, bool) {
	m := p.snapshot.Load()
	if m == nil {
		return models.TokenMetrics{}, false
	}
	return *m, true
}

func (p *poller) run(ctx context.Context) {
	r := p.reg
	defer close(p.done)

	r.metrics.PollerStarted()
	defer r.metrics.PollerStopped()

	r.logger.Info("Starting token poller", zap.String("tokenAddress", p.token.String()), zap.Duration("interval", r.pollInterval))
	defer r.logger.Info("Token poller stopped", zap.String("tokenAddress", p.token.String()))

	for {
		if ctx.Err() != nil {
			return
		}

		wait := r.pollInterval
		if err := p.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.metrics.RecordPollCycle("error")
			r.logger.Warn("Poll cycle failed, backing off",
				zap.String("tokenAddress", p.token.String()),
				zap.Duration("backoff", r.errorBackoff),
				zap.Error(err),
			)
			wait = r.errorBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// cycle fetches, recomputes and alerts once. An error means the provider failed and previous metrics were kept.
func (p *poller) cycle(ctx context.Context) error {
	r := p.reg

	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	price, reserves, err := r.fetch(fetchCtx, p.token)
	cancel()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	if price == nil && reserves == nil {
		r.metrics.RecordPollCycle("no_data")
		r.logger.Debug("No data for token this cycle", zap.String("tokenAddress", p.token.String()))
		return nil
	}

	next := computeMetrics(r.curve, p.token, p.snapshot.Load(), price, reserves, time.Now())
	p.snapshot.Store(&next)
	r.metrics.RecordPollCycle("ok")

	p.alert(ctx, next)
	return nil
}

// alert runs every subscriber's thresholds against m and dispatches what fired.
func (p *poller) alert(ctx context.Context, m models.TokenMetrics) {
	r := p.reg
	subs := r.subscribersOf(p)
	if len(subs) == 0 {
		return
	}

	users := make([]models.UserID, 0, len(subs))
	for u := range subs {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	for _, u := range users {
		if ctx.Err() != nil {
			return
		}
		st := subs[u]
		var crossed []alerts.Crossing
		for _, set := range r.thresholds {
			crossed = append(crossed, st.Fire(set, set.Metric.Value(m))...)
		}
		if len(crossed) == 0 {
			continue
		}
		r.dispatcher.Dispatch(ctx, u, m, crossed)
	}
}

// fetch gets price and reserves concurrently. Either error fails the whole fetch.
func (r *Registry) fetch(ctx context.Context, token models.TokenID) (*models.PriceSample, *models.ReserveSample, error) {
	if r.provider == nil {
		return nil, nil, fmt.Errorf("no data provider configured")
	}

	var (
		price    *models.PriceSample
		reserves *models.ReserveSample
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer recoverFetch("price", &err)
		start := time.Now()
		s, err := r.provider.FetchPrice(gctx, token)
		r.metrics.RecordFetch("provider", "price", time.Since(start), err)
		if err != nil {
			return fmt.Errorf("fetch price: %w", err)
		}
		price = s
		return nil
	})
	g.Go(func() (err error) {
		defer recoverFetch("reserves", &err)
		start := time.Now()
		s, err := r.provider.FetchReserves(gctx, token)
		r.metrics.RecordFetch("provider", "reserves", time.Since(start), err)
		if err != nil {
			return fmt.Errorf("fetch reserves: %w", err)
		}
		reserves = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return price, reserves, nil
}

// recoverFetch turns a provider panic into the fetch's error.
func recoverFetch(kind string, err *error) {
	if v := recover(); v != nil {
		*err = fmt.Errorf("fetch %s: provider panicked: %v", kind, v)
	}
}

// computeMetrics derives the next snapshot. A missing sample keeps the value from prev.
func computeMetrics(params curve.Params, token models.TokenID, prev *models.TokenMetrics, price *models.PriceSample, reserves *models.ReserveSample, now time.Time) models.TokenMetrics {
	var m models.TokenMetrics
	if prev != nil {
		m = *prev
	}
	m.TokenID = token

	if price != nil {
		m.PriceUSD = price.PriceUSD
		m.PriceNative = price.PriceNative
		m.HasPrice = true
		if price.Name != "" {
			m.Name = price.Name
		}
		if price.Symbol != "" {
			m.Symbol = price.Symbol
		}
	}
	if reserves != nil {
		m.BaseReserve = reserves.BaseReserve
		m.QuoteReserve = reserves.QuoteReserve
		m.QuoteReserveUSD = reserves.QuoteReserveUSD
		m.BondingProgressPct = params.Progress(reserves.BaseReserve)
		m.HasReserves = true
		if m.Name == "" {
			m.Name = reserves.Name
		}
		if m.Symbol == "" {
			m.Symbol = reserves.Symbol
		}
	}

	m.MarketCapUSD = params.MarketCap(m.PriceUSD)
	m.LastUpdated = now
	return m
}
