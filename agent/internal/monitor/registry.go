// Package monitor owns subscriptions and the per-token pollers they imply.
package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"curve-watch/agent/internal/alerts"
	"curve-watch/agent/internal/curve"
	"curve-watch/agent/internal/models"
	"curve-watch/agent/internal/observability"
	"curve-watch/shared/logger"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("monitor: registry closed")

const (
	DefaultPollInterval = 30 * time.Second
	DefaultErrorBackoff = 60 * time.Second
	DefaultFetchTimeout = 20 * time.Second
	DefaultListLimit    = 10
)

type Options struct {
	Provider   DataProvider
	Discovery  Discovery // optional
	Dispatcher *alerts.Dispatcher
	Curve      curve.Params
	Thresholds []alerts.ThresholdSet

	PollInterval time.Duration
	ErrorBackoff time.Duration
	FetchTimeout time.Duration

	Logger  *logger.Logger
	Metrics *observability.Metrics
}

// Registry maps users to tokens and runs exactly one registered poller per token that has at least one subscriber.
// Every mutation of the maps below, including poller start and stop, happens under mu.
// A stopped poller may still be finishing its last fetch (bounded by the fetch timeout) after a new one
// was registered for the same token; it never alerts, since only the registered poller sees subscribers.
type Registry struct {
	provider   DataProvider
	discovery  Discovery
	dispatcher *alerts.Dispatcher
	curve      curve.Params
	thresholds []alerts.ThresholdSet

	pollInterval time.Duration
	errorBackoff time.Duration
	fetchTimeout time.Duration

	logger  *logger.Logger
	metrics *observability.Metrics

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.RWMutex
	closed   bool
	users    map[models.UserID]map[models.TokenID]struct{}
	watchers map[models.TokenID]map[models.UserID]*alerts.State
	pollers  map[models.TokenID]*poller
	subs     int
}

func NewRegistry(opts Options) *Registry {
	r := &Registry{
		provider:     opts.Provider,
		discovery:    opts.Discovery,
		dispatcher:   opts.Dispatcher,
		curve:        opts.Curve,
		thresholds:   opts.Thresholds,
		pollInterval: opts.PollInterval,
		errorBackoff: opts.ErrorBackoff,
		fetchTimeout: opts.FetchTimeout,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		users:        make(map[models.UserID]map[models.TokenID]struct{}),
		watchers:     make(map[models.TokenID]map[models.UserID]*alerts.State),
		pollers:      make(map[models.TokenID]*poller),
	}
	if r.logger == nil {
		r.logger = logger.NewNop()
	}
	if r.dispatcher == nil {
		r.dispatcher = alerts.NewDispatcher(alerts.DispatcherOptions{Logger: r.logger, Metrics: r.metrics})
	}
	if r.curve == (curve.Params{}) {
		r.curve = curve.PumpFun()
	}
	if r.pollInterval <= 0 {
		r.pollInterval = DefaultPollInterval
	}
	if r.errorBackoff <= 0 {
		r.errorBackoff = DefaultErrorBackoff
	}
	if r.fetchTimeout <= 0 {
		r.fetchTimeout = DefaultFetchTimeout
	}
	r.baseCtx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Subscribe adds token to user's set. It reports false if the pair already existed.
// The first subscriber of a token starts its poller.
func (r *Registry) Subscribe(user models.UserID, token models.TokenID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, ErrClosed
	}

	set, ok := r.users[user]
	if !ok {
		set = make(map[models.TokenID]struct{})
		r.users[user] = set
	}
	if _, exists := set[token]; exists {
		return false, nil
	}
	set[token] = struct{}{}

	w, ok := r.watchers[token]
	if !ok {
		w = make(map[models.UserID]*alerts.State)
		r.watchers[token] = w
	}
	w[user] = alerts.NewState()
	r.subs++
	r.metrics.SetSubscriptions(r.subs)

	if _, running := r.pollers[token]; !running {
		r.startPollerLocked(token)
	}

	r.logger.Info("Subscription added",
		zap.Int64("userId", int64(user)),
		zap.String("tokenAddress", token.String()),
		zap.Int("subscribers", len(w)),
	)
	return true, nil
}

// Unsubscribe removes token from user's set and discards the pair's alert history.
// The last subscriber leaving stops the token's poller and drops its metrics.
func (r *Registry) Unsubscribe(user models.UserID, token models.TokenID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[user]
	if !ok {
		return false
	}
	if _, exists := set[token]; !exists {
		return false
	}
	delete(set, token)
	if len(set) == 0 {
		delete(r.users, user)
	}

	w := r.watchers[token]
	if st, ok := w[user]; ok {
		st.Close()
		delete(w, user)
	}
	r.subs--
	r.metrics.SetSubscriptions(r.subs)

	remaining := len(w)
	if remaining == 0 {
		delete(r.watchers, token)
		if p, running := r.pollers[token]; running {
			delete(r.pollers, token)
			// Cancel only. The poller exits on its own and must not be waited on under mu.
			p.stop()
		}
	}

	r.logger.Info("Subscription removed",
		zap.Int64("userId", int64(user)),
		zap.String("tokenAddress", token.String()),
		zap.Int("subscribers", remaining),
	)
	return true
}

func (r *Registry) startPollerLocked(token models.TokenID) {
	ctx, cancel := context.WithCancel(r.baseCtx)
	p := &poller{
		token:  token,
		reg:    r,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.pollers[token] = p
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		p.run(ctx)
	}()
}

// ListSubscriptions returns user's tokens in lexical order.
func (r *Registry) ListSubscriptions(user models.UserID) []models.TokenID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[user]
	out := make([]models.TokenID, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Monitored returns every token with a running poller.
func (r *Registry) Monitored() []models.TokenID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.TokenID, 0, len(r.pollers))
	for t := range r.pollers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) IsPolling(token models.TokenID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pollers[token]
	return ok
}

func (r *Registry) SubscriberCount(token models.TokenID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.watchers[token])
}

// FiredAlerts returns the alert keys already fired for the pair, or nil if not subscribed.
func (r *Registry) FiredAlerts(user models.UserID, token models.TokenID) []string {
	r.mu.RLock()
	st := r.watchers[token][user]
	r.mu.RUnlock()
	if st == nil {
		return nil
	}
	return st.Fired()
}

// Snapshot returns the latest metrics of a monitored token.
func (r *Registry) Snapshot(token models.TokenID) (models.TokenMetrics, bool) {
	r.mu.RLock()
	p := r.pollers[token]
	r.mu.RUnlock()
	if p == nil {
		return models.TokenMetrics{}, false
	}
	return p.latest()
}

// Status returns the latest snapshot of a monitored token, or performs a one-shot fetch otherwise.
// models.ErrNoData is returned when the provider knows nothing about the token.
func (r *Registry) Status(ctx context.Context, token models.TokenID) (models.TokenMetrics, error) {
	if m, ok := r.Snapshot(token); ok {
		return m, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	price, reserves, err := r.fetch(ctx, token)
	if err != nil {
		return models.TokenMetrics{}, err
	}
	if price == nil && reserves == nil {
		return models.TokenMetrics{}, models.ErrNoData
	}
	return computeMetrics(r.curve, token, nil, price, reserves, time.Now()), nil
}

// subscribersOf returns the alert states of p's token, but only while p is the token's live poller.
func (r *Registry) subscribersOf(p *poller) map[models.UserID]*alerts.State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.pollers[p.token] != p {
		return nil
	}
	w := r.watchers[p.token]
	out := make(map[models.UserID]*alerts.State, len(w))
	for u, st := range w {
		out[u] = st
	}
	return out
}

// Close stops every poller and waits for them to exit. Further subscriptions fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for token, p := range r.pollers {
		p.stop()
		delete(r.pollers, token)
	}
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	r.logger.Info("Monitor registry closed")
}
