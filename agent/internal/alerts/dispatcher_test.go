package alerts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"curve-watch/agent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []sentMessage
	failFor map[int64]error
	panicky bool
}

func (f *fakeNotifier) Send(_ context.Context, chatID int64, text string) error {
	if f.panicky {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[chatID]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

type fakeRecorder struct {
	mu   sync.Mutex
	recs []models.AlertRecord
}

func (f *fakeRecorder) RecordAlert(_ context.Context, rec models.AlertRecord) error {
	f.mu.Lock()
	f.recs = append(f.recs, rec)
	f.mu.Unlock()
	return nil
}

func fixedNow() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

func TestDispatchSendsOnePerCrossing(t *testing.T) {
	n := &fakeNotifier{}
	rec := &fakeRecorder{}
	d := NewDispatcher(DispatcherOptions{Notifier: n, Recorder: rec, Now: fixedNow})

	m := models.TokenMetrics{TokenID: "tok", BondingProgressPct: 96, PriceUSD: 0.0001, MarketCapUSD: 100000}
	crossings := NewState().Fire(bondingSet, 96)

	sent := d.Dispatch(context.Background(), 7, m, crossings)
	assert.Equal(t, 4, sent)
	require.Len(t, n.sent, 4)
	for _, s := range n.sent {
		assert.Equal(t, int64(7), s.chatID)
	}
	require.Len(t, rec.recs, 4)
	assert.True(t, rec.recs[0].Delivered)
	assert.Equal(t, "bonding_50", rec.recs[0].ThresholdKey)
}

func TestDispatchFailureIsolatedPerUser(t *testing.T) {
	n := &fakeNotifier{failFor: map[int64]error{1: errors.New("Forbidden: bot was blocked by the user")}}
	rec := &fakeRecorder{}
	d := NewDispatcher(DispatcherOptions{Notifier: n, Recorder: rec, Now: fixedNow})

	m := models.TokenMetrics{TokenID: "tok", BondingProgressPct: 60}
	crossings := []Crossing{{Set: "bonding", Metric: MetricBondingProgress, Key: "bonding_50", Threshold: 50, Value: 60}}

	assert.Equal(t, 0, d.Dispatch(context.Background(), 1, m, crossings))
	assert.Equal(t, 1, d.Dispatch(context.Background(), 2, m, crossings))

	require.Len(t, n.sent, 1)
	assert.Equal(t, int64(2), n.sent[0].chatID)
	require.Len(t, rec.recs, 2)
	assert.False(t, rec.recs[0].Delivered)
	assert.Contains(t, rec.recs[0].Error, "blocked")
}

func TestDispatchRecoversNotifierPanic(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{Notifier: &fakeNotifier{panicky: true}})
	crossings := []Crossing{{Set: "bonding", Key: "bonding_50", Threshold: 50, Value: 60}}

	assert.NotPanics(t, func() {
		assert.Equal(t, 0, d.Dispatch(context.Background(), 1, models.TokenMetrics{}, crossings))
	})
}

func TestDispatchStopsOnCancelledContext(t *testing.T) {
	n := &fakeNotifier{}
	d := NewDispatcher(DispatcherOptions{Notifier: n})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, 0, d.Dispatch(ctx, 1, models.TokenMetrics{}, NewState().Fire(bondingSet, 99)))
	assert.Empty(t, n.sent)
}

func TestFormatAlert(t *testing.T) {
	m := models.TokenMetrics{TokenID: "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P", BondingProgressPct: 96.04, PriceUSD: 0.00012, MarketCapUSD: 120000}

	text := FormatAlert(m, Crossing{Metric: MetricBondingProgress, Key: "bonding_95", Threshold: 95}, fixedNow())
	assert.True(t, strings.HasPrefix(text, "🚨 *Bonding Curve Alert!*"))
	assert.Contains(t, text, "*96.0%* (threshold 95%)")
	assert.Contains(t, text, "$120,000")
	assert.Contains(t, text, "about to graduate")
	assert.Contains(t, text, "2025-01-02 03:04:05 UTC")

	text = FormatAlert(m, Crossing{Metric: MetricMarketCap, Key: "mcap_100000", Threshold: 100000}, fixedNow())
	assert.Contains(t, text, "Market Cap passed *$100,000*")
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "▓"+strings.Repeat("░", 20)+"▓", ProgressBar(0))
	assert.Equal(t, "▓"+strings.Repeat("█", 10)+strings.Repeat("░", 10)+"▓", ProgressBar(50))
	assert.Equal(t, "▓"+strings.Repeat("█", 20)+"▓", ProgressBar(140))
}

func TestFormatUSD(t *testing.T) {
	assert.Equal(t, "$0", FormatUSD(0))
	assert.Equal(t, "$999", FormatUSD(999))
	assert.Equal(t, "$1,000", FormatUSD(1000))
	assert.Equal(t, "$1,234,568", FormatUSD(1234567.8))
}
