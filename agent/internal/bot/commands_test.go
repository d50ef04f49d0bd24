package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"curve-watch/agent/internal/models"
	"curve-watch/agent/internal/monitor"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenA = models.TokenID("2Z4FzKBcw48KBD2PaR4wtxo4sYGbS7QqTQCLoQnUpump")

type fakeMonitor struct {
	mu          sync.Mutex
	subs        map[models.UserID]map[models.TokenID]bool
	snapshots   map[models.TokenID]models.TokenMetrics
	statusErr   error
	subErr      error
	listErr     error
	summaries   []models.TokenSummary
	statusCalls int
	lastRange   [2]float64
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{
		subs:      make(map[models.UserID]map[models.TokenID]bool),
		snapshots: make(map[models.TokenID]models.TokenMetrics),
	}
}

func (f *fakeMonitor) Subscribe(user models.UserID, token models.TokenID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return false, f.subErr
	}
	if f.subs[user] == nil {
		f.subs[user] = make(map[models.TokenID]bool)
	}
	if f.subs[user][token] {
		return false, nil
	}
	f.subs[user][token] = true
	return true, nil
}

func (f *fakeMonitor) Unsubscribe(user models.UserID, token models.TokenID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.subs[user][token] {
		return false
	}
	delete(f.subs[user], token)
	return true
}

func (f *fakeMonitor) ListSubscriptions(user models.UserID) []models.TokenID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.TokenID
	for t := range f.subs[user] {
		out = append(out, t)
	}
	return out
}

func (f *fakeMonitor) Snapshot(token models.TokenID) (models.TokenMetrics, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.snapshots[token]
	return m, ok
}

func (f *fakeMonitor) Status(_ context.Context, token models.TokenID) (models.TokenMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return models.TokenMetrics{}, f.statusErr
	}
	m, ok := f.snapshots[token]
	if !ok {
		return models.TokenMetrics{}, models.ErrNoData
	}
	return m, nil
}

func (f *fakeMonitor) ListTrending(_ context.Context, minPct, maxPct float64, _ int) ([]models.TokenSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRange = [2]float64{minPct, maxPct}
	return f.summaries, f.listErr
}

func (f *fakeMonitor) ListGraduating(_ context.Context, minPct float64, _ int) ([]models.TokenSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRange = [2]float64{minPct, 100}
	return f.summaries, f.listErr
}

type sentMessage struct {
	chatID int64
	text   string
}

type fakeReplier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *fakeReplier) Send(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{chatID, text})
	return nil
}

func (r *fakeReplier) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, m := range r.sent {
		out[i] = m.text
	}
	return out
}

func newTestBot(m *fakeMonitor) (*Bot, *fakeReplier) {
	r := &fakeReplier{}
	b := New(Options{
		Monitor: m,
		Replier: r,
		Now:     func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
	return b, r
}

func run(b *Bot, chatID int64, text string) {
	cmd, ok := ParseCommand(text)
	if !ok {
		panic("not a command: " + text)
	}
	b.HandleCommand(context.Background(), chatID, cmd)
}

func TestParseCommand(t *testing.T) {
	cmd, ok := ParseCommand("/Monitor@CurveBot  abc  def")
	require.True(t, ok)
	assert.Equal(t, "monitor", cmd.Name)
	assert.Equal(t, []string{"abc", "def"}, cmd.Args)
	assert.Equal(t, "abc", cmd.Arg(0))
	assert.Equal(t, "", cmd.Arg(5))

	_, ok = ParseCommand("hello /monitor")
	assert.False(t, ok)
	_, ok = ParseCommand("/")
	assert.False(t, ok)
	_, ok = ParseCommand("   ")
	assert.False(t, ok)
}

func TestMonitorCommand(t *testing.T) {
	m := newFakeMonitor()
	m.snapshots[tokenA] = models.TokenMetrics{TokenID: tokenA, HasReserves: true, BondingProgressPct: 63}
	b, r := newTestBot(m)

	run(b, 42, "/monitor "+tokenA.String())

	texts := r.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "Starting to monitor token")
	assert.Contains(t, texts[1], "Bonding Curve Progress: 63.0%")
	assert.True(t, m.subs[42][tokenA])

	run(b, 42, "/monitor "+tokenA.String())
	assert.Contains(t, r.texts()[2], "already monitoring")
}

func TestMonitorRejectsInvalidAddress(t *testing.T) {
	m := newFakeMonitor()
	b, r := newTestBot(m)

	run(b, 1, "/monitor short")
	run(b, 1, "/monitor")

	texts := r.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "Invalid token address")
	assert.Contains(t, texts[1], "Usage: `/monitor <token_address>`")
	assert.Empty(t, m.subs)
	assert.Zero(t, m.statusCalls)
}

func TestMonitorWhileClosed(t *testing.T) {
	m := newFakeMonitor()
	m.subErr = monitor.ErrClosed
	b, r := newTestBot(m)

	run(b, 1, "/monitor "+tokenA.String())
	require.Len(t, r.texts(), 1)
	assert.Contains(t, r.texts()[0], "shutting down")
}

func TestMonitorWithoutData(t *testing.T) {
	m := newFakeMonitor()
	b, r := newTestBot(m)

	run(b, 1, "/monitor "+tokenA.String())
	texts := r.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[1], "Could not fetch data")
}

func TestUnmonitorCommand(t *testing.T) {
	m := newFakeMonitor()
	b, r := newTestBot(m)

	run(b, 7, "/unmonitor "+tokenA.String())
	run(b, 7, "/monitor "+tokenA.String())
	run(b, 7, "/unmonitor "+tokenA.String())

	texts := r.texts()
	assert.Contains(t, texts[0], "You are not monitoring")
	assert.Contains(t, texts[len(texts)-1], "Stopped monitoring")
	assert.False(t, m.subs[7][tokenA])
}

func TestStatusCommandError(t *testing.T) {
	m := newFakeMonitor()
	m.statusErr = errors.New("provider down")
	b, r := newTestBot(m)

	run(b, 1, "/status "+tokenA.String())
	texts := r.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "Fetching status")
	assert.Contains(t, texts[1], "provider down")
}

func TestListCommand(t *testing.T) {
	m := newFakeMonitor()
	b, r := newTestBot(m)

	run(b, 3, "/list")
	assert.Equal(t, "📝 You are not monitoring any tokens.", r.texts()[0])

	m.subs[3] = map[models.TokenID]bool{tokenA: true}
	run(b, 3, "/list")
	assert.Contains(t, r.texts()[1], "Loading data")

	m.snapshots[tokenA] = models.TokenMetrics{TokenID: tokenA, PriceUSD: 0.00005, MarketCapUSD: 50000, BondingProgressPct: 40}
	run(b, 3, "/list")
	assert.Contains(t, r.texts()[2], "$50,000")
	assert.Contains(t, r.texts()[2], "40.0%")
}

func TestTrendingAndGraduating(t *testing.T) {
	m := newFakeMonitor()
	b, r := newTestBot(m)

	run(b, 1, "/trending")
	assert.Contains(t, r.texts()[0], "No trending tokens")
	assert.Equal(t, [2]float64{monitor.DefaultTrendingMin, monitor.DefaultTrendingMax}, m.lastRange)

	m.summaries = []models.TokenSummary{{TokenID: tokenA, Name: "Cat_Coin", Symbol: "CAT", MarketCapUSD: 123456, BondingProgressPct: 97}}
	run(b, 1, "/graduating")
	text := r.texts()[1]
	assert.Contains(t, text, "95%+")
	assert.Contains(t, text, `Cat\_Coin (CAT)`)
	assert.Contains(t, text, "$123,456")

	m.listErr = errors.New("bitquery 500")
	run(b, 1, "/trending")
	assert.Contains(t, r.texts()[2], "Error fetching trending tokens")
}

func TestUnknownCommand(t *testing.T) {
	b, r := newTestBot(newFakeMonitor())
	run(b, 1, "/foo_bar")
	assert.Contains(t, r.texts()[0], `Unknown command: /foo\_bar`)
}

func TestConsumeHandlesUpdatesUntilClosed(t *testing.T) {
	m := newFakeMonitor()
	b, r := newTestBot(m)

	updates := make(chan telego.Update, 3)
	updates <- telego.Update{Message: &telego.Message{Chat: telego.Chat{ID: 5}, Text: "/help"}}
	updates <- telego.Update{Message: &telego.Message{Chat: telego.Chat{ID: 5}, Text: "just chatting"}}
	updates <- telego.Update{}
	close(updates)

	require.NoError(t, b.consume(context.Background(), updates))
	texts := r.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Available Commands")
}

func TestConsumeStopsOnCancel(t *testing.T) {
	b, _ := newTestBot(newFakeMonitor())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- b.consume(ctx, make(chan telego.Update)) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consume did not return after cancel")
	}
}

func TestConsumeKeepsPerChatOrder(t *testing.T) {
	b, r := newTestBot(newFakeMonitor())

	const n = 40
	updates := make(chan telego.Update, 2*n)
	for i := 0; i < n; i++ {
		updates <- telego.Update{Message: &telego.Message{Chat: telego.Chat{ID: 7}, Text: fmt.Sprintf("/cmd%d", i)}}
		updates <- telego.Update{Message: &telego.Message{Chat: telego.Chat{ID: int64(100 + i)}, Text: "/help"}}
	}
	close(updates)

	require.NoError(t, b.consume(context.Background(), updates))

	r.mu.Lock()
	defer r.mu.Unlock()
	var chat7 []string
	for _, m := range r.sent {
		if m.chatID == 7 {
			chat7 = append(chat7, m.text)
		}
	}
	require.Len(t, chat7, n)
	for i, text := range chat7 {
		assert.True(t, strings.Contains(text, fmt.Sprintf("/cmd%d\n", i)), "reply %d out of order: %q", i, text)
	}
	assert.Len(t, r.sent, 2*n)
}

func TestConsumeSubscribeThenUnsubscribeInOrder(t *testing.T) {
	m := newFakeMonitor()
	b, _ := newTestBot(m)

	updates := make(chan telego.Update, 2)
	updates <- telego.Update{Message: &telego.Message{Chat: telego.Chat{ID: 9}, Text: "/monitor " + string(tokenA)}}
	updates <- telego.Update{Message: &telego.Message{Chat: telego.Chat{ID: 9}, Text: "/unmonitor " + string(tokenA)}}
	close(updates)

	require.NoError(t, b.consume(context.Background(), updates))
	assert.Empty(t, m.ListSubscriptions(9))
}

type stallingReplier struct {
	calls atomic.Int64
}

func (r *stallingReplier) Send(ctx context.Context, _ int64, _ string) error {
	r.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestConsumeStopsOnCancelWithBusyChat(t *testing.T) {
	stall := &stallingReplier{}
	b := New(Options{Monitor: newFakeMonitor(), Replier: stall})

	updates := make(chan telego.Update, 4*laneBuffer)
	for i := 0; i < cap(updates); i++ {
		updates <- telego.Update{Message: &telego.Message{Chat: telego.Chat{ID: 3}, Text: "/help"}}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.consume(ctx, updates) }()

	require.Eventually(t, func() bool { return stall.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consume did not return after cancel")
	}
	assert.Equal(t, int64(1), stall.calls.Load())
}
