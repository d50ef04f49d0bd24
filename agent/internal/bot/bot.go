package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"curve-watch/agent/internal/models"
	"curve-watch/agent/internal/monitor"
	"curve-watch/shared/logger"

	"github.com/mymmrac/telego"
	"go.uber.org/zap"
)

// Updates fan out over a fixed set of lanes keyed by chat, so commands from one
// chat run in the order they were sent.
const (
	laneCount  = 16
	laneBuffer = 8
)

// Monitor is the subscription core the commands drive.
type Monitor interface {
	Subscribe(user models.UserID, token models.TokenID) (bool, error)
	Unsubscribe(user models.UserID, token models.TokenID) bool
	ListSubscriptions(user models.UserID) []models.TokenID
	Snapshot(token models.TokenID) (models.TokenMetrics, bool)
	Status(ctx context.Context, token models.TokenID) (models.TokenMetrics, error)
	ListTrending(ctx context.Context, minPct, maxPct float64, limit int) ([]models.TokenSummary, error)
	ListGraduating(ctx context.Context, minPct float64, limit int) ([]models.TokenSummary, error)
}

// Replier sends a Markdown reply to a chat.
type Replier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

type Options struct {
	Monitor       Monitor
	Replier       Replier
	Logger        *logger.Logger
	ListLimit     int
	TrendingMin   float64
	TrendingMax   float64
	GraduatingMin float64
	Now           func() time.Time
}

// Bot answers chat commands. The chat ID doubles as the subscribing user.
type Bot struct {
	monitor       Monitor
	replier       Replier
	appLogger     *logger.Logger
	listLimit     int
	trendingMin   float64
	trendingMax   float64
	graduatingMin float64
	now           func() time.Time
}

func New(opts Options) *Bot {
	b := &Bot{
		monitor:       opts.Monitor,
		replier:       opts.Replier,
		appLogger:     opts.Logger,
		listLimit:     opts.ListLimit,
		trendingMin:   opts.TrendingMin,
		trendingMax:   opts.TrendingMax,
		graduatingMin: opts.GraduatingMin,
		now:           opts.Now,
	}
	if b.appLogger == nil {
		b.appLogger = logger.NewNop()
	}
	if b.listLimit <= 0 {
		b.listLimit = monitor.DefaultListLimit
	}
	if b.trendingMin == 0 && b.trendingMax == 0 {
		b.trendingMin, b.trendingMax = monitor.DefaultTrendingMin, monitor.DefaultTrendingMax
	}
	if b.graduatingMin <= 0 {
		b.graduatingMin = monitor.GraduatingThreshold
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// Listen long-polls tg for updates until ctx is cancelled. In-flight commands finish before it returns;
// commands still queued at that point are dropped.
func (b *Bot) Listen(ctx context.Context, tg *telego.Bot) error {
	updates, err := tg.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}
	b.appLogger.Info("Listening for Telegram commands...")
	return b.consume(ctx, updates)
}

func (b *Bot) consume(ctx context.Context, updates <-chan telego.Update) error {
	var wg sync.WaitGroup
	lanes := make([]chan telego.Update, laneCount)
	for i := range lanes {
		lanes[i] = make(chan telego.Update, laneBuffer)
		wg.Add(1)
		go func(lane <-chan telego.Update) {
			defer wg.Done()
			for update := range lane {
				// Queued updates are dropped once shutdown starts.
				if ctx.Err() != nil {
					continue
				}
				b.HandleUpdate(ctx, update)
			}
		}(lanes[i])
	}
	defer func() {
		for _, lane := range lanes {
			close(lane)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			b.appLogger.Info("Context cancelled. Stopping Telegram listener.")
			return nil
		case update, ok := <-updates:
			if !ok {
				b.appLogger.Info("Update channel closed. Stopping Telegram listener.")
				return nil
			}
			select {
			case lanes[laneFor(update, len(lanes))] <- update:
			case <-ctx.Done():
				b.appLogger.Info("Context cancelled. Stopping Telegram listener.")
				return nil
			}
		}
	}
}

func laneFor(update telego.Update, n int) int {
	var chatID int64
	if update.Message != nil {
		chatID = update.Message.Chat.ID
	}
	return int(uint64(chatID) % uint64(n))
}

// HandleUpdate runs the command carried by update, if any.
func (b *Bot) HandleUpdate(ctx context.Context, update telego.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return
	}
	cmd, ok := ParseCommand(msg.Text)
	if !ok {
		return
	}

	from := ""
	if msg.From != nil {
		from = msg.From.Username
	}
	b.appLogger.Zap().Debugw("Received command message",
		"chatID", msg.Chat.ID,
		"fromUser", from,
		"text", msg.Text,
	)
	b.HandleCommand(ctx, msg.Chat.ID, cmd)
}

// Command is a parsed "/name arg..." message.
type Command struct {
	Name string
	Args []string
}

// Arg returns the i-th argument or "".
func (c Command) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// ParseCommand splits "/monitor@SomeBot addr" into name "monitor" and its arguments.
func ParseCommand(text string) (Command, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{}, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(name), Args: fields[1:]}, true
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if b.replier == nil {
		b.appLogger.Error("Cannot send reply, no replier configured", zap.Int64("chatID", chatID))
		return
	}
	if err := b.replier.Send(ctx, chatID, text); err != nil {
		b.appLogger.Error("Failed to send reply message", zap.Error(err), zap.Int64("chatID", chatID))
	}
}
