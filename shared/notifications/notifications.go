package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"curve-watch/shared/logger"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// messageSender is the part of *telego.Bot used for delivery.
type messageSender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

type Options struct {
	// MessagesPerSecond is the global send budget. Telegram allows about 30/s per bot.
	MessagesPerSecond float64
	Burst             int
	// OpsChatID receives forwarded Warn/Error log lines. 0 disables forwarding.
	OpsChatID int64
	Logger    *logger.Logger
}

// TelegramNotifier delivers Markdown messages through a telego bot. Each Send is a single attempt.
type TelegramNotifier struct {
	bot       messageSender
	limiter   *rate.Limiter
	opsChatID int64
	appLogger *logger.Logger
}

func NewTelegramNotifier(bot *telego.Bot, opts Options) *TelegramNotifier {
	return newNotifier(bot, opts)
}

func newNotifier(bot messageSender, opts Options) *TelegramNotifier {
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 25
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &TelegramNotifier{
		bot:       bot,
		limiter:   rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), opts.Burst),
		opsChatID: opts.OpsChatID,
		appLogger: opts.Logger,
	}
}

// Send delivers text to chatID. Failures are returned, not retried.
func (n *TelegramNotifier) Send(ctx context.Context, chatID int64, text string) error {
	if chatID == 0 {
		return fmt.Errorf("cannot send message: target chatID is 0")
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limiter: %w", err)
	}

	_, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text).WithParseMode(telego.ModeMarkdown))
	if err == nil {
		return nil
	}

	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode {
		case 403:
			n.appLogger.Zap().Warnw("Telegram refused delivery, user blocked the bot or left the chat", "chatID", chatID, "description", apiErr.Description)
		case 429:
			retryAfter := 0
			if apiErr.Parameters != nil {
				retryAfter = apiErr.Parameters.RetryAfter
			}
			n.appLogger.Zap().Warnw("Telegram rate limit hit, message dropped", "chatID", chatID, "retryAfter", retryAfter)
		}
		return fmt.Errorf("telegram API error %d: %s", apiErr.ErrorCode, apiErr.Description)
	}
	return fmt.Errorf("telegram send failed: %w", err)
}

// OpsSink returns a log sink forwarding to the ops chat, or nil when no ops chat is configured.
// Delivery is asynchronous and failures only reach the local log, never the sink again.
func (n *TelegramNotifier) OpsSink() logger.Sink {
	if n.opsChatID == 0 {
		return nil
	}
	return func(text string) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := n.Send(ctx, n.opsChatID, text); err != nil {
				n.appLogger.Zap().Errorw("Failed to forward log line to ops chat", zap.Error(err))
			}
		}()
	}
}

var markdownReplacer = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// EscapeMarkdown escapes text for Telegram's legacy Markdown parse mode.
func EscapeMarkdown(text string) string {
	return markdownReplacer.Replace(text)
}
