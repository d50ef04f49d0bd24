package bot

import (
	"context"
	"errors"
	"fmt"

	"curve-watch/agent/internal/models"
	"curve-watch/agent/internal/monitor"
	"curve-watch/shared/notifications"

	"go.uber.org/zap"
)

// HandleCommand executes cmd on behalf of chatID and replies there.
func (b *Bot) HandleCommand(ctx context.Context, chatID int64, cmd Command) {
	b.appLogger.Info("Processing command",
		zap.String("command", cmd.Name),
		zap.Strings("args", cmd.Args),
		zap.Int64("chatID", chatID),
	)
	user := models.UserID(chatID)

	switch cmd.Name {
	case "start", "help":
		b.reply(ctx, chatID, helpText)
	case "monitor":
		b.handleMonitor(ctx, user, cmd)
	case "unmonitor":
		b.handleUnmonitor(ctx, user, cmd)
	case "status":
		b.handleStatus(ctx, user, cmd)
	case "list":
		b.handleList(ctx, user)
	case "trending":
		b.handleTrending(ctx, user)
	case "graduating":
		b.handleGraduating(ctx, user)
	default:
		b.appLogger.Warn("Unknown command received", zap.String("command", cmd.Name))
		b.reply(ctx, chatID, fmt.Sprintf("❓ Unknown command: /%s\nSend /help for the command list.", notifications.EscapeMarkdown(cmd.Name)))
	}
}

// tokenArg validates the first argument, replying with usage or a validation error when it is unusable.
func (b *Bot) tokenArg(ctx context.Context, user models.UserID, cmd Command) (models.TokenID, bool) {
	raw := cmd.Arg(0)
	if raw == "" {
		b.reply(ctx, int64(user), fmt.Sprintf("❌ Please provide a token address.\nUsage: `/%s <token_address>`\n\nExample: `/%s %s`", cmd.Name, cmd.Name, exampleToken))
		return "", false
	}
	token, err := models.ParseTokenID(raw)
	if err != nil {
		b.appLogger.Warn("Rejected token address", zap.String("command", cmd.Name), zap.Error(err))
		b.reply(ctx, int64(user), "❌ Invalid token address format. Please provide a valid Solana token address.")
		return "", false
	}
	return token, true
}

func (b *Bot) handleMonitor(ctx context.Context, user models.UserID, cmd Command) {
	token, ok := b.tokenArg(ctx, user, cmd)
	if !ok {
		return
	}

	added, err := b.monitor.Subscribe(user, token)
	switch {
	case errors.Is(err, monitor.ErrClosed):
		b.reply(ctx, int64(user), "⚠️ The monitor is shutting down. Please try again later.")
		return
	case err != nil:
		b.appLogger.Error("Subscribe failed", zap.String("tokenAddress", token.String()), zap.Error(err))
		b.reply(ctx, int64(user), "❌ Error starting monitoring.")
		return
	case !added:
		b.reply(ctx, int64(user), fmt.Sprintf("ℹ️ You are already monitoring `%s`.", token))
		return
	}

	b.reply(ctx, int64(user), fmt.Sprintf("🔄 Starting to monitor token: `%s`", token))
	b.sendStatus(ctx, user, token, "⚠️")
}

func (b *Bot) handleUnmonitor(ctx context.Context, user models.UserID, cmd Command) {
	token, ok := b.tokenArg(ctx, user, cmd)
	if !ok {
		return
	}
	if b.monitor.Unsubscribe(user, token) {
		b.reply(ctx, int64(user), fmt.Sprintf("✅ Stopped monitoring token: `%s`", token))
		return
	}
	b.reply(ctx, int64(user), fmt.Sprintf("❌ You are not monitoring token: `%s`", token))
}

func (b *Bot) handleStatus(ctx context.Context, user models.UserID, cmd Command) {
	token, ok := b.tokenArg(ctx, user, cmd)
	if !ok {
		return
	}
	b.reply(ctx, int64(user), fmt.Sprintf("🔄 Fetching status for `%s`...", token))
	b.sendStatus(ctx, user, token, "❌")
}

func (b *Bot) sendStatus(ctx context.Context, user models.UserID, token models.TokenID, missingIcon string) {
	m, err := b.monitor.Status(ctx, token)
	switch {
	case errors.Is(err, models.ErrNoData):
		b.reply(ctx, int64(user), fmt.Sprintf("%s Could not fetch data for token `%s`.\nMake sure it's a valid Pump.fun token address.", missingIcon, token))
	case err != nil:
		b.appLogger.Error("Status fetch failed", zap.String("tokenAddress", token.String()), zap.Error(err))
		b.reply(ctx, int64(user), "❌ Error fetching status: "+notifications.EscapeMarkdown(err.Error()))
	default:
		b.reply(ctx, int64(user), FormatStatus(m, b.now()))
	}
}

func (b *Bot) handleList(ctx context.Context, user models.UserID) {
	tokens := b.monitor.ListSubscriptions(user)
	if len(tokens) == 0 {
		b.reply(ctx, int64(user), "📝 You are not monitoring any tokens.")
		return
	}
	b.reply(ctx, int64(user), FormatList(tokens, b.monitor.Snapshot))
}

func (b *Bot) handleTrending(ctx context.Context, user models.UserID) {
	items, err := b.monitor.ListTrending(ctx, b.trendingMin, b.trendingMax, b.listLimit)
	if err != nil {
		b.appLogger.Error("Trending lookup failed", zap.Error(err))
		b.reply(ctx, int64(user), "❌ Error fetching trending tokens: "+notifications.EscapeMarkdown(err.Error()))
		return
	}
	if len(items) == 0 {
		b.reply(ctx, int64(user), "📊 No trending tokens found at the moment.")
		return
	}
	b.reply(ctx, int64(user), FormatSummaries("📈 *Trending Tokens (by Market Cap):*", items))
}

func (b *Bot) handleGraduating(ctx context.Context, user models.UserID) {
	items, err := b.monitor.ListGraduating(ctx, b.graduatingMin, b.listLimit)
	if err != nil {
		b.appLogger.Error("Graduating lookup failed", zap.Error(err))
		b.reply(ctx, int64(user), "❌ Error fetching graduating tokens: "+notifications.EscapeMarkdown(err.Error()))
		return
	}
	if len(items) == 0 {
		b.reply(ctx, int64(user), "🎓 No tokens about to graduate found at the moment.")
		return
	}
	title := fmt.Sprintf("🎓 *Tokens About to Graduate (%s%%+ Bonding Curve):*", trimPct(b.graduatingMin))
	b.reply(ctx, int64(user), FormatSummaries(title, items))
}
