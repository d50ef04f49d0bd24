package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"curve-watch/agent/internal/alerts"
	"curve-watch/agent/internal/models"
	"curve-watch/shared/notifications"
)

const exampleToken = "2Z4FzKBcw48KBD2PaR4wtxo4sYGbS7QqTQCLoQnUpump"

const helpText = `🎯 *Solana Bonding Curve Monitor Bot*

Tracks bonding curve progress and market cap of Pump.fun tokens and alerts you when thresholds are crossed.

*Available Commands:*
• ` + "`/monitor <token_address>`" + ` - Start monitoring a token
• ` + "`/unmonitor <token_address>`" + ` - Stop monitoring a token
• ` + "`/status <token_address>`" + ` - Get current token status
• ` + "`/list`" + ` - Show your monitored tokens
• ` + "`/trending`" + ` - Show trending tokens by market cap
• ` + "`/graduating`" + ` - Show tokens about to graduate
• ` + "`/help`" + ` - Show this help message

Example: ` + "`/monitor " + exampleToken + "`"

// FormatStatus renders the full status card of one token.
func FormatStatus(m models.TokenMetrics, now time.Time) string {
	var b strings.Builder
	b.WriteString("📊 *Token Status*\n\n")
	fmt.Fprintf(&b, "🏷️ Address: `%s`\n\n", m.TokenID)

	if m.HasPrice {
		fmt.Fprintf(&b, "📛 *%s*\n", displayName(m.Name, m.Symbol))
		fmt.Fprintf(&b, "💰 Price: $%.8f\n", m.PriceUSD)
		fmt.Fprintf(&b, "🪙 Price (SOL): %.8f\n", m.PriceNative)
		fmt.Fprintf(&b, "📊 Market Cap: %s\n\n", alerts.FormatUSD(m.MarketCapUSD))
	}

	if m.HasReserves {
		fmt.Fprintf(&b, "📈 *Bonding Curve Progress: %.1f%%*\n", m.BondingProgressPct)
		fmt.Fprintf(&b, "🏦 Token Balance: %s\n", groupThousands(strconv.FormatUint(m.BaseReserve, 10)))
		fmt.Fprintf(&b, "💧 SOL Liquidity: %.2f\n", m.QuoteReserve)
		fmt.Fprintf(&b, "%s %.1f%%\n\n", alerts.ProgressBar(m.BondingProgressPct), m.BondingProgressPct)
		if note := alerts.GraduationNote(m.BondingProgressPct); note != "" {
			b.WriteString(note + "\n")
		}
	}

	if !m.HasPrice && !m.HasReserves {
		b.WriteString("❌ No data available for this token.\n")
	}

	fmt.Fprintf(&b, "\n⏰ %s", now.UTC().Format("2006-01-02 15:04:05 UTC"))
	return b.String()
}

// FormatList renders a user's subscriptions with whatever snapshot each token has.
func FormatList(tokens []models.TokenID, snapshot func(models.TokenID) (models.TokenMetrics, bool)) string {
	var b strings.Builder
	b.WriteString("📝 *Your Monitored Tokens:*\n\n")
	for i, t := range tokens {
		fmt.Fprintf(&b, "%d. `%s`\n", i+1, t.Short())
		m, ok := snapshot(t)
		if !ok {
			b.WriteString("   ⏳ Loading data...\n\n")
			continue
		}
		fmt.Fprintf(&b, "   💰 Price: $%.8f\n", m.PriceUSD)
		fmt.Fprintf(&b, "   📊 Market Cap: %s\n", alerts.FormatUSD(m.MarketCapUSD))
		fmt.Fprintf(&b, "   📈 Bonding: %.1f%%\n\n", m.BondingProgressPct)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatSummaries renders a ranked token list under title.
func FormatSummaries(title string, items []models.TokenSummary) string {
	var b strings.Builder
	b.WriteString(title + "\n\n")
	for i, s := range items {
		fmt.Fprintf(&b, "%d. *%s*\n", i+1, displayName(s.Name, s.Symbol))
		fmt.Fprintf(&b, "   🏷️ `%s`\n", s.TokenID.Short())
		fmt.Fprintf(&b, "   📈 Bonding: %.1f%%\n", s.BondingProgressPct)
		fmt.Fprintf(&b, "   💰 $%.8f\n", s.PriceUSD)
		fmt.Fprintf(&b, "   📊 %s\n\n", alerts.FormatUSD(s.MarketCapUSD))
	}
	return strings.TrimRight(b.String(), "\n")
}

func displayName(name, symbol string) string {
	if name == "" {
		name = "Unknown"
	}
	if symbol == "" {
		symbol = "Unknown"
	}
	return notifications.EscapeMarkdown(fmt.Sprintf("%s (%s)", name, symbol))
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func trimPct(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
