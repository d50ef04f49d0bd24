package alerts

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"curve-watch/agent/internal/models"
)

const progressBarSegments = 20

// ProgressBar renders pct as a 20 segment bar.
func ProgressBar(pct float64) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / (100 / progressBarSegments))
	return "▓" + strings.Repeat("█", filled) + strings.Repeat("░", progressBarSegments-filled) + "▓"
}

// FormatUSD renders v with thousands separators and no decimals.
func FormatUSD(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%.0f", v)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-$" + b.String()
	}
	return "$" + b.String()
}

// GraduationNote returns the graduation line for a progress value, or "".
func GraduationNote(pct float64) string {
	switch {
	case pct >= 100:
		return "🎓 *Token has graduated to Raydium!*"
	case pct >= 95:
		return "🚨 *Token is about to graduate!*"
	}
	return ""
}

// FormatAlert builds the Markdown notification for one crossing.
func FormatAlert(m models.TokenMetrics, c Crossing, now time.Time) string {
	var b strings.Builder

	switch c.Metric {
	case MetricMarketCap:
		b.WriteString("🚨 *Market Cap Alert!*\n\n")
		fmt.Fprintf(&b, "Token: `%s`\n", m.TokenID)
		fmt.Fprintf(&b, "📊 Market Cap passed *%s*: %s\n", FormatUSD(c.Threshold), FormatUSD(m.MarketCapUSD))
		fmt.Fprintf(&b, "💰 Price: $%.8f\n", m.PriceUSD)
		fmt.Fprintf(&b, "📈 Bonding: %.1f%%\n", m.BondingProgressPct)
	default:
		b.WriteString("🚨 *Bonding Curve Alert!*\n\n")
		fmt.Fprintf(&b, "Token: `%s`\n", m.TokenID)
		fmt.Fprintf(&b, "📈 Bonding Progress: *%.1f%%* (threshold %s%%)\n", m.BondingProgressPct, trimFloat(c.Threshold))
		fmt.Fprintf(&b, "%s\n", ProgressBar(m.BondingProgressPct))
		fmt.Fprintf(&b, "💰 Price: $%.8f\n", m.PriceUSD)
		fmt.Fprintf(&b, "📊 Market Cap: %s\n", FormatUSD(m.MarketCapUSD))
		if note := GraduationNote(m.BondingProgressPct); note != "" {
			b.WriteString(note + "\n")
		}
	}

	fmt.Fprintf(&b, "⏰ %s", now.UTC().Format("2006-01-02 15:04:05 UTC"))
	return b.String()
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
