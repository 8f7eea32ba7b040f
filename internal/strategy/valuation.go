package strategy

import (
	"fmt"
	"time"
)

// SpreadValue is an immutable valuation of a two-leg put spread priced off
// live quotes: the credit at the touch, the margin it ties up, and return
// metrics. It keeps both raw quotes for display and order construction.
type SpreadValue struct {
	Short OptionQuote
	Long  OptionQuote

	NetPremium     float64 // short bid minus long ask, per share
	Margin         float64 // dollars per spread
	ReturnOnMargin float64
	DaysToExpiry   int
	ReturnPerDay   float64
}

// NewSpreadValue prices a short/long put pair as a credit spread. The
// premium is taken at the touch (short bid, long ask), the conservative
// fill assumption. A non-positive margin means the quotes are crossed or
// the legs are mispaired; that is the caller's validation failure, never
// something to divide through silently.
func NewSpreadValue(short, long OptionQuote, today time.Time) (*SpreadValue, error) {
	netPremium := short.Bid - long.Ask

	width := short.Strike - long.Strike
	if width < 0 {
		width = -width
	}
	margin := short.multiplier() * (width - netPremium)
	if margin <= 0 {
		return nil, fmt.Errorf("non-positive margin %.2f for %s/%s spread (width %.2f, premium %.2f)",
			margin, short.Symbol, long.Symbol, width, netPremium)
	}

	days := daysUntil(short.Expiration, today)
	if days < 1 {
		days = 1
	}

	rom := netPremium * short.multiplier() / margin
	return &SpreadValue{
		Short:          short,
		Long:           long,
		NetPremium:     netPremium,
		Margin:         margin,
		ReturnOnMargin: rom,
		DaysToExpiry:   days,
		ReturnPerDay:   rom / float64(days),
	}, nil
}

func daysUntil(expiration, today time.Time) int {
	exp := expiration.UTC().Truncate(24 * time.Hour)
	now := today.UTC().Truncate(24 * time.Hour)
	return int(exp.Sub(now).Hours() / 24)
}
