package strategy

import (
	"math"

	"github.com/jhalpert/dunder_hedger/internal/models"
	"github.com/jhalpert/dunder_hedger/internal/util"
)

// strikeEpsilon tolerates float drift when matching the long leg's strike.
const strikeEpsilon = 0.001

// SpreadCandidate is an accepted short/long put pair with its nickel-
// rounded mid credit.
type SpreadCandidate struct {
	Short  OptionQuote
	Long   OptionQuote
	Credit float64
}

// SelectionStats counts what the scan saw. Callers log these for
// diagnosis; they never alter the selection.
type SelectionStats struct {
	Scanned     int
	Illiquid    int
	MissingLong int
	BelowMin    int
	AboveMax    int
	Accepted    int
}

// SelectSpread scans an option chain for put credit spreads of the given
// width whose mid credit lands inside [MinPremium, MaxPremium] and whose
// legs are liquid enough to trade. Among all accepted candidates it picks
// the one with the lowest short strike - the furthest out-of-the-money,
// the safest - not the first found and not the richest credit. Returns nil
// when nothing qualifies.
func SelectSpread(chain []OptionQuote, rules models.RuleSet) (*SpreadCandidate, SelectionStats) {
	var stats SelectionStats

	puts := make(map[float64]OptionQuote, len(chain))
	for _, q := range chain {
		if q.OptionType == models.OptionPut {
			puts[q.Strike] = q
		}
	}

	var best *SpreadCandidate
	for _, short := range puts {
		stats.Scanned++

		if !liquid(short, rules.MaxBidAskWidth) {
			stats.Illiquid++
			continue
		}

		long, ok := findStrike(puts, short.Strike-rules.SpreadWidth)
		if !ok {
			stats.MissingLong++
			continue
		}
		if !liquid(long, rules.MaxBidAskWidth) {
			stats.Illiquid++
			continue
		}

		credit := util.RoundToNickel(short.Mid() - long.Mid())
		switch {
		case credit < rules.MinPremium:
			stats.BelowMin++
		case credit > rules.MaxPremium:
			stats.AboveMax++
		default:
			stats.Accepted++
			if best == nil || short.Strike < best.Short.Strike {
				best = &SpreadCandidate{Short: short, Long: long, Credit: credit}
			}
		}
	}

	return best, stats
}

// liquid reports whether a quote is tradeable: both sides present and the
// bid/ask no wider than the cap.
func liquid(q OptionQuote, maxWidth float64) bool {
	if q.Bid <= 0 || q.Ask <= 0 {
		return false
	}
	return q.BidAskWidth() <= maxWidth
}

func findStrike(puts map[float64]OptionQuote, strike float64) (OptionQuote, bool) {
	if q, ok := puts[strike]; ok {
		return q, true
	}
	// Exact key miss: scan with epsilon for strikes that drifted in float
	// arithmetic (e.g. width subtraction).
	for k, q := range puts {
		if math.Abs(k-strike) < strikeEpsilon {
			return q, true
		}
	}
	return OptionQuote{}, false
}
