package strategy

import (
	"sort"

	"github.com/jhalpert/dunder_hedger/internal/models"
)

// FindRoll scans for a replacement short strike that pays for closing the
// current spread: a "down and out" roll to a safer strike funded by the
// new credit.
//
// Candidate short strikes are walked in descending order, strictly below
// the current short strike. Each candidate's credit is taken at the touch
// (short bid minus long ask at strike - width). A candidate is valid when
// its credit covers costToClose. Premium is assumed to fall monotonically
// as strike decreases, so the scan keeps moving lower while candidates
// stay valid and stops at the first failure after a valid candidate has
// been seen - credit only gets worse from there. The result is the
// lowest-strike valid pair, or nil when nothing pays for itself.
func FindRoll(chain []OptionQuote, currentShort, costToClose float64, rules models.RuleSet) *SpreadCandidate {
	puts := make(map[float64]OptionQuote, len(chain))
	strikes := make([]float64, 0, len(chain))
	for _, q := range chain {
		if q.OptionType != models.OptionPut {
			continue
		}
		if _, seen := puts[q.Strike]; !seen {
			strikes = append(strikes, q.Strike)
		}
		puts[q.Strike] = q
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(strikes)))

	var best *SpreadCandidate
	for _, strike := range strikes {
		if strike >= currentShort {
			continue
		}

		short := puts[strike]
		long, ok := findStrike(puts, strike-rules.SpreadWidth)
		if !ok {
			continue
		}

		credit := short.Bid - long.Ask
		if credit >= costToClose {
			best = &SpreadCandidate{Short: short, Long: long, Credit: credit}
			continue
		}
		if best != nil {
			break
		}
	}
	return best
}
