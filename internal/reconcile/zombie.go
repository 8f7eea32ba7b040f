// Package reconcile diffs internally-tracked open trades against the
// broker's reported holdings to find zombies: trades the system believes
// are open while the broker no longer holds any of their legs. The broker
// dropping every leg of a trade means it expired or was closed outside
// the system, not a data glitch, so zombies are flagged for settlement at
// deterministic worst-case economics rather than auto-closed with a
// guessed price.
package reconcile

import (
	"fmt"

	"github.com/jhalpert/dunder_hedger/internal/models"
)

// Zombie pairs a detected trade with its worst-case settlement plan. The
// orchestrator books the settlement and flags the trade; a human corrects
// the economics later if reality was kinder.
type Zombie struct {
	Trade      *models.Trade
	Settlement Settlement
}

// Settlement is the deterministic worst-case booking for a zombie trade.
type Settlement struct {
	// Debit is the total dollars charged against the trade when settling.
	// Income spreads settle at full strike-width debit (max loss); hedges
	// settle at zero (expired worthless).
	Debit  float64
	Reason string
}

// settleReason is the exit reason recorded on zombie-settled trades so
// audits can find them.
const settleReason = "zombie_settlement"

// FindZombies scans a cycle's OPEN trades against the broker's currently
// held symbols. A trade is a zombie if it has zero legs, or if none of
// its legs' broker symbols appear in the snapshot. A trade with at least
// one leg still held is left alone.
func FindZombies(cycle *models.Cycle, heldSymbols map[string]bool) []Zombie {
	var zombies []Zombie
	for i := range cycle.Trades {
		t := &cycle.Trades[i]
		if t.Status != models.TradeOpen {
			continue
		}
		if isZombie(t, heldSymbols) {
			zombies = append(zombies, Zombie{Trade: t, Settlement: WorstCaseSettlement(t)})
		}
	}
	return zombies
}

func isZombie(t *models.Trade, heldSymbols map[string]bool) bool {
	if len(t.Legs) == 0 {
		return true
	}
	for i := range t.Legs {
		if heldSymbols[t.Legs[i].Symbol] {
			return false
		}
	}
	return true
}

// WorstCaseSettlement computes the conservative booking for a zombie:
// income spreads are assumed assigned at max loss (width x multiplier x
// quantity), hedges are assumed expired worthless. The pessimistic bias
// is intentional - it forces a human to correct an overstated loss rather
// than letting the system silently overstate profit.
func WorstCaseSettlement(t *models.Trade) Settlement {
	switch t.Role {
	case models.RoleIncome:
		debit := t.SpreadWidth() * models.SharesPerContract * float64(t.Quantity())
		return Settlement{
			Debit:  debit,
			Reason: fmt.Sprintf("%s: income spread assumed assigned at max loss", settleReason),
		}
	default:
		return Settlement{
			Debit:  0,
			Reason: fmt.Sprintf("%s: hedge assumed expired worthless", settleReason),
		}
	}
}

// HeldSymbolSet converts a list of broker position symbols into the set
// form FindZombies consumes.
func HeldSymbolSet(symbols []string) map[string]bool {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}
	return set
}
