package strategy

import (
	"fmt"
	"math"
)

// CycleState is the single classification the policy engine produces for
// one cycle on one tick. The orchestrator maps each state to a broker
// action; the engine itself never mutates anything.
type CycleState string

const (
	// StatePanicHarvest is an emergency full liquidation: the underlying
	// dropped hard and the hedge's gain plus income losses cleared the
	// panic threshold.
	StatePanicHarvest CycleState = "PANIC_HARVEST"
	// StateRollRequired means an income spread's cost to close reached
	// its roll trigger.
	StateRollRequired CycleState = "ROLL_REQUIRED"
	// StateNakedHedgeHarvest means the hedge is profitable with no income
	// spreads on, and the profit beats the theta bleed of holding it.
	StateNakedHedgeHarvest CycleState = "NAKED_HEDGE_HARVEST"
	// StateHedgeAdjustmentNeeded means the hedge drifted outside its DTE
	// or delta bounds and should be rolled.
	StateHedgeAdjustmentNeeded CycleState = "HEDGE_ADJUSTMENT_NEEDED"
	// StateHarvestTargetHit means an income spread can be closed at or
	// below its profit target.
	StateHarvestTargetHit CycleState = "HARVEST_TARGET_HIT"
	// StateHedgeMissing means the cycle has no open hedge.
	StateHedgeMissing CycleState = "HEDGE_MISSING"
	// StateSpreadMissing means the entry window is open and no income
	// spread has been entered today.
	StateSpreadMissing CycleState = "SPREAD_MISSING"
	// StateIdle means nothing needs doing this tick.
	StateIdle CycleState = "IDLE"
)

// PolicyDecision is the classification plus the diagnostic trail of every
// check the engine evaluated, in priority order. The orchestrator decides
// how and whether to log it.
type PolicyDecision struct {
	State       CycleState
	Reason      string
	Diagnostics []string
}

// DetermineCycleState maps one cycle snapshot to exactly one state label,
// evaluated in fixed priority order, first true wins. Every check is a
// pure function of the snapshot; the dispatch never reorders or
// short-circuits differently under any rule configuration.
func DetermineCycleState(snap CycleSnapshot) PolicyDecision {
	checks := []struct {
		state CycleState
		fn    func(CycleSnapshot) (bool, string)
	}{
		{StatePanicHarvest, checkPanicHarvest},
		{StateRollRequired, checkRollRequired},
		{StateNakedHedgeHarvest, checkNakedHedgeHarvest},
		{StateHedgeAdjustmentNeeded, checkHedgeAdjustment},
		{StateHarvestTargetHit, checkHarvestTarget},
		{StateHedgeMissing, checkHedgeMissing},
		{StateSpreadMissing, checkSpreadMissing},
	}

	var diags []string
	for _, c := range checks {
		hit, detail := c.fn(snap)
		diags = append(diags, fmt.Sprintf("%s: hit=%t %s", c.state, hit, detail))
		if hit {
			return PolicyDecision{State: c.state, Reason: detail, Diagnostics: diags}
		}
	}
	return PolicyDecision{State: StateIdle, Reason: "no condition met", Diagnostics: diags}
}

// checkPanicHarvest triggers an emergency liquidation when the underlying
// has fallen at least PanicMinDropPct from today's open (the guardrail
// against panics on flat or green days) and the cycle's net daily P&L -
// hedge gain off the daily reference plus open income spread P&L -
// clears PanicThresholdPerUnit dollars per hedge contract.
func checkPanicHarvest(snap CycleSnapshot) (bool, string) {
	hedge := snap.Cycle.OpenHedge()
	if hedge == nil || snap.Cycle.DailyHedgeRef == 0 {
		return false, "no open hedge with daily reference"
	}
	if snap.HedgeQuote == nil {
		return false, "no hedge quote"
	}
	if snap.Market.TodayOpen <= 0 {
		return false, "no opening price"
	}

	drop := (snap.Market.Last - snap.Market.TodayOpen) / snap.Market.TodayOpen
	if drop > -snap.Rules.PanicMinDropPct {
		return false, fmt.Sprintf("move from open %.2f%% above panic guardrail", drop*100)
	}

	mult := snap.HedgeQuote.multiplier()
	hedgeQty := hedge.Quantity()
	hedgePnL := (snap.HedgeQuote.Mid() - snap.Cycle.DailyHedgeRef) * mult * float64(hedgeQty)

	incomePnL := 0.0
	for _, t := range snap.Cycle.OpenIncomeTrades() {
		cost, ok := snap.SpreadCosts[t.ID]
		if !ok {
			continue
		}
		incomePnL += (t.EntryPrice - cost) * mult * float64(t.Quantity())
	}

	net := hedgePnL + incomePnL
	threshold := snap.Rules.PanicThresholdPerUnit * float64(hedgeQty)
	if net >= threshold {
		return true, fmt.Sprintf("net daily pnl $%.2f cleared panic threshold $%.2f (drop %.2f%%)",
			net, threshold, drop*100)
	}
	return false, fmt.Sprintf("net daily pnl $%.2f below panic threshold $%.2f", net, threshold)
}

// checkRollRequired fires when any open income spread's cost to close has
// reached its stored roll trigger. Boundary inclusive: a cost exactly at
// the trigger rolls.
func checkRollRequired(snap CycleSnapshot) (bool, string) {
	for _, t := range snap.Cycle.OpenIncomeTrades() {
		if t.TriggerPrice == 0 {
			continue
		}
		cost, ok := snap.SpreadCosts[t.ID]
		if !ok {
			continue
		}
		if cost >= t.TriggerPrice {
			return true, fmt.Sprintf("trade %s cost %.2f at or above trigger %.2f", t.ID, cost, t.TriggerPrice)
		}
	}
	return false, "no spread at its roll trigger"
}

// checkNakedHedgeHarvest fires when no income spreads are open, the hedge
// is profitable, and that profit beats the cost of carrying the hedge
// naked: NakedHedgeThetaFactor days of theta bleed.
func checkNakedHedgeHarvest(snap CycleSnapshot) (bool, string) {
	if len(snap.Cycle.OpenIncomeTrades()) > 0 {
		return false, "income spreads still open"
	}
	hedge := snap.Cycle.OpenHedge()
	if hedge == nil {
		return false, "no open hedge"
	}
	if snap.HedgeQuote == nil || snap.HedgeQuote.Greeks == nil {
		return false, "no hedge quote with greeks"
	}

	profit := snap.HedgeQuote.Mid() - hedge.EntryPrice
	hurdle := snap.Rules.NakedHedgeThetaFactor * math.Abs(snap.HedgeQuote.Greeks.Theta)
	if profit > 0 && profit > hurdle {
		return true, fmt.Sprintf("naked hedge profit %.2f above theta hurdle %.2f", profit, hurdle)
	}
	return false, fmt.Sprintf("naked hedge profit %.2f within theta hurdle %.2f", profit, hurdle)
}

// checkHedgeAdjustment fires when the open hedge has decayed below its
// minimum DTE or drifted outside its absolute delta band. A delta reading
// of exactly zero or a missing greeks block is stale data, not a real
// reading, and must never trigger an adjustment.
func checkHedgeAdjustment(snap CycleSnapshot) (bool, string) {
	hedge := snap.Cycle.OpenHedge()
	if hedge == nil {
		return false, "no open hedge"
	}

	dte := hedge.DTE(snap.Market.Now)
	if len(hedge.Legs) > 0 && dte < snap.Rules.HedgeMinDTE {
		return true, fmt.Sprintf("hedge DTE %d below minimum %d", dte, snap.Rules.HedgeMinDTE)
	}

	if snap.HedgeQuote != nil && snap.HedgeQuote.Greeks != nil {
		delta := math.Abs(snap.HedgeQuote.Greeks.Delta)
		if delta != 0 && (delta < snap.Rules.HedgeMinDelta || delta > snap.Rules.HedgeMaxDelta) {
			return true, fmt.Sprintf("hedge delta %.2f outside [%.2f, %.2f]",
				delta, snap.Rules.HedgeMinDelta, snap.Rules.HedgeMaxDelta)
		}
	}
	return false, fmt.Sprintf("hedge within bounds (DTE %d)", dte)
}

// checkHarvestTarget fires when any open income spread can be bought back
// at or below its stored harvest target. Boundary inclusive.
func checkHarvestTarget(snap CycleSnapshot) (bool, string) {
	for _, t := range snap.Cycle.OpenIncomeTrades() {
		if t.TargetPrice == 0 {
			continue
		}
		cost, ok := snap.SpreadCosts[t.ID]
		if !ok {
			continue
		}
		if cost <= t.TargetPrice {
			return true, fmt.Sprintf("trade %s cost %.2f at or below target %.2f", t.ID, cost, t.TargetPrice)
		}
	}
	return false, "no spread at its harvest target"
}

func checkHedgeMissing(snap CycleSnapshot) (bool, string) {
	if snap.Cycle.OpenHedge() == nil {
		return true, "cycle has no open hedge"
	}
	return false, "hedge present"
}

// checkSpreadMissing fires when no income spread has been entered today,
// the entry window is open, and no income spread is currently open. The
// late cutoff and gap checks run later, in the full entry gate, before
// any order is actually placed.
func checkSpreadMissing(snap CycleSnapshot) (bool, string) {
	if snap.Cycle.IncomeEnteredOn(snap.Market.Now) {
		return false, "income spread already entered today"
	}
	if len(snap.Cycle.OpenIncomeTrades()) > 0 {
		return false, "income spread already open"
	}
	if !EntryWindowOpen(snap.Market, snap.Env, snap.Rules) {
		return false, "entry window closed"
	}
	return true, "entry window open with no income spread"
}
