package models

import "fmt"

// RuleSet is an immutable, named bundle of numeric thresholds consumed by
// every decision component. It is always passed explicitly, never read
// from ambient state, so the same process can run different rule sets
// against different underlyings.
type RuleSet struct {
	Name string `json:"name"`

	// Entry gate
	TradeStartDelayMin int    `json:"trade_start_delay_min"` // minutes after the open before entries may run
	LateCutoff         string `json:"late_cutoff"`           // "HH:MM" local; malformed falls back to DefaultLateCutoff
	EnforceLateCutoff  bool   `json:"enforce_late_cutoff"`
	GapThreshold       float64 `json:"gap_threshold"` // fractional drop (0.01 = 1%) blocking entries

	// Spread selection and sizing
	SpreadWidth      float64 `json:"spread_width"`
	MinPremium       float64 `json:"min_premium"`
	MaxPremium       float64 `json:"max_premium"`
	MaxBidAskWidth   float64 `json:"max_bid_ask_width"` // liquidity cap on candidate quotes
	SpreadSizeFactor float64 `json:"spread_size_factor"`

	// Hedge maintenance
	HedgeMinDelta float64 `json:"hedge_min_delta"` // absolute delta bounds
	HedgeMaxDelta float64 `json:"hedge_max_delta"`
	HedgeMinDTE   int     `json:"hedge_min_dte"`
	HedgeTargetDTE int    `json:"hedge_target_dte"`

	// Risk and exits
	NakedHedgeThetaFactor float64 `json:"naked_hedge_theta_factor"`
	PanicThresholdPerUnit float64 `json:"panic_threshold_per_unit"` // dollars per hedge contract
	PanicMinDropPct       float64 `json:"panic_min_drop_pct"`       // fractional drop from today's open
	RollTriggerMultiplier float64 `json:"roll_trigger_multiplier"`  // trigger = entry credit x multiplier
	ProfitTargetFraction  float64 `json:"profit_target_fraction"`   // target = entry credit x (1 - fraction)
}

// DefaultLateCutoff is the conservative fallback used when a rule set
// carries a malformed late-cutoff string. Falling back to a fixed early
// cutoff keeps a bad config from widening the entry window.
const DefaultLateCutoff = "14:00"

// Scaled returns a copy of the rule set with dollar-denominated thresholds
// divided by div, for running the same strategy against a smaller proxy
// underlying (e.g. SPX rules divided by 10 for XSP). Fractions, factors
// and day counts are left untouched. div <= 1 returns the rule set as-is.
func (r RuleSet) Scaled(div int) RuleSet {
	if div <= 1 {
		return r
	}
	d := float64(div)
	r.Name = fmt.Sprintf("%s/%d", r.Name, div)
	r.SpreadWidth /= d
	r.MinPremium /= d
	r.MaxPremium /= d
	r.MaxBidAskWidth /= d
	r.PanicThresholdPerUnit /= d
	return r
}

// Validate checks the rule set for internally consistent thresholds.
func (r RuleSet) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule set name is required")
	}
	if r.TradeStartDelayMin < 0 {
		return fmt.Errorf("rule set %s: trade_start_delay_min must be >= 0", r.Name)
	}
	if r.GapThreshold < 0 {
		return fmt.Errorf("rule set %s: gap_threshold must be >= 0", r.Name)
	}
	if r.SpreadWidth <= 0 {
		return fmt.Errorf("rule set %s: spread_width must be > 0", r.Name)
	}
	if r.MinPremium < 0 || r.MaxPremium <= 0 || r.MinPremium > r.MaxPremium {
		return fmt.Errorf("rule set %s: premium bounds [%.2f, %.2f] invalid", r.Name, r.MinPremium, r.MaxPremium)
	}
	if r.SpreadSizeFactor <= 0 {
		return fmt.Errorf("rule set %s: spread_size_factor must be > 0", r.Name)
	}
	if r.HedgeMinDelta < 0 || r.HedgeMaxDelta <= 0 || r.HedgeMinDelta > r.HedgeMaxDelta {
		return fmt.Errorf("rule set %s: hedge delta bounds [%.2f, %.2f] invalid", r.Name, r.HedgeMinDelta, r.HedgeMaxDelta)
	}
	if r.HedgeMinDTE < 0 {
		return fmt.Errorf("rule set %s: hedge_min_dte must be >= 0", r.Name)
	}
	if r.RollTriggerMultiplier <= 1 {
		return fmt.Errorf("rule set %s: roll_trigger_multiplier must be > 1", r.Name)
	}
	if r.ProfitTargetFraction <= 0 || r.ProfitTargetFraction >= 1 {
		return fmt.Errorf("rule set %s: profit_target_fraction must be in (0,1)", r.Name)
	}
	return nil
}
