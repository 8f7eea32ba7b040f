package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jhalpert/dunder_hedger/internal/models"
)

func policyRules() models.RuleSet {
	return models.RuleSet{
		Name:                  "test",
		TradeStartDelayMin:    45,
		LateCutoff:            "13:30",
		EnforceLateCutoff:     true,
		GapThreshold:          0.01,
		SpreadWidth:           25,
		HedgeMinDelta:         0.20,
		HedgeMaxDelta:         0.60,
		HedgeMinDTE:           90,
		NakedHedgeThetaFactor: 5.0,
		PanicThresholdPerUnit: 4000,
		PanicMinDropPct:       0.005,
		RollTriggerMultiplier: 2.5,
		ProfitTargetFraction:  0.70,
	}
}

// policyCycle builds an open cycle with one hedge (2 contracts, entered at
// 52.40, expiring well out) and one open income spread (credit 1.00,
// target 0.30, trigger 2.50).
func policyCycle(now time.Time) *models.Cycle {
	hedgeExp := now.AddDate(0, 8, 0)
	incomeExp := now.AddDate(0, 0, 1)
	return &models.Cycle{
		ID:            "cycle-1",
		AccountID:     "acct-1",
		Underlying:    "SPX",
		Status:        models.CycleOpen,
		DailyHedgeRef: 50.00,
		RuleSetName:   "test",
		HedgeTradeID:  "hedge-1",
		Trades: []models.Trade{
			{
				ID: "hedge-1", CycleID: "cycle-1", Role: models.RoleHedge, Status: models.TradeOpen,
				EntryPrice: 52.40,
				EntryTime:  now.AddDate(0, -1, 0),
				Legs: []models.Leg{{
					ID: "hedge-1-l", TradeID: "hedge-1", Side: models.SideLong, Quantity: 2,
					Strike: 3800, OptionType: models.OptionPut, Expiration: hedgeExp,
					Symbol: "SPX240920P03800000", Active: true,
				}},
			},
			{
				ID: "inc-1", CycleID: "cycle-1", Role: models.RoleIncome, Status: models.TradeOpen,
				EntryPrice: 1.00, TargetPrice: 0.30, TriggerPrice: 2.50,
				EntryTime: now.AddDate(0, 0, -1),
				Legs: []models.Leg{
					{ID: "inc-1-s", TradeID: "inc-1", Side: models.SideShort, Quantity: 4,
						Strike: 3950, OptionType: models.OptionPut, Expiration: incomeExp,
						Symbol: "SPXW240315P03950000", Active: true},
					{ID: "inc-1-l", TradeID: "inc-1", Side: models.SideLong, Quantity: 4,
						Strike: 3925, OptionType: models.OptionPut, Expiration: incomeExp,
						Symbol: "SPXW240315P03925000", Active: true},
				},
			},
		},
	}
}

func policySnapshot() CycleSnapshot {
	loc, _ := time.LoadLocation("America/New_York")
	open := time.Date(2024, 3, 15, 9, 30, 0, 0, loc)
	now := open.Add(90 * time.Minute)

	return CycleSnapshot{
		Cycle: policyCycle(now),
		Market: MarketSnapshot{
			Now:        now,
			MarketOpen: open,
			PrevClose:  4000,
			TodayOpen:  4002,
			Last:       4005,
		},
		Env:   EnvStatus{Session: SessionOpen, NextChange: "16:00"},
		Rules: policyRules(),
		HedgeQuote: &OptionQuote{
			Symbol: "SPX240920P03800000", Strike: 3800, OptionType: models.OptionPut,
			Bid: 51.00, Ask: 51.40, Expiration: now.AddDate(0, 8, 0),
			Greeks: &Greeks{Delta: -0.35, Theta: -0.12},
		},
		SpreadCosts: map[string]float64{"inc-1": 1.20},
	}
}

// crashSnapshot mutates the baseline into a hard down day where the panic
// predicate is satisfied: -3% from the open, hedge mark well above the
// daily reference.
func crashSnapshot() CycleSnapshot {
	snap := policySnapshot()
	snap.Market.Last = snap.Market.TodayOpen * 0.97
	// Hedge mid 95.20 vs ref 50.00: +45.20/share x 100 x 2 = $9,040.
	// Income: (1.00 - 3.00) x 100 x 4 = -$800. Net $8,240 >= 2 x $4,000.
	snap.HedgeQuote.Bid, snap.HedgeQuote.Ask = 95.00, 95.40
	snap.SpreadCosts["inc-1"] = 3.00
	return snap
}

func TestDetermineCycleStateIdle(t *testing.T) {
	d := DetermineCycleState(policySnapshot())
	assert.Equal(t, StateIdle, d.State)
	assert.Len(t, d.Diagnostics, 7, "every check leaves a diagnostic line")
}

func TestPanicHarvestBeatsRollRequired(t *testing.T) {
	snap := crashSnapshot()
	// Make ROLL_REQUIRED simultaneously true: cost 3.00 >= trigger 2.50.
	hit, _ := checkRollRequired(snap)
	assert.True(t, hit, "precondition: roll predicate is true on its own")

	d := DetermineCycleState(snap)
	assert.Equal(t, StatePanicHarvest, d.State, "panic outranks roll")
}

func TestPanicHarvestGuardrail(t *testing.T) {
	t.Run("flat day never panics", func(t *testing.T) {
		snap := crashSnapshot()
		snap.Market.Last = snap.Market.TodayOpen // flat
		hit, _ := checkPanicHarvest(snap)
		assert.False(t, hit)
	})

	t.Run("zero daily reference never panics", func(t *testing.T) {
		snap := crashSnapshot()
		snap.Cycle.DailyHedgeRef = 0
		hit, _ := checkPanicHarvest(snap)
		assert.False(t, hit)
	})

	t.Run("net pnl below threshold holds", func(t *testing.T) {
		snap := crashSnapshot()
		snap.HedgeQuote.Bid, snap.HedgeQuote.Ask = 55.00, 55.40 // small hedge gain
		hit, _ := checkPanicHarvest(snap)
		assert.False(t, hit)
	})
}

func TestRollRequiredBoundary(t *testing.T) {
	snap := policySnapshot()

	t.Run("cost exactly at trigger rolls", func(t *testing.T) {
		snap.SpreadCosts["inc-1"] = 2.50
		d := DetermineCycleState(snap)
		assert.Equal(t, StateRollRequired, d.State)
	})

	t.Run("cost just under trigger does not", func(t *testing.T) {
		snap.SpreadCosts["inc-1"] = 2.49
		d := DetermineCycleState(snap)
		assert.NotEqual(t, StateRollRequired, d.State)
	})
}

func TestNakedHedgeHarvest(t *testing.T) {
	snap := policySnapshot()
	// Close the income trade so the hedge is naked.
	snap.Cycle.Trades[1].Status = models.TradeClosed
	delete(snap.SpreadCosts, "inc-1")
	// Profit per share: 55.20 mid - 52.40 entry = 2.80 > 5 x 0.12 = 0.60.
	snap.HedgeQuote.Bid, snap.HedgeQuote.Ask = 55.00, 55.40

	d := DetermineCycleState(snap)
	assert.Equal(t, StateNakedHedgeHarvest, d.State)

	t.Run("profit under theta hurdle holds", func(t *testing.T) {
		snap.HedgeQuote.Bid, snap.HedgeQuote.Ask = 52.50, 52.90 // +0.30, hurdle 0.60
		d := DetermineCycleState(snap)
		assert.NotEqual(t, StateNakedHedgeHarvest, d.State)
	})

	t.Run("never fires with income open", func(t *testing.T) {
		snap.Cycle.Trades[1].Status = models.TradeOpen
		snap.SpreadCosts["inc-1"] = 1.20
		snap.HedgeQuote.Bid, snap.HedgeQuote.Ask = 55.00, 55.40
		hit, _ := checkNakedHedgeHarvest(snap)
		assert.False(t, hit)
	})
}

func TestHedgeAdjustmentNeeded(t *testing.T) {
	t.Run("low DTE triggers", func(t *testing.T) {
		snap := policySnapshot()
		snap.Cycle.Trades[0].Legs[0].Expiration = snap.Market.Now.AddDate(0, 0, 30)
		d := DetermineCycleState(snap)
		assert.Equal(t, StateHedgeAdjustmentNeeded, d.State)
	})

	t.Run("delta outside band triggers", func(t *testing.T) {
		snap := policySnapshot()
		snap.HedgeQuote.Greeks.Delta = -0.75
		d := DetermineCycleState(snap)
		assert.Equal(t, StateHedgeAdjustmentNeeded, d.State)
	})

	t.Run("zero delta is stale data, never triggers", func(t *testing.T) {
		snap := policySnapshot()
		snap.HedgeQuote.Greeks.Delta = 0.0
		hit, _ := checkHedgeAdjustment(snap)
		assert.False(t, hit)
	})

	t.Run("missing greeks never trigger", func(t *testing.T) {
		snap := policySnapshot()
		snap.HedgeQuote.Greeks = nil
		hit, _ := checkHedgeAdjustment(snap)
		assert.False(t, hit)
	})

	t.Run("stale delta with healthy DTE stays idle", func(t *testing.T) {
		snap := policySnapshot()
		snap.HedgeQuote.Greeks.Delta = 0.0
		d := DetermineCycleState(snap)
		assert.Equal(t, StateIdle, d.State)
	})
}

func TestHarvestTargetBoundary(t *testing.T) {
	snap := policySnapshot()

	t.Run("cost exactly at target harvests", func(t *testing.T) {
		snap.SpreadCosts["inc-1"] = 0.30
		d := DetermineCycleState(snap)
		assert.Equal(t, StateHarvestTargetHit, d.State)
	})

	t.Run("cost just above target holds", func(t *testing.T) {
		snap.SpreadCosts["inc-1"] = 0.31
		d := DetermineCycleState(snap)
		assert.NotEqual(t, StateHarvestTargetHit, d.State)
	})
}

func TestHedgeMissing(t *testing.T) {
	t.Run("no hedge link", func(t *testing.T) {
		snap := policySnapshot()
		snap.Cycle.HedgeTradeID = ""
		snap.Cycle.Trades = snap.Cycle.Trades[1:] // income only
		d := DetermineCycleState(snap)
		assert.Equal(t, StateHedgeMissing, d.State)
	})

	t.Run("hedge closed", func(t *testing.T) {
		snap := policySnapshot()
		snap.Cycle.Trades[0].Status = models.TradeClosed
		d := DetermineCycleState(snap)
		assert.Equal(t, StateHedgeMissing, d.State)
	})
}

func TestSpreadMissing(t *testing.T) {
	freshCycle := func(snap CycleSnapshot) CycleSnapshot {
		// Hedge only: no income trade ever entered.
		snap.Cycle.Trades = snap.Cycle.Trades[:1]
		snap.SpreadCosts = map[string]float64{}
		return snap
	}

	t.Run("window open with no spread", func(t *testing.T) {
		snap := freshCycle(policySnapshot())
		d := DetermineCycleState(snap)
		assert.Equal(t, StateSpreadMissing, d.State)
	})

	t.Run("blocked before start delay elapses", func(t *testing.T) {
		snap := freshCycle(policySnapshot())
		snap.Market.Now = snap.Market.MarketOpen.Add(10 * time.Minute)
		d := DetermineCycleState(snap)
		assert.Equal(t, StateIdle, d.State)
	})

	t.Run("still missing past the late cutoff", func(t *testing.T) {
		// The cutoff only blocks order placement, not the classification:
		// an afternoon tick with no spread on still reports SPREAD_MISSING.
		snap := freshCycle(policySnapshot())
		snap.Market.Now = snap.Market.MarketOpen.Add(5 * time.Hour) // 14:30
		d := DetermineCycleState(snap)
		assert.Equal(t, StateSpreadMissing, d.State)
	})

	t.Run("already entered today stays idle", func(t *testing.T) {
		snap := policySnapshot()
		snap.Cycle.Trades[1].Status = models.TradeClosed
		snap.Cycle.Trades[1].EntryTime = snap.Market.Now.Add(-30 * time.Minute)
		delete(snap.SpreadCosts, "inc-1")
		d := DetermineCycleState(snap)
		assert.Equal(t, StateIdle, d.State)
	})
}
