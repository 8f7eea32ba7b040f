package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIncomeTrade(id string, status TradeStatus, entry, target, trigger float64) Trade {
	return Trade{
		ID:           id,
		CycleID:      "cycle-1",
		Role:         RoleIncome,
		Status:       status,
		EntryPrice:   entry,
		TargetPrice:  target,
		TriggerPrice: trigger,
		EntryTime:    time.Date(2024, 3, 15, 10, 5, 0, 0, time.UTC),
		Legs: []Leg{
			{ID: id + "-s", TradeID: id, Side: SideShort, Quantity: 2, Strike: 3950, OptionType: OptionPut,
				Expiration: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), Symbol: "SPXW240315P03950000", Active: true},
			{ID: id + "-l", TradeID: id, Side: SideLong, Quantity: 2, Strike: 3925, OptionType: OptionPut,
				Expiration: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), Symbol: "SPXW240315P03925000", Active: true},
		},
	}
}

func newHedgeTrade(id string, status TradeStatus) Trade {
	return Trade{
		ID:         id,
		CycleID:    "cycle-1",
		Role:       RoleHedge,
		Status:     status,
		EntryPrice: 52.40,
		EntryTime:  time.Date(2024, 1, 10, 9, 45, 0, 0, time.UTC),
		Legs: []Leg{
			{ID: id + "-h", TradeID: id, Side: SideLong, Quantity: 1, Strike: 3800, OptionType: OptionPut,
				Expiration: time.Date(2024, 9, 20, 0, 0, 0, 0, time.UTC), Symbol: "SPX240920P03800000", Active: true},
		},
	}
}

func TestCycleValidate(t *testing.T) {
	hedge := newHedgeTrade("hedge-1", TradeOpen)
	cycle := &Cycle{
		ID:           "cycle-1",
		AccountID:    "acct-1",
		Underlying:   "SPX",
		Status:       CycleOpen,
		RuleSetName:  "spx-standard",
		HedgeTradeID: "hedge-1",
		Trades:       []Trade{hedge, newIncomeTrade("inc-1", TradeOpen, 1.00, 0.30, 2.50)},
	}
	require.NoError(t, cycle.Validate())

	t.Run("two open hedges rejected", func(t *testing.T) {
		c := *cycle
		c.Trades = append([]Trade{}, cycle.Trades...)
		c.Trades = append(c.Trades, newHedgeTrade("hedge-2", TradeOpen))
		assert.Error(t, c.Validate())
	})

	t.Run("dangling hedge link rejected", func(t *testing.T) {
		c := *cycle
		c.HedgeTradeID = "missing"
		assert.Error(t, c.Validate())
	})

	t.Run("hedge link at income trade rejected", func(t *testing.T) {
		c := *cycle
		c.HedgeTradeID = "inc-1"
		assert.Error(t, c.Validate())
	})
}

func TestTradePriceOrdering(t *testing.T) {
	tests := []struct {
		name    string
		entry   float64
		target  float64
		trigger float64
		wantErr bool
	}{
		{name: "target below entry below trigger", entry: 1.00, target: 0.30, trigger: 2.50, wantErr: false},
		{name: "unset target and trigger allowed", entry: 1.00, wantErr: false},
		{name: "target above entry rejected", entry: 1.00, target: 1.10, trigger: 2.50, wantErr: true},
		{name: "trigger below entry rejected", entry: 1.00, target: 0.30, trigger: 0.90, wantErr: true},
		{name: "trigger equal to entry rejected", entry: 1.00, target: 0.30, trigger: 1.00, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newIncomeTrade("inc-1", TradeOpen, tt.entry, tt.target, tt.trigger)
			err := tr.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHedgeTradeCarriesNoIncomePrices(t *testing.T) {
	h := newHedgeTrade("hedge-1", TradeOpen)
	h.TriggerPrice = 2.0
	assert.Error(t, h.Validate())
}

func TestCycleOpenHedge(t *testing.T) {
	hedge := newHedgeTrade("hedge-1", TradeOpen)
	c := &Cycle{ID: "cycle-1", Status: CycleOpen, HedgeTradeID: "hedge-1", Trades: []Trade{hedge}}
	require.NotNil(t, c.OpenHedge())
	assert.Equal(t, "hedge-1", c.OpenHedge().ID)

	t.Run("closed hedge is not returned", func(t *testing.T) {
		closed := newHedgeTrade("hedge-1", TradeClosed)
		c2 := &Cycle{ID: "cycle-1", Status: CycleOpen, HedgeTradeID: "hedge-1", Trades: []Trade{closed}}
		assert.Nil(t, c2.OpenHedge())
	})

	t.Run("no link means no hedge", func(t *testing.T) {
		c3 := &Cycle{ID: "cycle-1", Status: CycleOpen, Trades: []Trade{hedge}}
		assert.Nil(t, c3.OpenHedge())
	})
}

func TestIncomeEnteredOn(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tr := newIncomeTrade("inc-1", TradeClosed, 1.00, 0.30, 2.50)
	tr.EntryTime = time.Date(2024, 3, 15, 14, 5, 0, 0, time.UTC) // 10:05 ET
	c := &Cycle{ID: "cycle-1", Trades: []Trade{tr}}

	assert.True(t, c.IncomeEnteredOn(time.Date(2024, 3, 15, 12, 0, 0, 0, loc)))
	assert.False(t, c.IncomeEnteredOn(time.Date(2024, 3, 14, 12, 0, 0, 0, loc)))
}

func TestTradeGeometry(t *testing.T) {
	tr := newIncomeTrade("inc-1", TradeOpen, 1.00, 0.30, 2.50)
	assert.Equal(t, 2, tr.Quantity())
	assert.InDelta(t, 25.0, tr.SpreadWidth(), 1e-9)

	today := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, 5, tr.DTE(today))

	t.Run("expired trade has zero DTE", func(t *testing.T) {
		assert.Equal(t, 0, tr.DTE(time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("legless trade has zero geometry", func(t *testing.T) {
		empty := Trade{ID: "inc-x", Role: RoleIncome, Status: TradeOpen}
		assert.Equal(t, 0, empty.Quantity())
		assert.Zero(t, empty.SpreadWidth())
	})
}

func validRuleSet() RuleSet {
	return RuleSet{
		Name:                  "spx-standard",
		TradeStartDelayMin:    45,
		LateCutoff:            "13:30",
		EnforceLateCutoff:     true,
		GapThreshold:          0.01,
		SpreadWidth:           25,
		MinPremium:            0.80,
		MaxPremium:            2.00,
		MaxBidAskWidth:        2.50,
		SpreadSizeFactor:      2.0,
		HedgeMinDelta:         0.20,
		HedgeMaxDelta:         0.60,
		HedgeMinDTE:           90,
		HedgeTargetDTE:        365,
		NakedHedgeThetaFactor: 5.0,
		PanicThresholdPerUnit: 4000,
		PanicMinDropPct:       0.005,
		RollTriggerMultiplier: 2.5,
		ProfitTargetFraction:  0.70,
	}
}

func TestRuleSetValidate(t *testing.T) {
	require.NoError(t, validRuleSet().Validate())

	t.Run("inverted premium bounds rejected", func(t *testing.T) {
		r := validRuleSet()
		r.MinPremium, r.MaxPremium = 2.00, 0.80
		assert.Error(t, r.Validate())
	})

	t.Run("roll multiplier at or below one rejected", func(t *testing.T) {
		r := validRuleSet()
		r.RollTriggerMultiplier = 1.0
		assert.Error(t, r.Validate())
	})
}

func TestRuleSetScaled(t *testing.T) {
	r := validRuleSet()
	s := r.Scaled(10)

	assert.InDelta(t, 2.5, s.SpreadWidth, 1e-9)
	assert.InDelta(t, 0.08, s.MinPremium, 1e-9)
	assert.InDelta(t, 0.20, s.MaxPremium, 1e-9)
	assert.InDelta(t, 400.0, s.PanicThresholdPerUnit, 1e-9)
	// Fractions and day counts do not scale.
	assert.Equal(t, r.HedgeMinDTE, s.HedgeMinDTE)
	assert.InDelta(t, r.ProfitTargetFraction, s.ProfitTargetFraction, 1e-9)
	assert.InDelta(t, r.GapThreshold, s.GapThreshold, 1e-9)
	assert.Equal(t, "spx-standard/10", s.Name)

	t.Run("divisor of one is identity", func(t *testing.T) {
		assert.Equal(t, r, r.Scaled(1))
	})
}
