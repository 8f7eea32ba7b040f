// Package models defines the domain records for hedged-income trading
// cycles: cycles, trades, legs, fill transactions and rule sets. All
// records are plain typed structs hydrated by the storage layer; decision
// logic never sees storage rows directly.
package models

import (
	"fmt"
	"time"
)

// SharesPerContract is the standard option contract multiplier.
const SharesPerContract = 100.0

// CycleStatus is the lifecycle status of a trading cycle.
type CycleStatus string

const (
	// CycleNew is a cycle created but not yet hedged.
	CycleNew CycleStatus = "NEW"
	// CycleOpen is a cycle with an active hedge.
	CycleOpen CycleStatus = "OPEN"
	// CycleClosed is a fully liquidated cycle.
	CycleClosed CycleStatus = "CLOSED"
)

// Valid returns true if the CycleStatus is one of the defined constants.
func (s CycleStatus) Valid() bool {
	switch s {
	case CycleNew, CycleOpen, CycleClosed:
		return true
	default:
		return false
	}
}

// TradeRole distinguishes the protective hedge from the rotating income spreads.
type TradeRole string

const (
	// RoleHedge is the long-dated protective put.
	RoleHedge TradeRole = "HEDGE"
	// RoleIncome is a short-dated put credit spread.
	RoleIncome TradeRole = "INCOME"
)

// Valid returns true if the TradeRole is one of the defined constants.
func (r TradeRole) Valid() bool {
	return r == RoleHedge || r == RoleIncome
}

// TradeStatus is the lifecycle status of a trade.
type TradeStatus string

const (
	// TradeOpen is an active trade.
	TradeOpen TradeStatus = "OPEN"
	// TradeClosed is a finished trade with realized P&L.
	TradeClosed TradeStatus = "CLOSED"
)

// Valid returns true if the TradeStatus is one of the defined constants.
func (s TradeStatus) Valid() bool {
	return s == TradeOpen || s == TradeClosed
}

// LegSide is the direction of a single option leg.
type LegSide string

const (
	// SideShort is a sold option.
	SideShort LegSide = "SHORT"
	// SideLong is a bought option.
	SideLong LegSide = "LONG"
)

// OptionType is the contract right of an option leg.
type OptionType string

const (
	// OptionPut is a put contract.
	OptionPut OptionType = "PUT"
	// OptionCall is a call contract.
	OptionCall OptionType = "CALL"
)

// TransactionType categorizes a fill record.
type TransactionType string

const (
	// TxnOpen is the fill that opened a trade.
	TxnOpen TransactionType = "OPEN"
	// TxnClose is the fill that closed a trade.
	TxnClose TransactionType = "CLOSE"
	// TxnSettle is an administrative settlement with no broker fill,
	// used when reconciliation books a zombie at worst-case economics.
	TxnSettle TransactionType = "SETTLE"
)

// Cycle groups one hedge and its rotating income spreads for an
// account/underlying pair. At most one cycle is OPEN per account.
type Cycle struct {
	ID            string      `json:"id"`
	AccountID     string      `json:"account_id"`
	Underlying    string      `json:"underlying"`
	Status        CycleStatus `json:"status"`
	RealizedPnL   float64     `json:"realized_pnl"`
	DailyHedgeRef float64     `json:"daily_hedge_ref"` // baseline price for intraday hedge P&L
	RuleSetName   string      `json:"rule_set_name"`
	HedgeTradeID  string      `json:"hedge_trade_id,omitempty"`
	Trades        []Trade     `json:"trades"`
	CreatedAt     time.Time   `json:"created_at"`
	ClosedAt      time.Time   `json:"closed_at,omitempty"`
}

// Trade is one position within a cycle: either the hedge or one income spread.
type Trade struct {
	ID              string      `json:"id"`
	CycleID         string      `json:"cycle_id"`
	Role            TradeRole   `json:"role"`
	Status          TradeStatus `json:"status"`
	EntryPrice      float64     `json:"entry_price"`      // credit received (income) or debit paid (hedge), per spread
	TargetPrice     float64     `json:"target_price"`     // harvest target, income only, 0 = unset
	TriggerPrice    float64     `json:"trigger_price"`    // roll trigger, income only, 0 = unset
	CapitalRequired float64     `json:"capital_required"`
	RealizedPnL     float64     `json:"realized_pnl"`
	ExitPrice       float64     `json:"exit_price"`
	ExitReason      string      `json:"exit_reason,omitempty"`
	ZombieFlag      bool        `json:"zombie_flag"` // set when settled from reconciliation, pending audit
	EntryTime       time.Time   `json:"entry_time"`
	ExitTime        time.Time   `json:"exit_time,omitempty"`
	Legs            []Leg       `json:"legs"`
}

// Leg is a single option contract position within a trade.
type Leg struct {
	ID         string     `json:"id"`
	TradeID    string     `json:"trade_id"`
	Side       LegSide    `json:"side"`
	Quantity   int        `json:"quantity"`
	Strike     float64    `json:"strike"`
	OptionType OptionType `json:"option_type"`
	Expiration time.Time  `json:"expiration"`
	Symbol     string     `json:"symbol"` // OCC/OPRA broker symbol
	Active     bool       `json:"active"`
	OpenTxnID  string     `json:"open_txn_id,omitempty"`
	CloseTxnID string     `json:"close_txn_id,omitempty"`
}

// Transaction is an immutable fill record attached to a trade.
type Transaction struct {
	ID            string          `json:"id"`
	TradeID       string          `json:"trade_id"`
	Type          TransactionType `json:"type"`
	Price         float64         `json:"price"`
	Quantity      int             `json:"quantity"`
	Fees          float64         `json:"fees"`
	Timestamp     time.Time       `json:"timestamp"`
	BrokerOrderID string          `json:"broker_order_id,omitempty"`
}

// OpenHedge returns the cycle's linked hedge trade if it exists and is
// OPEN, nil otherwise.
func (c *Cycle) OpenHedge() *Trade {
	if c.HedgeTradeID == "" {
		return nil
	}
	for i := range c.Trades {
		t := &c.Trades[i]
		if t.ID == c.HedgeTradeID && t.Role == RoleHedge && t.Status == TradeOpen {
			return t
		}
	}
	return nil
}

// OpenIncomeTrades returns the cycle's OPEN income spreads in stored order.
func (c *Cycle) OpenIncomeTrades() []*Trade {
	var out []*Trade
	for i := range c.Trades {
		t := &c.Trades[i]
		if t.Role == RoleIncome && t.Status == TradeOpen {
			out = append(out, t)
		}
	}
	return out
}

// IncomeEnteredOn reports whether any income trade was opened on the given
// calendar day (in day's location).
func (c *Cycle) IncomeEnteredOn(day time.Time) bool {
	y, m, d := day.Date()
	for i := range c.Trades {
		t := &c.Trades[i]
		if t.Role != RoleIncome || t.EntryTime.IsZero() {
			continue
		}
		ty, tm, td := t.EntryTime.In(day.Location()).Date()
		if ty == y && tm == m && td == d {
			return true
		}
	}
	return false
}

// Validate checks the cycle's structural invariants: valid enums, at most
// one OPEN hedge trade, and a consistent hedge link.
func (c *Cycle) Validate() error {
	if !c.Status.Valid() {
		return fmt.Errorf("cycle %s: invalid status %q", c.ID, c.Status)
	}
	openHedges := 0
	hedgeLinkFound := c.HedgeTradeID == ""
	for i := range c.Trades {
		t := &c.Trades[i]
		if err := t.Validate(); err != nil {
			return fmt.Errorf("cycle %s: %w", c.ID, err)
		}
		if t.Role == RoleHedge && t.Status == TradeOpen {
			openHedges++
		}
		if t.ID == c.HedgeTradeID {
			hedgeLinkFound = true
			if t.Role != RoleHedge {
				return fmt.Errorf("cycle %s: hedge link %s points at a %s trade", c.ID, c.HedgeTradeID, t.Role)
			}
		}
	}
	if openHedges > 1 {
		return fmt.Errorf("cycle %s: %d open hedge trades, at most one allowed", c.ID, openHedges)
	}
	if !hedgeLinkFound {
		return fmt.Errorf("cycle %s: hedge link %s not found among trades", c.ID, c.HedgeTradeID)
	}
	return nil
}

// Validate checks the trade's invariants, including the price ordering
// target < entry < trigger for income spreads that are monitored to close
// cheaper than they were sold.
func (t *Trade) Validate() error {
	if !t.Role.Valid() {
		return fmt.Errorf("trade %s: invalid role %q", t.ID, t.Role)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("trade %s: invalid status %q", t.ID, t.Status)
	}
	switch t.Role {
	case RoleHedge:
		if t.TargetPrice != 0 || t.TriggerPrice != 0 {
			return fmt.Errorf("trade %s: hedge trades carry no harvest target or roll trigger", t.ID)
		}
		if len(t.Legs) > 1 {
			return fmt.Errorf("trade %s: hedge trades have a single leg, got %d", t.ID, len(t.Legs))
		}
	case RoleIncome:
		if t.EntryPrice < 0 {
			return fmt.Errorf("trade %s: income entry price is a credit received, got %.2f", t.ID, t.EntryPrice)
		}
		if t.TargetPrice != 0 && t.TargetPrice >= t.EntryPrice {
			return fmt.Errorf("trade %s: harvest target %.2f must be below entry credit %.2f",
				t.ID, t.TargetPrice, t.EntryPrice)
		}
		if t.TriggerPrice != 0 && t.TriggerPrice <= t.EntryPrice {
			return fmt.Errorf("trade %s: roll trigger %.2f must be above entry credit %.2f",
				t.ID, t.TriggerPrice, t.EntryPrice)
		}
		if len(t.Legs) > 2 {
			return fmt.Errorf("trade %s: income spreads have two legs, got %d", t.ID, len(t.Legs))
		}
	}
	for i := range t.Legs {
		l := &t.Legs[i]
		if l.Side != SideShort && l.Side != SideLong {
			return fmt.Errorf("trade %s leg %s: invalid side %q", t.ID, l.ID, l.Side)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("trade %s leg %s: quantity must be positive, got %d", t.ID, l.ID, l.Quantity)
		}
	}
	return nil
}

// ShortLeg returns the trade's short leg, nil if absent.
func (t *Trade) ShortLeg() *Leg {
	for i := range t.Legs {
		if t.Legs[i].Side == SideShort {
			return &t.Legs[i]
		}
	}
	return nil
}

// LongLeg returns the trade's long leg, nil if absent.
func (t *Trade) LongLeg() *Leg {
	for i := range t.Legs {
		if t.Legs[i].Side == SideLong {
			return &t.Legs[i]
		}
	}
	return nil
}

// Quantity returns the trade's contract quantity, taken from the short leg
// for spreads and the single leg for hedges. Zero when the trade has no legs.
func (t *Trade) Quantity() int {
	if l := t.ShortLeg(); l != nil {
		return l.Quantity
	}
	if len(t.Legs) > 0 {
		return t.Legs[0].Quantity
	}
	return 0
}

// SpreadWidth returns the distance between the short and long strikes.
// Zero when either leg is missing.
func (t *Trade) SpreadWidth() float64 {
	s, l := t.ShortLeg(), t.LongLeg()
	if s == nil || l == nil {
		return 0
	}
	w := s.Strike - l.Strike
	if w < 0 {
		w = -w
	}
	return w
}

// DTE returns the calendar days to the expiration of the trade's first
// leg, floored at zero.
func (t *Trade) DTE(today time.Time) int {
	if len(t.Legs) == 0 {
		return 0
	}
	now := today.UTC().Truncate(24 * time.Hour)
	exp := t.Legs[0].Expiration.UTC().Truncate(24 * time.Hour)
	days := int(exp.Sub(now).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
