// Package strategy contains the pure decision core for the hedged-income
// system: spread valuation, the ordered entry gate, strike selection,
// sizing, roll economics and the per-tick cycle state classification.
//
// Nothing in this package performs I/O. The orchestrator captures one
// consistent snapshot of market data, environment status and the domain
// model before any check runs, so two checks never disagree about "now".
package strategy

import (
	"time"

	"github.com/jhalpert/dunder_hedger/internal/models"
)

// Greeks carries per-share option sensitivities as reported by the broker.
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	IV    float64
}

// OptionQuote is a validated quote for one option contract, used both for
// standalone quotes and for option-chain legs. Broker wire payloads are
// adapted into this type at the boundary before reaching any decision
// function.
type OptionQuote struct {
	Symbol     string
	Strike     float64
	OptionType models.OptionType
	Bid        float64
	Ask        float64
	Last       float64
	Expiration time.Time
	Multiplier float64 // shares per contract, 100 when unset
	Greeks     *Greeks // nil when the broker omitted greeks
}

// Mid returns the bid/ask midpoint.
func (q OptionQuote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// BidAskWidth returns the quoted spread width, the selector's liquidity signal.
func (q OptionQuote) BidAskWidth() float64 {
	return q.Ask - q.Bid
}

func (q OptionQuote) multiplier() float64 {
	if q.Multiplier <= 0 {
		return models.SharesPerContract
	}
	return q.Multiplier
}

// SessionState is the broker-reported market session state.
type SessionState string

const (
	// SessionOpen is regular trading hours.
	SessionOpen SessionState = "open"
	// SessionClosed is outside all sessions.
	SessionClosed SessionState = "closed"
	// SessionPre is the pre-market session.
	SessionPre SessionState = "premarket"
	// SessionPost is the post-market session.
	SessionPost SessionState = "postmarket"
)

// EnvStatus is the environment/time snapshot for one evaluation tick.
type EnvStatus struct {
	Session    SessionState
	NextChange string // "HH:MM" local time of the next scheduled session change
	Holiday    bool
}

// MarketSnapshot is the underlying's market data for one evaluation tick.
type MarketSnapshot struct {
	Now        time.Time
	MarketOpen time.Time // today's session open
	PrevClose  float64
	TodayOpen  float64
	Last       float64
}

// CycleSnapshot bundles everything the policy engine needs to classify one
// cycle on one tick. SpreadCosts maps an open income trade ID to the
// current per-spread cost to close it; a missing entry means no usable
// quote and the trade is skipped by price-driven checks.
type CycleSnapshot struct {
	Cycle       *models.Cycle
	Market      MarketSnapshot
	Env         EnvStatus
	Rules       models.RuleSet
	HedgeQuote  *OptionQuote // current quote for the hedge leg, nil when absent
	SpreadCosts map[string]float64
}
