package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/jhalpert/dunder_hedger/internal/broker"
	"github.com/jhalpert/dunder_hedger/internal/config"
	"github.com/jhalpert/dunder_hedger/internal/models"
	"github.com/jhalpert/dunder_hedger/internal/storage"
	"github.com/jhalpert/dunder_hedger/internal/strategy"
	"github.com/jhalpert/dunder_hedger/internal/util"
)

// minLimitPrice is the exchange's lowest tradeable limit. Closes of
// near-worthless positions clamp up to it.
const minLimitPrice = 0.05

// dispatch maps the tick's single classification to at most one broker
// action. One action per pass: after an order lands the snapshot is
// stale, so follow-up work waits for the next tick.
func (a *Automation) dispatch(ctx context.Context, acct config.AccountConfig, snap strategy.CycleSnapshot, decision strategy.PolicyDecision) error {
	switch decision.State {
	case strategy.StatePanicHarvest:
		return a.panicHarvest(ctx, acct, snap)
	case strategy.StateRollRequired:
		return a.rollSpread(ctx, acct, snap)
	case strategy.StateNakedHedgeHarvest:
		return a.harvestNakedHedge(ctx, acct, snap)
	case strategy.StateHedgeAdjustmentNeeded:
		return a.adjustHedge(ctx, acct, snap)
	case strategy.StateHarvestTargetHit:
		return a.harvestSpread(ctx, acct, snap)
	case strategy.StateHedgeMissing:
		return a.openHedge(ctx, acct, snap)
	case strategy.StateSpreadMissing:
		return a.openSpread(ctx, acct, snap)
	default:
		return nil
	}
}

// panicHarvest liquidates everything: every open income spread bought
// back at its current cost, then the hedge sold, then the cycle closed.
// Spreads without a usable quote abort the liquidation so nothing is
// closed blind; the next tick retries.
func (a *Automation) panicHarvest(ctx context.Context, acct config.AccountConfig, snap strategy.CycleSnapshot) error {
	cycle := snap.Cycle
	for _, t := range cycle.OpenIncomeTrades() {
		cost, ok := snap.SpreadCosts[t.ID]
		if !ok {
			return fmt.Errorf("panic harvest: no close quote for trade %s", t.ID)
		}
		if err := a.closeSpread(ctx, acct, t, cost, "panic_harvest"); err != nil {
			return err
		}
	}

	hedge := cycle.OpenHedge()
	if hedge != nil {
		if snap.HedgeQuote == nil {
			return fmt.Errorf("panic harvest: no hedge quote for trade %s", hedge.ID)
		}
		if err := a.closeHedge(ctx, acct, hedge, snap.HedgeQuote.Bid, "panic_harvest"); err != nil {
			return err
		}
	}

	if acct.PreviewOnly {
		return nil
	}
	if err := a.storage.CloseCycle(ctx, cycle.ID, a.now().UTC()); err != nil {
		return fmt.Errorf("close cycle %s: %w", cycle.ID, err)
	}
	a.logger.Printf("PANIC HARVEST complete: cycle %s liquidated, realized pnl %.2f", cycle.ID, cycle.RealizedPnL)
	return nil
}

// rollSpread buys back the triggered spread and re-establishes a lower
// one at the same expiration and quantity, funded by the new credit.
// When no lower strike pays for the close, the buyback stands alone as
// a stop loss.
func (a *Automation) rollSpread(ctx context.Context, acct config.AccountConfig, snap strategy.CycleSnapshot) error {
	var triggered *models.Trade
	var cost float64
	for _, t := range snap.Cycle.OpenIncomeTrades() {
		c, ok := snap.SpreadCosts[t.ID]
		if ok && t.TriggerPrice != 0 && c >= t.TriggerPrice {
			triggered, cost = t, c
			break
		}
	}
	if triggered == nil {
		return fmt.Errorf("roll: no triggered spread found")
	}
	short := triggered.ShortLeg()
	if short == nil {
		return fmt.Errorf("roll: trade %s has no short leg", triggered.ID)
	}

	chain, err := a.loadChain(ctx, snap.Cycle.Underlying, short.Expiration, false)
	if err != nil {
		return fmt.Errorf("roll: chain for %s: %w", short.Expiration.Format("2006-01-02"), err)
	}
	replacement := strategy.FindRoll(chain, short.Strike, cost, snap.Rules)

	if err := a.closeSpread(ctx, acct, triggered, cost, "roll_trigger"); err != nil {
		return err
	}
	if replacement == nil {
		a.logger.Printf("roll: no funded replacement below %.0f, buyback stands as stop loss", short.Strike)
		return nil
	}
	return a.enterSpread(ctx, acct, snap, replacement, triggered.Quantity(), "roll")
}

// harvestNakedHedge sells the profitable hedge and retires the cycle.
func (a *Automation) harvestNakedHedge(ctx context.Context, acct config.AccountConfig, snap strategy.CycleSnapshot) error {
	hedge := snap.Cycle.OpenHedge()
	if hedge == nil || snap.HedgeQuote == nil {
		return fmt.Errorf("naked hedge harvest: hedge or quote missing")
	}
	if err := a.closeHedge(ctx, acct, hedge, snap.HedgeQuote.Bid, "naked_hedge_harvest"); err != nil {
		return err
	}
	if acct.PreviewOnly {
		return nil
	}
	if err := a.storage.CloseCycle(ctx, snap.Cycle.ID, a.now().UTC()); err != nil {
		return fmt.Errorf("close cycle %s: %w", snap.Cycle.ID, err)
	}
	a.logger.Printf("cycle %s complete, realized pnl %.2f", snap.Cycle.ID, snap.Cycle.RealizedPnL)
	return nil
}

// adjustHedge sells the drifted hedge. The replacement goes on next
// tick through the HEDGE_MISSING path, against a fresh snapshot.
func (a *Automation) adjustHedge(ctx context.Context, acct config.AccountConfig, snap strategy.CycleSnapshot) error {
	hedge := snap.Cycle.OpenHedge()
	if hedge == nil {
		return fmt.Errorf("hedge adjustment: no open hedge")
	}
	if snap.HedgeQuote == nil {
		return fmt.Errorf("hedge adjustment: no hedge quote")
	}
	return a.closeHedge(ctx, acct, hedge, snap.HedgeQuote.Bid, "hedge_adjustment")
}

// harvestSpread buys back the first spread sitting at or below its
// profit target, paying up to the target.
func (a *Automation) harvestSpread(ctx context.Context, acct config.AccountConfig, snap strategy.CycleSnapshot) error {
	for _, t := range snap.Cycle.OpenIncomeTrades() {
		cost, ok := snap.SpreadCosts[t.ID]
		if !ok || t.TargetPrice == 0 || cost > t.TargetPrice {
			continue
		}
		return a.closeSpread(ctx, acct, t, t.TargetPrice, "harvest_target")
	}
	return fmt.Errorf("harvest: no spread at its target found")
}

// openHedge buys the long-dated protective put: the first expiration at
// or beyond the target DTE, the put whose absolute delta sits inside
// the configured band, closest to the band's midpoint.
func (a *Automation) openHedge(ctx context.Context, acct config.AccountConfig, snap strategy.CycleSnapshot) error {
	exps, err := a.expirations(ctx, snap.Cycle.Underlying)
	if err != nil {
		return fmt.Errorf("open hedge: expirations: %w", err)
	}
	exp, ok := hedgeExpiration(exps, snap.Market.Now, snap.Rules.HedgeTargetDTE)
	if !ok {
		return fmt.Errorf("open hedge: no expiration at or beyond %d DTE", snap.Rules.HedgeTargetDTE)
	}

	chain, err := a.loadChain(ctx, snap.Cycle.Underlying, exp, true)
	if err != nil {
		return fmt.Errorf("open hedge: chain: %w", err)
	}
	pick := selectHedgePut(chain, snap.Rules)
	if pick == nil {
		return fmt.Errorf("open hedge: no put with delta in [%.2f, %.2f] at %s",
			snap.Rules.HedgeMinDelta, snap.Rules.HedgeMaxDelta, exp.Format("2006-01-02"))
	}

	limit := util.RoundToNickel(pick.Ask)
	if limit < minLimitPrice {
		limit = minLimitPrice
	}
	req := broker.OptionOrderRequest{
		Underlying:   snap.Cycle.Underlying,
		OptionSymbol: pick.Symbol,
		Side:         "buy_to_open",
		Quantity:     acct.HedgeContracts,
		LimitPrice:   limit,
		Tag:          "hedge-" + snap.Cycle.ID,
	}

	if acct.PreviewOnly {
		req.Preview = true
		resp, err := a.broker.PlaceOptionOrder(ctx, req)
		if err != nil {
			return fmt.Errorf("open hedge preview: %w", err)
		}
		a.logger.Printf("[preview] hedge %s x%d @ %.2f: cost %.2f margin %.2f",
			pick.Symbol, req.Quantity, limit, resp.Order.OrderCost, resp.Order.MarginChange)
		return nil
	}

	resp, err := a.retry.PlaceOptionOrderWithRetry(ctx, req)
	if err != nil {
		return fmt.Errorf("open hedge: %w", err)
	}
	if msgs := resp.ErrorStrings(); len(msgs) > 0 {
		a.metrics.RejectionsTotal.Inc()
		return fmt.Errorf("open hedge rejected: %v", msgs)
	}
	a.metrics.OrdersTotal.WithLabelValues("hedge_open").Inc()

	result, err := a.orders.AwaitTerminal(ctx, resp.Order.ID)
	if err != nil {
		return fmt.Errorf("open hedge order %d: %w", resp.Order.ID, err)
	}
	if !result.Filled() {
		a.metrics.RejectionsTotal.Inc()
		return fmt.Errorf("open hedge order %d ended %s", result.OrderID, result.Status)
	}

	mult := pick.Multiplier
	if mult <= 0 {
		mult = models.SharesPerContract
	}
	tradeID := uuid.NewString()
	trade := &models.Trade{
		ID:              tradeID,
		CycleID:         snap.Cycle.ID,
		Role:            models.RoleHedge,
		Status:          models.TradeOpen,
		EntryPrice:      result.FillPrice,
		CapitalRequired: result.FillPrice * mult * float64(req.Quantity),
		EntryTime:       a.now().UTC(),
		Legs: []models.Leg{{
			ID:         uuid.NewString(),
			TradeID:    tradeID,
			Side:       models.SideLong,
			Quantity:   req.Quantity,
			Strike:     pick.Strike,
			OptionType: models.OptionPut,
			Expiration: pick.Expiration,
			Symbol:     pick.Symbol,
			Active:     true,
		}},
	}
	if err := a.storage.CreateTrade(ctx, trade, a.openTransaction(tradeID, result.FillPrice, req.Quantity, result.OrderID)); err != nil {
		return fmt.Errorf("record hedge trade: %w", err)
	}
	a.logger.Printf("hedge opened: %s x%d @ %.2f (order %d)", pick.Symbol, req.Quantity, result.FillPrice, result.OrderID)
	return nil
}

// openSpread runs the full entry gate, selects a spread from today's
// short-dated chain, sizes it against the hedge, previews it, and
// routes it.
func (a *Automation) openSpread(ctx context.Context, acct config.AccountConfig, snap strategy.CycleSnapshot) error {
	entry := strategy.ValidateEntry(snap.Market, snap.Env, snap.Rules)
	if !entry.OK {
		a.logger.Printf("entry blocked by %s: %s", entry.Blocked, entry.Reason)
		return nil
	}

	exps, err := a.expirations(ctx, snap.Cycle.Underlying)
	if err != nil {
		return fmt.Errorf("open spread: expirations: %w", err)
	}
	exp, ok := incomeExpiration(exps, snap.Market.Now)
	if !ok {
		return fmt.Errorf("open spread: no usable expiration")
	}

	chain, err := a.loadChain(ctx, snap.Cycle.Underlying, exp, false)
	if err != nil {
		return fmt.Errorf("open spread: chain: %w", err)
	}
	candidate, stats := strategy.SelectSpread(chain, snap.Rules)
	a.logger.Printf("spread scan %s: scanned=%d illiquid=%d missing_long=%d below_min=%d above_max=%d accepted=%d",
		exp.Format("2006-01-02"), stats.Scanned, stats.Illiquid, stats.MissingLong, stats.BelowMin, stats.AboveMax, stats.Accepted)
	if candidate == nil {
		a.logger.Printf("open spread: no candidate qualified, standing down")
		return nil
	}

	hedge := snap.Cycle.OpenHedge()
	if hedge == nil {
		return fmt.Errorf("open spread: cycle has no hedge to size against")
	}
	qty := strategy.SpreadQuantity(hedge.Quantity(), candidate.Credit, snap.Rules)
	if qty == 0 {
		a.logger.Printf("open spread: sized to zero contracts, standing down")
		return nil
	}
	return a.enterSpread(ctx, acct, snap, candidate, qty, "entry")
}

// enterSpread previews and routes a put credit spread, then records the
// trade with its harvest target and roll trigger derived from the fill.
func (a *Automation) enterSpread(ctx context.Context, acct config.AccountConfig, snap strategy.CycleSnapshot,
	candidate *strategy.SpreadCandidate, qty int, tag string) error {
	req := broker.SpreadOrderRequest{
		Underlying:  snap.Cycle.Underlying,
		ShortSymbol: candidate.Short.Symbol,
		LongSymbol:  candidate.Long.Symbol,
		Quantity:    qty,
		LimitPrice:  candidate.Credit,
		Tag:         tag + "-" + snap.Cycle.ID,
	}

	// Preview first. The margin check catches an undersized account
	// before a live order can be rejected or, worse, partially worked.
	preview := req
	preview.Preview = true
	pv, err := a.broker.PlaceSpreadOrder(ctx, preview)
	if err != nil {
		return fmt.Errorf("spread preview: %w", err)
	}
	if msgs := pv.ErrorStrings(); len(msgs) > 0 {
		a.metrics.RejectionsTotal.Inc()
		return fmt.Errorf("spread preview rejected: %v", msgs)
	}
	a.logger.Printf("spread preview %s/%s x%d @ %.2f: cost %.2f margin %.2f",
		candidate.Short.Symbol, candidate.Long.Symbol, qty, candidate.Credit, pv.Order.OrderCost, pv.Order.MarginChange)
	if acct.PreviewOnly {
		return nil
	}

	resp, err := a.retry.PlaceSpreadOrderWithRetry(ctx, req)
	if err != nil {
		return fmt.Errorf("place spread: %w", err)
	}
	if msgs := resp.ErrorStrings(); len(msgs) > 0 {
		a.metrics.RejectionsTotal.Inc()
		return fmt.Errorf("spread order rejected: %v", msgs)
	}
	a.metrics.OrdersTotal.WithLabelValues("spread_open").Inc()

	result, err := a.orders.AwaitTerminal(ctx, resp.Order.ID)
	if err != nil {
		return fmt.Errorf("spread order %d: %w", resp.Order.ID, err)
	}
	if !result.Filled() {
		a.metrics.RejectionsTotal.Inc()
		return fmt.Errorf("spread order %d ended %s", result.OrderID, result.Status)
	}

	credit := result.FillPrice
	width := candidate.Short.Strike - candidate.Long.Strike
	tradeID := uuid.NewString()
	trade := &models.Trade{
		ID:              tradeID,
		CycleID:         snap.Cycle.ID,
		Role:            models.RoleIncome,
		Status:          models.TradeOpen,
		EntryPrice:      credit,
		TargetPrice:     credit * (1 - snap.Rules.ProfitTargetFraction),
		TriggerPrice:    credit * snap.Rules.RollTriggerMultiplier,
		CapitalRequired: (width - credit) * models.SharesPerContract * float64(qty),
		EntryTime:       a.now().UTC(),
		Legs: []models.Leg{
			{
				ID: uuid.NewString(), TradeID: tradeID, Side: models.SideShort, Quantity: qty,
				Strike: candidate.Short.Strike, OptionType: models.OptionPut,
				Expiration: candidate.Short.Expiration, Symbol: candidate.Short.Symbol, Active: true,
			},
			{
				ID: uuid.NewString(), TradeID: tradeID, Side: models.SideLong, Quantity: qty,
				Strike: candidate.Long.Strike, OptionType: models.OptionPut,
				Expiration: candidate.Long.Expiration, Symbol: candidate.Long.Symbol, Active: true,
			},
		},
	}
	if err := a.storage.CreateTrade(ctx, trade, a.openTransaction(tradeID, credit, qty, result.OrderID)); err != nil {
		return fmt.Errorf("record spread trade: %w", err)
	}
	a.logger.Printf("spread opened: %s/%s x%d @ %.2f credit, target %.2f trigger %.2f (order %d)",
		candidate.Short.Symbol, candidate.Long.Symbol, qty, credit, trade.TargetPrice, trade.TriggerPrice, result.OrderID)
	return nil
}

// closeSpread buys back one income spread at the given debit limit and
// books the exit.
func (a *Automation) closeSpread(ctx context.Context, acct config.AccountConfig, t *models.Trade, limit float64, reason string) error {
	short, long := t.ShortLeg(), t.LongLeg()
	if short == nil || long == nil {
		return fmt.Errorf("close spread %s: missing legs", t.ID)
	}
	price := util.RoundToNickel(limit)
	if price < minLimitPrice {
		price = minLimitPrice
	}
	parsed, err := broker.ParseOptionSymbol(short.Symbol)
	if err != nil {
		return fmt.Errorf("close spread %s: %w", t.ID, err)
	}
	req := broker.SpreadOrderRequest{
		Underlying:  parsed.Underlying,
		ShortSymbol: short.Symbol,
		LongSymbol:  long.Symbol,
		Quantity:    t.Quantity(),
		LimitPrice:  price,
		Close:       true,
		Tag:         reason + "-" + t.ID,
	}

	if acct.PreviewOnly {
		a.logger.Printf("[preview] would close spread %s @ %.2f (%s)", t.ID, price, reason)
		return nil
	}

	resp, err := a.retry.PlaceSpreadOrderWithRetry(ctx, req)
	if err != nil {
		return fmt.Errorf("close spread %s: %w", t.ID, err)
	}
	if msgs := resp.ErrorStrings(); len(msgs) > 0 {
		a.metrics.RejectionsTotal.Inc()
		return fmt.Errorf("close spread %s rejected: %v", t.ID, msgs)
	}
	a.metrics.OrdersTotal.WithLabelValues("spread_close").Inc()

	result, err := a.orders.AwaitTerminal(ctx, resp.Order.ID)
	if err != nil {
		return fmt.Errorf("close spread %s order %d: %w", t.ID, resp.Order.ID, err)
	}
	if !result.Filled() {
		a.metrics.RejectionsTotal.Inc()
		return fmt.Errorf("close spread %s order %d ended %s", t.ID, result.OrderID, result.Status)
	}

	realized := (t.EntryPrice - result.FillPrice) * models.SharesPerContract * float64(t.Quantity())
	err = a.storage.CloseTrade(ctx, t.ID, storage.TradeExit{
		Price:         result.FillPrice,
		Reason:        reason,
		RealizedPnL:   realized,
		Time:          a.now().UTC(),
		BrokerOrderID: strconv.Itoa(result.OrderID),
	})
	if err != nil {
		return fmt.Errorf("record spread close %s: %w", t.ID, err)
	}

	t.Status = models.TradeClosed
	t.RealizedPnL = realized
	a.logger.Printf("spread %s closed @ %.2f (%s), realized %.2f", t.ID, result.FillPrice, reason, realized)
	return nil
}

// closeHedge sells the hedge leg at the given limit and books the exit.
func (a *Automation) closeHedge(ctx context.Context, acct config.AccountConfig, t *models.Trade, limit float64, reason string) error {
	if len(t.Legs) == 0 {
		return fmt.Errorf("close hedge %s: no leg", t.ID)
	}
	leg := t.Legs[0]
	price := util.RoundToNickel(limit)
	if price < minLimitPrice {
		price = minLimitPrice
	}
	parsed, err := broker.ParseOptionSymbol(leg.Symbol)
	if err != nil {
		return fmt.Errorf("close hedge %s: %w", t.ID, err)
	}
	req := broker.OptionOrderRequest{
		Underlying:   parsed.Underlying,
		OptionSymbol: leg.Symbol,
		Side:         "sell_to_close",
		Quantity:     t.Quantity(),
		LimitPrice:   price,
		Tag:          reason + "-" + t.ID,
	}

	if acct.PreviewOnly {
		a.logger.Printf("[preview] would close hedge %s @ %.2f (%s)", t.ID, price, reason)
		return nil
	}

	resp, err := a.retry.PlaceOptionOrderWithRetry(ctx, req)
	if err != nil {
		return fmt.Errorf("close hedge %s: %w", t.ID, err)
	}
	if msgs := resp.ErrorStrings(); len(msgs) > 0 {
		a.metrics.RejectionsTotal.Inc()
		return fmt.Errorf("close hedge %s rejected: %v", t.ID, msgs)
	}
	a.metrics.OrdersTotal.WithLabelValues("hedge_close").Inc()

	result, err := a.orders.AwaitTerminal(ctx, resp.Order.ID)
	if err != nil {
		return fmt.Errorf("close hedge %s order %d: %w", t.ID, resp.Order.ID, err)
	}
	if !result.Filled() {
		a.metrics.RejectionsTotal.Inc()
		return fmt.Errorf("close hedge %s order %d ended %s", t.ID, result.OrderID, result.Status)
	}

	realized := (result.FillPrice - t.EntryPrice) * models.SharesPerContract * float64(t.Quantity())
	err = a.storage.CloseTrade(ctx, t.ID, storage.TradeExit{
		Price:         result.FillPrice,
		Reason:        reason,
		RealizedPnL:   realized,
		Time:          a.now().UTC(),
		BrokerOrderID: strconv.Itoa(result.OrderID),
	})
	if err != nil {
		return fmt.Errorf("record hedge close %s: %w", t.ID, err)
	}

	t.Status = models.TradeClosed
	t.RealizedPnL = realized
	a.logger.Printf("hedge %s closed @ %.2f (%s), realized %.2f", t.ID, result.FillPrice, reason, realized)
	return nil
}

// selectHedgePut picks the liquid put whose absolute delta lands inside
// the rule set's band, preferring the one closest to the band midpoint.
func selectHedgePut(chain []strategy.OptionQuote, rules models.RuleSet) *strategy.OptionQuote {
	mid := (rules.HedgeMinDelta + rules.HedgeMaxDelta) / 2
	var best *strategy.OptionQuote
	var bestDist float64
	for i := range chain {
		q := &chain[i]
		if q.Greeks == nil || q.Bid <= 0 || q.Ask <= 0 {
			continue
		}
		delta := q.Greeks.Delta
		if delta < 0 {
			delta = -delta
		}
		if delta < rules.HedgeMinDelta || delta > rules.HedgeMaxDelta {
			continue
		}
		dist := delta - mid
		if dist < 0 {
			dist = -dist
		}
		if best == nil || dist < bestDist {
			best, bestDist = q, dist
		}
	}
	return best
}

func (a *Automation) openTransaction(tradeID string, price float64, qty, orderID int) *models.Transaction {
	return &models.Transaction{
		ID:            uuid.NewString(),
		TradeID:       tradeID,
		Type:          models.TxnOpen,
		Price:         price,
		Quantity:      qty,
		Timestamp:     a.now().UTC(),
		BrokerOrderID: strconv.Itoa(orderID),
	}
}
