package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhalpert/dunder_hedger/internal/broker"
	"github.com/jhalpert/dunder_hedger/internal/config"
	"github.com/jhalpert/dunder_hedger/internal/health"
	"github.com/jhalpert/dunder_hedger/internal/models"
	"github.com/jhalpert/dunder_hedger/internal/orders"
	"github.com/jhalpert/dunder_hedger/internal/reconcile"
	"github.com/jhalpert/dunder_hedger/internal/retry"
	"github.com/jhalpert/dunder_hedger/internal/storage"
	"github.com/jhalpert/dunder_hedger/internal/strategy"
)

// Automation runs one decision pass per account per tick: capture a
// consistent snapshot, reconcile zombies, classify the cycle, dispatch
// the single resulting action. All market I/O happens before the
// classification so every check sees the same world.
type Automation struct {
	cfg     *config.Config
	broker  broker.Broker
	storage storage.Interface
	retry   *retry.Client
	orders  *orders.Manager
	metrics *health.Metrics
	logger  *log.Logger
	loc     *time.Location

	accounts map[string]config.AccountConfig
	nowFn    func() time.Time

	mu       sync.Mutex
	refDates map[string]string // cycle ID -> date the daily hedge ref was set
}

// NewAutomation wires the pass runner.
func NewAutomation(cfg *config.Config, b broker.Broker, store storage.Interface,
	metrics *health.Metrics, logger *log.Logger) *Automation {
	accounts := make(map[string]config.AccountConfig, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		accounts[a.ID+"/"+a.Underlying] = a
	}
	return &Automation{
		cfg:     cfg,
		broker:  b,
		storage: store,
		retry:   retry.NewClient(b, logger),
		orders: orders.NewManager(b, logger, orders.Config{
			PollInterval: cfg.OrderPollInterval(),
			Timeout:      cfg.OrderPollTimeout(),
			CallTimeout:  5 * time.Second,
		}),
		metrics:  metrics,
		logger:   logger,
		loc:      cfg.Location(),
		accounts: accounts,
		nowFn:    time.Now,
		refDates: make(map[string]string),
	}
}

func (a *Automation) now() time.Time {
	return a.nowFn().In(a.loc)
}

// RunPass executes one full pass for an account/underlying pair. Errors
// are logged and counted, never propagated: the next tick retries.
func (a *Automation) RunPass(ctx context.Context, accountID, underlying string) {
	a.metrics.PassesTotal.WithLabelValues(accountID).Inc()
	if err := a.runPass(ctx, accountID, underlying); err != nil {
		a.metrics.PassErrorsTotal.WithLabelValues(accountID).Inc()
		a.logger.Printf("pass %s/%s failed: %v", accountID, underlying, err)
	}
}

func (a *Automation) runPass(ctx context.Context, accountID, underlying string) error {
	acct, ok := a.accounts[accountID+"/"+underlying]
	if !ok {
		return fmt.Errorf("no account configured for %s/%s", accountID, underlying)
	}

	env, marketOpen, err := a.environment(ctx)
	if err != nil {
		return fmt.Errorf("market clock: %w", err)
	}
	if env.Session != strategy.SessionOpen {
		a.logger.Printf("%s/%s: market %s, nothing to do", accountID, underlying, env.Session)
		return nil
	}

	cycle, rules, err := a.loadCycle(ctx, acct)
	if err != nil {
		return err
	}

	if err := a.settleZombies(ctx, cycle); err != nil {
		return err
	}

	market, err := a.marketSnapshot(ctx, underlying, marketOpen)
	if err != nil {
		return fmt.Errorf("underlying quote: %w", err)
	}

	hedgeQuote, err := a.hedgeQuote(ctx, cycle)
	if err != nil {
		a.logger.Printf("%s: hedge quote unavailable: %v", cycle.ID, err)
	}
	a.ensureDailyRef(ctx, cycle, hedgeQuote, market.Now)

	spreadCosts, err := a.spreadCosts(ctx, cycle)
	if err != nil {
		a.logger.Printf("%s: spread costs incomplete: %v", cycle.ID, err)
	}

	snap := strategy.CycleSnapshot{
		Cycle:       cycle,
		Market:      market,
		Env:         env,
		Rules:       *rules,
		HedgeQuote:  hedgeQuote,
		SpreadCosts: spreadCosts,
	}

	decision := strategy.DetermineCycleState(snap)
	a.metrics.CycleStatesTotal.WithLabelValues(string(decision.State)).Inc()
	a.logger.Printf("%s/%s: state=%s reason=%s", accountID, underlying, decision.State, decision.Reason)
	for _, d := range decision.Diagnostics {
		a.logger.Printf("%s/%s:   %s", accountID, underlying, d)
	}

	a.publishGauges(accountID, cycle)
	return a.dispatch(ctx, acct, snap, decision)
}

// loadCycle fetches the open cycle for an account, creating a fresh one
// when none exists, and resolves its rule set at the account's scale.
func (a *Automation) loadCycle(ctx context.Context, acct config.AccountConfig) (*models.Cycle, *models.RuleSet, error) {
	cycle, err := a.storage.GetOpenCycle(ctx, acct.ID, acct.Underlying)
	if errors.Is(err, storage.ErrNotFound) {
		cycle = &models.Cycle{
			ID:          uuid.NewString(),
			AccountID:   acct.ID,
			Underlying:  acct.Underlying,
			Status:      models.CycleNew,
			RuleSetName: acct.RuleSet,
			CreatedAt:   a.now().UTC(),
		}
		if err := a.storage.CreateCycle(ctx, cycle); err != nil {
			return nil, nil, fmt.Errorf("create cycle: %w", err)
		}
		a.logger.Printf("created cycle %s for %s/%s", cycle.ID, acct.ID, acct.Underlying)
	} else if err != nil {
		return nil, nil, fmt.Errorf("load cycle: %w", err)
	}

	rules, err := a.storage.GetRuleSet(ctx, acct.RuleSet, acct.Scale)
	if err != nil {
		return nil, nil, fmt.Errorf("load rule set %s: %w", acct.RuleSet, err)
	}
	return cycle, rules, nil
}

// environment builds the env snapshot from the broker clock and resolves
// today's session open from the calendar. A calendar the broker cannot
// serve or parse falls back to the regular 09:30 open, treating the day
// as a normal session.
func (a *Automation) environment(ctx context.Context) (strategy.EnvStatus, time.Time, error) {
	clock, err := a.broker.GetMarketClock(ctx, a.cfg.Broker.DelayedQuotes)
	if err != nil {
		return strategy.EnvStatus{}, time.Time{}, err
	}

	env := strategy.EnvStatus{
		Session:    strategy.SessionState(clock.Clock.State),
		NextChange: clock.Clock.NextChange,
	}

	now := a.now()
	openClock := "09:30"
	if cal, err := a.broker.GetMarketCalendar(ctx, int(now.Month()), now.Year()); err == nil {
		today := now.Format("2006-01-02")
		for _, day := range cal.Calendar.Days.Day {
			if day.Date != today {
				continue
			}
			if day.Status != "open" {
				env.Holiday = true
			}
			if day.Open.Start != "" {
				openClock = day.Open.Start
			}
			break
		}
	}

	var h, m int
	if _, err := fmt.Sscanf(openClock, "%d:%d", &h, &m); err != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		h, m = 9, 30
	}
	marketOpen := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, a.loc)
	return env, marketOpen, nil
}

func (a *Automation) marketSnapshot(ctx context.Context, underlying string, marketOpen time.Time) (strategy.MarketSnapshot, error) {
	quote, err := a.broker.GetQuote(ctx, underlying)
	if err != nil {
		return strategy.MarketSnapshot{}, err
	}
	return strategy.MarketSnapshot{
		Now:        a.now(),
		MarketOpen: marketOpen,
		PrevClose:  quote.PrevClose,
		TodayOpen:  quote.Open,
		Last:       quote.Last,
	}, nil
}

// settleZombies diffs the cycle's open trades against broker holdings
// and books worst-case settlements for trades the broker no longer
// holds. The cycle is mutated in place so the classification that
// follows sees the settled book.
func (a *Automation) settleZombies(ctx context.Context, cycle *models.Cycle) error {
	positions, err := a.broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("broker positions: %w", err)
	}
	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
	}

	zombies := reconcile.FindZombies(cycle, reconcile.HeldSymbolSet(symbols))
	for _, z := range zombies {
		realized := -z.Settlement.Debit
		if z.Trade.Role == models.RoleIncome {
			// The credit was collected at entry; the settlement debit is
			// the worst-case buyback.
			realized += z.Trade.EntryPrice * models.SharesPerContract * float64(z.Trade.Quantity())
		} else {
			realized -= z.Trade.EntryPrice * models.SharesPerContract * float64(z.Trade.Quantity())
		}
		err := a.storage.SettleZombie(ctx, z.Trade.ID, storage.TradeExit{
			Price:       z.Settlement.Debit,
			Reason:      z.Settlement.Reason,
			RealizedPnL: realized,
			Time:        a.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("settle zombie %s: %w", z.Trade.ID, err)
		}
		a.metrics.ZombiesTotal.Inc()
		a.logger.Printf("settled zombie trade %s: %s (pnl %.2f)", z.Trade.ID, z.Settlement.Reason, realized)

		// Reflect the settlement in the in-memory cycle for this pass.
		z.Trade.Status = models.TradeClosed
		z.Trade.ZombieFlag = true
		z.Trade.RealizedPnL = realized
		cycle.RealizedPnL += realized
	}
	return nil
}

// ensureDailyRef pins the hedge's daily P&L baseline once per trading
// day, at the first pass that has a usable hedge quote.
func (a *Automation) ensureDailyRef(ctx context.Context, cycle *models.Cycle, hedgeQuote *strategy.OptionQuote, now time.Time) {
	if cycle.OpenHedge() == nil || hedgeQuote == nil {
		return
	}
	today := now.In(a.loc).Format("2006-01-02")

	a.mu.Lock()
	current := a.refDates[cycle.ID]
	a.mu.Unlock()
	if current == today && cycle.DailyHedgeRef != 0 {
		return
	}

	ref := hedgeQuote.Mid()
	if err := a.storage.SetDailyHedgeRef(ctx, cycle.ID, ref); err != nil {
		a.logger.Printf("%s: failed to set daily hedge ref: %v", cycle.ID, err)
		return
	}
	cycle.DailyHedgeRef = ref
	a.mu.Lock()
	a.refDates[cycle.ID] = today
	a.mu.Unlock()
	a.logger.Printf("%s: daily hedge ref set to %.2f", cycle.ID, ref)
}

// hedgeQuote pulls the hedge leg's quote with greeks from the chain at
// its expiration. Nil with no error when the cycle has no open hedge.
func (a *Automation) hedgeQuote(ctx context.Context, cycle *models.Cycle) (*strategy.OptionQuote, error) {
	hedge := cycle.OpenHedge()
	if hedge == nil || len(hedge.Legs) == 0 {
		return nil, nil
	}
	leg := hedge.Legs[0]

	chain, err := a.loadChain(ctx, cycle.Underlying, leg.Expiration, true)
	if err != nil {
		return nil, err
	}
	for i := range chain {
		if chain[i].Symbol == leg.Symbol {
			return &chain[i], nil
		}
	}
	return nil, fmt.Errorf("hedge leg %s not in chain", leg.Symbol)
}

// spreadCosts prices the cost to close each open income spread: buy the
// short back at ask, sell the long at bid. Trades whose legs cannot be
// quoted are simply absent from the map.
func (a *Automation) spreadCosts(ctx context.Context, cycle *models.Cycle) (map[string]float64, error) {
	costs := make(map[string]float64)
	var firstErr error

	chains := make(map[string]map[string]strategy.OptionQuote)
	for _, t := range cycle.OpenIncomeTrades() {
		short, long := t.ShortLeg(), t.LongLeg()
		if short == nil || long == nil {
			continue
		}
		expKey := short.Expiration.Format("2006-01-02")
		bySymbol, ok := chains[expKey]
		if !ok {
			chain, err := a.loadChain(ctx, cycle.Underlying, short.Expiration, false)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			bySymbol = make(map[string]strategy.OptionQuote, len(chain))
			for _, q := range chain {
				bySymbol[q.Symbol] = q
			}
			chains[expKey] = bySymbol
		}

		shortQ, okS := bySymbol[short.Symbol]
		longQ, okL := bySymbol[long.Symbol]
		if !okS || !okL || shortQ.Ask <= 0 {
			continue
		}
		costs[t.ID] = shortQ.Ask - longQ.Bid
	}
	return costs, firstErr
}

// loadChain fetches the put side of the chain for one expiration,
// adapted into decision-core quotes.
func (a *Automation) loadChain(ctx context.Context, underlying string, expiration time.Time, greeks bool) ([]strategy.OptionQuote, error) {
	raw, err := a.broker.GetOptionChain(ctx, underlying, expiration.Format("2006-01-02"), greeks)
	if err != nil {
		return nil, err
	}
	quotes := make([]strategy.OptionQuote, 0, len(raw))
	for _, opt := range raw {
		if opt.OptionType != "put" {
			continue
		}
		quotes = append(quotes, adaptOption(opt))
	}
	return quotes, nil
}

func adaptOption(opt broker.Option) strategy.OptionQuote {
	q := strategy.OptionQuote{
		Symbol:     opt.Symbol,
		Strike:     opt.Strike,
		OptionType: models.OptionPut,
		Bid:        opt.Bid,
		Ask:        opt.Ask,
		Last:       opt.Last,
		Multiplier: float64(opt.ContractSize),
	}
	if opt.OptionType == "call" {
		q.OptionType = models.OptionCall
	}
	if exp, err := time.Parse("2006-01-02", opt.ExpirationDate); err == nil {
		q.Expiration = exp
	}
	if opt.Greeks != nil {
		q.Greeks = &strategy.Greeks{
			Delta: opt.Greeks.Delta,
			Gamma: opt.Greeks.Gamma,
			Theta: opt.Greeks.Theta,
			Vega:  opt.Greeks.Vega,
			IV:    opt.Greeks.MidIV,
		}
	}
	return q
}

// expirations returns the underlying's expiration dates in ascending
// order.
func (a *Automation) expirations(ctx context.Context, underlying string) ([]time.Time, error) {
	raw, err := a.broker.GetExpirations(ctx, underlying)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		if exp, err := time.Parse("2006-01-02", s); err == nil {
			out = append(out, exp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// incomeExpiration picks the nearest expiration at least one calendar
// day out.
func incomeExpiration(exps []time.Time, now time.Time) (time.Time, bool) {
	cutoff := now.AddDate(0, 0, 1).Truncate(24 * time.Hour)
	for _, exp := range exps {
		if !exp.Before(cutoff) {
			return exp, true
		}
	}
	return time.Time{}, false
}

// hedgeExpiration picks the first expiration at or beyond the target
// DTE.
func hedgeExpiration(exps []time.Time, now time.Time, targetDTE int) (time.Time, bool) {
	cutoff := now.AddDate(0, 0, targetDTE).Truncate(24 * time.Hour)
	for _, exp := range exps {
		if !exp.Before(cutoff) {
			return exp, true
		}
	}
	return time.Time{}, false
}

func (a *Automation) publishGauges(accountID string, cycle *models.Cycle) {
	open := 0
	for i := range cycle.Trades {
		if cycle.Trades[i].Status == models.TradeOpen {
			open++
		}
	}
	a.metrics.OpenTrades.WithLabelValues(accountID).Set(float64(open))
	a.metrics.RealizedPnL.WithLabelValues(accountID).Set(cycle.RealizedPnL)
}
