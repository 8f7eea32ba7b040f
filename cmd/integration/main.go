// Command integration exercises the broker surface end to end against
// the Tradier sandbox: clock, calendar, quotes, chains, spread
// selection and an order preview. It never routes a live order.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jhalpert/dunder_hedger/internal/broker"
	"github.com/jhalpert/dunder_hedger/internal/config"
	"github.com/jhalpert/dunder_hedger/internal/models"
	"github.com/jhalpert/dunder_hedger/internal/strategy"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	flag.Parse()

	logger := log.New(os.Stdout, "[E2E] ", log.LstdFlags)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !cfg.IsPaperTrading() {
		logger.Fatalf("integration checks must run in paper mode; set environment.mode: paper")
	}
	if len(cfg.Accounts) == 0 || len(cfg.RuleSets) == 0 {
		logger.Fatalf("config needs at least one account and one rule set")
	}
	acct := cfg.Accounts[0]
	rules := cfg.RuleSets[0].RuleSet()

	// Sandbox routing regardless of config.
	api := broker.NewTradierAPI(cfg.Broker.APIKey, acct.ID, true)
	b := broker.NewCircuitBreakerBroker(api)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	passed, failed := 0, 0
	check := func(name string, fn func() error) {
		if err := fn(); err != nil {
			failed++
			logger.Printf("FAIL %s: %v", name, err)
			return
		}
		passed++
		logger.Printf("ok   %s", name)
	}

	check("market clock", func() error {
		clock, err := b.GetMarketClock(ctx, cfg.Broker.DelayedQuotes)
		if err != nil {
			return err
		}
		logger.Printf("     session %s, next change %s", clock.Clock.State, clock.Clock.NextChange)
		return nil
	})

	check("market calendar", func() error {
		now := time.Now().In(cfg.Location())
		cal, err := b.GetMarketCalendar(ctx, int(now.Month()), now.Year())
		if err != nil {
			return err
		}
		if len(cal.Calendar.Days.Day) == 0 {
			return fmt.Errorf("calendar returned no days")
		}
		return nil
	})

	check("underlying quote", func() error {
		q, err := b.GetQuote(ctx, acct.Underlying)
		if err != nil {
			return err
		}
		if q.Last <= 0 {
			return fmt.Errorf("%s last price %.2f", acct.Underlying, q.Last)
		}
		logger.Printf("     %s last %.2f open %.2f prev close %.2f", q.Symbol, q.Last, q.Open, q.PrevClose)
		return nil
	})

	var candidate *strategy.SpreadCandidate
	check("chain and spread selection", func() error {
		exps, err := b.GetExpirations(ctx, acct.Underlying)
		if err != nil {
			return err
		}
		if len(exps) == 0 {
			return fmt.Errorf("no expirations for %s", acct.Underlying)
		}
		raw, err := b.GetOptionChain(ctx, acct.Underlying, exps[0], false)
		if err != nil {
			return err
		}
		chain := make([]strategy.OptionQuote, 0, len(raw))
		for _, opt := range raw {
			if opt.OptionType != "put" {
				continue
			}
			exp, perr := time.Parse("2006-01-02", opt.ExpirationDate)
			if perr != nil {
				continue
			}
			chain = append(chain, strategy.OptionQuote{
				Symbol: opt.Symbol, Strike: opt.Strike, OptionType: models.OptionPut,
				Bid: opt.Bid, Ask: opt.Ask,
				Expiration: exp, Multiplier: float64(opt.ContractSize),
			})
		}
		var stats strategy.SelectionStats
		candidate, stats = strategy.SelectSpread(chain, rules)
		logger.Printf("     %s: %d puts scanned, %d accepted", exps[0], stats.Scanned, stats.Accepted)
		return nil
	})

	check("spread order preview", func() error {
		if candidate == nil {
			logger.Printf("     no candidate qualified, skipping preview")
			return nil
		}
		resp, err := b.PlaceSpreadOrder(ctx, broker.SpreadOrderRequest{
			Underlying:  acct.Underlying,
			ShortSymbol: candidate.Short.Symbol,
			LongSymbol:  candidate.Long.Symbol,
			Quantity:    1,
			LimitPrice:  candidate.Credit,
			Preview:     true,
		})
		if err != nil {
			return err
		}
		if msgs := resp.ErrorStrings(); len(msgs) > 0 {
			return fmt.Errorf("preview rejected: %v", msgs)
		}
		logger.Printf("     %s/%s @ %.2f: cost %.2f margin %.2f",
			candidate.Short.Symbol, candidate.Long.Symbol, candidate.Credit,
			resp.Order.OrderCost, resp.Order.MarginChange)
		return nil
	})

	check("symbol round trip", func() error {
		sym := broker.BuildOptionSymbol(acct.Underlying, time.Now().AddDate(0, 3, 0), models.OptionPut, 4000)
		parsed, err := broker.ParseOptionSymbol(sym)
		if err != nil {
			return err
		}
		if parsed.Underlying != acct.Underlying || parsed.Strike != 4000 {
			return fmt.Errorf("round trip mismatch: %+v", parsed)
		}
		return nil
	})

	logger.Printf("%d passed, %d failed", passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
