// Command bot runs the hedged-income automation: a long-dated
// protective put under a rotating book of short-dated put credit
// spreads, one cycle per account/underlying, driven by a cron tick.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jhalpert/dunder_hedger/internal/broker"
	"github.com/jhalpert/dunder_hedger/internal/config"
	"github.com/jhalpert/dunder_hedger/internal/health"
	"github.com/jhalpert/dunder_hedger/internal/scheduler"
	"github.com/jhalpert/dunder_hedger/internal/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	runOnce := flag.Bool("once", false, "run a single pass for every account and exit")
	flag.Parse()

	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags|log.Lshortfile)

	if err := run(configPath, *runOnce, logger); err != nil {
		logger.Fatalf("fatal: %v", err)
	}
}

func run(configPath string, runOnce bool, logger *log.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsPaperTrading() {
		logger.Printf("mode: PAPER (sandbox order routing)")
	} else {
		logger.Printf("mode: LIVE - real money")
	}

	api := broker.NewTradierAPI(cfg.Broker.APIKey, firstAccountID(cfg), cfg.IsPaperTrading())
	b := broker.NewCircuitBreakerBroker(api)

	store, err := storage.NewSQLiteStore(cfg.Storage.Path, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Rule sets are authored in yaml and synced into storage at startup
	// so the decision path always reads one source.
	for i := range cfg.RuleSets {
		rules := cfg.RuleSets[i].RuleSet()
		if err := store.SaveRuleSet(ctx, &rules); err != nil {
			return fmt.Errorf("sync rule set %s: %w", rules.Name, err)
		}
	}
	logger.Printf("synced %d rule sets, %d accounts", len(cfg.RuleSets), len(cfg.Accounts))

	metrics := health.NewMetrics()
	automation := NewAutomation(cfg, b, store, metrics, logger)

	accounts := make([]scheduler.Account, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		accounts = append(accounts, scheduler.Account{ID: a.ID, Underlying: a.Underlying})
	}
	sched := scheduler.New(ctx, cfg.Location(), logger, accounts, automation.RunPass)

	if runOnce {
		sched.RunNow()
		return nil
	}
	if err := sched.Register(cfg.Schedule.TickCron); err != nil {
		return fmt.Errorf("register tick schedule: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	var healthSrv *health.Server
	if cfg.Health.Enabled {
		hlog := logrus.New()
		hlog.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		healthSrv = health.NewServer(cfg.Health.Addr, store, metrics, hlog)
		g.Go(healthSrv.Start)
	}

	sched.Start()
	logger.Printf("scheduler started: %s (%s)", cfg.Schedule.TickCron, cfg.Schedule.Timezone)

	g.Go(func() error {
		<-gctx.Done()
		logger.Printf("shutting down")
		sched.Stop()
		if healthSrv != nil {
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			return healthSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}

// firstAccountID picks the broker account used for API calls. All
// configured accounts must live under the same Tradier profile.
func firstAccountID(cfg *config.Config) string {
	if len(cfg.Accounts) > 0 {
		return cfg.Accounts[0].ID
	}
	return ""
}
