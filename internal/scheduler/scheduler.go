// Package scheduler drives periodic automation passes from a cron
// schedule and guarantees at most one concurrent pass per account. A
// pass that is still running when the next tick fires is skipped for
// that account, never queued.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"
)

// PassFunc runs one automation pass for a single account/underlying pair.
type PassFunc func(ctx context.Context, accountID, underlying string)

// Account identifies one scheduled account/underlying pair.
type Account struct {
	ID         string
	Underlying string
}

// Scheduler fires automation passes on a cron spec.
type Scheduler struct {
	cron     *cron.Cron
	logger   *log.Logger
	pass     PassFunc
	accounts []Account
	guards   map[string]*semaphore.Weighted
	ctx      context.Context

	mu      sync.Mutex
	skipped int64
}

// New builds a scheduler in the given location. Each account gets its
// own single-slot semaphore as the overlap guard.
func New(ctx context.Context, loc *time.Location, logger *log.Logger, accounts []Account, pass PassFunc) *Scheduler {
	guards := make(map[string]*semaphore.Weighted, len(accounts))
	for _, a := range accounts {
		guards[guardKey(a.ID, a.Underlying)] = semaphore.NewWeighted(1)
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		logger:   logger,
		pass:     pass,
		accounts: accounts,
		guards:   guards,
		ctx:      ctx,
	}
}

func guardKey(accountID, underlying string) string {
	return accountID + "/" + underlying
}

// Register adds the tick job for every configured account.
func (s *Scheduler) Register(tickCron string) error {
	if _, err := s.cron.AddFunc(tickCron, s.tick); err != nil {
		return fmt.Errorf("register tick schedule %q: %w", tickCron, err)
	}
	return nil
}

func (s *Scheduler) tick() {
	for _, a := range s.accounts {
		s.runOne(a)
	}
}

// RunNow fires one pass for every account immediately, used at startup.
func (s *Scheduler) RunNow() {
	s.tick()
}

func (s *Scheduler) runOne(a Account) {
	guard := s.guards[guardKey(a.ID, a.Underlying)]
	if !guard.TryAcquire(1) {
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()
		s.logger.Printf("pass for %s/%s still running, skipping tick", a.ID, a.Underlying)
		return
	}
	defer guard.Release(1)

	if s.ctx.Err() != nil {
		return
	}
	s.pass(s.ctx, a.ID, a.Underlying)
}

// SkippedPasses returns how many ticks were dropped by the overlap guard.
func (s *Scheduler) SkippedPasses() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// Start begins firing scheduled passes.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Printf("scheduler started with %d accounts", len(s.accounts))
}

// Stop halts the schedule and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Printf("scheduler stopped")
}
