package scheduler

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[sched-test] ", log.LstdFlags)
}

func TestRegisterRejectsBadCronSpec(t *testing.T) {
	s := New(context.Background(), time.UTC, testLogger(), nil, func(context.Context, string, string) {})
	err := s.Register("every now and then")
	assert.Error(t, err)
	assert.NoError(t, s.Register("*/5 9-16 * * 1-5"))
}

func TestRunNowFiresEveryAccount(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	accounts := []Account{
		{ID: "acct-1", Underlying: "SPX"},
		{ID: "acct-2", Underlying: "XSP"},
	}
	s := New(context.Background(), time.UTC, testLogger(), accounts, func(_ context.Context, id, under string) {
		mu.Lock()
		seen[id+"/"+under]++
		mu.Unlock()
	})

	s.RunNow()
	assert.Equal(t, map[string]int{"acct-1/SPX": 1, "acct-2/XSP": 1}, seen)
}

func TestOverlapGuardSkipsConcurrentPass(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	accounts := []Account{{ID: "acct-1", Underlying: "SPX"}}

	var runs int
	var mu sync.Mutex
	s := New(context.Background(), time.UTC, testLogger(), accounts, func(context.Context, string, string) {
		mu.Lock()
		runs++
		mu.Unlock()
		close(started)
		<-block
	})

	go s.RunNow()
	<-started

	// A second tick while the first pass is blocked must be dropped.
	s.RunNow()
	assert.EqualValues(t, 1, s.SkippedPasses())

	close(block)
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, runs)
}

func TestCanceledContextStopsPasses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	s := New(ctx, time.UTC, testLogger(), []Account{{ID: "a", Underlying: "SPX"}},
		func(context.Context, string, string) { ran = true })
	s.RunNow()
	assert.False(t, ran, "no passes after shutdown begins")
}
