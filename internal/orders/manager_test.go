package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhalpert/dunder_hedger/internal/broker"
)

// statusBroker serves a scripted sequence of order statuses.
type statusBroker struct {
	broker.Broker
	mu       sync.Mutex
	statuses []string
	fill     float64
	polls    int
	canceled bool
}

func (s *statusBroker) GetOrderStatus(ctx context.Context, orderID int) (*broker.OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.polls
	if idx >= len(s.statuses) {
		idx = len(s.statuses) - 1
	}
	s.polls++
	resp := &broker.OrderResponse{}
	resp.Order.ID = orderID
	resp.Order.Status = s.statuses[idx]
	if s.statuses[idx] == "filled" {
		resp.Order.AvgFillPrice = s.fill
	}
	return resp, nil
}

func (s *statusBroker) CancelOrder(ctx context.Context, orderID int) (*broker.OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = true
	resp := &broker.OrderResponse{}
	resp.Order.ID = orderID
	resp.Order.Status = "canceled"
	return resp, nil
}

func fastManager(b broker.Broker, timeout time.Duration) *Manager {
	return NewManager(b, nil, Config{
		PollInterval: time.Millisecond,
		Timeout:      timeout,
		CallTimeout:  50 * time.Millisecond,
	})
}

func TestAwaitTerminalFill(t *testing.T) {
	stub := &statusBroker{statuses: []string{"pending", "open", "filled"}, fill: 1.02}
	m := fastManager(stub, time.Second)

	result, err := m.AwaitTerminal(context.Background(), 81234)
	require.NoError(t, err)
	assert.True(t, result.Filled())
	assert.InDelta(t, 1.02, result.FillPrice, 1e-9)
	assert.GreaterOrEqual(t, stub.polls, 3)
}

func TestAwaitTerminalRejection(t *testing.T) {
	stub := &statusBroker{statuses: []string{"rejected"}}
	m := fastManager(stub, time.Second)

	result, err := m.AwaitTerminal(context.Background(), 81234)
	require.NoError(t, err)
	assert.False(t, result.Filled())
	assert.Equal(t, "rejected", result.Status)
}

func TestAwaitTerminalTimeoutCancels(t *testing.T) {
	stub := &statusBroker{statuses: []string{"open"}}
	m := fastManager(stub, 20*time.Millisecond)

	_, err := m.AwaitTerminal(context.Background(), 81234)
	require.ErrorIs(t, err, ErrPollTimeout)
	assert.True(t, stub.canceled, "stuck orders are canceled, never left working")
}

func TestIsTerminalStatus(t *testing.T) {
	for status, terminal := range map[string]bool{
		"filled":           true,
		"canceled":         true,
		"rejected":         true,
		"expired":          true,
		"error":            true,
		"pending":          false,
		"open":             false,
		"partially_filled": false,
		"":                 false,
	} {
		assert.Equal(t, terminal, IsTerminalStatus(status), status)
	}
}
