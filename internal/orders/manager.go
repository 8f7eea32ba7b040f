// Package orders tracks submitted orders until they reach a terminal
// state. The automation pass submits, then blocks on AwaitTerminal so a
// trade is only recorded once its fill is known.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jhalpert/dunder_hedger/internal/broker"
)

// Config contains polling knobs for the order manager.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
	CallTimeout  time.Duration
}

// DefaultConfig is the default polling configuration.
var DefaultConfig = Config{
	PollInterval: 5 * time.Second,
	Timeout:      2 * time.Minute,
	CallTimeout:  5 * time.Second,
}

// ErrPollTimeout is returned when an order does not reach a terminal
// state before the deadline. The manager cancels the order first so a
// late fill cannot land unnoticed.
var ErrPollTimeout = errors.New("orders: polling deadline reached before terminal state")

// Result is the terminal outcome of a polled order.
type Result struct {
	OrderID   int
	Status    string
	FillPrice float64
}

// Filled reports whether the order completed.
func (r *Result) Filled() bool { return r.Status == "filled" }

// Manager polls order status against the broker.
type Manager struct {
	broker broker.Broker
	logger *log.Logger
	config Config
}

// NewManager creates an order manager.
func NewManager(b broker.Broker, logger *log.Logger, config ...Config) *Manager {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig.CallTimeout
	}
	if logger == nil {
		logger = log.New(os.Stderr, "orders: ", log.LstdFlags)
	}
	if b == nil {
		panic("orders.NewManager: broker must not be nil")
	}
	return &Manager{broker: b, logger: logger, config: cfg}
}

// IsTerminalStatus reports whether a broker order status is final.
func IsTerminalStatus(status string) bool {
	switch status {
	case "filled", "canceled", "rejected", "expired", "error":
		return true
	default:
		return false
	}
}

// AwaitTerminal polls orderID until it reaches a terminal state. On
// deadline it attempts a cancel and returns ErrPollTimeout.
func (m *Manager) AwaitTerminal(ctx context.Context, orderID int) (*Result, error) {
	pollCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			m.logger.Printf("order %d: polling deadline reached, canceling", orderID)
			m.cancelBestEffort(orderID)
			if ctx.Err() != nil {
				return nil, fmt.Errorf("order %d polling canceled: %w", orderID, ctx.Err())
			}
			return nil, fmt.Errorf("order %d: %w", orderID, ErrPollTimeout)
		case <-ticker.C:
			status, err := m.pollOnce(pollCtx, orderID)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					continue
				}
				return nil, fmt.Errorf("order %d status poll: %w", orderID, err)
			}
			if !IsTerminalStatus(status.Order.Status) {
				continue
			}
			result := &Result{
				OrderID:   orderID,
				Status:    status.Order.Status,
				FillPrice: status.Order.AvgFillPrice,
			}
			if result.Filled() && result.FillPrice == 0 {
				result.FillPrice = status.Order.Price
			}
			m.logger.Printf("order %d terminal: %s fill=%.2f", orderID, result.Status, result.FillPrice)
			return result, nil
		}
	}
}

func (m *Manager) pollOnce(ctx context.Context, orderID int) (*broker.OrderResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()
	return m.broker.GetOrderStatus(callCtx, orderID)
}

func (m *Manager) cancelBestEffort(orderID int) {
	// Fresh context: the polling deadline is already gone.
	ctx, cancel := context.WithTimeout(context.Background(), m.config.CallTimeout)
	defer cancel()
	if _, err := m.broker.CancelOrder(ctx, orderID); err != nil {
		m.logger.Printf("order %d: cancel after timeout failed: %v", orderID, err)
	}
}
