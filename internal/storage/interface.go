// Package storage persists trading cycles and their trade graphs.
// Multi-row writes (trade + legs + transaction, closes, settlements) are
// atomic: they either land completely or not at all.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jhalpert/dunder_hedger/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrOpenCycleExists is returned when creating a cycle for an
	// account/underlying pair that already has one open.
	ErrOpenCycleExists = errors.New("storage: an open cycle already exists for this account and underlying")
	// ErrTradeClosed is returned when closing or settling a trade that
	// is not OPEN.
	ErrTradeClosed = errors.New("storage: trade is not open")
)

// TradeExit carries the terminal economics applied when a trade leaves
// the book. RealizedPnL is signed and is added to the cycle's running
// total in the same transaction.
type TradeExit struct {
	Price         float64
	Reason        string
	RealizedPnL   float64
	Fees          float64
	Time          time.Time
	BrokerOrderID string
}

// Interface is the persistence surface the automation consumes.
type Interface interface {
	CreateCycle(ctx context.Context, cycle *models.Cycle) error
	GetOpenCycle(ctx context.Context, accountID, underlying string) (*models.Cycle, error)
	ListOpenCycles(ctx context.Context) ([]*models.Cycle, error)
	SetDailyHedgeRef(ctx context.Context, cycleID string, ref float64) error
	CloseCycle(ctx context.Context, cycleID string, closedAt time.Time) error

	// CreateTrade inserts a trade, its legs, and its opening transaction
	// atomically. A hedge trade also links itself to its cycle.
	CreateTrade(ctx context.Context, trade *models.Trade, openTxn *models.Transaction) error
	// CloseTrade books a broker-filled exit: closing transaction, legs
	// deactivated, status/exit fields set, cycle P&L bumped.
	CloseTrade(ctx context.Context, tradeID string, exit TradeExit) error
	// SettleZombie books an administrative exit with no broker fill and
	// flags the trade for audit.
	SettleZombie(ctx context.Context, tradeID string, exit TradeExit) error
	GetTransactions(ctx context.Context, tradeID string) ([]models.Transaction, error)

	// GetRuleSet loads a named rule set, divided down by scale when
	// scale > 1.
	GetRuleSet(ctx context.Context, name string, scale int) (*models.RuleSet, error)
	SaveRuleSet(ctx context.Context, rules *models.RuleSet) error

	Close() error
}
