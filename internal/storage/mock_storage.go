package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhalpert/dunder_hedger/internal/models"
)

// MockStorage is an in-memory Interface implementation for tests. It
// applies the same invariants as the SQLite store but keeps everything
// in maps.
type MockStorage struct {
	mu       sync.Mutex
	cycles   map[string]*models.Cycle
	txns     map[string][]models.Transaction
	ruleSets map[string]models.RuleSet

	// FailNext, when set, makes the next mutating call return the error
	// and clears itself.
	FailNext error
}

var _ Interface = (*MockStorage)(nil)

// NewMockStorage returns an empty in-memory store.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		cycles:   make(map[string]*models.Cycle),
		txns:     make(map[string][]models.Transaction),
		ruleSets: make(map[string]models.RuleSet),
	}
}

func (m *MockStorage) failNext() error {
	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return err
	}
	return nil
}

func (m *MockStorage) CreateCycle(_ context.Context, cycle *models.Cycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext(); err != nil {
		return err
	}
	if err := cycle.Validate(); err != nil {
		return err
	}
	for _, c := range m.cycles {
		if c.AccountID == cycle.AccountID && c.Underlying == cycle.Underlying && c.Status != models.CycleClosed {
			return ErrOpenCycleExists
		}
	}
	cp := cloneCycle(cycle)
	m.cycles[cycle.ID] = cp
	return nil
}

func (m *MockStorage) GetOpenCycle(_ context.Context, accountID, underlying string) (*models.Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cycles {
		if c.AccountID == accountID && c.Underlying == underlying && c.Status != models.CycleClosed {
			return cloneCycle(c), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStorage) ListOpenCycles(_ context.Context) ([]*models.Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Cycle
	for _, c := range m.cycles {
		if c.Status != models.CycleClosed {
			out = append(out, cloneCycle(c))
		}
	}
	return out, nil
}

func (m *MockStorage) SetDailyHedgeRef(_ context.Context, cycleID string, ref float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext(); err != nil {
		return err
	}
	c, ok := m.cycles[cycleID]
	if !ok {
		return ErrNotFound
	}
	c.DailyHedgeRef = ref
	return nil
}

func (m *MockStorage) CloseCycle(_ context.Context, cycleID string, closedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext(); err != nil {
		return err
	}
	c, ok := m.cycles[cycleID]
	if !ok {
		return ErrNotFound
	}
	for i := range c.Trades {
		if c.Trades[i].Status == models.TradeOpen {
			return ErrTradeClosed
		}
	}
	c.Status = models.CycleClosed
	c.ClosedAt = closedAt
	return nil
}

func (m *MockStorage) CreateTrade(_ context.Context, trade *models.Trade, openTxn *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext(); err != nil {
		return err
	}
	if err := trade.Validate(); err != nil {
		return err
	}
	c, ok := m.cycles[trade.CycleID]
	if !ok {
		return ErrNotFound
	}
	cp := *trade
	cp.Legs = append([]models.Leg(nil), trade.Legs...)
	if openTxn != nil {
		for i := range cp.Legs {
			cp.Legs[i].OpenTxnID = openTxn.ID
		}
		m.txns[trade.ID] = append(m.txns[trade.ID], *openTxn)
	}
	c.Trades = append(c.Trades, cp)
	if trade.Role == models.RoleHedge {
		c.HedgeTradeID = trade.ID
		c.Status = models.CycleOpen
	}
	return nil
}

func (m *MockStorage) CloseTrade(_ context.Context, tradeID string, exit TradeExit) error {
	return m.closeTradeInternal(tradeID, exit, models.TxnClose, false)
}

func (m *MockStorage) SettleZombie(_ context.Context, tradeID string, exit TradeExit) error {
	return m.closeTradeInternal(tradeID, exit, models.TxnSettle, true)
}

func (m *MockStorage) closeTradeInternal(tradeID string, exit TradeExit, txnType models.TransactionType, zombie bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext(); err != nil {
		return err
	}
	for _, c := range m.cycles {
		for i := range c.Trades {
			t := &c.Trades[i]
			if t.ID != tradeID {
				continue
			}
			if t.Status != models.TradeOpen {
				return ErrTradeClosed
			}
			t.Status = models.TradeClosed
			t.ExitPrice = exit.Price
			t.ExitReason = exit.Reason
			t.RealizedPnL = exit.RealizedPnL
			t.ZombieFlag = zombie
			t.ExitTime = exit.Time
			for j := range t.Legs {
				t.Legs[j].Active = false
			}
			c.RealizedPnL += exit.RealizedPnL
			m.txns[tradeID] = append(m.txns[tradeID], models.Transaction{
				ID:            uuid.NewString(),
				TradeID:       tradeID,
				Type:          txnType,
				Price:         exit.Price,
				Quantity:      t.Quantity(),
				Fees:          exit.Fees,
				Timestamp:     exit.Time,
				BrokerOrderID: exit.BrokerOrderID,
			})
			return nil
		}
	}
	return ErrNotFound
}

func (m *MockStorage) GetTransactions(_ context.Context, tradeID string) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Transaction(nil), m.txns[tradeID]...), nil
}

func (m *MockStorage) GetRuleSet(_ context.Context, name string, scale int) (*models.RuleSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.ruleSets[name]
	if !ok {
		return nil, ErrNotFound
	}
	scaled := r.Scaled(scale)
	return &scaled, nil
}

func (m *MockStorage) SaveRuleSet(_ context.Context, r *models.RuleSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	m.ruleSets[r.Name] = *r
	return nil
}

func (m *MockStorage) Close() error { return nil }

func cloneCycle(c *models.Cycle) *models.Cycle {
	cp := *c
	cp.Trades = make([]models.Trade, len(c.Trades))
	for i := range c.Trades {
		cp.Trades[i] = c.Trades[i]
		cp.Trades[i].Legs = append([]models.Leg(nil), c.Trades[i].Legs...)
	}
	return &cp
}
