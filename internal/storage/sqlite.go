package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jhalpert/dunder_hedger/internal/models"
)

// SQLiteStore persists cycles, trades, legs and transactions to a SQLite
// database. A single mutex serializes writes; SQLite only ever has one
// writer anyway and the automation runs a handful of passes per minute.
type SQLiteStore struct {
	db     *sql.DB
	logger *log.Logger
	mu     sync.Mutex
}

var _ Interface = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dbPath and runs
// migrations.
func NewSQLiteStore(dbPath string, logger *log.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = log.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so the health server can read while the automation writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Printf("sqlite store opened: %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cycles (
			id              TEXT PRIMARY KEY,
			account_id      TEXT NOT NULL,
			underlying      TEXT NOT NULL,
			status          TEXT NOT NULL,
			realized_pnl    REAL NOT NULL DEFAULT 0,
			daily_hedge_ref REAL NOT NULL DEFAULT 0,
			rule_set_name   TEXT NOT NULL,
			hedge_trade_id  TEXT NOT NULL DEFAULT '',
			created_at      INTEGER NOT NULL,
			closed_at       INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_account ON cycles(account_id, underlying, status)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id               TEXT PRIMARY KEY,
			cycle_id         TEXT NOT NULL REFERENCES cycles(id),
			role             TEXT NOT NULL,
			status           TEXT NOT NULL,
			entry_price      REAL NOT NULL DEFAULT 0,
			target_price     REAL NOT NULL DEFAULT 0,
			trigger_price    REAL NOT NULL DEFAULT 0,
			capital_required REAL NOT NULL DEFAULT 0,
			realized_pnl     REAL NOT NULL DEFAULT 0,
			exit_price       REAL NOT NULL DEFAULT 0,
			exit_reason      TEXT NOT NULL DEFAULT '',
			zombie_flag      INTEGER NOT NULL DEFAULT 0,
			entry_time       INTEGER NOT NULL DEFAULT 0,
			exit_time        INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_cycle ON trades(cycle_id, status)`,

		`CREATE TABLE IF NOT EXISTS legs (
			id           TEXT PRIMARY KEY,
			trade_id     TEXT NOT NULL REFERENCES trades(id),
			side         TEXT NOT NULL,
			quantity     INTEGER NOT NULL,
			strike       REAL NOT NULL,
			option_type  TEXT NOT NULL,
			expiration   INTEGER NOT NULL,
			symbol       TEXT NOT NULL,
			active       INTEGER NOT NULL DEFAULT 1,
			open_txn_id  TEXT NOT NULL DEFAULT '',
			close_txn_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_legs_trade ON legs(trade_id)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id              TEXT PRIMARY KEY,
			trade_id        TEXT NOT NULL REFERENCES trades(id),
			type            TEXT NOT NULL,
			price           REAL NOT NULL,
			quantity        INTEGER NOT NULL,
			fees            REAL NOT NULL DEFAULT 0,
			timestamp       INTEGER NOT NULL,
			broker_order_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_txns_trade ON transactions(trade_id)`,

		`CREATE TABLE IF NOT EXISTS rule_sets (
			name                     TEXT PRIMARY KEY,
			trade_start_delay_min    INTEGER NOT NULL,
			late_cutoff              TEXT NOT NULL,
			enforce_late_cutoff      INTEGER NOT NULL,
			gap_threshold            REAL NOT NULL,
			spread_width             REAL NOT NULL,
			min_premium              REAL NOT NULL,
			max_premium              REAL NOT NULL,
			max_bid_ask_width        REAL NOT NULL,
			spread_size_factor       REAL NOT NULL,
			hedge_min_delta          REAL NOT NULL,
			hedge_max_delta          REAL NOT NULL,
			hedge_min_dte            INTEGER NOT NULL,
			hedge_target_dte         INTEGER NOT NULL,
			naked_hedge_theta_factor REAL NOT NULL,
			panic_threshold_per_unit REAL NOT NULL,
			panic_min_drop_pct       REAL NOT NULL,
			roll_trigger_multiplier  REAL NOT NULL,
			profit_target_fraction   REAL NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

// CreateCycle inserts a new cycle. At most one OPEN (or NEW) cycle may
// exist per account/underlying pair.
func (s *SQLiteStore) CreateCycle(ctx context.Context, cycle *models.Cycle) error {
	if err := cycle.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cycles WHERE account_id = ? AND underlying = ? AND status != ?`,
		cycle.AccountID, cycle.Underlying, models.CycleClosed).Scan(&count)
	if err != nil {
		return fmt.Errorf("check existing cycles: %w", err)
	}
	if count > 0 {
		return ErrOpenCycleExists
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cycles (id, account_id, underlying, status, realized_pnl, daily_hedge_ref,
		 rule_set_name, hedge_trade_id, created_at, closed_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		cycle.ID, cycle.AccountID, cycle.Underlying, cycle.Status, cycle.RealizedPnL,
		cycle.DailyHedgeRef, cycle.RuleSetName, cycle.HedgeTradeID,
		unixOrZero(cycle.CreatedAt), unixOrZero(cycle.ClosedAt))
	if err != nil {
		return fmt.Errorf("insert cycle %s: %w", cycle.ID, err)
	}
	return nil
}

// GetOpenCycle loads the non-closed cycle for an account/underlying pair
// with its full trade graph.
func (s *SQLiteStore) GetOpenCycle(ctx context.Context, accountID, underlying string) (*models.Cycle, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, underlying, status, realized_pnl, daily_hedge_ref,
		 rule_set_name, hedge_trade_id, created_at, closed_at
		 FROM cycles WHERE account_id = ? AND underlying = ? AND status != ?`,
		accountID, underlying, models.CycleClosed)
	cycle, err := scanCycle(row)
	if err != nil {
		return nil, err
	}
	if err := s.hydrateTrades(ctx, cycle); err != nil {
		return nil, err
	}
	return cycle, nil
}

// ListOpenCycles loads every non-closed cycle with its trade graph.
func (s *SQLiteStore) ListOpenCycles(ctx context.Context) ([]*models.Cycle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, underlying, status, realized_pnl, daily_hedge_ref,
		 rule_set_name, hedge_trade_id, created_at, closed_at
		 FROM cycles WHERE status != ? ORDER BY created_at`,
		models.CycleClosed)
	if err != nil {
		return nil, fmt.Errorf("list open cycles: %w", err)
	}
	defer rows.Close()

	var cycles []*models.Cycle
	for rows.Next() {
		cycle, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, cycle)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, cycle := range cycles {
		if err := s.hydrateTrades(ctx, cycle); err != nil {
			return nil, err
		}
	}
	return cycles, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCycle(row rowScanner) (*models.Cycle, error) {
	var c models.Cycle
	var createdAt, closedAt int64
	err := row.Scan(&c.ID, &c.AccountID, &c.Underlying, &c.Status, &c.RealizedPnL,
		&c.DailyHedgeRef, &c.RuleSetName, &c.HedgeTradeID, &createdAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan cycle: %w", err)
	}
	c.CreatedAt = timeOrZero(createdAt)
	c.ClosedAt = timeOrZero(closedAt)
	return &c, nil
}

func (s *SQLiteStore) hydrateTrades(ctx context.Context, cycle *models.Cycle) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cycle_id, role, status, entry_price, target_price, trigger_price,
		 capital_required, realized_pnl, exit_price, exit_reason, zombie_flag, entry_time, exit_time
		 FROM trades WHERE cycle_id = ? ORDER BY entry_time, id`, cycle.ID)
	if err != nil {
		return fmt.Errorf("load trades for cycle %s: %w", cycle.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var t models.Trade
		var entryTime, exitTime int64
		if err := rows.Scan(&t.ID, &t.CycleID, &t.Role, &t.Status, &t.EntryPrice,
			&t.TargetPrice, &t.TriggerPrice, &t.CapitalRequired, &t.RealizedPnL,
			&t.ExitPrice, &t.ExitReason, &t.ZombieFlag, &entryTime, &exitTime); err != nil {
			return fmt.Errorf("scan trade: %w", err)
		}
		t.EntryTime = timeOrZero(entryTime)
		t.ExitTime = timeOrZero(exitTime)
		cycle.Trades = append(cycle.Trades, t)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range cycle.Trades {
		if err := s.hydrateLegs(ctx, &cycle.Trades[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) hydrateLegs(ctx context.Context, trade *models.Trade) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trade_id, side, quantity, strike, option_type, expiration, symbol,
		 active, open_txn_id, close_txn_id
		 FROM legs WHERE trade_id = ? ORDER BY strike DESC`, trade.ID)
	if err != nil {
		return fmt.Errorf("load legs for trade %s: %w", trade.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var l models.Leg
		var expiration int64
		if err := rows.Scan(&l.ID, &l.TradeID, &l.Side, &l.Quantity, &l.Strike,
			&l.OptionType, &expiration, &l.Symbol, &l.Active, &l.OpenTxnID, &l.CloseTxnID); err != nil {
			return fmt.Errorf("scan leg: %w", err)
		}
		l.Expiration = timeOrZero(expiration)
		trade.Legs = append(trade.Legs, l)
	}
	return rows.Err()
}

// SetDailyHedgeRef updates the cycle's intraday hedge P&L baseline.
func (s *SQLiteStore) SetDailyHedgeRef(ctx context.Context, cycleID string, ref float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE cycles SET daily_hedge_ref = ? WHERE id = ?`, ref, cycleID)
	if err != nil {
		return fmt.Errorf("set daily hedge ref: %w", err)
	}
	return requireRow(res, cycleID)
}

// CloseCycle marks a cycle CLOSED. Open trades must be closed first.
func (s *SQLiteStore) CloseCycle(ctx context.Context, cycleID string, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var open int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE cycle_id = ? AND status = ?`,
		cycleID, models.TradeOpen).Scan(&open)
	if err != nil {
		return fmt.Errorf("count open trades: %w", err)
	}
	if open > 0 {
		return fmt.Errorf("cycle %s has %d open trades, close them before closing the cycle", cycleID, open)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE cycles SET status = ?, closed_at = ? WHERE id = ? AND status != ?`,
		models.CycleClosed, unixOrZero(closedAt), cycleID, models.CycleClosed)
	if err != nil {
		return fmt.Errorf("close cycle: %w", err)
	}
	return requireRow(res, cycleID)
}

// CreateTrade inserts a trade with its legs and opening transaction in
// one database transaction. Hedge trades also set the cycle's hedge link.
func (s *SQLiteStore) CreateTrade(ctx context.Context, trade *models.Trade, openTxn *models.Transaction) error {
	if err := trade.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create trade: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO trades (id, cycle_id, role, status, entry_price, target_price, trigger_price,
		 capital_required, realized_pnl, exit_price, exit_reason, zombie_flag, entry_time, exit_time)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		trade.ID, trade.CycleID, trade.Role, trade.Status, trade.EntryPrice,
		trade.TargetPrice, trade.TriggerPrice, trade.CapitalRequired, trade.RealizedPnL,
		trade.ExitPrice, trade.ExitReason, trade.ZombieFlag,
		unixOrZero(trade.EntryTime), unixOrZero(trade.ExitTime))
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", trade.ID, err)
	}

	if openTxn != nil {
		if _, err := insertTransaction(ctx, tx, openTxn); err != nil {
			return err
		}
		for i := range trade.Legs {
			trade.Legs[i].OpenTxnID = openTxn.ID
		}
	}

	for i := range trade.Legs {
		l := &trade.Legs[i]
		_, err = tx.ExecContext(ctx,
			`INSERT INTO legs (id, trade_id, side, quantity, strike, option_type, expiration,
			 symbol, active, open_txn_id, close_txn_id)
			 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			l.ID, l.TradeID, l.Side, l.Quantity, l.Strike, l.OptionType,
			unixOrZero(l.Expiration), l.Symbol, l.Active, l.OpenTxnID, l.CloseTxnID)
		if err != nil {
			return fmt.Errorf("insert leg %s: %w", l.ID, err)
		}
	}

	if trade.Role == models.RoleHedge {
		// An open hedge is what makes a NEW cycle OPEN.
		if _, err := tx.ExecContext(ctx,
			`UPDATE cycles SET hedge_trade_id = ?, status = ? WHERE id = ?`,
			trade.ID, models.CycleOpen, trade.CycleID); err != nil {
			return fmt.Errorf("link hedge trade: %w", err)
		}
	}

	return tx.Commit()
}

// CloseTrade books a broker-filled exit.
func (s *SQLiteStore) CloseTrade(ctx context.Context, tradeID string, exit TradeExit) error {
	return s.closeTradeInternal(ctx, tradeID, exit, models.TxnClose, false)
}

// SettleZombie books an administrative settlement and flags the trade.
func (s *SQLiteStore) SettleZombie(ctx context.Context, tradeID string, exit TradeExit) error {
	return s.closeTradeInternal(ctx, tradeID, exit, models.TxnSettle, true)
}

func (s *SQLiteStore) closeTradeInternal(ctx context.Context, tradeID string, exit TradeExit, txnType models.TransactionType, zombie bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin close trade: %w", err)
	}
	defer tx.Rollback()

	var status models.TradeStatus
	var cycleID string
	var quantity int
	err = tx.QueryRowContext(ctx,
		`SELECT t.status, t.cycle_id,
		 COALESCE((SELECT MAX(quantity) FROM legs WHERE trade_id = t.id), 0)
		 FROM trades t WHERE t.id = ?`, tradeID).Scan(&status, &cycleID, &quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load trade %s: %w", tradeID, err)
	}
	if status != models.TradeOpen {
		return ErrTradeClosed
	}

	closeTxn := &models.Transaction{
		ID:            uuid.NewString(),
		TradeID:       tradeID,
		Type:          txnType,
		Price:         exit.Price,
		Quantity:      quantity,
		Fees:          exit.Fees,
		Timestamp:     exit.Time,
		BrokerOrderID: exit.BrokerOrderID,
	}
	if _, err := insertTransaction(ctx, tx, closeTxn); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE legs SET active = 0, close_txn_id = ? WHERE trade_id = ?`, closeTxn.ID, tradeID)
	if err != nil {
		return fmt.Errorf("deactivate legs: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE trades SET status = ?, exit_price = ?, exit_reason = ?, realized_pnl = ?,
		 zombie_flag = ?, exit_time = ? WHERE id = ?`,
		models.TradeClosed, exit.Price, exit.Reason, exit.RealizedPnL,
		zombie, unixOrZero(exit.Time), tradeID)
	if err != nil {
		return fmt.Errorf("close trade %s: %w", tradeID, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE cycles SET realized_pnl = realized_pnl + ? WHERE id = ?`,
		exit.RealizedPnL, cycleID)
	if err != nil {
		return fmt.Errorf("bump cycle pnl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Printf("trade %s closed: %s pnl=%.2f", tradeID, exit.Reason, exit.RealizedPnL)
	return nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, txn *models.Transaction) (string, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (id, trade_id, type, price, quantity, fees, timestamp, broker_order_id)
		 VALUES (?,?,?,?,?,?,?,?)`,
		txn.ID, txn.TradeID, txn.Type, txn.Price, txn.Quantity, txn.Fees,
		unixOrZero(txn.Timestamp), txn.BrokerOrderID)
	if err != nil {
		return "", fmt.Errorf("insert transaction %s: %w", txn.ID, err)
	}
	return txn.ID, nil
}

// GetTransactions returns a trade's fill records in time order.
func (s *SQLiteStore) GetTransactions(ctx context.Context, tradeID string) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trade_id, type, price, quantity, fees, timestamp, broker_order_id
		 FROM transactions WHERE trade_id = ? ORDER BY timestamp, id`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("load transactions for %s: %w", tradeID, err)
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var t models.Transaction
		var ts int64
		if err := rows.Scan(&t.ID, &t.TradeID, &t.Type, &t.Price, &t.Quantity,
			&t.Fees, &ts, &t.BrokerOrderID); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Timestamp = timeOrZero(ts)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// GetRuleSet loads a named rule set, divided down by scale when scale > 1.
func (s *SQLiteStore) GetRuleSet(ctx context.Context, name string, scale int) (*models.RuleSet, error) {
	var r models.RuleSet
	err := s.db.QueryRowContext(ctx,
		`SELECT name, trade_start_delay_min, late_cutoff, enforce_late_cutoff, gap_threshold,
		 spread_width, min_premium, max_premium, max_bid_ask_width, spread_size_factor,
		 hedge_min_delta, hedge_max_delta, hedge_min_dte, hedge_target_dte,
		 naked_hedge_theta_factor, panic_threshold_per_unit, panic_min_drop_pct,
		 roll_trigger_multiplier, profit_target_fraction
		 FROM rule_sets WHERE name = ?`, name).Scan(
		&r.Name, &r.TradeStartDelayMin, &r.LateCutoff, &r.EnforceLateCutoff, &r.GapThreshold,
		&r.SpreadWidth, &r.MinPremium, &r.MaxPremium, &r.MaxBidAskWidth, &r.SpreadSizeFactor,
		&r.HedgeMinDelta, &r.HedgeMaxDelta, &r.HedgeMinDTE, &r.HedgeTargetDTE,
		&r.NakedHedgeThetaFactor, &r.PanicThresholdPerUnit, &r.PanicMinDropPct,
		&r.RollTriggerMultiplier, &r.ProfitTargetFraction)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load rule set %s: %w", name, err)
	}
	scaled := r.Scaled(scale)
	return &scaled, nil
}

// SaveRuleSet upserts a rule set after validating it.
func (s *SQLiteStore) SaveRuleSet(ctx context.Context, r *models.RuleSet) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rule_sets (name, trade_start_delay_min, late_cutoff, enforce_late_cutoff,
		 gap_threshold, spread_width, min_premium, max_premium, max_bid_ask_width,
		 spread_size_factor, hedge_min_delta, hedge_max_delta, hedge_min_dte, hedge_target_dte,
		 naked_hedge_theta_factor, panic_threshold_per_unit, panic_min_drop_pct,
		 roll_trigger_multiplier, profit_target_fraction)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(name) DO UPDATE SET
		 trade_start_delay_min=excluded.trade_start_delay_min,
		 late_cutoff=excluded.late_cutoff,
		 enforce_late_cutoff=excluded.enforce_late_cutoff,
		 gap_threshold=excluded.gap_threshold,
		 spread_width=excluded.spread_width,
		 min_premium=excluded.min_premium,
		 max_premium=excluded.max_premium,
		 max_bid_ask_width=excluded.max_bid_ask_width,
		 spread_size_factor=excluded.spread_size_factor,
		 hedge_min_delta=excluded.hedge_min_delta,
		 hedge_max_delta=excluded.hedge_max_delta,
		 hedge_min_dte=excluded.hedge_min_dte,
		 hedge_target_dte=excluded.hedge_target_dte,
		 naked_hedge_theta_factor=excluded.naked_hedge_theta_factor,
		 panic_threshold_per_unit=excluded.panic_threshold_per_unit,
		 panic_min_drop_pct=excluded.panic_min_drop_pct,
		 roll_trigger_multiplier=excluded.roll_trigger_multiplier,
		 profit_target_fraction=excluded.profit_target_fraction`,
		r.Name, r.TradeStartDelayMin, r.LateCutoff, r.EnforceLateCutoff, r.GapThreshold,
		r.SpreadWidth, r.MinPremium, r.MaxPremium, r.MaxBidAskWidth, r.SpreadSizeFactor,
		r.HedgeMinDelta, r.HedgeMaxDelta, r.HedgeMinDTE, r.HedgeTargetDTE,
		r.NakedHedgeThetaFactor, r.PanicThresholdPerUnit, r.PanicMinDropPct,
		r.RollTriggerMultiplier, r.ProfitTargetFraction)
	if err != nil {
		return fmt.Errorf("save rule set %s: %w", r.Name, err)
	}
	return nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
