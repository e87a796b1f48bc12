package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"riskguard/internal/audit"
	"riskguard/internal/domain"
	"riskguard/internal/state"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ CheckpointStore = (*SQLiteStore)(nil)
var _ audit.Sink = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS lockouts (
	account     TEXT PRIMARY KEY,
	reason      TEXT NOT NULL,
	severity    INTEGER NOT NULL,
	expiry_ms   INTEGER NOT NULL,
	until_reset INTEGER NOT NULL,
	set_at_ms   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS account_days (
	account       TEXT PRIMARY KEY,
	realized_pnl  REAL NOT NULL,
	last_reset_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS trades (
	account      TEXT NOT NULL,
	trade_id     TEXT NOT NULL,
	instrument   TEXT NOT NULL,
	signed_qty   INTEGER NOT NULL,
	price        REAL NOT NULL,
	timestamp_ms INTEGER NOT NULL,
	realized     REAL NOT NULL,
	PRIMARY KEY (account, trade_id)
);
CREATE INDEX IF NOT EXISTS idx_trades_account_ts ON trades(account, timestamp_ms);
CREATE TABLE IF NOT EXISTS positions (
	account    TEXT NOT NULL,
	instrument TEXT NOT NULL,
	size       INTEGER NOT NULL,
	avg_price  REAL NOT NULL,
	updated_ms INTEGER NOT NULL,
	PRIMARY KEY (account, instrument)
);
CREATE TABLE IF NOT EXISTS orders (
	account    TEXT NOT NULL,
	order_id   TEXT NOT NULL,
	instrument TEXT NOT NULL,
	side       TEXT NOT NULL,
	type       TEXT NOT NULL,
	qty        INTEGER NOT NULL,
	price      REAL NOT NULL,
	stop_price REAL NOT NULL,
	status     TEXT NOT NULL,
	updated_ms INTEGER NOT NULL,
	PRIMARY KEY (account, order_id)
);
CREATE TABLE IF NOT EXISTS audit_log (
	id      TEXT PRIMARY KEY,
	time_ms INTEGER NOT NULL,
	account TEXT NOT NULL,
	event   TEXT NOT NULL,
	rule    TEXT NOT NULL,
	reason  TEXT NOT NULL,
	action  TEXT NOT NULL,
	outcome TEXT NOT NULL,
	detail  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(time_ms);
`

// SQLiteStore implements CheckpointStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, runs the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Serialize writers; the driver is in-process and contention is low.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Lockouts
// ---------------------------------------------------------------------------

// SaveLockout upserts the account's lockout.
func (s *SQLiteStore) SaveLockout(ctx context.Context, l domain.Lockout) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lockouts (account, reason, severity, expiry_ms, until_reset, set_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			reason = excluded.reason,
			severity = excluded.severity,
			expiry_ms = excluded.expiry_ms,
			until_reset = excluded.until_reset,
			set_at_ms = excluded.set_at_ms`,
		string(l.Account), l.Reason, int(l.Severity), timeMS(l.Expiry), boolInt(l.UntilReset), timeMS(l.SetAt))
	return err
}

// DeleteLockout removes the account's lockout.
func (s *SQLiteStore) DeleteLockout(ctx context.Context, account domain.AccountID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM lockouts WHERE account = ?`, string(account))
	return err
}

// ListLockouts returns every persisted lockout.
func (s *SQLiteStore) ListLockouts(ctx context.Context) ([]domain.Lockout, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account, reason, severity, expiry_ms, until_reset, set_at_ms FROM lockouts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Lockout
	for rows.Next() {
		var account, reason string
		var severity, untilReset int
		var expiryMS, setAtMS int64
		if err := rows.Scan(&account, &reason, &severity, &expiryMS, &untilReset, &setAtMS); err != nil {
			return nil, err
		}
		out = append(out, domain.Lockout{
			Account:    domain.AccountID(account),
			Reason:     reason,
			Severity:   domain.Severity(severity),
			Expiry:     msTime(expiryMS),
			UntilReset: untilReset != 0,
			SetAt:      msTime(setAtMS),
		})
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Daily rollups and trades
// ---------------------------------------------------------------------------

// SaveAccountDay upserts the daily rollup.
func (s *SQLiteStore) SaveAccountDay(ctx context.Context, d AccountDay) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_days (account, realized_pnl, last_reset_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			realized_pnl = excluded.realized_pnl,
			last_reset_ms = excluded.last_reset_ms`,
		string(d.Account), d.RealizedPnL, timeMS(d.LastReset))
	return err
}

// GetAccountDay returns the daily rollup, or ok=false if none exists.
func (s *SQLiteStore) GetAccountDay(ctx context.Context, account domain.AccountID) (AccountDay, bool, error) {
	var (
		realized    float64
		lastResetMS int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT realized_pnl, last_reset_ms FROM account_days WHERE account = ?`,
		string(account)).Scan(&realized, &lastResetMS)
	if err == sql.ErrNoRows {
		return AccountDay{}, false, nil
	}
	if err != nil {
		return AccountDay{}, false, err
	}
	return AccountDay{Account: account, RealizedPnL: realized, LastReset: msTime(lastResetMS)}, true, nil
}

// SaveTrade appends one applied trade. Replays of an already-saved trade ID
// are ignored.
func (s *SQLiteStore) SaveTrade(ctx context.Context, account domain.AccountID, t state.AppliedTrade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades (account, trade_id, instrument, signed_qty, price, timestamp_ms, realized)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(account), t.ID, t.Instrument, t.SignedQty, t.Price, timeMS(t.Timestamp), t.Realized)
	return err
}

// DeleteTrade removes one applied trade.
func (s *SQLiteStore) DeleteTrade(ctx context.Context, account domain.AccountID, tradeID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM trades WHERE account = ? AND trade_id = ?`, string(account), tradeID)
	return err
}

// ListTrades returns the account's applied trades at or after since.
func (s *SQLiteStore) ListTrades(ctx context.Context, account domain.AccountID, since time.Time) ([]state.AppliedTrade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, instrument, signed_qty, price, timestamp_ms, realized FROM trades
		WHERE account = ? AND timestamp_ms >= ?
		ORDER BY timestamp_ms`,
		string(account), timeMS(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []state.AppliedTrade
	for rows.Next() {
		var t state.AppliedTrade
		var tsMS int64
		if err := rows.Scan(&t.ID, &t.Instrument, &t.SignedQty, &t.Price, &tsMS, &t.Realized); err != nil {
			return nil, err
		}
		t.Timestamp = msTime(tsMS)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ClearTrades removes the account's applied trades before the cutoff.
func (s *SQLiteStore) ClearTrades(ctx context.Context, account domain.AccountID, before time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM trades WHERE account = ? AND timestamp_ms < ?`,
		string(account), timeMS(before))
	return err
}

// ---------------------------------------------------------------------------
// Positions and orders
// ---------------------------------------------------------------------------

// SavePosition upserts the position; a zero size deletes the row.
func (s *SQLiteStore) SavePosition(ctx context.Context, account domain.AccountID, p domain.Position) error {
	if p.Size == 0 {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM positions WHERE account = ? AND instrument = ?`,
			string(account), p.Instrument)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (account, instrument, size, avg_price, updated_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account, instrument) DO UPDATE SET
			size = excluded.size,
			avg_price = excluded.avg_price,
			updated_ms = excluded.updated_ms`,
		string(account), p.Instrument, p.Size, p.AvgPrice, timeMS(p.UpdatedAt))
	return err
}

// ListPositions returns the account's open positions.
func (s *SQLiteStore) ListPositions(ctx context.Context, account domain.AccountID) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instrument, size, avg_price, updated_ms FROM positions WHERE account = ?`,
		string(account))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var upMS int64
		if err := rows.Scan(&p.Instrument, &p.Size, &p.AvgPrice, &upMS); err != nil {
			return nil, err
		}
		p.UpdatedAt = msTime(upMS)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveOrder upserts a working order; any other status deletes the row.
func (s *SQLiteStore) SaveOrder(ctx context.Context, account domain.AccountID, o domain.Order) error {
	if !o.Working() {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM orders WHERE account = ? AND order_id = ?`,
			string(account), o.ID)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (account, order_id, instrument, side, type, qty, price, stop_price, status, updated_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, order_id) DO UPDATE SET
			instrument = excluded.instrument,
			side = excluded.side,
			type = excluded.type,
			qty = excluded.qty,
			price = excluded.price,
			stop_price = excluded.stop_price,
			status = excluded.status,
			updated_ms = excluded.updated_ms`,
		string(account), o.ID, o.Instrument, string(o.Side), string(o.Type),
		o.Qty, o.Price, o.StopPrice, string(o.Status), timeMS(o.UpdatedAt))
	return err
}

// ListOrders returns the account's working orders.
func (s *SQLiteStore) ListOrders(ctx context.Context, account domain.AccountID) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, instrument, side, type, qty, price, stop_price, status, updated_ms
		FROM orders WHERE account = ?`,
		string(account))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		var side, typ, status string
		var upMS int64
		if err := rows.Scan(&o.ID, &o.Instrument, &side, &typ, &o.Qty, &o.Price, &o.StopPrice, &status, &upMS); err != nil {
			return nil, err
		}
		o.Side = domain.OrderSide(side)
		o.Type = domain.OrderType(typ)
		o.Status = domain.OrderStatus(status)
		o.UpdatedAt = msTime(upMS)
		out = append(out, o)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

// AppendAudit stores one audit entry.
func (s *SQLiteStore) AppendAudit(e audit.Entry) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO audit_log (id, time_ms, account, event, rule, reason, action, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, timeMS(e.Time), string(e.Account), e.Event, e.Rule, e.Reason, e.Action, e.Outcome, e.Detail)
	return err
}

// ListAudit returns up to limit audit entries, newest first.
func (s *SQLiteStore) ListAudit(ctx context.Context, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, time_ms, account, event, rule, reason, action, outcome, detail
		FROM audit_log ORDER BY time_ms DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var account string
		var tMS int64
		if err := rows.Scan(&e.ID, &tMS, &account, &e.Event, &e.Rule, &e.Reason, &e.Action, &e.Outcome, &e.Detail); err != nil {
			return nil, err
		}
		e.Account = domain.AccountID(account)
		e.Time = msTime(tMS)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListAuditDay returns the audit entries for one UTC day, oldest first. Used
// by the Parquet archiver when a day closes out.
func (s *SQLiteStore) ListAuditDay(ctx context.Context, day time.Time) ([]audit.Entry, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, time_ms, account, event, rule, reason, action, outcome, detail
		FROM audit_log WHERE time_ms >= ? AND time_ms < ? ORDER BY time_ms, id`,
		start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var account string
		var tMS int64
		if err := rows.Scan(&e.ID, &tMS, &account, &e.Event, &e.Rule, &e.Reason, &e.Action, &e.Outcome, &e.Detail); err != nil {
			return nil, err
		}
		e.Account = domain.AccountID(account)
		e.Time = msTime(tMS)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------

func timeMS(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func msTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
