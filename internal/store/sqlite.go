package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/kk99668/qmt-cb-rotation/internal/domain"
)

// Compile-time interface checks.
var _ LedgerStore = (*SQLiteStore)(nil)
var _ RefillStore = (*SQLiteStore)(nil)
var _ TradeLogStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS position_ledger (
	code          TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	volume        INTEGER NOT NULL,
	buy_price     REAL NOT NULL,
	buy_time      TIMESTAMP NOT NULL,
	strategy_name TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS refill_queue (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	date       TEXT NOT NULL,
	code       TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	volume     INTEGER NOT NULL,
	sell_price REAL NOT NULL,
	reason     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refill_queue_date ON refill_queue(date);

CREATE TABLE IF NOT EXISTS trade_logs (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TIMESTAMP NOT NULL,
	level     TEXT NOT NULL,
	message   TEXT NOT NULL
);
`

// SQLiteStore implements LedgerStore, RefillStore, and TradeLogStore backed
// by a SQLite database. Every mutation is a single short transaction, which
// is the serialization boundary for concurrent scheduler callbacks.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if needed, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// modernc.org/sqlite serializes access per connection; a single
	// connection avoids SQLITE_BUSY between overlapping callbacks.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// LedgerStore implementation
// ---------------------------------------------------------------------------

// UpsertBuy inserts a ledger entry or merges a repeated buy into the
// existing one with a volume-weighted average price.
func (s *SQLiteStore) UpsertBuy(ctx context.Context, code, name string, volume int, price float64, buyTime time.Time, strategyName string) error {
	if volume <= 0 {
		return fmt.Errorf("buy volume must be positive, got %d", volume)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var curVolume int
	var curPrice float64
	err = tx.QueryRowContext(ctx,
		`SELECT volume, buy_price FROM position_ledger WHERE code = ?`, code,
	).Scan(&curVolume, &curPrice)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO position_ledger (code, name, volume, buy_price, buy_time, strategy_name, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			code, name, volume, price, buyTime, strategyName, time.Now())
		if err != nil {
			return fmt.Errorf("inserting ledger entry %s: %w", code, err)
		}
	case err != nil:
		return fmt.Errorf("reading ledger entry %s: %w", code, err)
	default:
		total := curVolume + volume
		avg := (float64(curVolume)*curPrice + float64(volume)*price) / float64(total)
		_, err = tx.ExecContext(ctx,
			`UPDATE position_ledger SET volume = ?, buy_price = ?, updated_at = ? WHERE code = ?`,
			total, avg, time.Now(), code)
		if err != nil {
			return fmt.Errorf("merging ledger entry %s: %w", code, err)
		}
	}

	return tx.Commit()
}

// DecrementSell reduces the entry's volume, deleting it once it reaches
// zero. A decrement past zero clamps; it never leaves a negative volume.
func (s *SQLiteStore) DecrementSell(ctx context.Context, code string, volume int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var curVolume int
	err = tx.QueryRowContext(ctx,
		`SELECT volume FROM position_ledger WHERE code = ?`, code,
	).Scan(&curVolume)
	if err == sql.ErrNoRows {
		return tx.Commit() // nothing to decrement
	}
	if err != nil {
		return fmt.Errorf("reading ledger entry %s: %w", code, err)
	}

	remaining := curVolume - volume
	if remaining <= 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM position_ledger WHERE code = ?`, code)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE position_ledger SET volume = ?, updated_at = ? WHERE code = ?`,
			remaining, time.Now(), code)
	}
	if err != nil {
		return fmt.Errorf("decrementing ledger entry %s: %w", code, err)
	}

	return tx.Commit()
}

// List returns all ledger entries ordered by code.
func (s *SQLiteStore) List(ctx context.Context) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, name, volume, buy_price, buy_time, strategy_name
		 FROM position_ledger ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.Code, &e.Name, &e.Volume, &e.BuyPrice, &e.BuyTime, &e.StrategyName); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns the ledger entry for code, or nil if absent.
func (s *SQLiteStore) Get(ctx context.Context, code string) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT code, name, volume, buy_price, buy_time, strategy_name
		 FROM position_ledger WHERE code = ?`, code,
	).Scan(&e.Code, &e.Name, &e.Volume, &e.BuyPrice, &e.BuyTime, &e.StrategyName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ---------------------------------------------------------------------------
// RefillStore implementation
// ---------------------------------------------------------------------------

// Enqueue appends a batch of refill items under date in one transaction so a
// partial cycle never leaves a half-written batch.
func (s *SQLiteStore) Enqueue(ctx context.Context, date string, items []domain.RefillItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, it := range items {
		createdAt := it.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO refill_queue (date, code, name, volume, sell_price, reason, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			date, it.Code, it.Name, it.Volume, it.SellPrice, string(it.Reason), createdAt)
		if err != nil {
			return fmt.Errorf("enqueueing refill item %s: %w", it.Code, err)
		}
	}

	return tx.Commit()
}

// Queued returns the refill items queued under date in insertion order.
func (s *SQLiteStore) Queued(ctx context.Context, date string) ([]domain.RefillItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, name, volume, sell_price, reason, created_at
		 FROM refill_queue WHERE date = ? ORDER BY id`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.RefillItem
	for rows.Next() {
		it := domain.RefillItem{Date: date}
		var reason string
		if err := rows.Scan(&it.Code, &it.Name, &it.Volume, &it.SellPrice, &reason, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.Reason = domain.StopReason(reason)
		items = append(items, it)
	}
	return items, rows.Err()
}

// Clear removes every refill item queued under date.
func (s *SQLiteStore) Clear(ctx context.Context, date string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM refill_queue WHERE date = ?`, date)
	return err
}

// ---------------------------------------------------------------------------
// TradeLogStore implementation
// ---------------------------------------------------------------------------

// Add persists one log line.
func (s *SQLiteStore) Add(ctx context.Context, level, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trade_logs (timestamp, level, message) VALUES (?, ?, ?)`,
		time.Now(), level, message)
	return err
}

// Recent returns the newest limit log lines, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]TradeLogLine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, level, message FROM trade_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []TradeLogLine
	for rows.Next() {
		var l TradeLogLine
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Prune deletes log lines older than the given time.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM trade_logs WHERE timestamp < ?`, olderThan)
	return err
}
