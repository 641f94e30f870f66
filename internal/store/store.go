// Package store persists the daemon's durable state: the position ledger,
// the daily replenishment queue, and the trade log.
package store

import (
	"context"
	"time"

	"github.com/kk99668/qmt-cb-rotation/internal/domain"
)

// LedgerStore records which bonds this system bought. It is the only source
// of truth for ownership; the broker's position list is a superset.
type LedgerStore interface {
	// UpsertBuy records a successful buy. A repeated buy of the same code
	// merges into the existing entry with a volume-weighted average price.
	UpsertBuy(ctx context.Context, code, name string, volume int, price float64, buyTime time.Time, strategyName string) error

	// DecrementSell reduces an entry's volume after a successful sell,
	// clamping at zero and deleting the entry when it reaches zero.
	DecrementSell(ctx context.Context, code string, volume int) error

	// List returns all ledger entries.
	List(ctx context.Context) ([]domain.LedgerEntry, error)

	// Get returns the entry for code, or nil if the ledger has none.
	Get(ctx context.Context, code string) (*domain.LedgerEntry, error)
}

// RefillStore is the date-scoped queue of risk-triggered sells owed a
// replacement buy at the daily cut-off.
type RefillStore interface {
	// Enqueue appends a batch of items under the given date.
	Enqueue(ctx context.Context, date string, items []domain.RefillItem) error

	// Queued returns the items queued under date, in insertion order.
	Queued(ctx context.Context, date string) ([]domain.RefillItem, error)

	// Clear removes every item queued under date.
	Clear(ctx context.Context, date string) error
}

// TradeLogStore keeps a durable record of notable decisions and outcomes.
type TradeLogStore interface {
	Add(ctx context.Context, level, message string) error
	Recent(ctx context.Context, limit int) ([]TradeLogLine, error)
	Prune(ctx context.Context, olderThan time.Time) error
}

// TradeLogLine is one persisted log record.
type TradeLogLine struct {
	ID        int64
	Timestamp time.Time
	Level     string
	Message   string
}
