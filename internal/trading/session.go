// Package trading connects the daemon to the QMT trading terminal. The
// terminal only speaks to a local bridge process, so the session here is an
// HTTP client plus the connection guardian that keeps it alive.
package trading

import (
	"context"

	"github.com/kk99668/qmt-cb-rotation/internal/domain"
)

// Session is the trading terminal connection. All methods are safe for use
// from scheduler callbacks; the guardian serializes reconnects around them.
type Session interface {
	// Connect establishes the terminal session for the given installation
	// path and account.
	Connect(ctx context.Context, qmtPath, accountID string) error

	// Disconnect tears down the session. Safe to call when not connected.
	Disconnect(ctx context.Context) error

	// IsConnected is the cheap liveness check, no terminal round trip.
	IsConnected(ctx context.Context) (bool, error)

	// QueryAsset returns the account's cash and value snapshot. A failed
	// asset query is the deep connectivity probe.
	QueryAsset(ctx context.Context) (domain.Asset, error)

	// QueryPositions returns holdings with nonzero volume.
	QueryPositions(ctx context.Context) ([]domain.Position, error)

	// PlaceOrder submits an order and returns the terminal's order id.
	// An id <= 0 is a rejection.
	PlaceOrder(ctx context.Context, order domain.Order) (int, error)

	// QueryTick returns the terminal's own real-time tick for a code.
	QueryTick(ctx context.Context, code string) (domain.Quote, error)

	// IsTradingDay reports whether date (YYYYMMDD) is a trading day.
	IsTradingDay(ctx context.Context, date string) (bool, error)
}

// TickProvider adapts a session's tick feed to the quote provider chain, so
// the terminal is tried before the public web sources.
type TickProvider struct {
	session Session
}

// NewTickProvider wraps session as a quote provider.
func NewTickProvider(session Session) *TickProvider {
	return &TickProvider{session: session}
}

func (p *TickProvider) Name() string { return "qmt-tick" }

func (p *TickProvider) Fetch(ctx context.Context, code string) (domain.Quote, error) {
	return p.session.QueryTick(ctx, code)
}
