// Package gateway joins the three views of the account the engine needs in
// one place: the broker's positions, the daemon's own ledger, and real-time
// quotes. The engine never talks to the session or the quote chain directly.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kk99668/qmt-cb-rotation/internal/domain"
	"github.com/kk99668/qmt-cb-rotation/internal/store"
	"github.com/kk99668/qmt-cb-rotation/internal/trading"
)

// QuoteFetcher is the quote chain's fetch surface.
type QuoteFetcher interface {
	Fetch(ctx context.Context, code string) (domain.Quote, error)
}

// MonitoredPosition is a ledger-owned holding enriched with the broker's
// sellable volume and a live quote, ready for a risk decision.
type MonitoredPosition struct {
	Entry domain.LedgerEntry
	Quote domain.Quote

	// SellableVolume is what a stop sell may move: never more than the
	// ledger says we own, never more than the broker will release.
	SellableVolume int

	// ChangePct is the day's move against the previous close, the value
	// the stop ratios are compared to.
	ChangePct float64
}

// Gateway is the engine's account facade.
type Gateway struct {
	session trading.Session
	ledger  store.LedgerStore
	quotes  QuoteFetcher
	log     *slog.Logger
}

// New creates a gateway over the session, ledger, and quote chain.
func New(session trading.Session, ledger store.LedgerStore, quotes QuoteFetcher, log *slog.Logger) *Gateway {
	return &Gateway{session: session, ledger: ledger, quotes: quotes, log: log}
}

// Asset returns the account snapshot.
func (g *Gateway) Asset(ctx context.Context) (domain.Asset, error) {
	return g.session.QueryAsset(ctx)
}

// Positions returns the broker's convertible bond holdings. Stocks and cash
// products in the same account are not this daemon's business.
func (g *Gateway) Positions(ctx context.Context) ([]domain.Position, error) {
	all, err := g.session.QueryPositions(ctx)
	if err != nil {
		return nil, err
	}
	bonds := make([]domain.Position, 0, len(all))
	for _, p := range all {
		if domain.IsConvertibleBond(p.Code) {
			bonds = append(bonds, p)
		}
	}
	return bonds, nil
}

// PlaceOrder forwards an order to the trading session.
func (g *Gateway) PlaceOrder(ctx context.Context, order domain.Order) (int, error) {
	return g.session.PlaceOrder(ctx, order)
}

// Quote returns the current quote for code via the provider chain.
func (g *Gateway) Quote(ctx context.Context, code string) (domain.Quote, error) {
	return g.quotes.Fetch(ctx, code)
}

// MonitoredPositions returns the holdings the risk monitor watches: ledger
// entries the broker still holds, each with a live quote. A position whose
// quote cannot be fetched is skipped this round and logged; one dead quote
// source must not stall the whole check.
func (g *Gateway) MonitoredPositions(ctx context.Context) ([]MonitoredPosition, error) {
	entries, err := g.ledger.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	broker, err := g.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying positions: %w", err)
	}
	held := make(map[string]domain.Position, len(broker))
	for _, p := range broker {
		held[p.Code] = p
	}

	type result struct {
		pos MonitoredPosition
		ok  bool
	}
	results := make([]result, len(entries))
	sem := make(chan struct{}, 8)

	eg, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	stale := 0

	for i, entry := range entries {
		bp, ok := held[entry.Code]
		if !ok {
			// Sold outside this daemon or settled away; the ledger entry
			// is stale but cleanup is the engine's call, not ours.
			mu.Lock()
			stale++
			mu.Unlock()
			continue
		}

		i, entry, bp := i, entry, bp
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			q, err := g.quotes.Fetch(gctx, entry.Code)
			if err != nil {
				g.log.Warn("skipping position this round, no quote",
					"code", entry.Code, "error", err)
				return nil
			}

			// A day's move needs both legs; a quote without them cannot
			// feed a stop decision.
			if q.LastPrice <= 0 || q.PrevClose <= 0 {
				g.log.Warn("skipping position this round, quote missing prices",
					"code", entry.Code, "last", q.LastPrice, "prev_close", q.PrevClose)
				return nil
			}

			sellable := entry.Volume
			if bp.AvailableVolume < sellable {
				sellable = bp.AvailableVolume
			}

			results[i] = result{
				pos: MonitoredPosition{
					Entry:          entry,
					Quote:          q,
					SellableVolume: sellable,
					ChangePct:      (q.LastPrice - q.PrevClose) / q.PrevClose,
				},
				ok: true,
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if stale > 0 {
		g.log.Debug("ledger entries without broker position", "count", stale)
	}

	var positions []MonitoredPosition
	for _, r := range results {
		if r.ok {
			positions = append(positions, r.pos)
		}
	}
	return positions, nil
}

// IsSuspended reports whether a bond's trading is currently halted.
func (g *Gateway) IsSuspended(ctx context.Context, code string) (bool, error) {
	q, err := g.quotes.Fetch(ctx, code)
	if err != nil {
		return false, err
	}
	return q.Suspended(), nil
}
