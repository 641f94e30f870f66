package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kk99668/qmt-cb-rotation/internal/domain"
)

// buyVolume converts a yuan amount into a tradeable bond volume: whole lots
// only, rounded down. Returns 0 when the amount does not cover one lot.
func buyVolume(amount, price float64) int {
	if amount <= 0 || price <= 0 {
		return 0
	}
	lots := decimal.NewFromFloat(amount).
		Div(decimal.NewFromFloat(price)).
		Div(decimal.NewFromInt(domain.LotSize)).
		Floor()
	return int(lots.IntPart()) * domain.LotSize
}

// buyAmount returns the yuan amount to spend on each of batch bonds. In
// average mode the account's cash is read at execution time, so two batches
// in the same day split whatever is left, not a stale snapshot.
func (e *Engine) buyAmount(ctx context.Context, batch int) (float64, error) {
	switch e.cfg.Trading.BuyAmountMode {
	case domain.BuyAmountFixed:
		return e.cfg.Trading.FixedAmount, nil
	case domain.BuyAmountAverage:
		if batch <= 0 {
			return 0, fmt.Errorf("average buy amount needs a positive batch, got %d", batch)
		}
		asset, err := e.gateway.Asset(ctx)
		if err != nil {
			return 0, fmt.Errorf("reading cash for buy sizing: %w", err)
		}
		amount, _ := decimal.NewFromFloat(asset.Cash).
			Div(decimal.NewFromInt(int64(batch))).
			Float64()
		return amount, nil
	default:
		return 0, fmt.Errorf("unknown buy amount mode %q", e.cfg.Trading.BuyAmountMode)
	}
}
