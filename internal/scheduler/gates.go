package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/kk99668/qmt-cb-rotation/internal/util"
)

// TradingDayGate answers whether a given moment is on a trading day.
type TradingDayGate interface {
	IsTradingDay(ctx context.Context, t time.Time) bool
}

// GateTradingDay wraps fn so it only runs on trading days. Rebalance and
// replenishment jobs fire on the wall clock and need this gate; a Saturday
// 09:35 trigger must be a no-op.
func GateTradingDay(gate TradingDayGate, log *slog.Logger, fn JobFunc) JobFunc {
	return func(ctx context.Context) {
		now := util.Now()
		if !gate.IsTradingDay(ctx, now) {
			log.Debug("not a trading day, job skipped", "date", now.Format("2006-01-02"))
			return
		}
		fn(ctx)
	}
}

// GateTradingWindow wraps fn so it only runs inside an exchange session.
// The stop monitor ticks around the clock; outside 09:30-11:30 and
// 13:00-15:00 there is nothing to check.
func GateTradingWindow(gate TradingDayGate, log *slog.Logger, fn JobFunc) JobFunc {
	return func(ctx context.Context) {
		now := util.Now()
		if !util.InTradingWindow(now) {
			return
		}
		if !gate.IsTradingDay(ctx, now) {
			log.Debug("not a trading day, job skipped", "date", now.Format("2006-01-02"))
			return
		}
		fn(ctx)
	}
}
