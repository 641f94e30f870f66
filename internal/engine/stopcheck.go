package engine

import (
	"context"
	"fmt"

	"github.com/kk99668/qmt-cb-rotation/internal/domain"
	"github.com/kk99668/qmt-cb-rotation/internal/gateway"
)

// ExecuteStopCheck walks the monitored positions and sells any whose daily
// move crossed a stop ratio. Stop profit is evaluated before stop loss, so
// if both ratios are crossed in the same tick the exit books as a profit
// take. Every stop sell is queued for an afternoon replacement buy.
func (e *Engine) ExecuteStopCheck(ctx context.Context) error {
	strat, ok := e.Strategy()
	if !ok {
		return nil
	}
	if strat.StopProfitRatio <= 0 && strat.StopLossRatio <= 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// A single quick probe; a dead terminal is the watchdog's problem, and
	// this tick fires every minute so it stays quiet about it.
	if !e.guardian.EnsureConnected(ctx, 1, 0) {
		return nil
	}

	positions, err := e.gateway.MonitoredPositions(ctx)
	if err != nil {
		e.log.Error("stop check could not load positions", "error", err)
		return fmt.Errorf("loading monitored positions: %w", err)
	}
	if len(positions) == 0 {
		return nil
	}

	var refillItems []domain.RefillItem
	for _, p := range positions {
		if p.Quote.Suspended() {
			e.log.Warn("bond suspended, stop check skipped", "code", p.Entry.Code)
			e.notifier.Suspended(ctx, p.Entry.Code, p.Entry.Name)
			continue
		}

		var reason domain.StopReason
		switch {
		case strat.StopProfitRatio > 0 && p.ChangePct >= strat.StopProfitRatio:
			reason = domain.StopProfit
		case strat.StopLossRatio > 0 && p.ChangePct <= -strat.StopLossRatio:
			reason = domain.StopLoss
		default:
			continue
		}

		if p.SellableVolume <= 0 {
			e.log.Warn("stop triggered but nothing sellable",
				"code", p.Entry.Code, "reason", reason)
			continue
		}

		if !e.executeStopSell(ctx, p, reason, strat) {
			continue
		}
		refillItems = append(refillItems, domain.RefillItem{
			Code:      p.Entry.Code,
			Name:      p.Entry.Name,
			Volume:    p.SellableVolume,
			SellPrice: p.Quote.LastPrice,
			Reason:    reason,
		})
	}

	if err := e.EnqueueRefill(ctx, refillItems); err != nil {
		e.log.Error("queueing refills failed", "error", err)
	}
	return nil
}

// executeStopSell places the stop order and decrements the ledger.
func (e *Engine) executeStopSell(ctx context.Context, p gateway.MonitoredPosition, reason domain.StopReason, strat domain.StrategyConfig) bool {
	label := "止盈卖出"
	if reason == domain.StopLoss {
		label = "止损卖出"
	}

	order := domain.Order{
		Code:        p.Entry.Code,
		Side:        domain.OrderSideSell,
		Volume:      p.SellableVolume,
		Price:       p.Quote.LastPrice,
		PriceMode:   e.cfg.Trading.OrderPrice,
		StrategyTag: strat.StrategyName,
		Remark:      label,
	}
	orderID, err := e.gateway.PlaceOrder(ctx, order)
	if err != nil {
		e.log.Error("stop sell failed", "code", p.Entry.Code, "reason", reason, "error", err)
		e.notifier.Error(ctx, label+"下单失败", fmt.Sprintf("%s %s：%v", p.Entry.Code, p.Entry.Name, err))
		return false
	}

	if err := e.ledger.DecrementSell(ctx, p.Entry.Code, p.SellableVolume); err != nil {
		e.log.Error("ledger decrement failed after stop sell", "code", p.Entry.Code, "error", err)
		e.notifier.Error(ctx, "台账更新失败", fmt.Sprintf("%s 卖出成功但台账扣减失败，请人工核对。", p.Entry.Code))
	}

	msg := fmt.Sprintf("%s：%s %s %d 张 @ %.3f，当日涨跌 %.2f%%（单号 %d）",
		label, p.Entry.Code, p.Entry.Name, p.SellableVolume, p.Quote.LastPrice, p.ChangePct*100, orderID)
	e.record(ctx, "INFO", "%s", msg)
	e.notifier.Success(ctx, label, msg)
	e.log.Info("stop sell executed",
		"code", p.Entry.Code, "reason", reason,
		"volume", p.SellableVolume, "change_pct", p.ChangePct, "order_id", orderID)
	return true
}
