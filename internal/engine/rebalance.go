package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/kk99668/qmt-cb-rotation/internal/domain"
)

// ExecuteRebalance aligns the account with today's ranked bond list.
//
// Sells come first to free cash: every bond the ledger owns that the broker
// still holds but today's list dropped. Buys follow: every listed bond not
// already held, in ranking order. Bonds the broker holds that the ledger
// never bought are someone else's and are left alone.
func (e *Engine) ExecuteRebalance(ctx context.Context) error {
	strat, ok := e.ensureReady(ctx, "rebalance")
	if !ok {
		return nil
	}
	defer e.mu.Unlock()

	e.log.Info("rebalance cycle starting", "strategy", strat.StrategyName)

	targets, err := e.targets.TodayBonds(ctx, strat.HistoryID)
	if err != nil {
		e.notifier.Error(ctx, "获取目标债券失败", err.Error())
		return fmt.Errorf("fetching target bonds: %w", err)
	}
	if len(targets) == 0 {
		e.log.Warn("ranking service returned no targets, holding current positions")
		e.record(ctx, "WARN", "今日目标列表为空，保持现有持仓")
		return nil
	}

	held, err := e.gateway.Positions(ctx)
	if err != nil {
		e.notifier.Error(ctx, "查询持仓失败", err.Error())
		return fmt.Errorf("querying positions: %w", err)
	}
	heldByCode := make(map[string]domain.Position, len(held))
	for _, p := range held {
		heldByCode[p.Code] = p
	}

	entries, err := e.ledger.List(ctx)
	if err != nil {
		return fmt.Errorf("reading ledger: %w", err)
	}

	targetSet := make(map[string]bool, len(targets))
	for _, t := range targets {
		targetSet[t.Code] = true
	}

	// Owned, still held, no longer wanted.
	var toSell []domain.LedgerEntry
	for _, entry := range entries {
		if _, ok := heldByCode[entry.Code]; ok && !targetSet[entry.Code] {
			toSell = append(toSell, entry)
		}
	}

	// Wanted and not yet held, in ranking order.
	var toBuy []domain.TargetBond
	for _, t := range targets {
		if _, ok := heldByCode[t.Code]; !ok {
			toBuy = append(toBuy, t)
		}
	}

	e.log.Info("rebalance plan",
		"targets", len(targets), "sell", len(toSell), "buy", len(toBuy))

	sold := 0
	for _, entry := range toSell {
		bp := heldByCode[entry.Code]
		if e.sellPosition(ctx, entry, bp.AvailableVolume, strat, "调仓卖出") {
			sold++
		}
	}

	bought := e.buyBatch(ctx, toBuy, strat, "调仓买入")

	summary := fmt.Sprintf("调仓完成：卖出 %d/%d，买入 %d/%d。", sold, len(toSell), bought, len(toBuy))
	e.record(ctx, "INFO", "%s", summary)
	if sold > 0 || bought > 0 {
		e.notifier.Success(ctx, "调仓完成", summary)
	}
	e.log.Info("rebalance cycle finished", "sold", sold, "bought", bought)
	return nil
}

// sellPosition sells one owned position, capped by the broker's available
// volume. Returns true when the order went through and the ledger was
// decremented.
func (e *Engine) sellPosition(ctx context.Context, entry domain.LedgerEntry, available int, strat domain.StrategyConfig, remark string) bool {
	q, err := e.gateway.Quote(ctx, entry.Code)
	if err != nil {
		e.log.Warn("no quote for sell, skipping", "code", entry.Code, "error", err)
		return false
	}
	if q.Suspended() {
		e.log.Warn("bond suspended, sell skipped", "code", entry.Code)
		e.notifier.Suspended(ctx, entry.Code, entry.Name)
		return false
	}

	volume := entry.Volume
	if available < volume {
		volume = available
	}
	if volume <= 0 {
		e.log.Warn("nothing sellable, skipping", "code", entry.Code)
		return false
	}

	order := domain.Order{
		Code:        entry.Code,
		Side:        domain.OrderSideSell,
		Volume:      volume,
		Price:       q.LastPrice,
		PriceMode:   e.cfg.Trading.OrderPrice,
		StrategyTag: strat.StrategyName,
		Remark:      remark,
	}
	orderID, err := e.gateway.PlaceOrder(ctx, order)
	if err != nil {
		e.log.Error("sell order failed", "code", entry.Code, "error", err)
		e.notifier.Error(ctx, "卖出下单失败", fmt.Sprintf("%s %s：%v", entry.Code, entry.Name, err))
		return false
	}

	if err := e.ledger.DecrementSell(ctx, entry.Code, volume); err != nil {
		// The order is live but the book is behind. Flag it loudly; the
		// next rebalance would otherwise try to sell it again.
		e.log.Error("ledger decrement failed after sell", "code", entry.Code, "error", err)
		e.notifier.Error(ctx, "台账更新失败", fmt.Sprintf("%s 卖出成功但台账扣减失败，请人工核对。", entry.Code))
	}

	e.record(ctx, "INFO", "%s：%s %s %d 张 @ %.3f（单号 %d）",
		remark, entry.Code, entry.Name, volume, q.LastPrice, orderID)
	return true
}

// buyBatch buys the given targets, splitting the budget across the batch.
// Returns how many buys were placed.
func (e *Engine) buyBatch(ctx context.Context, targets []domain.TargetBond, strat domain.StrategyConfig, remark string) int {
	if len(targets) == 0 {
		return 0
	}

	amount, err := e.buyAmount(ctx, len(targets))
	if err != nil {
		e.log.Error("sizing buys failed", "error", err)
		e.notifier.Error(ctx, "买入金额计算失败", err.Error())
		return 0
	}

	bought := 0
	var skipped []string
	for _, t := range targets {
		q, err := e.gateway.Quote(ctx, t.Code)
		if err != nil {
			e.log.Warn("no quote for buy, skipping", "code", t.Code, "error", err)
			skipped = append(skipped, t.Code)
			continue
		}
		if q.Suspended() {
			e.log.Warn("bond suspended, buy skipped", "code", t.Code)
			e.notifier.Suspended(ctx, t.Code, t.Name)
			continue
		}

		price := q.LastPrice
		if price <= 0 {
			e.log.Error("quote has no positive price, buy skipped", "code", t.Code)
			e.record(ctx, "ERROR", "%s：%s 无有效报价，跳过", remark, t.Code)
			continue
		}
		volume := buyVolume(amount, price)
		if volume < domain.LotSize {
			e.log.Warn("buy amount below one lot, skipping",
				"code", t.Code, "amount", amount, "price", price)
			e.record(ctx, "WARN", "%s：%s 买入金额不足一手（%.2f 元 @ %.3f），跳过", remark, t.Code, amount, price)
			continue
		}

		order := domain.Order{
			Code:        t.Code,
			Side:        domain.OrderSideBuy,
			Volume:      volume,
			Price:       price,
			PriceMode:   e.cfg.Trading.OrderPrice,
			StrategyTag: strat.StrategyName,
			Remark:      remark,
		}
		orderID, err := e.gateway.PlaceOrder(ctx, order)
		if err != nil {
			e.log.Error("buy order failed", "code", t.Code, "error", err)
			e.notifier.Error(ctx, "买入下单失败", fmt.Sprintf("%s %s：%v", t.Code, t.Name, err))
			continue
		}

		if err := e.ledger.UpsertBuy(ctx, t.Code, t.Name, volume, price, e.now(), strat.StrategyName); err != nil {
			e.log.Error("ledger upsert failed after buy", "code", t.Code, "error", err)
			e.notifier.Error(ctx, "台账更新失败", fmt.Sprintf("%s 买入成功但台账记录失败，请人工核对。", t.Code))
		}

		e.record(ctx, "INFO", "%s：%s %s %d 张 @ %.3f（单号 %d）",
			remark, t.Code, t.Name, volume, price, orderID)
		bought++
	}

	if len(skipped) > 0 {
		e.log.Warn("buys skipped for missing quotes", "codes", strings.Join(skipped, ","))
	}
	return bought
}
