package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/kk99668/qmt-cb-rotation/internal/domain"
	"github.com/kk99668/qmt-cb-rotation/internal/util"
)

// EnqueueRefill queues stop-sold positions for the afternoon replacement
// pass. After the daily replenishment cut-off the queue is closed: a sell
// that late stays sold until the next rebalance.
func (e *Engine) EnqueueRefill(ctx context.Context, items []domain.RefillItem) error {
	if len(items) == 0 {
		return nil
	}

	now := e.now().In(util.Shanghai)
	cutoff, err := time.Parse("15:04", e.cfg.Schedule.RefillTime)
	if err != nil {
		return fmt.Errorf("malformed refill cut-off %q: %w", e.cfg.Schedule.RefillTime, err)
	}
	nowMinutes := now.Hour()*60 + now.Minute()
	cutMinutes := cutoff.Hour()*60 + cutoff.Minute()
	if nowMinutes >= cutMinutes {
		e.log.Info("refill cut-off passed, sells stay unreplaced", "count", len(items))
		e.record(ctx, "INFO", "已过补仓截止时间，%d 笔卖出不再补仓", len(items))
		return nil
	}

	date := now.Format("2006-01-02")
	if err := e.refills.Enqueue(ctx, date, items); err != nil {
		return fmt.Errorf("queueing %d refill items: %w", len(items), err)
	}
	e.log.Info("refill items queued", "date", date, "count", len(items))
	return nil
}

// ExecuteScheduledRefill runs the daily replacement pass: for every stop
// sell queued today, buy the highest-ranked bond from today's list that is
// not already held and was not one of the bonds just sold. The queue is
// cleared afterwards no matter how many buys went through; replacement is a
// one-shot courtesy, not a retry loop.
func (e *Engine) ExecuteScheduledRefill(ctx context.Context) error {
	strat, ok := e.ensureReady(ctx, "refill")
	if !ok {
		return nil
	}
	defer e.mu.Unlock()

	date := e.now().In(util.Shanghai).Format("2006-01-02")
	items, err := e.refills.Queued(ctx, date)
	if err != nil {
		return fmt.Errorf("reading refill queue: %w", err)
	}
	if len(items) == 0 {
		e.log.Debug("refill queue empty", "date", date)
		return nil
	}

	e.log.Info("refill cycle starting", "date", date, "queued", len(items))

	targets, err := e.targets.TodayBonds(ctx, strat.HistoryID)
	if err != nil {
		e.notifier.Error(ctx, "补仓获取目标债券失败", err.Error())
		return fmt.Errorf("fetching target bonds for refill: %w", err)
	}

	held, err := e.gateway.Positions(ctx)
	if err != nil {
		e.notifier.Error(ctx, "补仓查询持仓失败", err.Error())
		return fmt.Errorf("querying positions for refill: %w", err)
	}
	heldSet := make(map[string]bool, len(held))
	for _, p := range held {
		heldSet[p.Code] = true
	}

	// Never buy back what the stop monitor just sold.
	soldToday := make(map[string]bool, len(items))
	for _, it := range items {
		soldToday[it.Code] = true
	}

	var candidates []domain.TargetBond
	for _, t := range targets {
		if len(candidates) == len(items) {
			break
		}
		if heldSet[t.Code] || soldToday[t.Code] {
			continue
		}
		candidates = append(candidates, t)
	}

	if len(candidates) == 0 {
		e.log.Warn("no refill candidates available", "queued", len(items))
		e.record(ctx, "WARN", "补仓队列 %d 笔，但今日列表无可用候选", len(items))
		return nil
	}

	bought := e.buyBatch(ctx, candidates, strat, "补仓买入")

	// One shot per day: once the buy pass has run the queue is spent, even
	// for buys that failed mid-pass.
	if err := e.refills.Clear(ctx, date); err != nil {
		e.log.Error("clearing refill queue failed", "date", date, "error", err)
	}

	summary := fmt.Sprintf("补仓完成：队列 %d 笔，候选 %d 只，买入 %d 只。", len(items), len(candidates), bought)
	e.record(ctx, "INFO", "%s", summary)
	if bought > 0 {
		e.notifier.Success(ctx, "补仓完成", summary)
	}
	e.log.Info("refill cycle finished", "queued", len(items), "bought", bought)
	return nil
}
