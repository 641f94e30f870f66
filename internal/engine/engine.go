// Package engine holds the trading decisions: daily rebalancing, the stop
// profit and loss monitor, and the afternoon replenishment pass. Everything
// it touches goes through the gateway, the guardian, and the stores, so the
// decision code stays testable without a terminal.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kk99668/qmt-cb-rotation/internal/config"
	"github.com/kk99668/qmt-cb-rotation/internal/domain"
	"github.com/kk99668/qmt-cb-rotation/internal/gateway"
	"github.com/kk99668/qmt-cb-rotation/internal/notify"
	"github.com/kk99668/qmt-cb-rotation/internal/store"
	"github.com/kk99668/qmt-cb-rotation/internal/util"
)

// TargetSource supplies the ranked bond list for the active strategy.
type TargetSource interface {
	TodayBonds(ctx context.Context, historyID int) ([]domain.TargetBond, error)
}

// Connectivity is the guardian surface a trading cycle needs.
type Connectivity interface {
	EnsureConnected(ctx context.Context, attempts int, interval time.Duration) bool
}

// AccountGateway is the account facade a trading cycle needs.
type AccountGateway interface {
	Asset(ctx context.Context) (domain.Asset, error)
	Positions(ctx context.Context) ([]domain.Position, error)
	MonitoredPositions(ctx context.Context) ([]gateway.MonitoredPosition, error)
	Quote(ctx context.Context, code string) (domain.Quote, error)
	PlaceOrder(ctx context.Context, order domain.Order) (int, error)
}

const (
	// connectProbes and connectProbeGap shape the pre-cycle connectivity
	// check: probe, wait, probe again before giving up.
	connectProbes   = 3
	connectProbeGap = 2 * time.Second
)

// Engine runs the trading cycles for the single active strategy.
type Engine struct {
	cfg      *config.Config
	gateway  AccountGateway
	guardian Connectivity
	targets  TargetSource
	ledger   store.LedgerStore
	refills  store.RefillStore
	tradeLog store.TradeLogStore
	notifier notify.Notifier
	log      *slog.Logger

	// Injectable for tests.
	now func() time.Time

	// mu serializes trading cycles. The scheduler fires them on
	// independent timers; two cycles must never trade concurrently.
	mu sync.Mutex

	stratMu  sync.RWMutex
	strategy *domain.StrategyConfig
}

// New wires an engine. All collaborators are required except tradeLog,
// which may be nil to skip durable decision logging.
func New(cfg *config.Config, gw AccountGateway, guardian Connectivity, targets TargetSource,
	ledger store.LedgerStore, refills store.RefillStore, tradeLog store.TradeLogStore,
	notifier notify.Notifier, log *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		gateway:  gw,
		guardian: guardian,
		targets:  targets,
		ledger:   ledger,
		refills:  refills,
		tradeLog: tradeLog,
		notifier: notifier,
		log:      log,
		now:      util.Now,
	}
}

// SetStrategy installs or replaces the active strategy.
func (e *Engine) SetStrategy(cfg domain.StrategyConfig) {
	e.stratMu.Lock()
	e.strategy = &cfg
	e.stratMu.Unlock()
	e.log.Info("strategy selected",
		"strategy", cfg.StrategyName, "history_id", cfg.HistoryID,
		"stop_profit", cfg.StopProfitRatio, "stop_loss", cfg.StopLossRatio)
}

// ClearStrategy deselects the active strategy. Cycles become no-ops.
func (e *Engine) ClearStrategy() {
	e.stratMu.Lock()
	e.strategy = nil
	e.stratMu.Unlock()
	e.log.Info("strategy cleared")
}

// Strategy returns a copy of the active strategy, if any.
func (e *Engine) Strategy() (domain.StrategyConfig, bool) {
	e.stratMu.RLock()
	defer e.stratMu.RUnlock()
	if e.strategy == nil {
		return domain.StrategyConfig{}, false
	}
	return *e.strategy, true
}

// record writes a durable trade-log line alongside the structured log.
func (e *Engine) record(ctx context.Context, level, format string, args ...any) {
	if e.tradeLog == nil {
		return
	}
	if err := e.tradeLog.Add(ctx, level, fmt.Sprintf(format, args...)); err != nil {
		e.log.Warn("writing trade log", "error", err)
	}
}

// ensureReady acquires the cycle lock and verifies connectivity. The caller
// must release the lock iff ready is true.
func (e *Engine) ensureReady(ctx context.Context, cycle string) (domain.StrategyConfig, bool) {
	strat, ok := e.Strategy()
	if !ok {
		e.log.Debug("no active strategy, skipping cycle", "cycle", cycle)
		return domain.StrategyConfig{}, false
	}

	e.mu.Lock()
	if !e.guardian.EnsureConnected(ctx, connectProbes, connectProbeGap) {
		e.mu.Unlock()
		e.log.Error("terminal unreachable, skipping cycle", "cycle", cycle)
		e.notifier.Error(ctx, "交易终端不可用",
			fmt.Sprintf("%s 周期因交易终端连接失败而跳过。", cycle))
		return domain.StrategyConfig{}, false
	}
	return strat, true
}
