package trading

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kk99668/qmt-cb-rotation/internal/notify"
)

const (
	// maxReconnectFailures is the strike limit before reconnecting stops
	// and the operator is paged. Manual intervention resets it.
	maxReconnectFailures = 3

	// reconnectCooldown is the minimum gap between reconnect attempts.
	reconnectCooldown = 60 * time.Second

	// reconnectSettle is how long the terminal needs between a disconnect
	// and the following connect.
	reconnectSettle = 2 * time.Second
)

// State is a snapshot of the guardian's view of the connection.
type State struct {
	Connected            bool
	ReconnectFailures    int
	LastHealthCheck      time.Time
	LastReconnectAttempt time.Time
}

// Guardian watches the terminal session and drives reconnection. A deep
// check is an asset query round trip; the cheap check only asks the bridge
// whether its session object still exists.
type Guardian struct {
	session  Session
	notifier notify.Notifier
	log      *slog.Logger

	qmtPath   string
	accountID string

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu                   sync.Mutex
	connected            bool
	reconnectFailures    int
	lastHealthCheck      time.Time
	lastReconnectAttempt time.Time
	exhausted            bool
}

// NewGuardian creates a guardian for session. qmtPath and accountID are the
// connect parameters reused on every reconnect.
func NewGuardian(session Session, notifier notify.Notifier, qmtPath, accountID string, log *slog.Logger) *Guardian {
	return &Guardian{
		session:   session,
		notifier:  notifier,
		qmtPath:   qmtPath,
		accountID: accountID,
		log:       log,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Connect establishes the initial session and verifies it with a deep check.
func (g *Guardian) Connect(ctx context.Context) error {
	if err := g.session.Connect(ctx, g.qmtPath, g.accountID); err != nil {
		return err
	}
	if !g.DeepCheck(ctx) {
		return fmt.Errorf("session connected but asset query failed")
	}
	g.mu.Lock()
	g.connected = true
	g.reconnectFailures = 0
	g.exhausted = false
	g.mu.Unlock()
	return nil
}

// Disconnect tears the session down and resets the failure counter, so a
// deliberate disconnect does not inherit strikes from an earlier outage.
func (g *Guardian) Disconnect(ctx context.Context) error {
	err := g.session.Disconnect(ctx)
	g.mu.Lock()
	g.connected = false
	g.reconnectFailures = 0
	g.exhausted = false
	g.mu.Unlock()
	return err
}

// CheapCheck asks the bridge whether the session object is alive.
func (g *Guardian) CheapCheck(ctx context.Context) bool {
	ok, err := g.session.IsConnected(ctx)
	if err != nil {
		g.log.Warn("liveness check failed", "error", err)
		return false
	}
	return ok
}

// DeepCheck verifies the session with an asset query round trip. The bridge
// can report a live session object whose terminal link is actually dead;
// only a real query tells them apart.
func (g *Guardian) DeepCheck(ctx context.Context) bool {
	if _, err := g.session.QueryAsset(ctx); err != nil {
		g.log.Warn("deep connectivity check failed", "error", err)
		return false
	}
	return true
}

// EnsureConnected runs up to attempts deep checks, sleeping interval between
// them, and reports whether any succeeded. Trading cycles call this before
// touching the account.
func (g *Guardian) EnsureConnected(ctx context.Context, attempts int, interval time.Duration) bool {
	for i := 0; i < attempts; i++ {
		if g.DeepCheck(ctx) {
			g.mu.Lock()
			g.connected = true
			g.reconnectFailures = 0
			g.exhausted = false
			g.mu.Unlock()
			return true
		}
		if i < attempts-1 {
			if err := g.sleep(ctx, interval); err != nil {
				return false
			}
		}
	}
	g.mu.Lock()
	g.connected = false
	g.mu.Unlock()
	return false
}

// Reconnect attempts one full session rebuild: disconnect, settle, connect,
// deep check. It refuses to run during the cooldown window and gives up for
// good after the strike limit, paging the operator exactly once.
func (g *Guardian) Reconnect(ctx context.Context) error {
	g.mu.Lock()
	if g.reconnectFailures >= maxReconnectFailures {
		g.notifyExhaustedLocked(ctx)
		g.mu.Unlock()
		return fmt.Errorf("reconnect abandoned after %d failures, manual intervention required", maxReconnectFailures)
	}
	if since := g.now().Sub(g.lastReconnectAttempt); since < reconnectCooldown {
		g.mu.Unlock()
		return fmt.Errorf("reconnect cooling down, %s until next attempt", reconnectCooldown-since)
	}
	g.lastReconnectAttempt = g.now()
	g.mu.Unlock()

	g.log.Info("reconnecting terminal session", "account", g.accountID)

	if err := g.session.Disconnect(ctx); err != nil {
		g.log.Warn("disconnect before reconnect failed", "error", err)
	}
	if err := g.sleep(ctx, reconnectSettle); err != nil {
		return err
	}

	err := g.session.Connect(ctx, g.qmtPath, g.accountID)
	if err == nil && !g.DeepCheck(ctx) {
		err = fmt.Errorf("session reconnected but asset query failed")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.connected = false
		g.reconnectFailures++
		g.log.Error("reconnect failed",
			"error", err, "failures", g.reconnectFailures, "max", maxReconnectFailures)
		if g.reconnectFailures >= maxReconnectFailures {
			g.notifyExhaustedLocked(ctx)
		}
		return fmt.Errorf("reconnect attempt %d: %w", g.reconnectFailures, err)
	}

	g.connected = true
	g.reconnectFailures = 0
	g.exhausted = false
	g.log.Info("terminal session recovered", "account", g.accountID)
	g.notifier.Success(ctx, "交易终端重连成功",
		fmt.Sprintf("账户 %s 的终端会话已恢复，自动交易继续。", g.accountID))
	return nil
}

// notifyExhaustedLocked pages the operator once per outage. Caller holds mu.
func (g *Guardian) notifyExhaustedLocked(ctx context.Context) {
	if g.exhausted {
		return
	}
	g.exhausted = true
	g.notifier.Terminal(ctx, "交易终端连接失败",
		fmt.Sprintf("账户 %s 连续 %d 次重连失败，自动重连已停止，请人工检查 QMT 终端。", g.accountID, maxReconnectFailures))
}

// HealthTick is the periodic watchdog. A failed cheap check triggers a
// reconnect; cooldown and strike-limit errors are expected and only logged.
func (g *Guardian) HealthTick(ctx context.Context) {
	alive := g.CheapCheck(ctx)

	g.mu.Lock()
	g.lastHealthCheck = g.now()
	recovered := alive && g.reconnectFailures > 0
	if alive {
		g.connected = true
		g.reconnectFailures = 0
		g.exhausted = false
	}
	g.mu.Unlock()

	if recovered {
		g.log.Info("terminal session recovered on its own", "account", g.accountID)
		g.notifier.Success(ctx, "交易终端重连成功",
			fmt.Sprintf("账户 %s 的终端会话已恢复，自动交易继续。", g.accountID))
	}

	if alive {
		return
	}
	if err := g.Reconnect(ctx); err != nil {
		g.log.Warn("health tick reconnect", "error", err)
	}
}

// StateSnapshot returns the guardian's current view of the connection.
func (g *Guardian) StateSnapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		Connected:            g.connected,
		ReconnectFailures:    g.reconnectFailures,
		LastHealthCheck:      g.lastHealthCheck,
		LastReconnectAttempt: g.lastReconnectAttempt,
	}
}
