// cb-rotation is the convertible bond rotation daemon. It keeps the account
// aligned with a ranked bond list from the factor-cat service via the local
// QMT bridge: daily rebalancing, an intraday stop monitor, and an afternoon
// replacement pass for stop-sold positions.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kk99668/qmt-cb-rotation/internal/config"
	"github.com/kk99668/qmt-cb-rotation/internal/domain"
	"github.com/kk99668/qmt-cb-rotation/internal/engine"
	"github.com/kk99668/qmt-cb-rotation/internal/factorcat"
	"github.com/kk99668/qmt-cb-rotation/internal/gateway"
	"github.com/kk99668/qmt-cb-rotation/internal/notify"
	"github.com/kk99668/qmt-cb-rotation/internal/quote"
	"github.com/kk99668/qmt-cb-rotation/internal/scheduler"
	"github.com/kk99668/qmt-cb-rotation/internal/store"
	"github.com/kk99668/qmt-cb-rotation/internal/trading"
	"github.com/kk99668/qmt-cb-rotation/internal/util"
)

func main() {
	// Local overrides; absence is fine.
	_ = godotenv.Load()

	cfgPath := "config/cb-rotation.yaml"
	if p := os.Getenv("CB_ROTATION_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Storage.
	if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("creating data directory: %v", err)
		}
	}
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer db.Close()

	// Notifications.
	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Notify.SMTPHost != "" {
		notifier = notify.NewEmailNotifier(
			cfg.Notify.SMTPHost, cfg.Notify.SMTPPort,
			cfg.Notify.SMTPUser, cfg.Notify.SMTPPassword,
			cfg.Notify.Sender, cfg.Notify.Receiver, logger)
	} else {
		logger.Warn("smtp not configured, notifications disabled")
	}

	// Ranking service.
	fc := factorcat.NewClient(cfg.FactorCat.BaseURL, logger)
	if cfg.FactorCat.Username != "" {
		err := util.Retry(ctx, 3, 2*time.Second, func() error {
			_, err := fc.Login(ctx, cfg.FactorCat.Username, cfg.FactorCat.Password)
			return err
		})
		if err != nil {
			logger.Error("initial ranking service login failed", "error", err)
		}
	}

	// Terminal session and guardian.
	session := trading.NewBridgeSession(cfg.Trading.BridgeURL, logger)
	guardian := trading.NewGuardian(session, notifier, cfg.Trading.QMTPath, cfg.Trading.AccountID, logger)
	if err := util.Retry(ctx, 3, 2*time.Second, func() error {
		return guardian.Connect(ctx)
	}); err != nil {
		logger.Error("initial terminal connect failed, watchdog will keep trying", "error", err)
	}
	defer func() {
		if err := guardian.Disconnect(context.Background()); err != nil {
			logger.Warn("disconnect on shutdown", "error", err)
		}
	}()

	// Quotes: terminal tick first, public web sources as fallback.
	quotes := quote.NewChain(logger,
		trading.NewTickProvider(session),
		quote.NewTencentProvider(),
		quote.NewSinaProvider(),
	)

	gw := gateway.New(session, db, quotes, logger)
	eng := engine.New(cfg, gw, guardian, fc, db, db, db, notifier, logger)

	if cfg.Strategy.HistoryID != 0 {
		eng.SetStrategy(domain.StrategyConfig{
			StrategyName:    cfg.Strategy.Name,
			HistoryID:       cfg.Strategy.HistoryID,
			StopProfitRatio: cfg.Strategy.StopProfitRatio,
			StopLossRatio:   cfg.Strategy.StopLossRatio,
			Schedule:        cfg.Strategy.Schedule,
		})
	} else {
		logger.Warn("no strategy configured, daemon idles until one is set")
	}

	// Background jobs.
	tradingDays := util.NewTradingDayChecker(session.IsTradingDay, logger)
	sched := scheduler.New(logger)

	sched.AddDailyJob("rebalance", cfg.Strategy.Schedule,
		scheduler.GateTradingDay(tradingDays, logger, func(ctx context.Context) {
			if err := eng.ExecuteRebalance(ctx); err != nil {
				logger.Error("rebalance cycle failed", "error", err)
			}
		}))

	sched.AddIntervalJob("stop-check",
		time.Duration(cfg.Schedule.StopCheckIntervalSec)*time.Second,
		scheduler.GateTradingWindow(tradingDays, logger, func(ctx context.Context) {
			if err := eng.ExecuteStopCheck(ctx); err != nil {
				logger.Error("stop check failed", "error", err)
			}
		}))

	sched.AddDailyJob("refill",
		domain.Schedule{Type: domain.ScheduleDaily, Time: cfg.Schedule.RefillTime},
		scheduler.GateTradingDay(tradingDays, logger, func(ctx context.Context) {
			if err := eng.ExecuteScheduledRefill(ctx); err != nil {
				logger.Error("refill cycle failed", "error", err)
			}
		}))

	sched.AddIntervalJob("health-check",
		time.Duration(cfg.Schedule.HealthCheckIntervalSec)*time.Second,
		func(ctx context.Context) {
			guardian.HealthTick(ctx)
		})

	// Keep the durable trade log bounded.
	sched.AddDailyJob("log-prune",
		domain.Schedule{Type: domain.ScheduleDaily, Time: "17:00"},
		func(ctx context.Context) {
			if err := db.Prune(ctx, time.Now().AddDate(0, 0, -30)); err != nil {
				logger.Warn("pruning trade log failed", "error", err)
			}
		})

	if cfg.FactorCat.Username != "" {
		sched.AddIntervalJob("token-refresh",
			time.Duration(cfg.Schedule.TokenRefreshIntervalMin)*time.Minute,
			func(ctx context.Context) {
				if err := fc.RefreshToken(ctx, cfg.FactorCat.Username, cfg.FactorCat.Password); err != nil {
					logger.Error("token refresh failed", "error", err)
				}
			})
	}

	sched.Start(ctx)
	for _, j := range sched.Jobs() {
		logger.Info("job registered", "job", j.Name, "next_run", j.NextRun)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	sched.Stop()
}
