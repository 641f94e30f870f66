// Package config loads and validates the daemon configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kk99668/qmt-cb-rotation/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the rotation daemon.
type Config struct {
	Trading   Trading   `yaml:"trading"`
	FactorCat FactorCat `yaml:"factorcat"`
	Strategy  Strategy  `yaml:"strategy"`
	Storage   Storage   `yaml:"storage"`
	Notify    Notify    `yaml:"notify"`
	Schedule  Schedule  `yaml:"schedule"`
	Logging   Logging   `yaml:"logging"`
}

// Trading holds trading-terminal connection and order parameters.
type Trading struct {
	BridgeURL     string               `yaml:"bridge_url"` // local QMT bridge endpoint
	QMTPath       string               `yaml:"qmt_path"`   // MiniQMT userdata path, passed to the bridge on connect
	AccountID     string               `yaml:"account_id"`
	BuyAmountMode domain.BuyAmountMode `yaml:"buy_amount_mode"` // fixed | average
	FixedAmount   float64              `yaml:"fixed_amount"`    // CNY per bond in fixed mode
	OrderPrice    domain.PriceMode     `yaml:"order_price_mode"`
}

// FactorCat holds credentials and the endpoint for the bond ranking service.
type FactorCat struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Strategy selects the active strategy at startup. A zero history_id leaves
// the daemon idle until a strategy is selected by other means.
type Strategy struct {
	Name            string          `yaml:"name"`
	HistoryID       int             `yaml:"history_id"`
	StopProfitRatio float64         `yaml:"stop_profit_ratio"`
	StopLossRatio   float64         `yaml:"stop_loss_ratio"`
	Schedule        domain.Schedule `yaml:"schedule"` // rebalance cadence
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Notify configures the e-mail notification channel.
type Notify struct {
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password"`
	Sender       string `yaml:"sender"`
	Receiver     string `yaml:"receiver"`
}

// Schedule holds the fixed cadences of the background jobs. The rebalance
// cadence itself lives in the active strategy, not here.
type Schedule struct {
	StopCheckIntervalSec    int    `yaml:"stop_check_interval_sec"`
	HealthCheckIntervalSec  int    `yaml:"health_check_interval_sec"`
	TokenRefreshIntervalMin int    `yaml:"token_refresh_interval_min"`
	RefillTime              string `yaml:"refill_time"` // "HH:MM", the daily cut-off
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QMT_BRIDGE_URL"); v != "" {
		cfg.Trading.BridgeURL = v
	}
	if v := os.Getenv("QMT_PATH"); v != "" {
		cfg.Trading.QMTPath = v
	}
	if v := os.Getenv("QMT_ACCOUNT_ID"); v != "" {
		cfg.Trading.AccountID = v
	}
	if v := os.Getenv("FACTORCAT_BASE_URL"); v != "" {
		cfg.FactorCat.BaseURL = v
	}
	if v := os.Getenv("FACTORCAT_USERNAME"); v != "" {
		cfg.FactorCat.Username = v
	}
	if v := os.Getenv("FACTORCAT_PASSWORD"); v != "" {
		cfg.FactorCat.Password = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Notify.SMTPHost = v
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Notify.SMTPUser = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Notify.SMTPPassword = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Trading.BuyAmountMode == "" {
		cfg.Trading.BuyAmountMode = domain.BuyAmountAverage
	}
	if cfg.Trading.FixedAmount == 0 {
		cfg.Trading.FixedAmount = 10000
	}
	if cfg.Trading.OrderPrice == "" {
		cfg.Trading.OrderPrice = domain.PriceModeLimit
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/rotation.db"
	}
	if cfg.Schedule.StopCheckIntervalSec == 0 {
		cfg.Schedule.StopCheckIntervalSec = 60
	}
	if cfg.Schedule.HealthCheckIntervalSec == 0 {
		cfg.Schedule.HealthCheckIntervalSec = 30
	}
	if cfg.Schedule.TokenRefreshIntervalMin == 0 {
		cfg.Schedule.TokenRefreshIntervalMin = 30
	}
	if cfg.Schedule.RefillTime == "" {
		cfg.Schedule.RefillTime = "14:50"
	}
	if cfg.Notify.SMTPPort == 0 {
		cfg.Notify.SMTPPort = 465
	}
	if cfg.Strategy.Schedule.Type == "" {
		cfg.Strategy.Schedule.Type = domain.ScheduleDaily
	}
	if cfg.Strategy.Schedule.Time == "" {
		cfg.Strategy.Schedule.Time = "09:35"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate reports configuration the user must fix before the daemon can
// trade. These are surfaced immediately and never retried.
func (c *Config) Validate() error {
	if c.Trading.BridgeURL == "" {
		return fmt.Errorf("trading.bridge_url is required")
	}
	if c.Trading.AccountID == "" {
		return fmt.Errorf("trading.account_id is required")
	}
	if c.Trading.BuyAmountMode != domain.BuyAmountFixed && c.Trading.BuyAmountMode != domain.BuyAmountAverage {
		return fmt.Errorf("trading.buy_amount_mode must be %q or %q", domain.BuyAmountFixed, domain.BuyAmountAverage)
	}
	if c.Trading.BuyAmountMode == domain.BuyAmountFixed && c.Trading.FixedAmount <= 0 {
		return fmt.Errorf("trading.fixed_amount must be positive in fixed mode")
	}
	if c.Trading.OrderPrice != domain.PriceModeLimit && c.Trading.OrderPrice != domain.PriceModeMarket {
		return fmt.Errorf("trading.order_price_mode must be %q or %q", domain.PriceModeLimit, domain.PriceModeMarket)
	}
	if c.FactorCat.BaseURL == "" {
		return fmt.Errorf("factorcat.base_url is required")
	}
	if c.Strategy.HistoryID != 0 {
		if err := c.Strategy.Schedule.Validate(); err != nil {
			return fmt.Errorf("strategy.schedule: %w", err)
		}
	}
	return nil
}
