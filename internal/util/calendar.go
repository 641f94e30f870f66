package util

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Shanghai is the exchange time zone. All trading-time decisions are made in
// this location regardless of the host clock.
var Shanghai = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}()

// Now returns the current time in the exchange time zone.
func Now() time.Time {
	return time.Now().In(Shanghai)
}

// InTradingWindow reports whether t falls inside a CN exchange session:
// 09:30-11:30 or 13:00-15:00, inclusive at both ends.
func InTradingWindow(t time.Time) bool {
	t = t.In(Shanghai)
	mins := t.Hour()*60 + t.Minute()

	const (
		morningOpen    = 9*60 + 30
		morningClose   = 11*60 + 30
		afternoonOpen  = 13 * 60
		afternoonClose = 15 * 60
	)

	return (mins >= morningOpen && mins <= morningClose) ||
		(mins >= afternoonOpen && mins <= afternoonClose)
}

// TradingDaySource answers whether a date (YYYYMMDD) is a trading day,
// typically by consulting the trading terminal's calendar.
type TradingDaySource func(ctx context.Context, date string) (bool, error)

// TradingDayChecker answers "is today a trading day", caching the answer for
// the remainder of the day and degrading to a weekday check when the
// authoritative source is unavailable.
type TradingDayChecker struct {
	source TradingDaySource
	log    *slog.Logger

	mu         sync.Mutex
	cachedDate string
	cachedOK   bool
}

// NewTradingDayChecker creates a checker backed by source. A nil source
// always falls back to the weekday check.
func NewTradingDayChecker(source TradingDaySource, log *slog.Logger) *TradingDayChecker {
	return &TradingDayChecker{source: source, log: log}
}

// IsTradingDay reports whether t's date is a trading day.
func (c *TradingDayChecker) IsTradingDay(ctx context.Context, t time.Time) bool {
	t = t.In(Shanghai)
	date := t.Format("20060102")

	c.mu.Lock()
	if c.cachedDate == date {
		ok := c.cachedOK
		c.mu.Unlock()
		return ok
	}
	c.mu.Unlock()

	if c.source == nil {
		return isWeekday(t)
	}

	ok, err := c.source(ctx, date)
	if err != nil {
		c.log.Warn("trading calendar unavailable, falling back to weekday check", "error", err)
		return isWeekday(t)
	}

	c.mu.Lock()
	c.cachedDate = date
	c.cachedOK = ok
	c.mu.Unlock()

	return ok
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
