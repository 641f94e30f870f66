package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ScheduleType is the cadence of the rebalance trigger.
type ScheduleType string

const (
	ScheduleDaily   ScheduleType = "daily"
	ScheduleWeekly  ScheduleType = "weekly"
	ScheduleMonthly ScheduleType = "monthly"
)

// Schedule is the cadence descriptor for the rebalance job: a time of day
// plus an optional day selector depending on Type.
type Schedule struct {
	Type       ScheduleType `yaml:"type" json:"type"`
	Time       string       `yaml:"time" json:"time"` // "HH:MM"
	DayOfWeek  int          `yaml:"day_of_week" json:"day_of_week"`   // 0=Monday .. 6=Sunday
	DayOfMonth int          `yaml:"day_of_month" json:"day_of_month"` // 1..31
}

// ParseClock splits s.Time into hour and minute.
func (s Schedule) ParseClock() (hour, minute int, err error) {
	parts := strings.SplitN(s.Time, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid schedule time %q", s.Time)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid schedule hour %q: %w", parts[0], err)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid schedule minute %q: %w", parts[1], err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("schedule time %q out of range", s.Time)
	}
	return hour, minute, nil
}

// Validate checks the descriptor is internally consistent.
func (s Schedule) Validate() error {
	if _, _, err := s.ParseClock(); err != nil {
		return err
	}
	switch s.Type {
	case ScheduleDaily:
		return nil
	case ScheduleWeekly:
		if s.DayOfWeek < 0 || s.DayOfWeek > 6 {
			return fmt.Errorf("day_of_week %d out of range 0-6", s.DayOfWeek)
		}
		return nil
	case ScheduleMonthly:
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return fmt.Errorf("day_of_month %d out of range 1-31", s.DayOfMonth)
		}
		return nil
	default:
		return fmt.Errorf("unknown schedule type %q", s.Type)
	}
}

// Next returns the first fire time strictly after t in t's location.
func (s Schedule) Next(t time.Time) time.Time {
	hour, minute, err := s.ParseClock()
	if err != nil {
		return time.Time{}
	}

	day := time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())

	switch s.Type {
	case ScheduleDaily:
		if day.After(t) {
			return day
		}
		return day.AddDate(0, 0, 1)

	case ScheduleWeekly:
		// time.Weekday has Sunday=0; the descriptor uses Monday=0.
		want := time.Weekday((s.DayOfWeek + 1) % 7)
		for i := 0; i < 8; i++ {
			cand := day.AddDate(0, 0, i)
			if cand.Weekday() == want && cand.After(t) {
				return cand
			}
		}
		return time.Time{}

	case ScheduleMonthly:
		// Skip months where the requested day rolls over (e.g. Feb 31).
		for i := 0; i < 14; i++ {
			cand := time.Date(t.Year(), t.Month()+time.Month(i), s.DayOfMonth, hour, minute, 0, 0, t.Location())
			if cand.Day() == s.DayOfMonth && cand.After(t) {
				return cand
			}
		}
		return time.Time{}
	}
	return time.Time{}
}
