package domain

import (
	"testing"
	"time"
)

func TestQuoteSuspended(t *testing.T) {
	if (Quote{Status: 0}).Suspended() {
		t.Error("status 0 should not be suspended")
	}
	if !(Quote{Status: 17}).Suspended() {
		t.Error("status 17 should be suspended")
	}
	if !(Quote{Status: 20}).Suspended() {
		t.Error("status 20 should be suspended")
	}
}

func TestQuoteUsable(t *testing.T) {
	if (Quote{LastPrice: 0}).Usable() {
		t.Error("zero price should not be usable")
	}
	if !(Quote{LastPrice: 105.3}).Usable() {
		t.Error("positive price should be usable")
	}
}

func TestIsConvertibleBond(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"113050.SH", true},
		{"123456.SZ", true},
		{"110081", true},
		{"600000.SH", false},
		{"000001.SZ", false},
		{"1", false},
		{"", false},
	}
	for _, c := range cases {
		if got := IsConvertibleBond(c.code); got != c.want {
			t.Errorf("IsConvertibleBond(%q) = %v, want %v", c.code, got, c.want)
		}
	}
}

func TestScheduleParseClock(t *testing.T) {
	s := Schedule{Type: ScheduleDaily, Time: "14:50"}
	h, m, err := s.ParseClock()
	if err != nil {
		t.Fatalf("ParseClock: %v", err)
	}
	if h != 14 || m != 50 {
		t.Errorf("ParseClock = %d:%d, want 14:50", h, m)
	}

	bad := []string{"", "1450", "25:00", "14:61", "x:y"}
	for _, tm := range bad {
		if _, _, err := (Schedule{Time: tm}).ParseClock(); err == nil {
			t.Errorf("ParseClock(%q) should fail", tm)
		}
	}
}

func TestScheduleValidate(t *testing.T) {
	if err := (Schedule{Type: ScheduleDaily, Time: "09:35"}).Validate(); err != nil {
		t.Errorf("daily schedule: %v", err)
	}
	if err := (Schedule{Type: ScheduleWeekly, Time: "09:35", DayOfWeek: 7}).Validate(); err == nil {
		t.Error("day_of_week 7 should fail validation")
	}
	if err := (Schedule{Type: ScheduleMonthly, Time: "09:35", DayOfMonth: 0}).Validate(); err == nil {
		t.Error("day_of_month 0 should fail validation")
	}
	if err := (Schedule{Type: "hourly", Time: "09:35"}).Validate(); err == nil {
		t.Error("unknown type should fail validation")
	}
}

func TestScheduleNextDaily(t *testing.T) {
	s := Schedule{Type: ScheduleDaily, Time: "14:50"}
	loc := time.FixedZone("CST", 8*3600)

	before := time.Date(2025, 3, 10, 9, 0, 0, 0, loc)
	next := s.Next(before)
	want := time.Date(2025, 3, 10, 14, 50, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("Next before fire time = %v, want %v", next, want)
	}

	after := time.Date(2025, 3, 10, 15, 0, 0, 0, loc)
	next = s.Next(after)
	want = time.Date(2025, 3, 11, 14, 50, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("Next after fire time = %v, want %v", next, want)
	}
}

func TestScheduleNextWeekly(t *testing.T) {
	// 2025-03-10 is a Monday; the descriptor uses Monday=0.
	s := Schedule{Type: ScheduleWeekly, Time: "10:00", DayOfWeek: 0}
	loc := time.FixedZone("CST", 8*3600)

	tue := time.Date(2025, 3, 11, 12, 0, 0, 0, loc)
	next := s.Next(tue)
	want := time.Date(2025, 3, 17, 10, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want next Monday %v", next, want)
	}
}

func TestScheduleNextMonthlySkipsShortMonths(t *testing.T) {
	s := Schedule{Type: ScheduleMonthly, Time: "10:00", DayOfMonth: 31}
	loc := time.FixedZone("CST", 8*3600)

	feb := time.Date(2025, 2, 1, 0, 0, 0, 0, loc)
	next := s.Next(feb)
	want := time.Date(2025, 3, 31, 10, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v (February has no 31st)", next, want)
	}
}
