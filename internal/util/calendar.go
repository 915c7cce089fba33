package util

import (
	"time"

	"stockanalyzer/internal/domain"
)

type session struct {
	openH, openM   int
	closeH, closeM int
}

// TradingCalendar provides market-hours awareness for a specific market.
type TradingCalendar struct {
	market   domain.Market
	loc      *time.Location
	sessions []session
}

// NewTradingCalendar creates a TradingCalendar for the given market. Unknown
// markets trade around the clock.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	tc := &TradingCalendar{market: market, loc: time.UTC}
	switch market {
	case domain.MarketUS:
		tc.loc = loadLocation("America/New_York")
		tc.sessions = []session{{9, 30, 16, 0}}
	case domain.MarketCN:
		tc.loc = loadLocation("Asia/Shanghai")
		tc.sessions = []session{{9, 30, 11, 30}, {13, 0, 15, 0}}
	}
	return tc
}

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

// SessionDate normalises a bar timestamp to midnight UTC of its session day.
// US daily bars are stamped at midnight New York time, which falls on the
// same calendar day in UTC; CN bars are stamped in Shanghai time.
func (tc *TradingCalendar) SessionDate(t time.Time) time.Time {
	if tc.market == domain.MarketCN {
		t = t.In(tc.loc)
	} else {
		t = t.UTC()
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsTradingDay reports whether the calendar day of date is a session day.
func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	if len(tc.sessions) == 0 {
		return true
	}
	y, m, d := date.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	if tc.market == domain.MarketUS && isUSHoliday(day) {
		return false
	}
	return true
}

// TradingDays lists session days in [start, end] as midnight UTC dates.
func (tc *TradingCalendar) TradingDays(start, end time.Time) []time.Time {
	var out []time.Time
	for d := tc.SessionDate(start); !d.After(end); d = d.AddDate(0, 0, 1) {
		if tc.IsTradingDay(d) {
			out = append(out, d)
		}
	}
	return out
}

// LastClosedSession returns the most recent session date whose final close
// is at or before now. Markets without sessions close at midnight UTC.
func (tc *TradingCalendar) LastClosedSession(now time.Time) time.Time {
	y, m, d := now.In(tc.loc).Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if n := len(tc.sessions); n > 0 && tc.IsTradingDay(day) {
		last := tc.sessions[n-1]
		if closeAt := time.Date(y, m, d, last.closeH, last.closeM, 0, 0, tc.loc); !now.Before(closeAt) {
			return day
		}
	}
	for {
		day = day.AddDate(0, 0, -1)
		if tc.IsTradingDay(day) {
			return day
		}
	}
}

// IsMarketOpen returns whether the market is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	if len(tc.sessions) == 0 {
		return true
	}
	local := t.In(tc.loc)
	if !tc.IsTradingDay(local) {
		return false
	}
	for _, s := range tc.sessions {
		open, close := tc.bounds(local, s)
		if !local.Before(open) && local.Before(close) {
			return true
		}
	}
	return false
}

// NextOpen returns the next market open time at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	if len(tc.sessions) == 0 {
		return t
	}
	local := t.In(tc.loc)
	for i := 0; i < 14; i++ {
		day := local.AddDate(0, 0, i)
		if !tc.IsTradingDay(day) {
			continue
		}
		for _, s := range tc.sessions {
			if open, _ := tc.bounds(day, s); !open.Before(t) {
				return open
			}
		}
	}
	return time.Time{}
}

// NextClose returns the next market close time at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	if len(tc.sessions) == 0 {
		return t
	}
	local := t.In(tc.loc)
	for i := 0; i < 14; i++ {
		day := local.AddDate(0, 0, i)
		if !tc.IsTradingDay(day) {
			continue
		}
		for _, s := range tc.sessions {
			if _, close := tc.bounds(day, s); !close.Before(t) {
				return close
			}
		}
	}
	return time.Time{}
}

func (tc *TradingCalendar) bounds(day time.Time, s session) (time.Time, time.Time) {
	y, m, d := day.Date()
	return time.Date(y, m, d, s.openH, s.openM, 0, 0, tc.loc),
		time.Date(y, m, d, s.closeH, s.closeM, 0, 0, tc.loc)
}

// ---------------------------------------------------------------------------
// NYSE holidays
// ---------------------------------------------------------------------------

func isUSHoliday(day time.Time) bool {
	y := day.Year()
	same := func(t time.Time) bool { return t.Equal(day) }

	// Saturday holidays are not observed on Friday for New Year's Day.
	if ny := time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC); ny.Weekday() != time.Saturday && same(observed(ny)) {
		return true
	}
	if same(nthWeekday(y, time.January, time.Monday, 3)) ||
		same(nthWeekday(y, time.February, time.Monday, 3)) ||
		same(easter(y).AddDate(0, 0, -2)) ||
		same(lastWeekday(y, time.May, time.Monday)) ||
		same(observed(time.Date(y, 7, 4, 0, 0, 0, 0, time.UTC))) ||
		same(nthWeekday(y, time.September, time.Monday, 1)) ||
		same(nthWeekday(y, time.November, time.Thursday, 4)) ||
		same(observed(time.Date(y, 12, 25, 0, 0, 0, 0, time.UTC))) {
		return true
	}
	if y >= 2022 && same(observed(time.Date(y, 6, 19, 0, 0, 0, 0, time.UTC))) {
		return true
	}
	return false
}

// observed moves Saturday holidays to Friday and Sunday holidays to Monday.
func observed(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	}
	return t
}

func nthWeekday(y int, m time.Month, wd time.Weekday, n int) time.Time {
	t := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	for t.Weekday() != wd {
		t = t.AddDate(0, 0, 1)
	}
	return t.AddDate(0, 0, 7*(n-1))
}

func lastWeekday(y int, m time.Month, wd time.Weekday) time.Time {
	t := time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for t.Weekday() != wd {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// easter returns Easter Sunday (anonymous Gregorian algorithm).
func easter(y int) time.Time {
	a := y % 19
	b, c := y/100, y%100
	d, e := b/4, b%4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i, k := c/4, c%4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(y, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
