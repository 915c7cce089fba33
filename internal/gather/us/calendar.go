package us

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/util"
)

// SessionResolver returns the most recent trading day whose session has
// ended at now, as midnight UTC.
type SessionResolver func(now time.Time) (time.Time, error)

// settleDelay leaves room for extended-hours bars to settle after the close.
const settleDelay = 4*time.Hour + 5*time.Minute

// LocalSessions resolves sessions from the built-in NYSE calendar.
func LocalSessions() SessionResolver {
	cal := util.NewTradingCalendar(domain.MarketUS)
	return func(now time.Time) (time.Time, error) {
		return cal.LastClosedSession(now.Add(-settleDelay)), nil
	}
}

// calendarClient is the part of the Alpaca trading client used for sessions.
type calendarClient interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// AlpacaSessions resolves sessions from the Alpaca trading calendar API,
// which also knows about early closes and unscheduled closures.
func AlpacaSessions(apiKey, apiSecret, baseURL string) SessionResolver {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return alpacaSessions(client)
}

func alpacaSessions(client calendarClient) SessionResolver {
	et := util.NewTradingCalendar(domain.MarketUS).Location()
	return func(now time.Time) (time.Time, error) {
		now = now.In(et)
		days, err := client.GetCalendar(alpaca.GetCalendarRequest{
			Start: now.AddDate(0, 0, -7),
			End:   now,
		})
		if err != nil {
			return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
		}

		for i := len(days) - 1; i >= 0; i-- {
			date, err := time.Parse("2006-01-02", days[i].Date)
			if err != nil {
				continue
			}
			closeAt, err := time.ParseInLocation("2006-01-02 15:04", days[i].Date+" "+days[i].Close, et)
			if err != nil {
				continue
			}
			if !now.Before(closeAt.Add(settleDelay)) {
				return date, nil
			}
		}
		return time.Time{}, fmt.Errorf("no finished trading day in calendar")
	}
}
