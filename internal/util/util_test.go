package util

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"stockanalyzer/internal/domain"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryPermanent(t *testing.T) {
	sentinel := errors.New("bad request")
	attempts := 0
	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 3, time.Hour, func() error { return errors.New("fail") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewBurstRateLimiter(1, 2)
	if !rl.Allow() || !rl.Allow() {
		t.Fatal("burst of 2 should allow two immediate calls")
	}
	if rl.Allow() {
		t.Error("third call should be limited")
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(1)
	rl.Allow()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Error("Wait should fail once the context expires")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWriterLoggerText(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriterLogger(&buf, "warn", "text")
	log.Info("hidden")
	log.Warn("shown", "k", 1)
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "msg=shown") {
		t.Errorf("log output = %q", out)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	tracer, shutdown, err := InitTracing(TracingConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, span := tracer.Start(context.Background(), "noop")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Error(err)
	}
}

func TestInitTracingStdout(t *testing.T) {
	var buf bytes.Buffer
	tracer, shutdown, err := InitTracing(TracingConfig{Enabled: true, ServiceName: "test"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	_, span := tracer.Start(context.Background(), "backtest.run")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "backtest.run") {
		t.Errorf("exported spans missing name: %q", buf.String())
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestUSHolidays(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketUS)
	closed := []time.Time{
		day(2024, 1, 1),   // New Year
		day(2024, 1, 15),  // MLK
		day(2024, 2, 19),  // Presidents
		day(2024, 3, 29),  // Good Friday
		day(2024, 5, 27),  // Memorial
		day(2024, 6, 19),  // Juneteenth
		day(2024, 7, 4),   // Independence
		day(2024, 9, 2),   // Labor
		day(2024, 11, 28), // Thanksgiving
		day(2024, 12, 25), // Christmas
		day(2021, 12, 24), // Christmas observed
		day(2024, 1, 6),   // Saturday
	}
	for _, d := range closed {
		if cal.IsTradingDay(d) {
			t.Errorf("%s should be closed", d.Format("2006-01-02"))
		}
	}
	for _, d := range []time.Time{day(2024, 1, 2), day(2024, 3, 28), day(2021, 6, 18), day(2021, 12, 31)} {
		if !cal.IsTradingDay(d) {
			t.Errorf("%s should be open", d.Format("2006-01-02"))
		}
	}
}

func TestTradingDays(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketUS)
	days := cal.TradingDays(day(2024, 1, 1), day(2024, 1, 7))
	if len(days) != 4 {
		t.Fatalf("got %d days, want 4: %v", len(days), days)
	}
	if !days[0].Equal(day(2024, 1, 2)) {
		t.Errorf("first day = %v", days[0])
	}

	crypto := NewTradingCalendar(domain.MarketCrypto)
	if n := len(crypto.TradingDays(day(2024, 1, 1), day(2024, 1, 7))); n != 7 {
		t.Errorf("crypto days = %d, want 7", n)
	}
}

func TestSessionDate(t *testing.T) {
	us := NewTradingCalendar(domain.MarketUS)
	stamped := time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC) // midnight New York
	if got := us.SessionDate(stamped); !got.Equal(day(2024, 1, 2)) {
		t.Errorf("US SessionDate = %v", got)
	}
	cn := NewTradingCalendar(domain.MarketCN)
	stamped = time.Date(2024, 1, 1, 16, 0, 0, 0, time.UTC) // midnight Shanghai
	if got := cn.SessionDate(stamped); !got.Equal(day(2024, 1, 2)) {
		t.Errorf("CN SessionDate = %v", got)
	}
}

func TestIsMarketOpen(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketUS)
	ny := cal.Location()
	if !cal.IsMarketOpen(time.Date(2024, 1, 2, 10, 0, 0, 0, ny)) {
		t.Error("10:00 on a weekday should be open")
	}
	if cal.IsMarketOpen(time.Date(2024, 1, 2, 16, 0, 0, 0, ny)) {
		t.Error("16:00 is the close")
	}
	next := cal.NextOpen(time.Date(2024, 1, 5, 17, 0, 0, 0, ny))
	if want := time.Date(2024, 1, 8, 9, 30, 0, 0, ny); !next.Equal(want) {
		t.Errorf("NextOpen = %v, want %v", next, want)
	}
}

func TestLastClosedSession(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketUS)
	ny := cal.Location()
	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2024, 1, 5, 17, 0, 0, 0, ny), day(2024, 1, 5)},
		{time.Date(2024, 1, 5, 10, 0, 0, 0, ny), day(2024, 1, 4)},
		{time.Date(2024, 1, 15, 18, 0, 0, 0, ny), day(2024, 1, 12)}, // MLK day
		{time.Date(2024, 1, 7, 12, 0, 0, 0, ny), day(2024, 1, 5)},
	}
	for _, c := range cases {
		if got := cal.LastClosedSession(c.now); !got.Equal(c.want) {
			t.Errorf("LastClosedSession(%v) = %v, want %v", c.now, got, c.want)
		}
	}
}
