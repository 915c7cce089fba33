package report

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := fmt.Sprintf("%d", n)
	if len(s) > 3 {
		var b strings.Builder
		start := len(s) % 3
		if start > 0 {
			b.WriteString(s[:start])
		}
		for i := start; i < len(s); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(s[i : i+3])
		}
		s = b.String()
	}
	if neg {
		return "-" + s
	}
	return s
}

// FormatMoney formats a dollar amount as 1,234.56 with a leading minus for
// negative values. Cents round half away from zero on the decimal value.
func FormatMoney(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	whole, frac, _ := strings.Cut(d.Abs().StringFixed(2), ".")
	n, _ := strconv.Atoi(whole)
	s := FormatInt(n) + "." + frac
	if d.IsNegative() {
		return "-" + s
	}
	return s
}

// FormatCompact formats a value with B/M/K suffixes.
func FormatCompact(v float64) string {
	a := math.Abs(v)
	switch {
	case a >= 1e9:
		return fmt.Sprintf("%.1fB", v/1e9)
	case a >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case a >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}

// FormatPct formats a fraction as a signed percentage, "+12.3%".
// Drops the decimal at 100% and above to keep width compact.
func FormatPct(f float64) string {
	pct := f * 100
	sign := "+"
	if pct < 0 {
		sign = "-"
		pct = -pct
	}
	if math.Round(pct*10) == 0 {
		return "0.0%"
	}
	if pct >= 100 {
		return fmt.Sprintf("%s%.0f%%", sign, pct)
	}
	return fmt.Sprintf("%s%.1f%%", sign, pct)
}

// FormatRatio formats Sharpe-style ratios, or "-" when undefined.
func FormatRatio(r float64) string {
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return "-"
	}
	return fmt.Sprintf("%.2f", r)
}

// FormatPrice formats a price value, or "-" for zero.
func FormatPrice(p float64) string {
	if p == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", p)
}

// FormatQty drops the fraction for whole share counts.
func FormatQty(q float64) string {
	if q == math.Trunc(q) {
		return FormatInt(int(q))
	}
	return fmt.Sprintf("%.4f", q)
}
