// Package stats computes performance statistics over equity curves and
// trade results.
package stats

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// TradingDaysPerYear annualises daily statistics.
const TradingDaysPerYear = 252

// Returns converts a value series into simple period returns. Periods whose
// previous value is zero yield a zero return.
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			out[i-1] = values[i]/values[i-1] - 1
		}
	}
	return out
}

func Mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

// SampleStdDev is the n-1 standard deviation.
func SampleStdDev(v []float64) float64 {
	if len(v) < 2 {
		return 0
	}
	m := Mean(v)
	var ss float64
	for _, x := range v {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(v)-1))
}

// Volatility is the annualised standard deviation of returns.
func Volatility(returns []float64, periodsPerYear float64) float64 {
	return SampleStdDev(returns) * math.Sqrt(periodsPerYear)
}

// SharpeRatio returns the annualised Sharpe ratio. riskFree is the annual
// rate and is converted to a per-period rate.
func SharpeRatio(returns []float64, riskFree, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	rf := riskFree / periodsPerYear
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - rf
	}
	sd := SampleStdDev(excess)
	if sd == 0 {
		return 0
	}
	return Mean(excess) / sd * math.Sqrt(periodsPerYear)
}

// SortinoRatio is the Sharpe ratio using downside deviation only.
func SortinoRatio(returns []float64, riskFree, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	rf := riskFree / periodsPerYear
	var downside float64
	for _, r := range returns {
		if d := r - rf; d < 0 {
			downside += d * d
		}
	}
	dd := math.Sqrt(downside / float64(len(returns)))
	if dd == 0 {
		return 0
	}
	return (Mean(returns) - rf) / dd * math.Sqrt(periodsPerYear)
}

// MaxDrawdown returns the largest peak-to-trough decline as a positive
// fraction, with the indices of the peak and trough.
func MaxDrawdown(values []float64) (dd float64, peak, trough int) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	hi, hiIdx := values[0], 0
	for i, v := range values {
		if v > hi {
			hi, hiIdx = v, i
		}
		if hi > 0 {
			if d := (hi - v) / hi; d > dd {
				dd, peak, trough = d, hiIdx, i
			}
		}
	}
	return dd, peak, trough
}

// CAGR is the compound annual growth rate between two values over n periods.
func CAGR(start, end float64, periods int, periodsPerYear float64) float64 {
	if start <= 0 || end <= 0 || periods <= 0 {
		return 0
	}
	return math.Pow(end/start, periodsPerYear/float64(periods)) - 1
}

// Round fixes v to 10 decimal places so serialised summaries are stable
// across platforms. Non-finite values become zero.
func Round(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(10).InexactFloat64()
}

// Summary is the headline performance of a run.
type Summary struct {
	StartDate        time.Time  `json:"start_date"`
	EndDate          time.Time  `json:"end_date"`
	Periods          int        `json:"periods"`
	InitialValue     float64    `json:"initial_value"`
	FinalValue       float64    `json:"final_value"`
	TotalReturn      float64    `json:"total_return"`
	CAGR             float64    `json:"cagr"`
	Volatility       float64    `json:"volatility"`
	SharpeRatio      float64    `json:"sharpe_ratio"`
	SortinoRatio     float64    `json:"sortino_ratio"`
	MaxDrawdown      float64    `json:"max_drawdown"`
	MaxDrawdownStart time.Time  `json:"max_drawdown_start"`
	MaxDrawdownEnd   time.Time  `json:"max_drawdown_end"`
	CalmarRatio      float64    `json:"calmar_ratio"`
	RealizedPnL      float64    `json:"realized_pnl"`
	TotalCommission  float64    `json:"total_commission"`
	TotalSlippage    float64    `json:"total_slippage"`
	Trades           TradeStats `json:"trades"`
}

// Summarize computes the headline statistics from an equity curve. dates
// and values must have equal length.
func Summarize(dates []time.Time, values []float64, initial, riskFree float64) Summary {
	s := Summary{InitialValue: Round(initial), Periods: len(values)}
	if len(values) == 0 {
		s.FinalValue = s.InitialValue
		return s
	}
	s.StartDate, s.EndDate = dates[0], dates[len(dates)-1]
	s.FinalValue = Round(values[len(values)-1])
	if initial > 0 {
		s.TotalReturn = Round(values[len(values)-1]/initial - 1)
	}

	curve := append([]float64{initial}, values...)
	rets := Returns(curve)
	s.CAGR = Round(CAGR(initial, values[len(values)-1], len(values), TradingDaysPerYear))
	s.Volatility = Round(Volatility(rets, TradingDaysPerYear))
	s.SharpeRatio = Round(SharpeRatio(rets, riskFree, TradingDaysPerYear))
	s.SortinoRatio = Round(SortinoRatio(rets, riskFree, TradingDaysPerYear))

	dd, peak, trough := MaxDrawdown(curve)
	s.MaxDrawdown = Round(dd)
	if dd > 0 {
		s.MaxDrawdownStart = dates[max(peak-1, 0)]
		s.MaxDrawdownEnd = dates[trough-1]
		s.CalmarRatio = Round(CAGR(initial, values[len(values)-1], len(values), TradingDaysPerYear) / dd)
	}
	return s
}
