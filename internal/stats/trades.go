package stats

import "math"

// TradeStats describes the distribution of realized trade results.
type TradeStats struct {
	Total        int     `json:"total"`
	Closing      int     `json:"closing"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	LargestWin   float64 `json:"largest_win"`
	LargestLoss  float64 `json:"largest_loss"`
	Expectancy   float64 `json:"expectancy"`
}

// ComputeTradeStats summarises realized P&L per trade. total counts all
// executed trades; pnls holds the realized result of trades that closed
// quantity.
func ComputeTradeStats(total int, pnls []float64) TradeStats {
	ts := TradeStats{Total: total, Closing: len(pnls)}
	var grossWin, grossLoss float64
	for _, p := range pnls {
		switch {
		case p > 0:
			ts.Wins++
			grossWin += p
			ts.LargestWin = math.Max(ts.LargestWin, p)
		case p < 0:
			ts.Losses++
			grossLoss -= p
			ts.LargestLoss = math.Min(ts.LargestLoss, p)
		}
	}
	if len(pnls) > 0 {
		ts.WinRate = Round(float64(ts.Wins) / float64(len(pnls)))
		ts.Expectancy = Round((grossWin - grossLoss) / float64(len(pnls)))
	}
	if ts.Wins > 0 {
		ts.AvgWin = Round(grossWin / float64(ts.Wins))
	}
	if ts.Losses > 0 {
		ts.AvgLoss = Round(-grossLoss / float64(ts.Losses))
	}
	if grossLoss > 0 {
		ts.ProfitFactor = Round(grossWin / grossLoss)
	}
	ts.LargestWin = Round(ts.LargestWin)
	ts.LargestLoss = Round(ts.LargestLoss)
	return ts
}

// Benchmark compares strategy returns with a benchmark over the same
// periods.
type Benchmark struct {
	Symbol           string  `json:"symbol"`
	Return           float64 `json:"return"`
	ExcessReturn     float64 `json:"excess_return"`
	Alpha            float64 `json:"alpha"`
	Beta             float64 `json:"beta"`
	Correlation      float64 `json:"correlation"`
	InformationRatio float64 `json:"information_ratio"`
}

// Compare aligns the two return series by position; the shorter length
// wins. Alpha is annualised.
func Compare(symbol string, strategy, bench []float64, periodsPerYear float64) Benchmark {
	n := min(len(strategy), len(bench))
	b := Benchmark{Symbol: symbol}
	if n == 0 {
		return b
	}
	s, m := strategy[:n], bench[:n]
	b.Return = Round(compound(m))
	b.ExcessReturn = Round(compound(s) - compound(m))

	ms, mm := Mean(s), Mean(m)
	var cov, vs, vm float64
	diff := make([]float64, n)
	for i := 0; i < n; i++ {
		cov += (s[i] - ms) * (m[i] - mm)
		vs += (s[i] - ms) * (s[i] - ms)
		vm += (m[i] - mm) * (m[i] - mm)
		diff[i] = s[i] - m[i]
	}
	if vm > 0 {
		b.Beta = Round(cov / vm)
	}
	if vs > 0 && vm > 0 {
		b.Correlation = Round(cov / math.Sqrt(vs*vm))
	}
	b.Alpha = Round((ms - b.Beta*mm) * periodsPerYear)
	if sd := SampleStdDev(diff); sd > 0 {
		b.InformationRatio = Round(Mean(diff) / sd * math.Sqrt(periodsPerYear))
	}
	return b
}

func compound(returns []float64) float64 {
	v := 1.0
	for _, r := range returns {
		v *= 1 + r
	}
	return v - 1
}
