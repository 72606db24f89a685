package backtest

import (
	"math"

	"kestrel/internal/config"
	"kestrel/internal/portfolio"
)

const millisPerYear = 365.25 * 24 * 3600 * 1000

// ComputeMetrics 由资金曲线与成交记录计算回测指标。
func ComputeMetrics(res *Result, cfg config.BacktestConfig) Metrics {
	m := Metrics{
		Trades: len(res.Trades),
		Orders: len(res.Orders),
	}
	if len(res.Equity) == 0 {
		return m
	}
	initial := cfg.InitialCapital
	final := res.Equity[len(res.Equity)-1].Equity
	m.FinalEquity = final
	if initial > 0 {
		m.TotalReturn = final/initial - 1
	}
	m.CAGR = cagr(res.Equity, initial)
	m.Sharpe = SharpeRatio(equityReturns(res.Equity), cfg.RiskFreeRate, cfg.Annualization)
	m.MaxDrawdown = MaxDrawdown(res.Equity)

	wins := 0
	grossProfit, grossLoss := 0.0, 0.0
	for _, t := range res.Trades {
		if t.PnL > 0 {
			wins++
			grossProfit += t.PnL
		} else if t.PnL < 0 {
			grossLoss += -t.PnL
		}
	}
	// res.Trades 全部是已平仓回合，胜率分母即其长度
	if len(res.Trades) > 0 {
		m.WinRate = float64(wins) / float64(len(res.Trades))
	}
	switch {
	case grossLoss > 0:
		m.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		m.ProfitFactor = math.Inf(1)
	}

	if len(res.Benchmark) > 0 && initial > 0 {
		m.BenchReturn = res.Benchmark[len(res.Benchmark)-1].Equity/initial - 1
		m.BenchDrawdown = MaxDrawdown(res.Benchmark)
	}
	return m
}

// cagr 按日历跨度折算年化复合收益。
func cagr(curve []portfolio.EquityPoint, initial float64) float64 {
	if len(curve) < 2 || initial <= 0 {
		return 0
	}
	final := curve[len(curve)-1].Equity
	span := curve[len(curve)-1].Timestamp.UnixMilli() - curve[0].Timestamp.UnixMilli()
	years := float64(span) / millisPerYear
	if years <= 0 || final <= 0 {
		return 0
	}
	return math.Pow(final/initial, 1/years) - 1
}

// SharpeRatio 对单期收益序列做年化 Sharpe，rf 为年化无风险利率。
func SharpeRatio(returns []float64, riskFree, annualization float64) float64 {
	if len(returns) < 2 || annualization <= 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	perBarRF := riskFree / annualization
	return (mean - perBarRF) / std * math.Sqrt(annualization)
}

// MaxDrawdown 返回相对运行峰值的最大回撤比例（正数）。
func MaxDrawdown(curve []portfolio.EquityPoint) float64 {
	peak, maxDD := 0.0, 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := 1 - p.Equity/peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func equityReturns(curve []portfolio.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, curve[i].Equity/prev-1)
	}
	return out
}
