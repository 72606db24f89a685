package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"kestrel/internal/config"
	"kestrel/internal/portfolio"
)

func curveOf(equities ...float64) []portfolio.EquityPoint {
	out := make([]portfolio.EquityPoint, len(equities))
	for i, e := range equities {
		out[i] = portfolio.EquityPoint{Timestamp: time.UnixMilli(int64(i) * dayMillis), Equity: e}
	}
	return out
}

func TestSharpeRatio(t *testing.T) {
	// 均值 0.02，样本标准差 √0.0002
	got := SharpeRatio([]float64{0.01, 0.03}, 0, 252)
	want := 0.02 / math.Sqrt(0.0002) * math.Sqrt(252)
	assert.InDelta(t, want, got, 1e-9)

	// 无风险利率抬高基准，Sharpe 变小
	withRF := SharpeRatio([]float64{0.01, 0.03}, 0.04, 252)
	assert.Less(t, withRF, got)

	// 方差为零或样本不足返回 0
	assert.Zero(t, SharpeRatio([]float64{0.01, 0.01, 0.01}, 0, 252))
	assert.Zero(t, SharpeRatio([]float64{0.01}, 0, 252))
	assert.Zero(t, SharpeRatio(nil, 0, 252))
}

func TestMaxDrawdown(t *testing.T) {
	dd := MaxDrawdown(curveOf(100, 120, 90, 110, 80))
	assert.InDelta(t, 1.0/3, dd, 1e-12) // 峰值 120 → 谷底 80

	assert.Zero(t, MaxDrawdown(curveOf(100, 110, 120)))
	assert.Zero(t, MaxDrawdown(nil))
}

func TestCAGRUsesCalendarSpan(t *testing.T) {
	twoYears := int64(2 * millisPerYear)
	curve := []portfolio.EquityPoint{
		{Timestamp: time.UnixMilli(0), Equity: 10000},
		{Timestamp: time.UnixMilli(twoYears), Equity: 12100},
	}
	assert.InDelta(t, 0.10, cagr(curve, 10000), 1e-9)

	assert.Zero(t, cagr(curve[:1], 10000))
	assert.Zero(t, cagr(curve, 0))
}

func TestComputeMetricsTradeStats(t *testing.T) {
	res := &Result{
		Equity: curveOf(10000, 10100),
		Trades: []Trade{
			{PnL: 100},
			{PnL: 50},
			{PnL: -50},
		},
		Orders:    make([]Order, 6),
		Benchmark: curveOf(10000, 10500),
	}
	cfg := config.Default().Backtest
	cfg.InitialCapital = 10000

	m := ComputeMetrics(res, cfg)
	assert.InDelta(t, 0.01, m.TotalReturn, 1e-12)
	assert.InDelta(t, 10100, m.FinalEquity, 1e-9)
	assert.Equal(t, 3, m.Trades)
	assert.Equal(t, 6, m.Orders)
	assert.InDelta(t, 2.0/3, m.WinRate, 1e-12)
	assert.InDelta(t, 3.0, m.ProfitFactor, 1e-12) // 150 / 50
	assert.InDelta(t, 0.05, m.BenchReturn, 1e-12)
}

func TestComputeMetricsWinRateCountsFlatTrades(t *testing.T) {
	// 盈亏为零的回合计入分母，不计入胜场
	res := &Result{
		Equity: curveOf(10000, 10005),
		Trades: []Trade{{PnL: 10}, {PnL: 0}, {PnL: 0}, {PnL: -5}},
	}
	cfg := config.Default().Backtest
	cfg.InitialCapital = 10000

	m := ComputeMetrics(res, cfg)
	assert.InDelta(t, 0.25, m.WinRate, 1e-12)
}

func TestComputeMetricsProfitFactorNoLosses(t *testing.T) {
	res := &Result{
		Equity: curveOf(10000, 10200),
		Trades: []Trade{{PnL: 100}, {PnL: 100}},
	}
	m := ComputeMetrics(res, config.Default().Backtest)
	assert.True(t, math.IsInf(m.ProfitFactor, 1))
	assert.InDelta(t, 1.0, m.WinRate, 1e-12)
}

func TestComputeMetricsEmptyResult(t *testing.T) {
	m := ComputeMetrics(&Result{}, config.Default().Backtest)
	assert.Zero(t, m.FinalEquity)
	assert.Zero(t, m.TotalReturn)
	assert.Zero(t, m.Trades)
}
