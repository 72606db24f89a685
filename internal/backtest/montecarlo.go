package backtest

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// 逐笔路径按交易日粒度年化。
const tradingDaysPerYear = 252

// MonteCarloConfig 控制对成交盈亏做自举重采样的规模与随机种子。
// 同一种子必然给出同一组分位数。
type MonteCarloConfig struct {
	Simulations int   `json:"simulations"` // 默认 1000
	Seed        int64 `json:"seed"`
}

// Percentiles 是一个指标在各分位上的取值。
type Percentiles struct {
	P5  float64 `json:"p5"`
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P95 float64 `json:"p95"`
}

// MonteCarloResult 汇总自举模拟的稳健性画像。
type MonteCarloResult struct {
	Simulations  int         `json:"simulations"`
	TotalReturn  Percentiles `json:"total_return"`
	MaxDrawdown  Percentiles `json:"max_drawdown"`
	Sharpe       Percentiles `json:"sharpe"`
	FinalEquity  Percentiles `json:"final_equity"`
	ProbPositive float64     `json:"prob_positive"`
	ProbDeepDD   float64     `json:"prob_drawdown_over_20pct"`
}

// MonteCarlo 对已平仓成交的盈亏序列做有放回自举：每次模拟重排
// 一条盈亏路径，观察收益与回撤的分布，评估策略对成交顺序的敏感度。
func MonteCarlo(trades []Trade, initialCapital float64, cfg MonteCarloConfig) (*MonteCarloResult, error) {
	if len(trades) == 0 {
		return nil, fmt.Errorf("monte carlo 需要至少一笔已平仓成交")
	}
	if initialCapital <= 0 {
		return nil, fmt.Errorf("initial capital 必须大于 0")
	}
	if cfg.Simulations <= 0 {
		cfg.Simulations = 1000
	}
	pnls := make([]float64, len(trades))
	for i, t := range trades {
		pnls[i] = t.PnL
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	returns := make([]float64, cfg.Simulations)
	drawdowns := make([]float64, cfg.Simulations)
	sharpes := make([]float64, cfg.Simulations)
	finals := make([]float64, cfg.Simulations)
	positive, deepDD := 0, 0

	steps := make([]float64, len(pnls))
	for sim := 0; sim < cfg.Simulations; sim++ {
		equity := initialCapital
		peak := initialCapital
		maxDD := 0.0
		for i := range pnls {
			prev := equity
			equity += pnls[rng.Intn(len(pnls))]
			steps[i] = 0
			if prev > 0 {
				steps[i] = equity/prev - 1
			}
			if equity > peak {
				peak = equity
			}
			if peak > 0 {
				if dd := 1 - equity/peak; dd > maxDD {
					maxDD = dd
				}
			}
		}
		ret := equity/initialCapital - 1
		returns[sim] = ret
		drawdowns[sim] = maxDD
		sharpes[sim] = pathSharpe(steps)
		finals[sim] = equity
		if ret > 0 {
			positive++
		}
		if maxDD > 0.20 {
			deepDD++
		}
	}

	n := float64(cfg.Simulations)
	return &MonteCarloResult{
		Simulations:  cfg.Simulations,
		TotalReturn:  percentiles(returns),
		MaxDrawdown:  percentiles(drawdowns),
		Sharpe:       percentiles(sharpes),
		FinalEquity:  percentiles(finals),
		ProbPositive: float64(positive) / n,
		ProbDeepDD:   float64(deepDD) / n,
	}, nil
}

// pathSharpe 用一条自举路径的逐笔收益算年化夏普。
// 路径太短或逐笔收益无波动时返回 0。
func pathSharpe(steps []float64) float64 {
	if len(steps) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range steps {
		mean += r
	}
	mean /= float64(len(steps))
	variance := 0.0
	for _, r := range steps {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(steps) - 1)
	if variance <= 0 {
		return 0
	}
	return mean / math.Sqrt(variance) * math.Sqrt(tradingDaysPerYear)
}

func percentiles(values []float64) Percentiles {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return Percentiles{
		P5:  quantile(sorted, 0.05),
		P25: quantile(sorted, 0.25),
		P50: quantile(sorted, 0.50),
		P75: quantile(sorted, 0.75),
		P95: quantile(sorted, 0.95),
	}
}

// quantile 对已排序序列做线性插值分位。
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}
