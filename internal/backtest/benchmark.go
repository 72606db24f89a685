package backtest

import (
	"sort"
	"time"

	"kestrel/internal/market"
	"kestrel/internal/portfolio"
)

// EqualWeightBenchmark 构造等权买入持有基准：初始资金均分到各
// 资产，在各自第一根可用 K 线收盘价买入，之后不再调仓。某资产
// 尚未开盘时对应份额以现金计。
func EqualWeightBenchmark(assets []string, candles map[string][]market.Candle, initial float64, timestamps []int64) []portfolio.EquityPoint {
	if len(assets) == 0 || len(timestamps) == 0 || initial <= 0 {
		return nil
	}
	sorted := make([]string, len(assets))
	copy(sorted, assets)
	sort.Strings(sorted)

	allocation := initial / float64(len(sorted))
	quantity := make(map[string]float64, len(sorted))
	lastPrice := make(map[string]float64, len(sorted))
	cursor := make(map[string]int, len(sorted))
	cash := initial

	curve := make([]portfolio.EquityPoint, 0, len(timestamps))
	for _, ts := range timestamps {
		for _, asset := range sorted {
			series := candles[asset]
			i := cursor[asset]
			for i < len(series) && series[i].OpenTime <= ts {
				lastPrice[asset] = series[i].Close
				i++
			}
			cursor[asset] = i
			if _, held := quantity[asset]; !held {
				if price := lastPrice[asset]; price > 0 {
					quantity[asset] = allocation / price
					cash -= allocation
				}
			}
		}
		equity := cash
		for _, asset := range sorted {
			equity += quantity[asset] * lastPrice[asset]
		}
		curve = append(curve, portfolio.EquityPoint{Timestamp: time.UnixMilli(ts), Equity: equity})
	}
	return curve
}
