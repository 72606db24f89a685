package optimizer

import (
	"sort"

	"github.com/shopspring/decimal"
)

// TradeSuggestion 是一笔再平衡建议，金额为目标权重与当前权重
// 差值对应的名义价值。
type TradeSuggestion struct {
	Asset     string          `json:"asset"`
	Side      string          `json:"side"` // BUY / SELL
	Delta     float64         `json:"delta"`
	Notional  decimal.Decimal `json:"notional"`
	CurWeight float64         `json:"current_weight"`
	TgtWeight float64         `json:"target_weight"`
}

// SuggestRebalance 对比当前权重与目标权重，给出偏差超过
// minTradePct 的调仓建议，按偏差绝对值降序。
func SuggestRebalance(current, target map[string]float64, equity, minTradePct float64) []TradeSuggestion {
	assets := make(map[string]struct{}, len(current)+len(target))
	for a := range current {
		assets[a] = struct{}{}
	}
	for a := range target {
		assets[a] = struct{}{}
	}
	var out []TradeSuggestion
	for a := range assets {
		delta := target[a] - current[a]
		// 严格超过阈值才建议调仓，恰好等于不触发
		if delta <= minTradePct && delta >= -minTradePct {
			continue
		}
		side := "BUY"
		if delta < 0 {
			side = "SELL"
		}
		abs := delta
		if abs < 0 {
			abs = -abs
		}
		out = append(out, TradeSuggestion{
			Asset:     a,
			Side:      side,
			Delta:     delta,
			Notional:  decimal.NewFromFloat(abs * equity).Round(2),
			CurWeight: current[a],
			TgtWeight: target[a],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].Delta, out[j].Delta
		if ai < 0 {
			ai = -ai
		}
		if aj < 0 {
			aj = -aj
		}
		if ai != aj {
			return ai > aj
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}
