package signal

import (
	"math"
	"sort"
	"time"
)

// Combine 将多来源观点融合为一条信号。纯函数：同样的输入与配置
// 必然产出同样的结果，可被多个回测实例并发调用。
//
// 缺失来源的权重按比例摊给在场来源；全部缺失时返回 UNAVAILABLE。
// 置信度按"分歧比"折减：与多数派（按权重）符号相反的来源所占的
// 权重比例越大，折减越多；符号全部一致时不折减。
func Combine(asset string, ts time.Time, opinions []ScoredOpinion, weights Weights, th Thresholds) Signal {
	present := make(map[Source]ScoredOpinion, len(Sources))
	var components []ScoredOpinion
	for _, op := range opinions {
		if _, dup := present[op.Source]; dup {
			continue // 每个来源至多一条，后续重复忽略
		}
		if _, known := weights[op.Source]; !known {
			continue
		}
		present[op.Source] = op
		components = append(components, op)
	}

	sig := Signal{
		Asset:      asset,
		Timestamp:  ts,
		Components: components,
		RiskLevel:  RiskHigh,
	}
	if len(present) == 0 {
		sig.Action = ActionUnavailable
		return sig
	}

	// 权重重分配：只保留在场来源，按原比例归一。
	// 所有累加都按 Sources 的固定顺序进行，保证逐位确定。
	presentWeight := 0.0
	for _, src := range Sources {
		if _, ok := present[src]; ok {
			presentWeight += weights[src]
		}
	}
	if presentWeight <= 0 {
		sig.Action = ActionUnavailable
		return sig
	}
	norm := make(map[Source]float64, len(present))
	for _, src := range Sources {
		if _, ok := present[src]; ok {
			norm[src] = weights[src] / presentWeight
		}
	}

	composite := 0.0
	baseConfidence := 0.0
	for _, src := range Sources {
		op, ok := present[src]
		if !ok {
			continue
		}
		composite += norm[src] * op.Score
		baseConfidence += norm[src] * op.Confidence
	}
	composite = clamp(composite, -1, 1)

	confidence := clamp(baseConfidence*(1-disagreementRatio(present, norm)), 0, 1)

	sig.CompositeScore = composite
	sig.Confidence = confidence
	sig.Action = resolveAction(composite, confidence, th)
	sig.RiskLevel = resolveRiskLevel(composite, confidence)
	return sig
}

// disagreementRatio 返回与多数派符号相反的来源权重占比。
// 零分观点不属于任何阵营，不计入对立权重。
func disagreementRatio(present map[Source]ScoredOpinion, norm map[Source]float64) float64 {
	var posWeight, negWeight float64
	for _, src := range Sources {
		op, ok := present[src]
		if !ok {
			continue
		}
		switch {
		case op.Score > 0:
			posWeight += norm[src]
		case op.Score < 0:
			negWeight += norm[src]
		}
	}
	if posWeight == 0 || negWeight == 0 {
		return 0
	}
	return math.Min(posWeight, negWeight)
}

func resolveAction(composite, confidence float64, th Thresholds) Action {
	if composite >= th.Buy && confidence >= th.BuyConfidenceMin {
		return ActionBuy
	}
	if composite <= th.Sell {
		return ActionSell
	}
	return ActionHold
}

func resolveRiskLevel(composite, confidence float64) RiskLevel {
	abs := math.Abs(composite)
	switch {
	case abs > 0.5 && confidence > 0.7:
		return RiskLow
	case abs > 0.3 && confidence > 0.5:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// Rank 把多条信号排序：BUY 优先（按强度降序），其次 HOLD，最后 SELL。
func Rank(signals []Signal) []Signal {
	order := map[Action]int{ActionBuy: 0, ActionHold: 1, ActionUnavailable: 1, ActionSell: 2}
	out := make([]Signal, len(signals))
	copy(out, signals)
	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := order[out[i].Action], order[out[j].Action]
		if oi != oj {
			return oi < oj
		}
		return math.Abs(out[i].CompositeScore) > math.Abs(out[j].CompositeScore)
	})
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
