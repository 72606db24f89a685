package signal

import "fmt"

// MacroRegime / BreadthRegime 由外部宏观协作方给出。
const (
	MacroRiskOff      = "RISK_OFF"
	MacroCautious     = "CAUTIOUS"
	MacroNeutral      = "NEUTRAL"
	MacroConstructive = "CONSTRUCTIVE"
	MacroRiskOn       = "RISK_ON"

	BreadthPoor    = "POOR"
	BreadthWeak    = "WEAK"
	BreadthNeutral = "NEUTRAL"
	BreadthHealthy = "HEALTHY"
)

// RegimeInput 汇总自适应阈值的市场环境输入；零值字段跳过对应调整。
type RegimeInput struct {
	VIX     float64
	Macro   string
	Breadth string
}

// AdaptiveThresholds 按市场环境调整买卖阈值：恐慌环境抬高 BUY 门槛，
// 平静环境略微放宽。各调整叠加后夹到安全区间。
func AdaptiveThresholds(base Thresholds, in RegimeInput) (Thresholds, []string) {
	buy := base.Buy
	buyConf := base.BuyConfidenceMin
	sell := base.Sell
	var adjustments []string

	if in.VIX > 0 {
		switch {
		case in.VIX > 40:
			buy += 0.15
			buyConf += 0.10
			adjustments = append(adjustments, fmt.Sprintf("VIX %.0f (extreme) +0.15 thresh / +0.10 conf", in.VIX))
		case in.VIX > 30:
			buy += 0.10
			buyConf += 0.07
			adjustments = append(adjustments, fmt.Sprintf("VIX %.0f (high) +0.10 thresh / +0.07 conf", in.VIX))
		case in.VIX > 20:
			buy += 0.05
			buyConf += 0.03
			adjustments = append(adjustments, fmt.Sprintf("VIX %.0f (elevated) +0.05 thresh / +0.03 conf", in.VIX))
		case in.VIX < 12:
			buy -= 0.05
			buyConf -= 0.03
			adjustments = append(adjustments, fmt.Sprintf("VIX %.0f (very calm) -0.05 thresh / -0.03 conf", in.VIX))
		}
	}

	switch in.Macro {
	case MacroRiskOff:
		buy += 0.08
		buyConf += 0.05
		adjustments = append(adjustments, "macro RISK_OFF +0.08 thresh / +0.05 conf")
	case MacroCautious:
		buy += 0.04
		buyConf += 0.02
		adjustments = append(adjustments, "macro CAUTIOUS +0.04 thresh / +0.02 conf")
	case MacroRiskOn:
		buy -= 0.03
		adjustments = append(adjustments, "macro RISK_ON -0.03 thresh")
	case MacroConstructive:
		buy -= 0.01
		adjustments = append(adjustments, "macro CONSTRUCTIVE -0.01 thresh")
	}

	switch in.Breadth {
	case BreadthPoor:
		buy += 0.06
		buyConf += 0.04
		adjustments = append(adjustments, "breadth POOR +0.06 thresh / +0.04 conf")
	case BreadthWeak:
		buy += 0.03
		buyConf += 0.02
		adjustments = append(adjustments, "breadth WEAK +0.03 thresh / +0.02 conf")
	case BreadthHealthy:
		buy -= 0.02
		adjustments = append(adjustments, "breadth HEALTHY -0.02 thresh")
	}

	return Thresholds{
		Buy:              clamp(buy, 0.15, 0.55),
		BuyConfidenceMin: clamp(buyConf, 0.50, 0.85),
		Sell:             clamp(sell, -0.50, -0.10),
	}, adjustments
}
