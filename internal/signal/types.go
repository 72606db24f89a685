package signal

import "time"

// Source 标记观点来源。Combiner 的加权与分歧逻辑对这三类做穷举处理。
type Source string

const (
	SourceTechnical Source = "technical"
	SourceSentiment Source = "sentiment"
	SourceML        Source = "ml"
)

// Sources 按固定顺序列出全部来源。
var Sources = []Source{SourceTechnical, SourceSentiment, SourceML}

// Action 是信号动作。UNAVAILABLE 表示无法评估（没有任何观点），
// 与 HOLD（评估过但不交易）语义不同。
type Action string

const (
	ActionBuy         Action = "BUY"
	ActionSell        Action = "SELL"
	ActionHold        Action = "HOLD"
	ActionUnavailable Action = "UNAVAILABLE"
)

// RiskLevel 粗分一条信号的可信风险档位。
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// ScoredOpinion 是单个来源的打分观点，生成后不可变。
type ScoredOpinion struct {
	Source     Source    `json:"source"`
	Score      float64   `json:"score"`      // [-1,1]
	Confidence float64   `json:"confidence"` // [0,1]
	AsOf       time.Time `json:"as_of"`
}

// Signal 是某资产在某一评估时刻的融合结果，生成后不可变。
type Signal struct {
	Asset          string          `json:"asset"`
	Timestamp      time.Time       `json:"timestamp"`
	CompositeScore float64         `json:"composite_score"` // [-1,1]
	Confidence     float64         `json:"confidence"`      // [0,1]
	Action         Action          `json:"action"`
	RiskLevel      RiskLevel       `json:"risk_level"`
	Components     []ScoredOpinion `json:"components"`
}

// Weights 是来源权重，合法配置下和为 1。
type Weights map[Source]float64

// Thresholds 是动作判定阈值。
type Thresholds struct {
	Buy              float64
	BuyConfidenceMin float64
	Sell             float64
}

// WeightsFromConfig 把配置里的字符串键权重转成类型化权重。
func WeightsFromConfig(m map[string]float64) Weights {
	out := make(Weights, len(m))
	for k, v := range m {
		out[Source(k)] = v
	}
	return out
}
