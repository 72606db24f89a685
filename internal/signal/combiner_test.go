package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testWeights = Weights{
		SourceTechnical: 0.35,
		SourceSentiment: 0.25,
		SourceML:        0.40,
	}
	testThresholds = Thresholds{Buy: 0.3, BuyConfidenceMin: 0.65, Sell: -0.2}
	testTime       = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
)

func opinion(src Source, score, conf float64) ScoredOpinion {
	return ScoredOpinion{Source: src, Score: score, Confidence: conf, AsOf: testTime}
}

func TestCombineAllSourcesAgreeBuy(t *testing.T) {
	sig := Combine("AAPL", testTime, []ScoredOpinion{
		opinion(SourceTechnical, 0.5, 0.8),
		opinion(SourceSentiment, 0.2, 0.6),
		opinion(SourceML, 0.6, 0.9),
	}, testWeights, testThresholds)

	assert.InDelta(t, 0.465, sig.CompositeScore, 1e-9)
	assert.InDelta(t, 0.79, sig.Confidence, 1e-9)
	assert.Equal(t, ActionBuy, sig.Action)
	assert.Len(t, sig.Components, 3)
}

func TestCombineMissingSourceRedistributesWeight(t *testing.T) {
	// sentiment 缺失：0.35/0.40 归一为 0.4667/0.5333
	sig := Combine("AAPL", testTime, []ScoredOpinion{
		opinion(SourceTechnical, 0.6, 0.8),
		opinion(SourceML, 0.6, 0.8),
	}, testWeights, testThresholds)

	assert.InDelta(t, 0.6, sig.CompositeScore, 1e-9)
	assert.InDelta(t, 0.8, sig.Confidence, 1e-9)
	assert.Equal(t, ActionBuy, sig.Action)
}

func TestCombineDisagreementPenalty(t *testing.T) {
	// technical 与 ml 看多（0.75 权重），sentiment 看空（0.25 权重）
	sig := Combine("AAPL", testTime, []ScoredOpinion{
		opinion(SourceTechnical, 0.6, 0.8),
		opinion(SourceSentiment, -0.4, 0.8),
		opinion(SourceML, 0.6, 0.8),
	}, testWeights, testThresholds)

	assert.InDelta(t, 0.8*(1-0.25), sig.Confidence, 1e-9)
	assert.InDelta(t, 0.35*0.6+0.25*-0.4+0.40*0.6, sig.CompositeScore, 1e-9)
}

func TestCombineNoOpinionsUnavailable(t *testing.T) {
	sig := Combine("AAPL", testTime, nil, testWeights, testThresholds)
	assert.Equal(t, ActionUnavailable, sig.Action)
	assert.Zero(t, sig.CompositeScore)
	assert.Zero(t, sig.Confidence)
}

func TestCombineBuyNeedsConfidence(t *testing.T) {
	// 分数过线但置信度不足：HOLD 而非 BUY
	sig := Combine("AAPL", testTime, []ScoredOpinion{
		opinion(SourceTechnical, 0.8, 0.4),
	}, testWeights, testThresholds)
	assert.GreaterOrEqual(t, sig.CompositeScore, testThresholds.Buy)
	assert.Equal(t, ActionHold, sig.Action)
}

func TestCombineSellHasNoConfidenceGate(t *testing.T) {
	sig := Combine("AAPL", testTime, []ScoredOpinion{
		opinion(SourceTechnical, -0.5, 0.1),
	}, testWeights, testThresholds)
	assert.Equal(t, ActionSell, sig.Action)
}

func TestCombineDuplicateSourceKeepsFirst(t *testing.T) {
	sig := Combine("AAPL", testTime, []ScoredOpinion{
		opinion(SourceTechnical, 0.9, 0.9),
		opinion(SourceTechnical, -0.9, 0.9),
	}, testWeights, testThresholds)
	require.Len(t, sig.Components, 1)
	assert.InDelta(t, 0.9, sig.CompositeScore, 1e-9)
}

func TestCombineUnknownSourceIgnored(t *testing.T) {
	sig := Combine("AAPL", testTime, []ScoredOpinion{
		{Source: Source("astrology"), Score: 0.9, Confidence: 0.9, AsOf: testTime},
	}, testWeights, testThresholds)
	assert.Equal(t, ActionUnavailable, sig.Action)
}

func TestCombineCompositeClamped(t *testing.T) {
	sig := Combine("AAPL", testTime, []ScoredOpinion{
		opinion(SourceTechnical, 1, 1),
		opinion(SourceSentiment, 1, 1),
		opinion(SourceML, 1, 1),
	}, testWeights, testThresholds)
	assert.LessOrEqual(t, sig.CompositeScore, 1.0)
	assert.LessOrEqual(t, sig.Confidence, 1.0)
}

func TestCombineDeterministic(t *testing.T) {
	ops := []ScoredOpinion{
		opinion(SourceTechnical, 0.42, 0.7),
		opinion(SourceSentiment, -0.1, 0.55),
		opinion(SourceML, 0.3, 0.8),
	}
	first := Combine("BTCUSDT", testTime, ops, testWeights, testThresholds)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Combine("BTCUSDT", testTime, ops, testWeights, testThresholds))
	}

	// 观点传入顺序不影响数值结果：累加按固定来源顺序进行
	reordered := []ScoredOpinion{ops[2], ops[0], ops[1]}
	again := Combine("BTCUSDT", testTime, reordered, testWeights, testThresholds)
	assert.Equal(t, first.CompositeScore, again.CompositeScore)
	assert.Equal(t, first.Confidence, again.Confidence)
	assert.Equal(t, first.Action, again.Action)
}

func TestRankOrdersBuyHoldSell(t *testing.T) {
	signals := []Signal{
		{Asset: "A", Action: ActionSell, CompositeScore: -0.9},
		{Asset: "B", Action: ActionBuy, CompositeScore: 0.4},
		{Asset: "C", Action: ActionHold, CompositeScore: 0.1},
		{Asset: "D", Action: ActionBuy, CompositeScore: 0.8},
	}
	ranked := Rank(signals)
	require.Len(t, ranked, 4)
	assert.Equal(t, "D", ranked[0].Asset) // BUY 强者优先
	assert.Equal(t, "B", ranked[1].Asset)
	assert.Equal(t, "C", ranked[2].Asset)
	assert.Equal(t, "A", ranked[3].Asset)
}

func TestResolveRiskLevel(t *testing.T) {
	assert.Equal(t, RiskLow, resolveRiskLevel(0.6, 0.8))
	assert.Equal(t, RiskMedium, resolveRiskLevel(0.4, 0.6))
	assert.Equal(t, RiskHigh, resolveRiskLevel(0.1, 0.3))
}
