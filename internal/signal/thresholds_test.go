package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseThresholds() Thresholds {
	return Thresholds{Buy: 0.3, BuyConfidenceMin: 0.65, Sell: -0.2}
}

func TestAdaptiveThresholdsNeutralNoChange(t *testing.T) {
	out, adj := AdaptiveThresholds(baseThresholds(), RegimeInput{VIX: 15, Macro: MacroNeutral, Breadth: BreadthNeutral})
	assert.Equal(t, baseThresholds(), out)
	assert.Empty(t, adj)
}

func TestAdaptiveThresholdsPanicRegimeRaisesBar(t *testing.T) {
	out, adj := AdaptiveThresholds(baseThresholds(), RegimeInput{VIX: 45, Macro: MacroRiskOff, Breadth: BreadthPoor})
	// 0.3 + 0.15 + 0.08 + 0.06 = 0.59，夹到 0.55
	assert.InDelta(t, 0.55, out.Buy, 1e-9)
	// 0.65 + 0.10 + 0.05 + 0.04 = 0.84
	assert.InDelta(t, 0.84, out.BuyConfidenceMin, 1e-9)
	assert.Len(t, adj, 3)
}

func TestAdaptiveThresholdsCalmRegimeLoosens(t *testing.T) {
	out, _ := AdaptiveThresholds(baseThresholds(), RegimeInput{VIX: 10, Macro: MacroRiskOn, Breadth: BreadthHealthy})
	// 0.3 − 0.05 − 0.03 − 0.02 = 0.20
	assert.InDelta(t, 0.20, out.Buy, 1e-9)
	assert.InDelta(t, 0.62, out.BuyConfidenceMin, 1e-9)
}

func TestAdaptiveThresholdsClampFloor(t *testing.T) {
	low := Thresholds{Buy: 0.16, BuyConfidenceMin: 0.51, Sell: -0.2}
	out, _ := AdaptiveThresholds(low, RegimeInput{VIX: 10, Macro: MacroRiskOn, Breadth: BreadthHealthy})
	assert.InDelta(t, 0.15, out.Buy, 1e-9)
	assert.InDelta(t, 0.50, out.BuyConfidenceMin, 1e-9)
}

func TestAdaptiveThresholdsZeroVIXSkipped(t *testing.T) {
	out, adj := AdaptiveThresholds(baseThresholds(), RegimeInput{})
	assert.Equal(t, baseThresholds(), out)
	assert.Empty(t, adj)
}
