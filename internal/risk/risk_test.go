package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/internal/config"
	"kestrel/internal/market"
	"kestrel/internal/portfolio"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionPct:  0.15,
		MaxCryptoPct:    0.30,
		DrawdownWarning: 0.08,
		DrawdownHalt:    0.12,
		ATRMultiplier:   2.0,
		ATRPeriod:       14,
		TrailingStopPct: 0.07,
	}
}

func TestStateMachineTransitions(t *testing.T) {
	m := NewManager(testRiskConfig())

	st := m.UpdateEquity(100000)
	assert.Equal(t, ModeNormal, st.Mode)
	assert.Equal(t, 100000.0, st.PeakEquity)

	// 回撤 9%：WARNING
	st = m.UpdateEquity(91000)
	assert.Equal(t, ModeWarning, st.Mode)
	assert.InDelta(t, 0.09, st.CurrentDrawdown, 1e-9)

	// 回撤 13%：HALT
	st = m.UpdateEquity(87000)
	assert.Equal(t, ModeHalt, st.Mode)

	// 回升到 10% 回撤：仍在 HALT（未降回 warning 之下）
	st = m.UpdateEquity(90000)
	assert.Equal(t, ModeHalt, st.Mode)

	// 回升到 5% 回撤：NORMAL
	st = m.UpdateEquity(95000)
	assert.Equal(t, ModeNormal, st.Mode)
}

func TestPeakOnlyRatchetsUp(t *testing.T) {
	m := NewManager(testRiskConfig())
	m.UpdateEquity(100000)
	m.UpdateEquity(120000)
	st := m.UpdateEquity(110000)
	assert.Equal(t, 120000.0, st.PeakEquity)
	assert.InDelta(t, 10000.0/120000.0, st.CurrentDrawdown, 1e-9)
}

func TestHaltRejectsBuyButAllowsSell(t *testing.T) {
	m := NewManager(testRiskConfig())
	m.UpdateEquity(100000)
	m.UpdateEquity(87000) // 13% → HALT

	_, ok := m.SizeBuy("AAPL", BuyContext{Price: 100, Equity: 87000, Cash: 87000})
	assert.False(t, ok)
	order, _ := m.SizeBuy("AAPL", BuyContext{Price: 100, Equity: 87000, Cash: 87000})
	assert.Equal(t, ReasonHaltActive, order.Reason)

	sell := m.SellOrder("AAPL", 10, ReasonSignal)
	assert.Equal(t, SideSell, sell.Side)
	assert.Equal(t, 10.0, sell.Quantity)
}

func TestSizeBuyCapsAtMaxPosition(t *testing.T) {
	m := NewManager(testRiskConfig())
	m.UpdateEquity(100000)

	order, ok := m.SizeBuy("AAPL", BuyContext{Price: 100, Equity: 100000, Cash: 100000})
	require.True(t, ok)
	// 15% × 100000 / 100
	assert.InDelta(t, 150.0, order.Quantity, 1e-9)
	assert.Equal(t, ReasonSignal, order.Reason)
}

func TestSizeBuyLimitedByCash(t *testing.T) {
	m := NewManager(testRiskConfig())
	m.UpdateEquity(100000)

	order, ok := m.SizeBuy("AAPL", BuyContext{Price: 100, Equity: 100000, Cash: 5000})
	require.True(t, ok)
	assert.InDelta(t, 50.0, order.Quantity, 1e-9)
}

func TestSizeBuyCryptoHeadroomDownsizes(t *testing.T) {
	m := NewManager(testRiskConfig())
	m.UpdateEquity(100000)

	// 已有 25% 加密敞口，上限 30%：只剩 5% 余量
	order, ok := m.SizeBuy("BTCUSDT", BuyContext{
		Price: 50000, Equity: 100000, Cash: 100000,
		IsCrypto: true, CryptoExposure: 25000,
	})
	require.True(t, ok)
	assert.InDelta(t, 5000.0/50000.0, order.Quantity, 1e-9)
	assert.Equal(t, ReasonCapDownsized, order.Reason)
}

func TestSizeBuyCryptoCapExceededDiscards(t *testing.T) {
	m := NewManager(testRiskConfig())
	m.UpdateEquity(100000)

	order, ok := m.SizeBuy("BTCUSDT", BuyContext{
		Price: 50000, Equity: 100000, Cash: 100000,
		IsCrypto: true, CryptoExposure: 30000,
	})
	assert.False(t, ok)
	assert.Equal(t, ReasonCapExceeded, order.Reason)
	assert.Zero(t, order.Quantity)
}

func TestInitStopsATR(t *testing.T) {
	m := NewManager(testRiskConfig())
	pos := &portfolio.Position{Asset: "AAPL", EntryPrice: 100, Quantity: 10}
	m.InitStops(pos, 3)
	assert.InDelta(t, 94.0, pos.ATRStop, 1e-9) // 100 − 2×3
	assert.Equal(t, 100.0, pos.HighWaterMark)
}

func TestInitStopsFallbackWithoutATR(t *testing.T) {
	m := NewManager(testRiskConfig())
	pos := &portfolio.Position{Asset: "AAPL", EntryPrice: 100, Quantity: 10}
	m.InitStops(pos, 0)
	assert.InDelta(t, 95.0, pos.ATRStop, 1e-9)
}

func TestActiveStopTakesTighter(t *testing.T) {
	m := NewManager(testRiskConfig())
	pos := &portfolio.Position{Asset: "AAPL", EntryPrice: 100, Quantity: 10}
	m.InitStops(pos, 2) // ATR 止损 96，追踪 100×0.93=93
	assert.InDelta(t, 96.0, m.ActiveStop(pos), 1e-9)

	// 高水位抬到 110：追踪 102.3 反超 ATR 止损
	pos.HighWaterMark = 110
	assert.InDelta(t, 102.3, m.ActiveStop(pos), 1e-9)
}

func TestCheckStopTriggersAtStopPrice(t *testing.T) {
	m := NewManager(testRiskConfig())
	pos := &portfolio.Position{Asset: "AAPL", EntryPrice: 100, Quantity: 10}
	m.InitStops(pos, 2)

	stop, triggered := m.CheckStop(pos, market.Candle{Open: 99, High: 100, Low: 95, Close: 98})
	assert.True(t, triggered)
	assert.InDelta(t, 96.0, stop, 1e-9)
}

func TestCheckStopRatchetsHighWaterAfterCheck(t *testing.T) {
	m := NewManager(testRiskConfig())
	pos := &portfolio.Position{Asset: "AAPL", EntryPrice: 100, Quantity: 10}
	m.InitStops(pos, 2)

	_, triggered := m.CheckStop(pos, market.Candle{Open: 100, High: 112, Low: 99, Close: 110})
	assert.False(t, triggered)
	assert.Equal(t, 110.0, pos.HighWaterMark)

	// 高水位只增不减
	_, triggered = m.CheckStop(pos, market.Candle{Open: 110, High: 110, Low: 105, Close: 106})
	assert.False(t, triggered)
	assert.Equal(t, 110.0, pos.HighWaterMark)
}
