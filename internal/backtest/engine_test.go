package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/internal/config"
	"kestrel/internal/market"
	"kestrel/internal/portfolio"
	"kestrel/internal/risk"
	"kestrel/internal/signal"
)

const dayMillis = int64(24 * 3600 * 1000)

// flatCandles 生成等间隔日线，价格恒定。
func flatCandles(n int, price float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		ts := int64(i) * dayMillis
		out[i] = market.Candle{
			OpenTime:  ts,
			CloseTime: ts + dayMillis - 1,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    1000,
		}
	}
	return out
}

// alwaysBuy 构造一个对任意时点都给出强烈买入观点的 provider。
func alwaysBuy(src signal.Source, asset string) *signal.StaticOpinions {
	return &signal.StaticOpinions{
		Entries: map[string][]signal.ScoredOpinion{
			asset: {{Source: src, Score: 0.9, Confidence: 0.9, AsOf: time.UnixMilli(0)}},
		},
	}
}

func TestRunFlatPriceNoSignalsKeepsEquityConstant(t *testing.T) {
	cfg := config.Default()
	cfg.Backtest.InitialCapital = 10000
	// 预热门槛高于序列长度，整段都不会产生信号

	candles := map[string][]market.Candle{"SPY": flatCandles(50, 100)}
	engine, err := NewEngine(cfg, candles, nil, nil)
	require.NoError(t, err)

	res, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, res.Orders)
	assert.Empty(t, res.Trades)
	require.Len(t, res.Snapshots, 50)
	for _, s := range res.Snapshots {
		assert.InDelta(t, 10000, s.Equity, 1e-9)
		assert.InDelta(t, 0.0, s.Drawdown, 1e-12)
		assert.Equal(t, "NORMAL", s.RiskMode)
	}
	assert.InDelta(t, 0.0, res.Metrics.TotalReturn, 1e-12)
	assert.InDelta(t, 0.0, res.Metrics.MaxDrawdown, 1e-12)
	assert.InDelta(t, 0.0, res.Metrics.CAGR, 1e-12)
	assert.Equal(t, 0, res.Metrics.Trades)
	assert.InDelta(t, 10000, res.Metrics.FinalEquity, 1e-9)
	assert.InDelta(t, 0.0, res.Metrics.BenchReturn, 1e-12)
}

// stopScenario 构造会先开仓、随后被止损打出的行情：
// 前 40 根恒定 100，第 41 根跳水到 90，之后维持 90。
func stopScenario() map[string][]market.Candle {
	candles := flatCandles(45, 100)
	for i := 40; i < 45; i++ {
		candles[i].Open = 90
		candles[i].High = 90
		candles[i].Low = 90
		candles[i].Close = 90
	}
	return map[string][]market.Candle{"AAPL": candles}
}

func stopScenarioConfig() *config.Config {
	cfg := config.Default()
	cfg.Backtest.InitialCapital = 10000
	cfg.Backtest.WarmupBars = 30
	return cfg
}

func stopScenarioProviders() map[signal.Source]signal.OpinionProvider {
	return map[signal.Source]signal.OpinionProvider{
		signal.SourceSentiment: alwaysBuy(signal.SourceSentiment, "AAPL"),
		signal.SourceML:        alwaysBuy(signal.SourceML, "AAPL"),
	}
}

func TestRunStopLossFillsAtStopPrice(t *testing.T) {
	engine, err := NewEngine(stopScenarioConfig(), stopScenario(), stopScenarioProviders(), nil)
	require.NoError(t, err)

	res, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(res.Orders), 3)

	// 预热结束后的首根 K 线按收盘价开仓，仓位为权益的 15%
	buy := res.Orders[0]
	assert.Equal(t, "BUY", buy.Side)
	assert.InDelta(t, 100.0, buy.Price, 1e-9)
	assert.InDelta(t, 15.0, buy.Quantity, 1e-9)
	assert.Equal(t, int64(30)*dayMillis, buy.TS)

	// 跳水根最低价击穿兜底止损 95，按止损价而非收盘价成交
	stop := res.Orders[1]
	assert.Equal(t, "SELL", stop.Side)
	assert.Equal(t, "STOP_LOSS", stop.Reason)
	assert.InDelta(t, 95.0, stop.Price, 1e-9)
	assert.Equal(t, int64(40)*dayMillis, stop.TS)

	require.GreaterOrEqual(t, len(res.Trades), 1)
	first := res.Trades[0]
	assert.InDelta(t, 100.0, first.EntryPrice, 1e-9)
	assert.InDelta(t, 95.0, first.ExitPrice, 1e-9)
	assert.Equal(t, "STOP_LOSS", first.ExitReason)
	// PnL 含卖出手续费：(95-100)*15 - 95*15*0.001
	assert.InDelta(t, -76.425, first.PnL, 1e-6)

	// 止损后信号仍为 BUY，同根以收盘价重新入场
	reentry := res.Orders[2]
	assert.Equal(t, "BUY", reentry.Side)
	assert.InDelta(t, 90.0, reentry.Price, 1e-9)

	// 收尾强平
	last := res.Orders[len(res.Orders)-1]
	assert.Equal(t, "SELL", last.Side)
	assert.Equal(t, "FINAL_CLOSE", last.Reason)
	assert.Equal(t, int64(44)*dayMillis, last.TS)
}

func TestRunIsDeterministic(t *testing.T) {
	run := func() *Result {
		engine, err := NewEngine(stopScenarioConfig(), stopScenario(), stopScenarioProviders(), nil)
		require.NoError(t, err)
		res, err := engine.Run(context.Background())
		require.NoError(t, err)
		return res
	}
	a, b := run(), run()
	assert.Equal(t, a.Orders, b.Orders)
	assert.Equal(t, a.Trades, b.Trades)
	assert.Equal(t, a.Snapshots, b.Snapshots)
	assert.Equal(t, a.Metrics, b.Metrics)
}

func TestRunWarmupBlocksEarlySignals(t *testing.T) {
	cfg := stopScenarioConfig()
	candles := stopScenario()
	engine, err := NewEngine(cfg, candles, stopScenarioProviders(), nil)
	require.NoError(t, err)

	res, err := engine.Run(context.Background())
	require.NoError(t, err)
	for _, o := range res.Orders {
		assert.GreaterOrEqual(t, o.TS, int64(cfg.Backtest.WarmupBars)*dayMillis)
	}
}

func TestRunTradeWindowRestrictsActivity(t *testing.T) {
	cfg := stopScenarioConfig()
	engine, err := NewEngine(cfg, stopScenario(), stopScenarioProviders(), nil)
	require.NoError(t, err)
	from := int64(40) * dayMillis
	engine.SetTradeWindow(from)

	res, err := engine.Run(context.Background())
	require.NoError(t, err)
	for _, s := range res.Snapshots {
		assert.GreaterOrEqual(t, s.TS, from)
	}
	for _, o := range res.Orders {
		assert.GreaterOrEqual(t, o.TS, from)
	}
}

func TestRunCancelledContext(t *testing.T) {
	engine, err := NewEngine(stopScenarioConfig(), stopScenario(), nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewEngineValidation(t *testing.T) {
	cfg := config.Default()
	_, err := NewEngine(nil, map[string][]market.Candle{"A": flatCandles(1, 1)}, nil, nil)
	assert.Error(t, err)

	_, err = NewEngine(cfg, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewEngine(cfg, map[string][]market.Candle{"A": nil}, nil, nil)
	assert.Error(t, err)
}

func TestFillBuyFlatFeeNeverOverdrawsCash(t *testing.T) {
	cfg := config.Default()
	cfg.Backtest.Commission = config.CommissionConfig{Model: "flat", Flat: 5}
	engine, err := NewEngine(cfg, map[string][]market.Candle{"A": flatCandles(10, 100)}, nil, nil)
	require.NoError(t, err)

	// 现金不足以按原数量成交：固定费用先扣，再反解数量
	pf, err := portfolio.New(10)
	require.NoError(t, err)
	rm := risk.NewManager(cfg.Risk)
	res := &Result{}
	engine.fillBuy(res, pf, rm, risk.Order{Asset: "A", Side: risk.SideBuy, Quantity: 2, Reason: risk.ReasonSignal}, 3, 0, 0)
	require.Len(t, res.Orders, 1)
	assert.GreaterOrEqual(t, pf.Cash, 0.0)
	assert.InDelta(t, 5.0/3, res.Orders[0].Quantity, 1e-9) // (10-5)/3
	assert.InDelta(t, 0.0, pf.Cash, 1e-9)

	// 现金连固定费用都付不起：整单放弃，不产生负现金
	pf2, err := portfolio.New(4)
	require.NoError(t, err)
	res2 := &Result{}
	engine.fillBuy(res2, pf2, rm, risk.Order{Asset: "A", Side: risk.SideBuy, Quantity: 2, Reason: risk.ReasonSignal}, 3, 0, 0)
	assert.Empty(t, res2.Orders)
	assert.Equal(t, 4.0, pf2.Cash)
}

// wavyCandles 生成带波动的日线，长度足以让技术指标生效。
func wavyCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		ts := int64(i) * dayMillis
		base := 100 + 10*math.Sin(float64(i)/9)
		out[i] = market.Candle{
			OpenTime:  ts,
			CloseTime: ts + dayMillis - 1,
			Open:      base,
			High:      base * 1.01,
			Low:       base * 0.99,
			Close:     base,
			Volume:    1000,
		}
	}
	return out
}

func TestRunDecisionsIgnoreCurrentBar(t *testing.T) {
	// 仅改动第 205 根的收盘/最高价：该根之前的所有决策必须逐字节
	// 一致，该根当步的决策（资产/方向/缘由）也必须一致，只有成交
	// 价允许随收盘价变化。
	const mutated = 205
	base := wavyCandles(210)
	alt := wavyCandles(210)
	alt[mutated].Close *= 20
	alt[mutated].High *= 20

	run := func(series []market.Candle) *Result {
		cfg := config.Default()
		cfg.Backtest.InitialCapital = 10000
		engine, err := NewEngine(cfg, map[string][]market.Candle{"SPY": series}, nil, nil)
		require.NoError(t, err)
		res, err := engine.Run(context.Background())
		require.NoError(t, err)
		return res
	}
	a, b := run(base), run(alt)

	cut := int64(mutated) * dayMillis
	type decision struct {
		Asset, Side, Reason string
		TS                  int64
	}
	split := func(res *Result) (before []Order, at []decision) {
		for _, o := range res.Orders {
			switch {
			case o.TS < cut:
				before = append(before, o)
			case o.TS == cut:
				at = append(at, decision{o.Asset, o.Side, o.Reason, o.TS})
			}
		}
		return before, at
	}
	aBefore, aAt := split(a)
	bBefore, bAt := split(b)
	assert.Equal(t, aBefore, bBefore)
	assert.Equal(t, aAt, bAt)

	for i, sn := range a.Snapshots {
		if sn.TS >= cut {
			break
		}
		assert.Equal(t, sn, b.Snapshots[i])
	}
}
