package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"kestrel/internal/config"
	"kestrel/internal/indicator"
	"kestrel/internal/logger"
	"kestrel/internal/market"
	"kestrel/internal/portfolio"
	"kestrel/internal/risk"
	"kestrel/internal/signal"
)

// Engine 是事件驱动的回测内核。单线程逐根 K 线推进，资产按固定
// 字典序遍历，全程不做任何 IO：同样的输入字节必然得到同样的输出
// 字节。并发跑多个 Engine 实例互不影响。
type Engine struct {
	cfg       *config.Config
	assets    []string
	candles   map[string][]market.Candle
	providers map[signal.Source]signal.OpinionProvider
	isCrypto  func(string) bool
	params    indicator.Params

	// tradeFrom 之前的 K 线只作为指标历史，不产生信号与资金曲线。
	// 走样外验证用它把交易限制在检验窗口内。
	tradeFrom int64
}

// Result 是一次回测的全部产出。
type Result struct {
	Orders    []Order
	Trades    []Trade
	Equity    []portfolio.EquityPoint
	Snapshots []Snapshot
	Benchmark []portfolio.EquityPoint
	Metrics   Metrics
	FinalRisk risk.State
}

// NewEngine 构造回测内核。任何资产价格序列为空视为致命错误，
// 在此一次性返回。
func NewEngine(cfg *config.Config, candles map[string][]market.Candle, providers map[signal.Source]signal.OpinionProvider, isCrypto func(string) bool) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine 需要配置")
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("engine 需要至少一个资产的价格序列")
	}
	assets := make([]string, 0, len(candles))
	for asset, cs := range candles {
		if len(cs) == 0 {
			return nil, fmt.Errorf("资产 %s 价格序列为空", asset)
		}
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	if isCrypto == nil {
		isCrypto = func(string) bool { return false }
	}
	if providers == nil {
		providers = map[signal.Source]signal.OpinionProvider{}
	}
	return &Engine{
		cfg:       cfg,
		assets:    assets,
		candles:   candles,
		providers: providers,
		isCrypto:  isCrypto,
		params:    indicator.DefaultParams(),
	}, nil
}

// SetTradeWindow 限定只在 from（含）之后产生信号与资金曲线。
func (e *Engine) SetTradeWindow(from int64) { e.tradeFrom = from }

// Run 执行回测。ctx 取消时中止并丢弃整次运行，不产出部分结果。
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	timestamps := e.unionTimestamps()
	if len(timestamps) == 0 {
		return nil, fmt.Errorf("没有可用 K 线")
	}
	warmup := e.cfg.Backtest.WarmupBars
	pf, err := portfolio.New(e.cfg.Backtest.InitialCapital)
	if err != nil {
		return nil, err
	}
	rm := risk.NewManager(e.cfg.Risk)
	weights := signal.WeightsFromConfig(e.cfg.Signal.Weights)
	thresholds := signal.Thresholds{
		Buy:              e.cfg.Signal.BuyThreshold,
		BuyConfidenceMin: e.cfg.Signal.BuyConfidenceMin,
		Sell:             e.cfg.Signal.SellThreshold,
	}

	res := &Result{}
	cursor := make(map[string]int, len(e.assets)) // 每资产下一根待消费的下标
	var lastTS int64

	for _, ts := range timestamps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// 本根有 K 线的资产及其历史下标
		bars := make(map[string]market.Candle, len(e.assets))
		barIdx := make(map[string]int, len(e.assets))
		for _, asset := range e.assets {
			i := cursor[asset]
			series := e.candles[asset]
			if i < len(series) && series[i].OpenTime == ts {
				bars[asset] = series[i]
				barIdx[asset] = i
				cursor[asset] = i + 1
			}
		}
		if len(bars) == 0 {
			continue
		}
		if e.tradeFrom > 0 && ts < e.tradeFrom {
			continue
		}
		lastTS = ts

		// 1. 以上一根收盘标记的权益更新风控状态
		state := rm.UpdateEquity(pf.Equity())

		// 2. 止损检查：最低价触及即按止损价成交
		for _, asset := range e.assets {
			bar, ok := bars[asset]
			if !ok {
				continue
			}
			pos := pf.Position(asset)
			if pos == nil {
				continue
			}
			if stopPrice, triggered := rm.CheckStop(pos, bar); triggered {
				e.fillSell(res, pf, rm, asset, stopPrice, ts, risk.ReasonStopLoss)
			}
		}

		// 3+4. 信号生成（仅用 t−1 及更早的数据）与订单处理
		for _, asset := range e.assets {
			bar, ok := bars[asset]
			if !ok {
				continue
			}
			hist := e.candles[asset][:barIdx[asset]]
			if len(hist) < warmup {
				continue
			}
			sig := e.evaluate(asset, hist, weights, thresholds)
			switch sig.Action {
			case signal.ActionSell:
				if pf.Position(asset) != nil {
					e.fillSell(res, pf, rm, asset, bar.Close, ts, risk.ReasonSignal)
				}
			case signal.ActionBuy:
				if pf.Position(asset) != nil {
					continue
				}
				order, ok := rm.SizeBuy(asset, risk.BuyContext{
					Price:          bar.Close,
					Equity:         pf.Equity(),
					Cash:           pf.Cash,
					IsCrypto:       e.isCrypto(asset),
					CryptoExposure: e.cryptoExposure(pf),
				})
				if !ok {
					if order.Reason == risk.ReasonHaltActive {
						logger.Debugf("[backtest] %s 买单被 HALT 拒绝", asset)
					}
					continue
				}
				atr := indicator.ATR(hist, e.cfg.Risk.ATRPeriod)
				e.fillBuy(res, pf, rm, order, bar.Close, ts, atr)
			}
		}

		// 5 已在上面随订单完成成交；6. 标记最新价并记录资金曲线
		for _, asset := range e.assets {
			if bar, ok := bars[asset]; ok {
				if pos := pf.Position(asset); pos != nil {
					pos.LastPrice = bar.Close
				}
			}
		}
		equity := pf.Equity()
		pf.AppendEquity(time.UnixMilli(ts), equity)
		drawdown := 0.0
		if peak := rm.State().PeakEquity; peak > 0 && equity < peak {
			drawdown = 1 - equity/peak
		}
		res.Snapshots = append(res.Snapshots, Snapshot{
			TS:       ts,
			Equity:   equity,
			Cash:     pf.Cash,
			Drawdown: drawdown,
			RiskMode: string(state.Mode),
		})
	}

	// 收尾：以最后已知价平掉全部持仓
	for _, asset := range pf.Assets() {
		pos := pf.Position(asset)
		price := pos.LastPrice
		if price <= 0 {
			price = pos.EntryPrice
		}
		e.fillSell(res, pf, rm, asset, price, lastTS, risk.ReasonFinalClose)
	}
	if len(res.Snapshots) > 0 {
		res.Snapshots[len(res.Snapshots)-1].Equity = pf.Equity()
		res.Snapshots[len(res.Snapshots)-1].Cash = pf.Cash
		pf.EquityHistory[len(pf.EquityHistory)-1].Equity = pf.Equity()
	}

	res.Equity = pf.EquityHistory
	res.Benchmark = EqualWeightBenchmark(e.assets, e.candles, e.cfg.Backtest.InitialCapital, e.windowTimestamps(timestamps))
	res.Metrics = ComputeMetrics(res, e.cfg.Backtest)
	res.FinalRisk = rm.State()
	return res, nil
}

// evaluate 收集三路观点并融合。协作方观点以上一根收盘时刻为准，
// 保证引擎从不读当根及未来数据。
func (e *Engine) evaluate(asset string, hist []market.Candle, weights signal.Weights, th signal.Thresholds) signal.Signal {
	prevClose := time.UnixMilli(hist[len(hist)-1].CloseTime)
	var opinions []signal.ScoredOpinion
	if op, ok := indicator.TechnicalOpinion(hist, prevClose, e.params); ok {
		opinions = append(opinions, op)
	}
	for _, src := range signal.Sources {
		if src == signal.SourceTechnical {
			continue
		}
		provider, ok := e.providers[src]
		if !ok {
			continue
		}
		if op, ok := provider.Opinion(asset, prevClose); ok {
			opinions = append(opinions, op)
		}
	}
	return signal.Combine(asset, prevClose, opinions, weights, th)
}

func (e *Engine) fillBuy(res *Result, pf *portfolio.Portfolio, rm *risk.Manager, order risk.Order, price float64, ts int64, atr float64) {
	notional := order.Quantity * price
	fee := e.cfg.Backtest.Commission.Fee(notional)
	if notional+fee > pf.Cash {
		// 现金受限：按佣金模型反解可成交名义金额，flat 费用先行扣除
		budget := e.cfg.Backtest.Commission.MaxNotional(pf.Cash)
		if budget <= 0 {
			return
		}
		order.Quantity = budget / price
		notional = order.Quantity * price
		fee = e.cfg.Backtest.Commission.Fee(notional)
	}
	if order.Quantity <= 0 {
		return
	}
	pos := &portfolio.Position{
		Asset:      order.Asset,
		Quantity:   order.Quantity,
		EntryPrice: price,
		EntryTime:  time.UnixMilli(ts),
		LastPrice:  price,
	}
	rm.InitStops(pos, atr)
	if err := pf.Open(pos); err != nil {
		logger.Warnf("[backtest] 开仓失败 %s: %v", order.Asset, err)
		return
	}
	pf.Cash -= notional + fee
	if pf.Cash < 0 {
		pf.Cash = 0 // 现金受限成交的浮点残差
	}
	res.Orders = append(res.Orders, Order{
		Asset:    order.Asset,
		Side:     string(risk.SideBuy),
		Reason:   order.Reason,
		Price:    price,
		Quantity: order.Quantity,
		Notional: notional,
		Fee:      fee,
		TS:       ts,
	})
}

func (e *Engine) fillSell(res *Result, pf *portfolio.Portfolio, rm *risk.Manager, asset string, price float64, ts int64, reason string) {
	pos, ok := pf.Close(asset)
	if !ok {
		return
	}
	order := rm.SellOrder(asset, pos.Quantity, reason)
	notional := order.Quantity * price
	fee := e.cfg.Backtest.Commission.Fee(notional)
	pf.Cash += notional - fee
	res.Orders = append(res.Orders, Order{
		Asset:    asset,
		Side:     string(risk.SideSell),
		Reason:   reason,
		Price:    price,
		Quantity: order.Quantity,
		Notional: notional,
		Fee:      fee,
		TS:       ts,
	})
	pnl := (price-pos.EntryPrice)*pos.Quantity - fee
	pnlPct := 0.0
	if base := pos.EntryPrice * pos.Quantity; base > 0 {
		pnlPct = pnl / base
	}
	res.Trades = append(res.Trades, Trade{
		Asset:      asset,
		EntryTS:    pos.EntryTime.UnixMilli(),
		ExitTS:     ts,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		Quantity:   pos.Quantity,
		PnL:        pnl,
		PnLPct:     pnlPct,
		ExitReason: reason,
	})
}

func (e *Engine) cryptoExposure(pf *portfolio.Portfolio) float64 {
	total := 0.0
	for _, asset := range pf.Assets() {
		if !e.isCrypto(asset) {
			continue
		}
		pos := pf.Position(asset)
		price := pos.LastPrice
		if price <= 0 {
			price = pos.EntryPrice
		}
		total += pos.Quantity * price
	}
	return total
}

// unionTimestamps 返回全部资产开盘时间戳的去重升序并集。
func (e *Engine) unionTimestamps() []int64 {
	seen := make(map[int64]struct{})
	for _, asset := range e.assets {
		for _, c := range e.candles[asset] {
			seen[c.OpenTime] = struct{}{}
		}
	}
	out := make([]int64, 0, len(seen))
	for ts := range seen {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// windowTimestamps 把基准曲线对齐到实际交易窗口。
func (e *Engine) windowTimestamps(all []int64) []int64 {
	if e.tradeFrom <= 0 {
		return all
	}
	idx := sort.Search(len(all), func(i int) bool { return all[i] >= e.tradeFrom })
	return all[idx:]
}
