package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"

	"kestrel/internal/config"
	"kestrel/internal/logger"
	"kestrel/internal/market"
	"kestrel/internal/signal"
)

// WalkForwardConfig 控制锚定式走样外验证的切分。
type WalkForwardConfig struct {
	InSampleBars int `json:"in_sample_bars"` // 默认 252
	OOSBars      int `json:"oos_bars"`       // 默认 63
}

// FoldResult 是单折样本外表现。
type FoldResult struct {
	Fold        int     `json:"fold"`
	StartTS     int64   `json:"start_ts"`
	EndTS       int64   `json:"end_ts"`
	TotalReturn float64 `json:"total_return"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
	Trades      int     `json:"trades"`
}

// WalkForwardResult 聚合全部折的样本外指标。
type WalkForwardResult struct {
	Folds         []FoldResult `json:"folds"`
	MeanSharpe    float64      `json:"mean_sharpe"`
	StdSharpe     float64      `json:"std_sharpe"`
	MeanReturn    float64      `json:"mean_return"`
	MeanDrawdown  float64      `json:"mean_drawdown"`
	PositiveFolds int          `json:"positive_folds"`
}

// WalkForward 做锚定切分：第 i 折的样本内窗口从序列起点延伸到
// inSample+i·oos 根，紧随其后的 oos 根为检验窗口。每折独立跑一次
// 引擎，信号只在检验窗口内产生，之前的 K 线仅作指标历史。
func WalkForward(ctx context.Context, cfg *config.Config, candles map[string][]market.Candle, providers map[signal.Source]signal.OpinionProvider, isCrypto func(string) bool, wf WalkForwardConfig) (*WalkForwardResult, error) {
	if wf.InSampleBars <= 0 {
		wf.InSampleBars = 252
	}
	if wf.OOSBars <= 0 {
		wf.OOSBars = 63
	}
	timestamps := unionOpenTimes(candles)
	if len(timestamps) < wf.InSampleBars+wf.OOSBars {
		return nil, fmt.Errorf("K 线不足以切出至少一折（需要 %d 根，实有 %d）", wf.InSampleBars+wf.OOSBars, len(timestamps))
	}

	result := &WalkForwardResult{}
	for fold := 0; ; fold++ {
		oosStart := wf.InSampleBars + fold*wf.OOSBars
		oosEnd := oosStart + wf.OOSBars
		if oosEnd > len(timestamps) {
			break
		}
		startTS := timestamps[oosStart]
		endTS := timestamps[oosEnd-1]
		sliced := sliceCandles(candles, endTS)

		engine, err := NewEngine(cfg, sliced, providers, isCrypto)
		if err != nil {
			return nil, err
		}
		engine.SetTradeWindow(startTS)
		res, err := engine.Run(ctx)
		if err != nil {
			return nil, err
		}
		result.Folds = append(result.Folds, FoldResult{
			Fold:        fold,
			StartTS:     startTS,
			EndTS:       endTS,
			TotalReturn: res.Metrics.TotalReturn,
			Sharpe:      res.Metrics.Sharpe,
			MaxDrawdown: res.Metrics.MaxDrawdown,
			Trades:      res.Metrics.Trades,
		})
	}

	n := float64(len(result.Folds))
	if n == 0 {
		return result, nil
	}
	for _, f := range result.Folds {
		result.MeanSharpe += f.Sharpe
		result.MeanReturn += f.TotalReturn
		result.MeanDrawdown += f.MaxDrawdown
		if f.TotalReturn > 0 {
			result.PositiveFolds++
		}
	}
	result.MeanSharpe /= n
	result.MeanReturn /= n
	result.MeanDrawdown /= n
	variance := 0.0
	for _, f := range result.Folds {
		d := f.Sharpe - result.MeanSharpe
		variance += d * d
	}
	result.StdSharpe = math.Sqrt(variance / n)
	logger.Infof("[walkforward] %d 折完成：平均 Sharpe=%.3f 正收益折数=%d", len(result.Folds), result.MeanSharpe, result.PositiveFolds)
	return result, nil
}

func unionOpenTimes(candles map[string][]market.Candle) []int64 {
	seen := make(map[int64]struct{})
	for _, series := range candles {
		for _, c := range series {
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

func sliceCandles(candles map[string][]market.Candle, endTS int64) map[string][]market.Candle {
	out := make(map[string][]market.Candle, len(candles))
	for asset, series := range candles {
		idx := sort.Search(len(series), func(i int) bool { return series[i].OpenTime > endTS })
		if idx == 0 {
			continue
		}
		out[asset] = series[:idx]
	}
	return out
}
