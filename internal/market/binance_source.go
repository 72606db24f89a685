package market

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"kestrel/internal/logger"
)

const maxKlineLimit = 1500

// SyncRequest 描述一次历史 K 线补齐。
type SyncRequest struct {
	Symbol    string
	Timeframe string
	Start     int64
	End       int64
}

// BinanceSource 基于 go-binance SDK 分页拉取历史 K 线。
// 只在回测开始前物化数据，仿真过程中从不访问。
type BinanceSource struct {
	client *futures.Client
}

func NewBinanceSource(baseURL string) *BinanceSource {
	client := futures.NewClient("", "")
	if strings.TrimSpace(baseURL) != "" {
		client.BaseURL = strings.TrimSpace(baseURL)
	}
	return &BinanceSource{client: client}
}

func (b *BinanceSource) Name() string { return "binance" }

// Fetch 拉取一页历史 K 线（最多 1500 根）。
func (b *BinanceSource) Fetch(ctx context.Context, req SyncRequest) ([]Candle, error) {
	if req.Symbol == "" || req.Timeframe == "" {
		return nil, fmt.Errorf("symbol/timeframe 不能为空")
	}
	// 交易所要求无斜杠写法（BTC/USDT → BTCUSDT）
	cleanSymbol := strings.ReplaceAll(strings.ToUpper(req.Symbol), "/", "")
	svc := b.client.NewKlinesService().
		Symbol(cleanSymbol).
		Interval(strings.ToLower(req.Timeframe)).
		Limit(maxKlineLimit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	return out, nil
}

// Sync 分页拉取 start~end 的全部 K 线并写入 store。
func (b *BinanceSource) Sync(ctx context.Context, store *Store, req SyncRequest) (int, error) {
	if store == nil {
		return 0, fmt.Errorf("store 不能为空")
	}
	total := 0
	cursor := req.Start
	for cursor < req.End {
		page, err := b.Fetch(ctx, SyncRequest{
			Symbol:    req.Symbol,
			Timeframe: req.Timeframe,
			Start:     cursor,
			End:       req.End,
		})
		if err != nil {
			return total, err
		}
		if len(page) == 0 {
			break
		}
		n, err := store.InsertCandles(ctx, req.Symbol, req.Timeframe, page)
		if err != nil {
			return total, err
		}
		total += n
		last := page[len(page)-1].OpenTime
		if last <= cursor {
			break
		}
		cursor = last + 1
		logger.Debugf("[sync] %s %s 已写入 %d 根，游标 %s",
			req.Symbol, req.Timeframe, total, time.UnixMilli(cursor).Format(time.RFC3339))
	}
	return total, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
