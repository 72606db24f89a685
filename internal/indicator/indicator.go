package indicator

import (
	"math"
	"time"

	talib "github.com/markcheno/go-talib"

	"kestrel/internal/market"
	"kestrel/internal/signal"
)

// Params 描述技术指标参数，零值字段用默认周期。
type Params struct {
	SMAPeriods  [3]int // 趋势均线：短/中/长
	RSIPeriod   int
	MACDFast    int
	MACDSlow    int
	MACDSignal  int
	BBPeriod    int
	BBStd       float64
	ATRPeriod   int
	StochK      int
	StochD      int
	MinBars     int // 计算所需最少 K 线数
}

func DefaultParams() Params {
	return Params{
		SMAPeriods: [3]int{20, 50, 200},
		RSIPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		BBPeriod:   20,
		BBStd:      2,
		ATRPeriod:  14,
		StochK:     14,
		StochD:     3,
		MinBars:    200,
	}
}

// 子项打分权重（与原始稳健型参数一致）
var subScoreWeights = map[string]float64{
	"rsi":        0.20,
	"macd":       0.25,
	"bollinger":  0.15,
	"ma_trend":   0.25,
	"stochastic": 0.15,
}

// Snapshot 保存最近一根 K 线上的指标值，供打分与持久化。
type Snapshot struct {
	Close     float64
	RSI       float64
	MACD      float64
	MACDSig   float64
	MACDHist  float64
	BBUpper   float64
	BBLower   float64
	BBPct     float64
	SMAShort  float64
	SMAMid    float64
	SMALong   float64
	StochK    float64
	StochD    float64
	ATR       float64
	SubScores map[string]float64
}

// Compute 在序列末端计算全部指标。K 线不足时返回 ok=false。
func Compute(candles []market.Candle, p Params) (Snapshot, bool) {
	if p.MinBars <= 0 {
		p.MinBars = 200
	}
	if len(candles) < p.MinBars {
		return Snapshot{}, false
	}
	closes := market.Closes(candles)
	highs := market.Highs(candles)
	lows := market.Lows(candles)
	last := len(closes) - 1

	macdLine, macdSig, macdHist := talib.Macd(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	bbUpper, _, bbLower := talib.BBands(closes, p.BBPeriod, p.BBStd, p.BBStd, talib.SMA)
	stochK, stochD := talib.Stoch(highs, lows, closes, p.StochK, 3, talib.SMA, p.StochD, talib.SMA)

	snap := Snapshot{
		Close:    closes[last],
		RSI:      talib.Rsi(closes, p.RSIPeriod)[last],
		MACD:     macdLine[last],
		MACDSig:  macdSig[last],
		MACDHist: macdHist[last],
		BBUpper:  bbUpper[last],
		BBLower:  bbLower[last],
		SMAShort: talib.Sma(closes, p.SMAPeriods[0])[last],
		SMAMid:   talib.Sma(closes, p.SMAPeriods[1])[last],
		SMALong:  talib.Sma(closes, p.SMAPeriods[2])[last],
		StochK:   stochK[last],
		StochD:   stochD[last],
		ATR:      talib.Atr(highs, lows, closes, p.ATRPeriod)[last],
	}
	if band := snap.BBUpper - snap.BBLower; band > 0 {
		snap.BBPct = (snap.Close - snap.BBLower) / band
	} else {
		snap.BBPct = 0.5
	}
	snap.SubScores = map[string]float64{
		"rsi":        ScoreRSI(snap.RSI),
		"macd":       ScoreMACD(snap.MACD, snap.MACDSig, snap.MACDHist),
		"bollinger":  ScoreBollinger(snap.BBPct),
		"ma_trend":   ScoreMATrend(snap.Close, snap.SMAShort, snap.SMAMid, snap.SMALong),
		"stochastic": ScoreStochastic(snap.StochK, snap.StochD),
	}
	return snap, true
}

// TechnicalOpinion 把指标快照折算为一条技术面观点。
// K 线不足时返回 ok=false，Combiner 会按缺失来源处理。
func TechnicalOpinion(candles []market.Candle, asOf time.Time, p Params) (signal.ScoredOpinion, bool) {
	snap, ok := Compute(candles, p)
	if !ok {
		return signal.ScoredOpinion{}, false
	}
	composite := 0.0
	for name, w := range subScoreWeights {
		composite += snap.SubScores[name] * w
	}
	return signal.ScoredOpinion{
		Source:     signal.SourceTechnical,
		Score:      clamp(composite, -1, 1),
		Confidence: agreementConfidence(snap.SubScores),
		AsOf:       asOf,
	}, true
}

// ATR 返回序列末端的 ATR 值；数据不足返回 0。
func ATR(candles []market.Candle, period int) float64 {
	if period <= 1 || len(candles) <= period {
		return 0
	}
	series := talib.Atr(market.Highs(candles), market.Lows(candles), market.Closes(candles), period)
	v := series[len(series)-1]
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

// ScoreRSI 超卖看多、超买看空。
func ScoreRSI(rsi float64) float64 {
	switch {
	case math.IsNaN(rsi):
		return 0
	case rsi < 30:
		return 0.5 + (30-rsi)/60 // 0.5 ~ 1.0
	case rsi > 70:
		return -0.5 - (rsi-70)/60 // -0.5 ~ -1.0
	default:
		return (50 - rsi) / 40
	}
}

func ScoreMACD(macd, sig, hist float64) float64 {
	if math.IsNaN(macd) || math.IsNaN(sig) {
		return 0
	}
	scaled := hist / (math.Abs(sig) + 1e-8) * 0.5
	return clamp(scaled, -1, 1)
}

func ScoreBollinger(bbPct float64) float64 {
	switch {
	case math.IsNaN(bbPct):
		return 0
	case bbPct < 0.1:
		return 0.6 // 贴近下轨
	case bbPct > 0.9:
		return -0.6 // 贴近上轨
	default:
		return (0.5 - bbPct) * 0.8
	}
}

func ScoreMATrend(close, smaShort, smaMid, smaLong float64) float64 {
	score := 0.0
	if !math.IsNaN(smaShort) && smaShort > 0 {
		score += pick(close > smaShort, 0.2, -0.2)
	}
	if !math.IsNaN(smaMid) && smaMid > 0 {
		score += pick(close > smaMid, 0.2, -0.2)
	}
	if !math.IsNaN(smaLong) && smaLong > 0 {
		score += pick(close > smaLong, 0.3, -0.3)
	}
	if smaShort > 0 && smaMid > 0 {
		score += pick(smaShort > smaMid, 0.15, -0.15)
	}
	return clamp(score, -1, 1)
}

func ScoreStochastic(k, d float64) float64 {
	switch {
	case math.IsNaN(k) || math.IsNaN(d):
		return 0
	case k < 20 && d < 20:
		return 0.5
	case k > 80 && d > 80:
		return -0.5
	case k > d:
		return 0.2
	default:
		return -0.2
	}
}

// agreementConfidence 按子项方向一致性给出置信度：0.4 ~ 1.0。
func agreementConfidence(scores map[string]float64) float64 {
	sum, count := 0, 0
	for _, s := range scores {
		switch {
		case s > 0.1:
			sum++
			count++
		case s < -0.1:
			sum--
			count++
		}
	}
	if count == 0 {
		return 0.4
	}
	agreement := math.Abs(float64(sum)) / float64(count)
	return math.Min(1.0, 0.4+agreement*0.6)
}

func pick(cond bool, yes, no float64) float64 {
	if cond {
		return yes
	}
	return no
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
