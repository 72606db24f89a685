package config

import "strings"

// Config 是 Kestrel 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Data      DataConfig      `toml:"data"`
	Signal    SignalConfig    `toml:"signal"`
	Risk      RiskConfig      `toml:"risk"`
	Backtest  BacktestConfig  `toml:"backtest"`
	Optimizer OptimizerConfig `toml:"optimizer"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// DataConfig 描述历史数据与结果的存放位置。
type DataConfig struct {
	Root         string `toml:"root"`          // K 线 sqlite 根目录
	ResultsPath  string `toml:"results_path"`  // 回测结果库
	UniversePath string `toml:"universe_path"` // 资产清单 YAML
	BinanceURL   string `toml:"binance_url"`   // 历史 K 线同步源
	OpinionsDir  string `toml:"opinions_dir"`  // 协作方观点 JSON 目录
}

// SignalConfig 控制信号融合：权重必须和为 1（加载时校验，不做静默修正）。
type SignalConfig struct {
	Weights          map[string]float64 `toml:"weights"`
	BuyThreshold     float64            `toml:"buy_threshold"`
	BuyConfidenceMin float64            `toml:"buy_confidence_min"`
	SellThreshold    float64            `toml:"sell_threshold"`
}

// RiskConfig 对应风控状态机与仓位上限。
type RiskConfig struct {
	MaxPositionPct  float64 `toml:"max_position_pct"`
	MaxCryptoPct    float64 `toml:"max_crypto_pct"`
	DrawdownWarning float64 `toml:"drawdown_warning"`
	DrawdownHalt    float64 `toml:"drawdown_halt"`
	ATRMultiplier   float64 `toml:"atr_multiplier"`
	ATRPeriod       int     `toml:"atr_period"`
	TrailingStopPct float64 `toml:"trailing_stop_pct"`
}

// CommissionConfig 支持固定费用或按成交额比例两种模型。
type CommissionConfig struct {
	Model string  `toml:"model"` // "proportional" | "flat"
	Rate  float64 `toml:"rate"`  // proportional：成交额比例
	Flat  float64 `toml:"flat"`  // flat：每笔固定费用
}

type BacktestConfig struct {
	InitialCapital float64          `toml:"initial_capital"`
	Commission     CommissionConfig `toml:"commission"`
	WarmupBars     int              `toml:"warmup_bars"`
	Annualization  float64          `toml:"annualization"`
	RiskFreeRate   float64          `toml:"risk_free_rate"`
	MaxConcurrent  int              `toml:"max_concurrent"`
}

type OptimizerConfig struct {
	Objective   string  `toml:"objective"` // "min_volatility" | "max_sharpe"
	MinTradePct float64 `toml:"min_trade_pct"`
}

// Fee 按配置的佣金模型计算一笔成交的费用。
func (c CommissionConfig) Fee(notional float64) float64 {
	if strings.EqualFold(c.Model, "flat") {
		return c.Flat
	}
	return notional * c.Rate
}

// MaxNotional 返回给定现金下含佣金可成交的最大名义金额。
// flat 模型先扣固定费用，可能为负（现金不足以付费）。
func (c CommissionConfig) MaxNotional(cash float64) float64 {
	if strings.EqualFold(c.Model, "flat") {
		return cash - c.Flat
	}
	return cash / (1 + c.Rate)
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}
