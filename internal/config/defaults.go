package config

import "strings"

// 默认值常量（取自稳健型策略参数）
const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9982"

	defaultDataRoot     = "data/candles"
	defaultResultsPath  = "data/results/kestrel.db"
	defaultUniversePath = "configs/universe.yaml"
	defaultBinanceURL   = "https://fapi.binance.com"

	defaultWeightTechnical = 0.35
	defaultWeightSentiment = 0.25
	defaultWeightML        = 0.40

	defaultBuyThreshold     = 0.3
	defaultBuyConfidenceMin = 0.65
	defaultSellThreshold    = -0.2

	defaultMaxPositionPct  = 0.15
	defaultMaxCryptoPct    = 0.30
	defaultDrawdownWarning = 0.08
	defaultDrawdownHalt    = 0.12
	defaultATRMultiplier   = 2.0
	defaultATRPeriod       = 14
	defaultTrailingStopPct = 0.07

	defaultInitialCapital  = 100000
	defaultCommissionModel = "proportional"
	defaultCommissionRate  = 0.001
	defaultWarmupBars      = 200
	defaultAnnualization   = 252
	defaultRiskFreeRate    = 0.04
	defaultMaxConcurrent   = 2

	defaultObjective   = "min_volatility"
	defaultMinTradePct = 0.01
)

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Signal.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Optimizer.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.root", &d.Root, defaultDataRoot),
		stringFieldDefault("data.results_path", &d.ResultsPath, defaultResultsPath),
		stringFieldDefault("data.universe_path", &d.UniversePath, defaultUniversePath),
		stringFieldDefault("data.binance_url", &d.BinanceURL, defaultBinanceURL),
	)
}

func (s *SignalConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	if len(s.Weights) == 0 && !keys.isSet("signal.weights") {
		s.Weights = map[string]float64{
			"technical": defaultWeightTechnical,
			"sentiment": defaultWeightSentiment,
			"ml":        defaultWeightML,
		}
	}
	applyFieldDefaults(keys,
		floatFieldDefault("signal.buy_threshold", &s.BuyThreshold, defaultBuyThreshold),
		floatFieldDefault("signal.buy_confidence_min", &s.BuyConfidenceMin, defaultBuyConfidenceMin),
		fieldDefault{
			key:   "signal.sell_threshold",
			need:  func() bool { return s.SellThreshold == 0 },
			apply: func() { s.SellThreshold = defaultSellThreshold },
		},
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("risk.max_position_pct", &r.MaxPositionPct, defaultMaxPositionPct),
		floatFieldDefault("risk.max_crypto_pct", &r.MaxCryptoPct, defaultMaxCryptoPct),
		floatFieldDefault("risk.drawdown_warning", &r.DrawdownWarning, defaultDrawdownWarning),
		floatFieldDefault("risk.drawdown_halt", &r.DrawdownHalt, defaultDrawdownHalt),
		floatFieldDefault("risk.atr_multiplier", &r.ATRMultiplier, defaultATRMultiplier),
		floatFieldDefault("risk.trailing_stop_pct", &r.TrailingStopPct, defaultTrailingStopPct),
		fieldDefault{
			key:   "risk.atr_period",
			need:  func() bool { return r.ATRPeriod <= 0 },
			apply: func() { r.ATRPeriod = defaultATRPeriod },
		},
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("backtest.initial_capital", &b.InitialCapital, defaultInitialCapital),
		floatFieldDefault("backtest.annualization", &b.Annualization, defaultAnnualization),
		floatFieldDefault("backtest.risk_free_rate", &b.RiskFreeRate, defaultRiskFreeRate),
		stringFieldDefault("backtest.commission.model", &b.Commission.Model, defaultCommissionModel),
		fieldDefault{
			key: "backtest.commission.rate",
			need: func() bool {
				return b.Commission.Rate <= 0 && strings.EqualFold(b.Commission.Model, "proportional")
			},
			apply: func() { b.Commission.Rate = defaultCommissionRate },
		},
		fieldDefault{
			key:   "backtest.warmup_bars",
			need:  func() bool { return b.WarmupBars <= 0 },
			apply: func() { b.WarmupBars = defaultWarmupBars },
		},
		fieldDefault{
			key:   "backtest.max_concurrent",
			need:  func() bool { return b.MaxConcurrent <= 0 },
			apply: func() { b.MaxConcurrent = defaultMaxConcurrent },
		},
	)
}

func (o *OptimizerConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("optimizer.objective", &o.Objective, defaultObjective),
		floatFieldDefault("optimizer.min_trade_pct", &o.MinTradePct, defaultMinTradePct),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && *target <= 0
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
