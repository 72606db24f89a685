package config

import (
	"fmt"
	"math"
	"strings"
)

const weightSumTolerance = 1e-9

// validate 对配置进行基础校验。校验失败属于启动期致命错误，
// 不做任何静默修正。
func validate(c *Config) error {
	if err := c.Signal.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Optimizer.validate(); err != nil {
		return err
	}
	return nil
}

func (s *SignalConfig) validate() error {
	if len(s.Weights) == 0 {
		return fmt.Errorf("signal.weights 不能为空")
	}
	known := map[string]bool{"technical": true, "sentiment": true, "ml": true}
	sum := 0.0
	for name, w := range s.Weights {
		if !known[strings.ToLower(name)] {
			return fmt.Errorf("signal.weights 含未知信号源: %s", name)
		}
		if w < 0 {
			return fmt.Errorf("signal.weights.%s 不能为负", name)
		}
		sum += w
	}
	if math.Abs(sum-1) > weightSumTolerance {
		return fmt.Errorf("signal.weights 之和必须为 1，当前 %.6f", sum)
	}
	if s.BuyThreshold <= 0 || s.BuyThreshold > 1 {
		return fmt.Errorf("signal.buy_threshold 必须在 (0,1]")
	}
	if s.BuyConfidenceMin < 0 || s.BuyConfidenceMin > 1 {
		return fmt.Errorf("signal.buy_confidence_min 必须在 [0,1]")
	}
	if s.SellThreshold >= 0 || s.SellThreshold < -1 {
		return fmt.Errorf("signal.sell_threshold 必须在 [-1,0)")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MaxPositionPct <= 0 || r.MaxPositionPct > 1 {
		return fmt.Errorf("risk.max_position_pct 必须在 (0,1]")
	}
	if r.MaxCryptoPct <= 0 || r.MaxCryptoPct > 1 {
		return fmt.Errorf("risk.max_crypto_pct 必须在 (0,1]")
	}
	if r.DrawdownWarning <= 0 || r.DrawdownWarning >= 1 {
		return fmt.Errorf("risk.drawdown_warning 必须在 (0,1)")
	}
	if r.DrawdownHalt <= r.DrawdownWarning {
		return fmt.Errorf("risk.drawdown_halt (%.2f) 必须大于 drawdown_warning (%.2f)",
			r.DrawdownHalt, r.DrawdownWarning)
	}
	if r.DrawdownHalt >= 1 {
		return fmt.Errorf("risk.drawdown_halt 必须在 (0,1)")
	}
	if r.ATRMultiplier <= 0 {
		return fmt.Errorf("risk.atr_multiplier 必须大于 0")
	}
	if r.ATRPeriod <= 1 {
		return fmt.Errorf("risk.atr_period 必须大于 1")
	}
	if r.TrailingStopPct <= 0 || r.TrailingStopPct >= 1 {
		return fmt.Errorf("risk.trailing_stop_pct 必须在 (0,1)")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital 必须大于 0")
	}
	model := strings.ToLower(strings.TrimSpace(b.Commission.Model))
	switch model {
	case "proportional":
		if b.Commission.Rate < 0 || b.Commission.Rate >= 1 {
			return fmt.Errorf("backtest.commission.rate 必须在 [0,1)")
		}
	case "flat":
		if b.Commission.Flat < 0 {
			return fmt.Errorf("backtest.commission.flat 不能为负")
		}
	default:
		return fmt.Errorf("backtest.commission.model 未知: %s", b.Commission.Model)
	}
	if b.Annualization <= 0 {
		return fmt.Errorf("backtest.annualization 必须大于 0")
	}
	if b.WarmupBars < 0 {
		return fmt.Errorf("backtest.warmup_bars 不能为负")
	}
	return nil
}

func (o *OptimizerConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(o.Objective)) {
	case "min_volatility", "max_sharpe":
	default:
		return fmt.Errorf("optimizer.objective 未知: %s", o.Objective)
	}
	if o.MinTradePct < 0 || o.MinTradePct >= 1 {
		return fmt.Errorf("optimizer.min_trade_pct 必须在 [0,1)")
	}
	return nil
}
