package backtest

import (
	"encoding/json"
	"time"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig 记录本次回测的参数快照，便于重放。
type RunConfig struct {
	Assets         []string `json:"assets"`
	Timeframe      string   `json:"timeframe"`
	StartTS        int64    `json:"start_ts"`
	EndTS          int64    `json:"end_ts"`
	InitialCapital float64  `json:"initial_capital"`
	CommissionRate float64  `json:"commission_rate"`
	WarmupBars     int      `json:"warmup_bars"`
	Notes          string   `json:"notes,omitempty"`
}

// Metrics 汇总一次回测的收益与风险指标。
type Metrics struct {
	FinalEquity   float64 `json:"final_equity"`
	TotalReturn   float64 `json:"total_return"`
	CAGR          float64 `json:"cagr"`
	Sharpe        float64 `json:"sharpe"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	WinRate       float64 `json:"win_rate"`
	ProfitFactor  float64 `json:"profit_factor"`
	Trades        int     `json:"trades"`
	Orders        int     `json:"orders"`
	BenchReturn   float64 `json:"benchmark_return"`
	BenchDrawdown float64 `json:"benchmark_max_drawdown"`
}

// Run 表示一次回测任务。
type Run struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Config      RunConfig  `json:"config"`
	Metrics     Metrics    `json:"metrics"`
	Benchmark   []Snapshot `json:"benchmark,omitempty"`
	Message     string     `json:"message"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt time.Time  `json:"completed_at"`
}

// MarshalConfig 返回 config JSON。
func (r Run) MarshalConfig() ([]byte, error) {
	return json.Marshal(r.Config)
}

// Order 记录一次模拟下单行为（开仓/平仓/止损/收尾）。
type Order struct {
	ID       int64   `json:"id"`
	RunID    string  `json:"run_id"`
	Asset    string  `json:"asset"`
	Side     string  `json:"side"` // BUY / SELL
	Reason   string  `json:"reason"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Notional float64 `json:"notional"`
	Fee      float64 `json:"fee"`
	TS       int64   `json:"ts"`
}

// Trade 记录一次完整持仓（开仓到平仓）的盈亏。
type Trade struct {
	ID         int64   `json:"id"`
	RunID      string  `json:"run_id"`
	Asset      string  `json:"asset"`
	EntryTS    int64   `json:"entry_ts"`
	ExitTS     int64   `json:"exit_ts"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	Quantity   float64 `json:"quantity"`
	PnL        float64 `json:"pnl"`
	PnLPct     float64 `json:"pnl_pct"`
	ExitReason string  `json:"exit_reason"`
}

// Snapshot 保存资金曲线上的一个点。
type Snapshot struct {
	ID       int64   `json:"id"`
	RunID    string  `json:"run_id"`
	TS       int64   `json:"ts"`
	Equity   float64 `json:"equity"`
	Cash     float64 `json:"cash"`
	Drawdown float64 `json:"drawdown"`
	RiskMode string  `json:"risk_mode"`
}

// RunRequest 为 HTTP 提交使用。
type RunRequest struct {
	Assets         []string `json:"assets" binding:"required"`
	Timeframe      string   `json:"timeframe"`
	StartTS        int64    `json:"start_ts"`
	EndTS          int64    `json:"end_ts"`
	InitialCapital float64  `json:"initial_capital"`
	Notes          string   `json:"notes"`
}
