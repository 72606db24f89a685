package risk

import (
	"kestrel/internal/config"
	"kestrel/internal/logger"
)

// Mode 是风控状态机的档位。
type Mode string

const (
	ModeNormal  Mode = "NORMAL"
	ModeWarning Mode = "WARNING"
	ModeHalt    Mode = "HALT"
)

// State 由资金曲线派生：回撤永远相对运行峰值计算，
// 峰值只在创新高时前移。
type State struct {
	PeakEquity      float64 `json:"peak_equity"`
	CurrentDrawdown float64 `json:"current_drawdown"`
	Mode            Mode    `json:"mode"`
}

// Manager 维护单次回测运行内的风控状态。不可跨运行共享。
type Manager struct {
	cfg   config.RiskConfig
	state State
}

func NewManager(cfg config.RiskConfig) *Manager {
	return &Manager{cfg: cfg, state: State{Mode: ModeNormal}}
}

func (m *Manager) State() State { return m.state }

func (m *Manager) Config() config.RiskConfig { return m.cfg }

// UpdateEquity 以当期权益推进状态机，每根 K 线调用一次。
// 回升穿过 warning 阈值即回到 NORMAL（迟滞边界与 warning 相同）。
func (m *Manager) UpdateEquity(equity float64) State {
	if equity > m.state.PeakEquity {
		m.state.PeakEquity = equity
	}
	dd := 0.0
	if m.state.PeakEquity > 0 {
		dd = (m.state.PeakEquity - equity) / m.state.PeakEquity
	}
	m.state.CurrentDrawdown = dd

	prev := m.state.Mode
	switch {
	case dd >= m.cfg.DrawdownHalt:
		m.state.Mode = ModeHalt
	case dd < m.cfg.DrawdownWarning:
		m.state.Mode = ModeNormal
	default:
		// warning ≤ dd < halt：HALT 未回落到 warning 之下前维持
		if prev != ModeHalt {
			m.state.Mode = ModeWarning
		}
	}
	if m.state.Mode != prev {
		logger.Infof("[risk] 回撤 %.2f%%，状态 %s → %s", dd*100, prev, m.state.Mode)
	}
	return m.state
}
