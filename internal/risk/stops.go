package risk

import (
	"kestrel/internal/market"
	"kestrel/internal/portfolio"
)

// 入场时 ATR 不可用时的兜底固定止损比例。
const fallbackStopPct = 0.05

// InitStops 在开仓时设定止损基线：ATR 止损一次性固定，
// 高水位从入场价起步。
func (m *Manager) InitStops(pos *portfolio.Position, atr float64) {
	if atr > 0 {
		pos.ATRStop = pos.EntryPrice - m.cfg.ATRMultiplier*atr
	} else {
		pos.ATRStop = pos.EntryPrice * (1 - fallbackStopPct)
	}
	pos.HighWaterMark = pos.EntryPrice
}

// ActiveStop 返回当前生效止损价：ATR 止损与追踪止损取更紧的一个
// （多头取较高者）。
func (m *Manager) ActiveStop(pos *portfolio.Position) float64 {
	trailing := pos.HighWaterMark * (1 - m.cfg.TrailingStopPct)
	if pos.ATRStop > trailing {
		return pos.ATRStop
	}
	return trailing
}

// CheckStop 用当根 K 线检查止损：先以既有止损位判定本根是否触发
// （最低价触及即成交，成交价为止损价而非收盘价），之后才用本根
// 收盘价抬升高水位。高水位只增不减。
func (m *Manager) CheckStop(pos *portfolio.Position, bar market.Candle) (float64, bool) {
	stop := m.ActiveStop(pos)
	triggered := bar.Low <= stop
	if !triggered && bar.Close > pos.HighWaterMark {
		pos.HighWaterMark = bar.Close
	}
	return stop, triggered
}
