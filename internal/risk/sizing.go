package risk

import "math"

// Side 是订单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// 订单来由/丢弃原因。丢弃是正常结果而非错误。
const (
	ReasonSignal       = "SIGNAL"
	ReasonStopLoss     = "STOP_LOSS"
	ReasonFinalClose   = "FINAL_CLOSE"
	ReasonHaltActive   = "HALT_ACTIVE"
	ReasonCapExceeded  = "CAP_EXCEEDED"
	ReasonCapDownsized = "CAP_DOWNSIZED"
	ReasonNoCash       = "NO_CASH"
)

// Order 是一次下单请求，单个仿真步内消费完毕。
type Order struct {
	Asset    string  `json:"asset"`
	Side     Side    `json:"side"`
	Quantity float64 `json:"quantity"`
	Reason   string  `json:"reason"`
}

// BuyContext 提供买单定价所需的组合视图。
type BuyContext struct {
	Price          float64 // 成交参考价
	Equity         float64 // 当期总权益
	Cash           float64 // 可用现金
	IsCrypto       bool
	CryptoExposure float64 // 现有加密持仓市值合计
}

// SizeBuy 计算一笔买单。目标市值 = min(单仓上限×权益, 可用现金)；
// 加密资产额外受总仓位上限约束：超限降量，无余量则丢弃
// （reason=CAP_EXCEEDED），永不报错。HALT 状态下买单一律拒绝。
func (m *Manager) SizeBuy(asset string, bc BuyContext) (Order, bool) {
	if m.state.Mode == ModeHalt {
		return Order{Asset: asset, Side: SideBuy, Reason: ReasonHaltActive}, false
	}
	if bc.Price <= 0 || bc.Equity <= 0 {
		return Order{Asset: asset, Side: SideBuy, Reason: ReasonNoCash}, false
	}
	target := math.Min(m.cfg.MaxPositionPct*bc.Equity, bc.Cash)
	if target <= 0 {
		return Order{Asset: asset, Side: SideBuy, Reason: ReasonNoCash}, false
	}
	reason := ReasonSignal
	if bc.IsCrypto {
		headroom := m.cfg.MaxCryptoPct*bc.Equity - bc.CryptoExposure
		if headroom <= 0 {
			return Order{Asset: asset, Side: SideBuy, Reason: ReasonCapExceeded}, false
		}
		if target > headroom {
			target = headroom
			reason = ReasonCapDownsized
		}
	}
	return Order{
		Asset:    asset,
		Side:     SideBuy,
		Quantity: target / bc.Price,
		Reason:   reason,
	}, true
}

// SellOrder 生成卖单。SELL 在任何风控状态下都被允许。
func (m *Manager) SellOrder(asset string, quantity float64, reason string) Order {
	return Order{Asset: asset, Side: SideSell, Quantity: quantity, Reason: reason}
}
