package portfolio

import (
	"fmt"
	"sort"
	"time"
)

// Position 是单一资产的多头持仓。数量恒非负；止损字段只由
// 风控更新，成交只由回测引擎写入。
type Position struct {
	Asset         string    `json:"asset"`
	Quantity      float64   `json:"quantity"`
	EntryPrice    float64   `json:"entry_price"`
	EntryTime     time.Time `json:"entry_time"`
	ATRStop       float64   `json:"atr_stop"`        // 入场时一次性确定
	HighWaterMark float64   `json:"high_water_mark"` // 只增不减
	LastPrice     float64   `json:"last_price"`      // 最近一次见到的收盘价
}

// EquityPoint 是资金曲线上的一个点。
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// Portfolio 是一次回测运行的唯一资金账本：现金、持仓与资金曲线。
// 每个资产至多一笔持仓。
type Portfolio struct {
	Cash          float64
	Positions     map[string]*Position
	EquityHistory []EquityPoint
}

func New(initialCash float64) (*Portfolio, error) {
	if initialCash <= 0 {
		return nil, fmt.Errorf("initial cash 必须大于 0")
	}
	return &Portfolio{
		Cash:      initialCash,
		Positions: make(map[string]*Position),
	}, nil
}

// Position 返回某资产持仓（可能为 nil）。
func (p *Portfolio) Position(asset string) *Position {
	return p.Positions[asset]
}

// Open 记录一笔新开仓。同一资产重复开仓视为调用方缺陷。
func (p *Portfolio) Open(pos *Position) error {
	if pos == nil || pos.Asset == "" {
		return fmt.Errorf("position 不能为空")
	}
	if pos.Quantity <= 0 || pos.EntryPrice <= 0 {
		return fmt.Errorf("position %s 数量/价格非法", pos.Asset)
	}
	if _, exists := p.Positions[pos.Asset]; exists {
		return fmt.Errorf("asset %s 已有持仓", pos.Asset)
	}
	p.Positions[pos.Asset] = pos
	return nil
}

// Close 移除持仓并返回它。
func (p *Portfolio) Close(asset string) (*Position, bool) {
	pos, ok := p.Positions[asset]
	if !ok {
		return nil, false
	}
	delete(p.Positions, asset)
	return pos, true
}

// Equity 按最近已知价格做市值加总。
func (p *Portfolio) Equity() float64 {
	total := p.Cash
	for _, pos := range p.Positions {
		price := pos.LastPrice
		if price <= 0 {
			price = pos.EntryPrice
		}
		total += pos.Quantity * price
	}
	return total
}

// AppendEquity 把当期权益追加到资金曲线。
func (p *Portfolio) AppendEquity(ts time.Time, equity float64) {
	p.EquityHistory = append(p.EquityHistory, EquityPoint{Timestamp: ts, Equity: equity})
}

// Weights 返回当前各资产权重（含现金以外的持仓市值 / 总权益）。
func (p *Portfolio) Weights() map[string]float64 {
	equity := p.Equity()
	out := make(map[string]float64, len(p.Positions))
	if equity <= 0 {
		return out
	}
	for asset, pos := range p.Positions {
		price := pos.LastPrice
		if price <= 0 {
			price = pos.EntryPrice
		}
		out[asset] = pos.Quantity * price / equity
	}
	return out
}

// Assets 返回固定排序的持仓资产列表，保证遍历可复现。
func (p *Portfolio) Assets() []string {
	out := make([]string, 0, len(p.Positions))
	for asset := range p.Positions {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}
