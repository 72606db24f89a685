package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// ResultStore 用 Gorm + SQLite 持久化回测运行与明细。
type ResultStore struct {
	db *gorm.DB
}

// NewResultStore 打开（必要时创建）结果库。
func NewResultStore(path string) (*ResultStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("result store 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &orderModel{}, &tradeModel{}, &snapshotModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：读多写少，留一点并行给 HTTP 查询
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &ResultStore{db: db}, nil
}

// Close 关闭底层连接。
func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertRun 写入一条新 run。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("result store 未初始化")
	}
	cfgJSON, err := run.MarshalConfig()
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	model := runModel{
		ID:             run.ID,
		Status:         run.Status,
		StartTS:        run.Config.StartTS,
		EndTS:          run.Config.EndTS,
		InitialCapital: money(run.Config.InitialCapital),
		ConfigJSON:     datatypes.JSON(cfgJSON),
		Message:        run.Message,
		CreatedAtUnix:  now,
		UpdatedAtUnix:  now,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// CompleteRun 落盘一次运行的指标与全部明细。
func (s *ResultStore) CompleteRun(ctx context.Context, runID string, metrics Metrics, res *Result) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("result store 未初始化")
	}
	// 金额字段入库前先取整，JSON 快照与列保持一致
	metrics.FinalEquity = money(metrics.FinalEquity)
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return err
	}
	benchJSON, err := json.Marshal(BenchmarkSnapshots(res))
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UnixMilli()
		if err := tx.Model(&runModel{}).Where("id = ?", runID).Updates(map[string]interface{}{
			"status":         RunStatusDone,
			"final_equity":   money(metrics.FinalEquity),
			"total_return":   metrics.TotalReturn,
			"sharpe":         metrics.Sharpe,
			"max_drawdown":   metrics.MaxDrawdown,
			"win_rate":       metrics.WinRate,
			"trades":         metrics.Trades,
			"orders":         metrics.Orders,
			"metrics_json":   datatypes.JSON(metricsJSON),
			"benchmark_json": datatypes.JSON(benchJSON),
			"updated_at":     now,
			"completed_at":   now,
		}).Error; err != nil {
			return err
		}
		if res == nil {
			return nil
		}
		if len(res.Orders) > 0 {
			models := make([]orderModel, 0, len(res.Orders))
			for _, o := range res.Orders {
				models = append(models, orderModel{
					RunID:    runID,
					Asset:    o.Asset,
					Side:     o.Side,
					Reason:   o.Reason,
					Price:    money(o.Price),
					Quantity: qty(o.Quantity),
					Notional: money(o.Notional),
					Fee:      money(o.Fee),
					TS:       o.TS,
				})
			}
			if err := tx.CreateInBatches(models, 200).Error; err != nil {
				return err
			}
		}
		if len(res.Trades) > 0 {
			models := make([]tradeModel, 0, len(res.Trades))
			for _, t := range res.Trades {
				models = append(models, tradeModel{
					RunID:      runID,
					Asset:      t.Asset,
					EntryTS:    t.EntryTS,
					ExitTS:     t.ExitTS,
					EntryPrice: money(t.EntryPrice),
					ExitPrice:  money(t.ExitPrice),
					Quantity:   qty(t.Quantity),
					PnL:        money(t.PnL),
					PnLPct:     t.PnLPct,
					ExitReason: t.ExitReason,
				})
			}
			if err := tx.CreateInBatches(models, 200).Error; err != nil {
				return err
			}
		}
		if len(res.Snapshots) > 0 {
			models := make([]snapshotModel, 0, len(res.Snapshots))
			for _, sn := range res.Snapshots {
				models = append(models, snapshotModel{
					RunID:    runID,
					TS:       sn.TS,
					Equity:   money(sn.Equity),
					Cash:     money(sn.Cash),
					Drawdown: sn.Drawdown,
					RiskMode: sn.RiskMode,
				})
			}
			if err := tx.CreateInBatches(models, 500).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// FailRun 标记失败并记录原因。
func (s *ResultStore) FailRun(ctx context.Context, runID, message string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("result store 未初始化")
	}
	now := time.Now().UnixMilli()
	return s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", runID).Updates(map[string]interface{}{
		"status":       RunStatusFailed,
		"message":      message,
		"updated_at":   now,
		"completed_at": now,
	}).Error
}

// MarkRunning 把 run 置为运行中。
func (s *ResultStore) MarkRunning(ctx context.Context, runID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("result store 未初始化")
	}
	return s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", runID).Updates(map[string]interface{}{
		"status":     RunStatusRunning,
		"updated_at": time.Now().UnixMilli(),
	}).Error
}

// GetRun 读取单条 run。
func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	if s == nil || s.db == nil {
		return Run{}, fmt.Errorf("result store 未初始化")
	}
	var model runModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Run{}, fmt.Errorf("run %s 不存在", id)
		}
		return Run{}, err
	}
	return runModelToRun(model), nil
}

// ListRuns 按创建时间倒序列出 run。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("result store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var models []runModel
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		out = append(out, runModelToRun(m))
	}
	return out, nil
}

// ListOrders 返回一次 run 的下单明细。
func (s *ResultStore) ListOrders(ctx context.Context, runID string, limit int) ([]Order, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("result store 未初始化")
	}
	if limit <= 0 || limit > 2000 {
		limit = 200
	}
	var models []orderModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("ts ASC, id ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(models))
	for _, m := range models {
		out = append(out, Order{
			ID: m.ID, RunID: m.RunID, Asset: m.Asset, Side: m.Side, Reason: m.Reason,
			Price: m.Price, Quantity: m.Quantity, Notional: m.Notional, Fee: m.Fee, TS: m.TS,
		})
	}
	return out, nil
}

// ListTrades 返回一次 run 的平仓成交。
func (s *ResultStore) ListTrades(ctx context.Context, runID string, limit int) ([]Trade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("result store 未初始化")
	}
	if limit <= 0 || limit > 2000 {
		limit = 200
	}
	var models []tradeModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("exit_ts ASC, id ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Trade, 0, len(models))
	for _, m := range models {
		out = append(out, Trade{
			ID: m.ID, RunID: m.RunID, Asset: m.Asset,
			EntryTS: m.EntryTS, ExitTS: m.ExitTS,
			EntryPrice: m.EntryPrice, ExitPrice: m.ExitPrice, Quantity: m.Quantity,
			PnL: m.PnL, PnLPct: m.PnLPct, ExitReason: m.ExitReason,
		})
	}
	return out, nil
}

// ListSnapshots 返回一次 run 的资金曲线。
func (s *ResultStore) ListSnapshots(ctx context.Context, runID string, limit int) ([]Snapshot, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("result store 未初始化")
	}
	if limit <= 0 || limit > 10000 {
		limit = 2000
	}
	var models []snapshotModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("ts ASC, id ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(models))
	for _, m := range models {
		out = append(out, Snapshot{
			ID: m.ID, RunID: m.RunID, TS: m.TS,
			Equity: m.Equity, Cash: m.Cash, Drawdown: m.Drawdown, RiskMode: m.RiskMode,
		})
	}
	return out, nil
}

// --------------------------- Gorm Models ------------------------------------

type runModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Status         string         `gorm:"column:status;index"`
	StartTS        int64          `gorm:"column:start_ts"`
	EndTS          int64          `gorm:"column:end_ts"`
	InitialCapital float64        `gorm:"column:initial_capital"`
	FinalEquity    float64        `gorm:"column:final_equity"`
	TotalReturn    float64        `gorm:"column:total_return"`
	Sharpe         float64        `gorm:"column:sharpe"`
	MaxDrawdown    float64        `gorm:"column:max_drawdown"`
	WinRate        float64        `gorm:"column:win_rate"`
	Trades         int            `gorm:"column:trades"`
	Orders         int            `gorm:"column:orders"`
	ConfigJSON     datatypes.JSON `gorm:"column:config_json"`
	MetricsJSON    datatypes.JSON `gorm:"column:metrics_json"`
	BenchmarkJSON  datatypes.JSON `gorm:"column:benchmark_json"`
	Message        string         `gorm:"column:message"`
	CreatedAtUnix  int64          `gorm:"column:created_at;index"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`
	CompletedAt    int64          `gorm:"column:completed_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

type orderModel struct {
	ID       int64   `gorm:"column:id;primaryKey"`
	RunID    string  `gorm:"column:run_id;index"`
	Asset    string  `gorm:"column:asset"`
	Side     string  `gorm:"column:side"`
	Reason   string  `gorm:"column:reason"`
	Price    float64 `gorm:"column:price"`
	Quantity float64 `gorm:"column:quantity"`
	Notional float64 `gorm:"column:notional"`
	Fee      float64 `gorm:"column:fee"`
	TS       int64   `gorm:"column:ts"`
}

func (orderModel) TableName() string { return "backtest_orders" }

type tradeModel struct {
	ID         int64   `gorm:"column:id;primaryKey"`
	RunID      string  `gorm:"column:run_id;index"`
	Asset      string  `gorm:"column:asset"`
	EntryTS    int64   `gorm:"column:entry_ts"`
	ExitTS     int64   `gorm:"column:exit_ts"`
	EntryPrice float64 `gorm:"column:entry_price"`
	ExitPrice  float64 `gorm:"column:exit_price"`
	Quantity   float64 `gorm:"column:quantity"`
	PnL        float64 `gorm:"column:pnl"`
	PnLPct     float64 `gorm:"column:pnl_pct"`
	ExitReason string  `gorm:"column:exit_reason"`
}

func (tradeModel) TableName() string { return "backtest_trades" }

type snapshotModel struct {
	ID       int64   `gorm:"column:id;primaryKey"`
	RunID    string  `gorm:"column:run_id;index"`
	TS       int64   `gorm:"column:ts"`
	Equity   float64 `gorm:"column:equity"`
	Cash     float64 `gorm:"column:cash"`
	Drawdown float64 `gorm:"column:drawdown"`
	RiskMode string  `gorm:"column:risk_mode"`
}

func (snapshotModel) TableName() string { return "backtest_snapshots" }

func runModelToRun(m runModel) Run {
	run := Run{
		ID:      m.ID,
		Status:  m.Status,
		Message: m.Message,
		Metrics: Metrics{
			FinalEquity: m.FinalEquity,
			TotalReturn: m.TotalReturn,
			Sharpe:      m.Sharpe,
			MaxDrawdown: m.MaxDrawdown,
			WinRate:     m.WinRate,
			Trades:      m.Trades,
			Orders:      m.Orders,
		},
		CreatedAt: time.UnixMilli(m.CreatedAtUnix),
		UpdatedAt: time.UnixMilli(m.UpdatedAtUnix),
	}
	if m.CompletedAt > 0 {
		run.CompletedAt = time.UnixMilli(m.CompletedAt)
	}
	if len(m.ConfigJSON) > 0 {
		_ = json.Unmarshal(m.ConfigJSON, &run.Config)
	}
	if len(m.MetricsJSON) > 0 {
		_ = json.Unmarshal(m.MetricsJSON, &run.Metrics)
	}
	if len(m.BenchmarkJSON) > 0 {
		_ = json.Unmarshal(m.BenchmarkJSON, &run.Benchmark)
	}
	return run
}

// 金额入库前统一小数位，数量保留更高精度。
func money(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

func qty(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(8).Float64()
	return f
}
