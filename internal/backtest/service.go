package backtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"kestrel/internal/config"
	"kestrel/internal/logger"
	"kestrel/internal/market"
	"kestrel/internal/optimizer"
	"kestrel/internal/signal"
)

const defaultTimeframe = "1d"

// Service 负责管理回测任务：装载数据、调度引擎、落盘结果。
// 每次运行持有提交时刻的配置与资产清单快照，运行期间的热更新
// 不会影响已提交的任务。
type Service struct {
	cfg      *config.Config
	store    *market.Store
	results  *ResultStore
	registry *market.UniverseRegistry
	sources  map[signal.Source]signal.OpinionProvider

	sem     chan struct{}
	baseCtx context.Context
}

// ServiceConfig 配置 Service。
type ServiceConfig struct {
	Config    *config.Config
	Store     *market.Store
	Results   *ResultStore
	Registry  *market.UniverseRegistry
	Providers map[signal.Source]signal.OpinionProvider
}

func NewService(sc ServiceConfig) (*Service, error) {
	if sc.Config == nil {
		return nil, fmt.Errorf("config 不能为空")
	}
	if sc.Store == nil {
		return nil, fmt.Errorf("candle store 不能为空")
	}
	if sc.Results == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	maxConcurrent := sc.Config.Backtest.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	providers := sc.Providers
	if providers == nil {
		providers = map[signal.Source]signal.OpinionProvider{}
	}
	return &Service{
		cfg:      sc.Config,
		store:    sc.Store,
		results:  sc.Results,
		registry: sc.Registry,
		sources:  providers,
		sem:      make(chan struct{}, maxConcurrent),
		baseCtx:  context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

// StartRun 提交一次异步回测，立即返回带 uuid 的 run 记录。
func (s *Service) StartRun(req RunRequest) (Run, error) {
	runCfg, err := s.normalizeRequest(req)
	if err != nil {
		return Run{}, err
	}
	run := Run{
		ID:        uuid.NewString(),
		Status:    RunStatusPending,
		Config:    runCfg,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.results.InsertRun(s.baseCtx, run); err != nil {
		return Run{}, err
	}
	logger.Infof("[backtest] 任务 %s 提交：%d 个资产 [%d,%d]", run.ID, len(runCfg.Assets), runCfg.StartTS, runCfg.EndTS)
	go s.execute(run)
	return run, nil
}

// RunSweep 并发执行一批独立回测，并发度受 max_concurrent 约束。
// 任一失败即整体返回错误，已完成的 run 保留在结果库中。
func (s *Service) RunSweep(ctx context.Context, reqs []RunRequest) ([]Run, error) {
	runs := make([]Run, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cap(s.sem))
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			runCfg, err := s.normalizeRequest(req)
			if err != nil {
				return err
			}
			run := Run{
				ID:        uuid.NewString(),
				Status:    RunStatusPending,
				Config:    runCfg,
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			}
			if err := s.results.InsertRun(gctx, run); err != nil {
				return err
			}
			if err := s.runOnce(gctx, &run); err != nil {
				return fmt.Errorf("run %s 失败: %w", run.ID, err)
			}
			runs[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *Service) execute(run Run) {
	select {
	case s.sem <- struct{}{}:
	case <-s.baseCtx.Done():
		_ = s.results.FailRun(context.Background(), run.ID, "服务已关闭")
		return
	}
	defer func() { <-s.sem }()

	if err := s.runOnce(s.baseCtx, &run); err != nil {
		logger.Errorf("[backtest] 任务 %s 失败: %v", run.ID, err)
		_ = s.results.FailRun(context.Background(), run.ID, err.Error())
		return
	}
	logger.Infof("[backtest] 任务 %s 完成：收益=%.2f%% 回撤=%.2f%% 成交=%d",
		run.ID, run.Metrics.TotalReturn*100, run.Metrics.MaxDrawdown*100, run.Metrics.Trades)
}

func (s *Service) runOnce(ctx context.Context, run *Run) error {
	if err := s.results.MarkRunning(ctx, run.ID); err != nil {
		return err
	}
	candles, err := s.loadCandles(ctx, run.Config.Assets, run.Config.Timeframe, run.Config.StartTS, run.Config.EndTS)
	if err != nil {
		return err
	}
	runCfg := *s.cfg
	if run.Config.InitialCapital > 0 {
		runCfg.Backtest.InitialCapital = run.Config.InitialCapital
	}
	engine, err := NewEngine(&runCfg, candles, s.sources, s.isCryptoFn())
	if err != nil {
		return err
	}
	res, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	run.Metrics = res.Metrics
	run.Status = RunStatusDone
	return s.results.CompleteRun(ctx, run.ID, res.Metrics, res)
}

// WalkForward 对给定资产做锚定走样外验证（同步执行）。
func (s *Service) WalkForward(ctx context.Context, assets []string, timeframe string, wf WalkForwardConfig) (*WalkForwardResult, error) {
	candles, err := s.loadCandles(ctx, assets, timeframe, 0, 0)
	if err != nil {
		return nil, err
	}
	return WalkForward(ctx, s.cfg, candles, s.sources, s.isCryptoFn(), wf)
}

// MonteCarlo 对已完成 run 的成交序列做自举模拟。
func (s *Service) MonteCarlo(ctx context.Context, runID string, mc MonteCarloConfig) (*MonteCarloResult, error) {
	run, err := s.results.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	trades, err := s.results.ListTrades(ctx, runID, 2000)
	if err != nil {
		return nil, err
	}
	initial := run.Config.InitialCapital
	if initial <= 0 {
		initial = s.cfg.Backtest.InitialCapital
	}
	return MonteCarlo(trades, initial, mc)
}

// Optimize 基于存储里的收盘序列给出组合权重与调仓建议。
func (s *Service) Optimize(ctx context.Context, assets []string, timeframe string, current map[string]float64, equity float64) (optimizer.Result, []optimizer.TradeSuggestion, error) {
	candles, err := s.loadCandles(ctx, assets, timeframe, 0, 0)
	if err != nil {
		return optimizer.Result{}, nil, err
	}
	sorted := sortedAssets(candles)
	aligned, err := alignCandles(sorted, candles)
	if err != nil {
		return optimizer.Result{}, nil, err
	}
	series, err := optimizer.ReturnsFromCandles(sorted, aligned)
	if err != nil {
		return optimizer.Result{}, nil, err
	}
	result, err := optimizer.Optimize(optimizer.Input{
		Assets:          sorted,
		ExpectedReturns: series.AnnualizedMeans(),
		Covariance:      series.AnnualizedCovariance(),
		IsCrypto:        s.isCryptoFn(),
		Caps: optimizer.Caps{
			MaxPositionPct: s.cfg.Risk.MaxPositionPct,
			MaxCryptoPct:   s.cfg.Risk.MaxCryptoPct,
		},
		Objective:    optimizer.Objective(s.cfg.Optimizer.Objective),
		RiskFreeRate: s.cfg.Backtest.RiskFreeRate,
	})
	if err != nil {
		return optimizer.Result{}, nil, err
	}
	if equity <= 0 {
		equity = s.cfg.Backtest.InitialCapital
	}
	suggestions := optimizer.SuggestRebalance(current, result.Weights, equity, s.cfg.Optimizer.MinTradePct)
	return result, suggestions, nil
}

func (s *Service) normalizeRequest(req RunRequest) (RunConfig, error) {
	if len(req.Assets) == 0 {
		return RunConfig{}, fmt.Errorf("assets 不能为空")
	}
	assets := make([]string, 0, len(req.Assets))
	seen := make(map[string]struct{}, len(req.Assets))
	for _, a := range req.Assets {
		a = strings.ToUpper(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		assets = append(assets, a)
	}
	if len(assets) == 0 {
		return RunConfig{}, fmt.Errorf("assets 不能为空")
	}
	sort.Strings(assets)
	tf := strings.TrimSpace(req.Timeframe)
	if tf == "" {
		tf = defaultTimeframe
	}
	capital := req.InitialCapital
	if capital <= 0 {
		capital = s.cfg.Backtest.InitialCapital
	}
	return RunConfig{
		Assets:         assets,
		Timeframe:      tf,
		StartTS:        req.StartTS,
		EndTS:          req.EndTS,
		InitialCapital: capital,
		CommissionRate: s.cfg.Backtest.Commission.Rate,
		WarmupBars:     s.cfg.Backtest.WarmupBars,
		Notes:          strings.TrimSpace(req.Notes),
	}, nil
}

func (s *Service) loadCandles(ctx context.Context, assets []string, timeframe string, start, end int64) (map[string][]market.Candle, error) {
	if timeframe == "" {
		timeframe = defaultTimeframe
	}
	out := make(map[string][]market.Candle, len(assets))
	for _, asset := range assets {
		var (
			series []market.Candle
			err    error
		)
		if start > 0 || end > 0 {
			from, to := start, end
			if from <= 0 {
				from = 1
			}
			if to <= 0 {
				to = time.Now().UnixMilli()
			}
			series, err = s.store.RangeCandles(ctx, asset, timeframe, from, to)
		} else {
			series, err = s.store.ListAllCandles(ctx, asset, timeframe)
		}
		if err != nil {
			return nil, fmt.Errorf("读取 %s K 线失败: %w", asset, err)
		}
		if len(series) == 0 {
			return nil, fmt.Errorf("资产 %s 在请求区间内没有 K 线", asset)
		}
		out[strings.ToUpper(asset)] = series
	}
	return out, nil
}

func (s *Service) isCryptoFn() func(string) bool {
	if s.registry == nil {
		return func(string) bool { return false }
	}
	universe := s.registry.Current()
	if universe == nil {
		return func(string) bool { return false }
	}
	return universe.IsCrypto
}

func sortedAssets(candles map[string][]market.Candle) []string {
	out := make([]string, 0, len(candles))
	for asset := range candles {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}

// alignCandles 把各资产截到共同长度（尾部对齐），供协方差估计。
func alignCandles(assets []string, candles map[string][]market.Candle) (map[string][]market.Candle, error) {
	minLen := -1
	for _, a := range assets {
		if minLen == -1 || len(candles[a]) < minLen {
			minLen = len(candles[a])
		}
	}
	if minLen < 2 {
		return nil, fmt.Errorf("资产 K 线过短，无法估计协方差")
	}
	out := make(map[string][]market.Candle, len(assets))
	for _, a := range assets {
		series := candles[a]
		out[a] = series[len(series)-minLen:]
	}
	return out, nil
}
