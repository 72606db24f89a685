package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"kestrel/internal/backtest"
	kcfg "kestrel/internal/config"
	"kestrel/internal/logger"
	"kestrel/internal/market"
	ksig "kestrel/internal/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("KESTREL_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	cfg, err := kcfg.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s）", cfg.App.Env)

	store, err := market.NewStore(cfg.Data.Root)
	if err != nil {
		log.Fatalf("打开 K 线存储失败: %v", err)
	}
	defer store.Close()

	results, err := backtest.NewResultStore(cfg.Data.ResultsPath)
	if err != nil {
		log.Fatalf("打开结果库失败: %v", err)
	}
	defer results.Close()

	registry, err := market.NewUniverseRegistry(cfg.Data.UniversePath)
	if err != nil {
		log.Fatalf("加载资产清单失败: %v", err)
	}
	defer registry.Close()

	providers := make(map[ksig.Source]ksig.OpinionProvider)
	if dir := strings.TrimSpace(cfg.Data.OpinionsDir); dir != "" {
		for _, src := range []ksig.Source{ksig.SourceSentiment, ksig.SourceML} {
			p, err := ksig.LoadFileOpinions(dir, src)
			if err != nil {
				log.Fatalf("加载 %s 观点失败: %v", src, err)
			}
			providers[src] = p
		}
	}

	svc, err := backtest.NewService(backtest.ServiceConfig{
		Config:    cfg,
		Store:     store,
		Results:   results,
		Registry:  registry,
		Providers: providers,
	})
	if err != nil {
		log.Fatalf("初始化回测服务失败: %v", err)
	}
	svc.SetContext(ctx)

	server, err := backtest.NewHTTPServer(backtest.HTTPConfig{
		Addr:    cfg.App.HTTPAddr,
		Svc:     svc,
		Results: results,
		Source:  market.NewBinanceSource(cfg.Data.BinanceURL),
		Store:   store,
	})
	if err != nil {
		log.Fatalf("初始化 HTTP 服务失败: %v", err)
	}
	logger.Infof("kestrel 启动，HTTP 监听 %s", cfg.App.HTTPAddr)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
