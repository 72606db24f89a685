package market

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"kestrel/internal/logger"
)

// AssetClass 区分股票与加密资产，加密资产受总仓位上限约束。
type AssetClass string

const (
	ClassStock  AssetClass = "stock"
	ClassCrypto AssetClass = "crypto"
)

// Asset 是资产清单中的一个条目。
type Asset struct {
	Symbol string     `yaml:"symbol"`
	Class  AssetClass `yaml:"class"`
	Name   string     `yaml:"name,omitempty"`
}

// Universe 是一次加载的资产清单快照，加载后不可变。
type Universe struct {
	Assets   []Asset
	LoadedAt time.Time

	bySymbol map[string]Asset
}

type universeFile struct {
	Assets []Asset `yaml:"assets"`
}

// LoadUniverse 从 YAML 读取资产清单。
func LoadUniverse(path string) (*Universe, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read universe failed: %w", err)
	}
	var file universeFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse universe failed: %w", err)
	}
	if len(file.Assets) == 0 {
		return nil, fmt.Errorf("universe %s 未配置任何资产", path)
	}
	u := &Universe{
		Assets:   make([]Asset, 0, len(file.Assets)),
		LoadedAt: time.Now(),
		bySymbol: make(map[string]Asset, len(file.Assets)),
	}
	for _, a := range file.Assets {
		sym := strings.ToUpper(strings.TrimSpace(a.Symbol))
		if sym == "" {
			return nil, fmt.Errorf("universe 含空 symbol 条目")
		}
		switch a.Class {
		case ClassStock, ClassCrypto:
		case "":
			a.Class = ClassStock
		default:
			return nil, fmt.Errorf("asset %s class 未知: %s", sym, a.Class)
		}
		if _, dup := u.bySymbol[sym]; dup {
			return nil, fmt.Errorf("universe 含重复 symbol: %s", sym)
		}
		a.Symbol = sym
		u.Assets = append(u.Assets, a)
		u.bySymbol[sym] = a
	}
	sort.Slice(u.Assets, func(i, j int) bool { return u.Assets[i].Symbol < u.Assets[j].Symbol })
	return u, nil
}

// ClassOf 返回资产类别，未登记的 symbol 按股票处理。
func (u *Universe) ClassOf(symbol string) AssetClass {
	if u == nil {
		return ClassStock
	}
	if a, ok := u.bySymbol[strings.ToUpper(symbol)]; ok {
		return a.Class
	}
	return ClassStock
}

func (u *Universe) IsCrypto(symbol string) bool {
	return u.ClassOf(symbol) == ClassCrypto
}

// Symbols 返回固定排序的 symbol 列表，保证回测遍历顺序可复现。
func (u *Universe) Symbols() []string {
	out := make([]string, len(u.Assets))
	for i, a := range u.Assets {
		out[i] = a.Symbol
	}
	return out
}

// UniverseRegistry 持有当前 universe 并监听文件更新。
// 仅供常驻 HTTP 服务使用；单次回测持有启动时的快照，不受重载影响。
type UniverseRegistry struct {
	path string

	mu       sync.RWMutex
	current  *Universe
	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewUniverseRegistry(path string) (*UniverseRegistry, error) {
	u, err := LoadUniverse(path)
	if err != nil {
		return nil, err
	}
	r := &UniverseRegistry{path: path, current: u, stopCh: make(chan struct{})}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("universe watcher 创建失败，热更新关闭: %v", err)
		return r, nil
	}
	if err := watcher.Add(path); err != nil {
		logger.Warnf("universe watcher 监听失败，热更新关闭: %v", err)
		_ = watcher.Close()
		return r, nil
	}
	r.watcher = watcher
	go r.watchLoop()
	return r, nil
}

// Current 返回当前快照。
func (r *UniverseRegistry) Current() *Universe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *UniverseRegistry) Close() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		if r.watcher != nil {
			_ = r.watcher.Close()
		}
	})
}

func (r *UniverseRegistry) watchLoop() {
	for {
		select {
		case <-r.stopCh:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			u, err := LoadUniverse(r.path)
			if err != nil {
				logger.Warnf("universe 重载失败，保留旧版本: %v", err)
				continue
			}
			r.mu.Lock()
			r.current = u
			r.mu.Unlock()
			logger.Infof("universe 已重载：%d 个资产", len(u.Assets))
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("universe watcher 错误: %v", err)
		}
	}
}
