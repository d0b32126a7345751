// Package registry 维护策略种子文件：启动时把库里没有的模板插成停用配置，
// 文件变更时热加载并通知订阅方。
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"maru/internal/config"
	"maru/internal/logger"
	"maru/internal/pkg/symbol"
	"maru/internal/store"
	"maru/internal/store/model"
	"maru/internal/strategy"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
)

// Seed 描述种子文件里的一条策略模板。
type Seed struct {
	Name           string         `yaml:"name"`
	Coin           string         `yaml:"coin"`
	Kind           string         `yaml:"kind"`
	Params         map[string]any `yaml:"params"`
	TradeAmount    float64        `yaml:"trade_amount"`
	TradeAmountKRW float64        `yaml:"trade_amount_krw"`
	ProfitTarget   float64        `yaml:"profit_target"`
	StopLoss       float64        `yaml:"stop_loss"`
	MaxBuyAmount   float64        `yaml:"max_buy_amount"`
}

type fileConfig struct {
	Strategies []Seed `yaml:"strategies"`
}

// Snapshot 是某一次加载成功后的种子集合。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Seeds    []Seed
}

// ChangeListener 在 registry 重载成功时触发。
type ChangeListener func(Snapshot)

// Registry 管理策略种子文件。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 读取种子文件，按配置决定是否监听后续修改。
func NewRegistry(cfg config.RegistryConfig) (*Registry, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("strategy registry requires path")
	}
	r := &Registry{path: path}
	if err := r.reload(); err != nil {
		return nil, err
	}
	if cfg.Watch {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read strategy seed file failed: %w", err)
		}
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := r.Reload(); err != nil {
				logger.Errorf("[registry] strategy seed reload failed: %v", err)
			}
		})
		v.WatchConfig()
		r.v = v
	}
	return r, nil
}

// Snapshot 返回当前种子集合的副本。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Subscribe 注册重载回调，回调在独立 goroutine 中执行。
func (r *Registry) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Reload 重新读取种子文件并在成功后通知订阅方。
// 失败时保留上一份快照。
func (r *Registry) Reload() error {
	if err := r.reload(); err != nil {
		return err
	}
	r.notifyListeners()
	return nil
}

func (r *Registry) reload() error {
	cfg, err := readSeedFile(r.path)
	if err != nil {
		return err
	}
	seeds := make([]Seed, 0, len(cfg.Strategies))
	names := make(map[string]bool, len(cfg.Strategies))
	for i, seed := range cfg.Strategies {
		norm, err := normalizeSeed(seed)
		if err != nil {
			return fmt.Errorf("seed #%d: %w", i+1, err)
		}
		if names[norm.Name] {
			return fmt.Errorf("duplicate seed name: %s", norm.Name)
		}
		names[norm.Name] = true
		seeds = append(seeds, norm)
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Seeds:    seeds,
	}
	r.mu.Unlock()
	logger.Infof("[registry] loaded %d strategy seeds from %s", len(seeds), filepath.Base(r.path))
	return nil
}

// SeedStore 把库里还没有的模板插入为停用状态的策略配置，返回新插入的条数。
// 已存在的同名配置不会被覆盖。
func (r *Registry) SeedStore(ctx context.Context, st store.Store) (int, error) {
	snap := r.Snapshot()
	if len(snap.Seeds) == 0 {
		return 0, nil
	}
	uow, err := st.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin seed transaction failed: %w", err)
	}
	defer uow.Rollback()

	inserted := 0
	for _, seed := range snap.Seeds {
		existing, err := uow.Configs().FindByName(ctx, seed.Name)
		if err != nil {
			return 0, fmt.Errorf("lookup seed %s failed: %w", seed.Name, err)
		}
		if existing != nil {
			continue
		}
		raw, err := json.Marshal(seed.mergedParams())
		if err != nil {
			return 0, fmt.Errorf("encode seed %s params failed: %w", seed.Name, err)
		}
		cfg := &model.StrategyConfigModel{
			Name:         seed.Name,
			Coin:         seed.Coin,
			Kind:         seed.Kind,
			ParamsJSON:   datatypes.JSON(raw),
			MaxBuyAmount: seed.MaxBuyAmount,
			Enabled:      false,
		}
		if err := uow.Configs().Save(ctx, cfg); err != nil {
			return 0, fmt.Errorf("insert seed %s failed: %w", seed.Name, err)
		}
		inserted++
	}
	if err := uow.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed transaction failed: %w", err)
	}
	if inserted > 0 {
		logger.Infof("[registry] seeded %d new strategy configs (disabled)", inserted)
	}
	return inserted, nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("strategy seed listener")
			cb(snap)
		}(fn)
	}
}

func normalizeSeed(seed Seed) (Seed, error) {
	seed.Name = strings.TrimSpace(seed.Name)
	if seed.Name == "" {
		return Seed{}, fmt.Errorf("strategy seed requires name")
	}
	seed.Coin = symbol.NormalizeCoin(seed.Coin)
	if seed.Coin == "" {
		return Seed{}, fmt.Errorf("seed %s requires coin", seed.Name)
	}
	seed.Kind = strings.ToLower(strings.TrimSpace(seed.Kind))
	if err := strategy.ValidateParams(seed.Kind, seed.mergedParams()); err != nil {
		return Seed{}, fmt.Errorf("seed %s: %w", seed.Name, err)
	}
	return seed, nil
}

// mergedParams 把执行面字段并进参数包，校验与持久化都用这一份。
func (s Seed) mergedParams() strategy.Params {
	out := make(strategy.Params, len(s.Params)+4)
	for k, v := range s.Params {
		out[k] = v
	}
	if s.TradeAmount != 0 {
		out["trade_amount"] = s.TradeAmount
	}
	if s.TradeAmountKRW != 0 {
		out["trade_amount_krw"] = s.TradeAmountKRW
	}
	if s.ProfitTarget != 0 {
		out["profit_target"] = s.ProfitTarget
	}
	if s.StopLoss != 0 {
		out["stop_loss"] = s.StopLoss
	}
	return out
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := src
	dst.Seeds = append([]Seed(nil), src.Seeds...)
	return dst
}

func safeRecover(tag string) {
	if rec := recover(); rec != nil {
		logger.Errorf("%s panic: %v", tag, rec)
	}
}

func readSeedFile(path string) (fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read strategy seed file failed: %w", err)
	}
	var cfg fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		// 空文件等价于没有种子。
		if errors.Is(err, io.EOF) {
			return fileConfig{}, nil
		}
		return fileConfig{}, fmt.Errorf("parse strategy seed file failed: %w", err)
	}
	return cfg, nil
}
