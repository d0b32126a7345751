package store

import (
	"context"
	"errors"
	"sync"

	"maru/internal/market"
)

// CandleCache 缓存各币种最近的 K 线，执行循环同一轮内多策略共用。
type CandleCache interface {
	Put(ctx context.Context, coin, interval string, cs []market.Candle, max int) error
	Get(ctx context.Context, coin, interval string) ([]market.Candle, error)
}

type MemoryCandleCache struct {
	shards []candleShard
}

type candleShard struct {
	mu   sync.RWMutex
	data map[string][]market.Candle
}

const defaultShardCount = 16

func NewMemoryCandleCache() *MemoryCandleCache {
	out := &MemoryCandleCache{
		shards: make([]candleShard, defaultShardCount),
	}
	for i := range out.shards {
		out.shards[i] = candleShard{data: make(map[string][]market.Candle)}
	}
	return out
}

func cacheKey(coin, interval string) string { return coin + "@" + interval }

func (s *MemoryCandleCache) shardFor(key string) *candleShard {
	idx := hashKey(key) % uint32(len(s.shards))
	return &s.shards[idx]
}

// Put 追加新 K 线，OpenTime 相同的覆盖最后一根，并裁剪到 max 根。
func (s *MemoryCandleCache) Put(ctx context.Context, coin, interval string, cs []market.Candle, max int) error {
	if coin == "" || interval == "" {
		return errors.New("coin/interval 不能为空")
	}
	if len(cs) == 0 {
		return nil
	}
	if max <= 0 {
		max = 100
	}
	k := cacheKey(coin, interval)
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur := sh.data[k]
	for _, candle := range cs {
		n := len(cur)
		if n > 0 && cur[n-1].OpenTime == candle.OpenTime {

			cur[n-1] = candle
			continue
		}
		cur = append(cur, candle)
	}
	if len(cur) > max {
		cur = cur[len(cur)-max:]
	}
	sh.data[k] = cur
	return nil
}

func (s *MemoryCandleCache) Get(ctx context.Context, coin, interval string) ([]market.Candle, error) {
	k := cacheKey(coin, interval)
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur := sh.data[k]
	out := make([]market.Candle, len(cur))
	copy(out, cur)
	return out, nil
}

func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
