// Package cache 基于 otter 的本地内存缓存，按写入时间过期。
//
// 客户端 SDK 用它缓存服务发现结果，注册中心短暂不可用时仍能返回最近一次的实例列表：
//
//	c, _ := cache.New[string, []*registry.ServiceInstance](&cache.Config{TTL: 30 * time.Second})
//	c.Set("user-service", instances)
//	instances, ok := c.Get("user-service")
package cache

import (
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"

	"github.com/ceyewan/scoutquest/xerrors"
)

// Config 缓存配置
type Config struct {
	// Capacity 最大条目数（默认：10000）
	Capacity int `json:"capacity" yaml:"capacity"`
	// TTL 条目自写入起的存活时间（默认：30s）
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

func (c *Config) setDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 10000
	}
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
}

// Stats 命中统计
type Stats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// Cache 类型安全的本地缓存
type Cache[K comparable, V any] struct {
	cache   *otter.Cache[K, V]
	counter *stats.Counter
	ttl     time.Duration
}

// New 创建缓存，cfg 为 nil 时使用默认配置
func New[K comparable, V any](cfg *Config, opts ...Option) (*Cache[K, V], error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	counter := stats.NewCounter()
	inner, err := otter.New(&otter.Options[K, V]{
		MaximumSize:      c.Capacity,
		StatsRecorder:    counter,
		ExpiryCalculator: otter.ExpiryWriting[K, V](c.TTL),
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "failed to build otter cache")
	}

	o.logger.Debug("cache created")
	return &Cache[K, V]{cache: inner, counter: counter, ttl: c.TTL}, nil
}

// Get 读取未过期的条目
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.cache.GetIfPresent(key)
}

// Set 写入条目，使用默认 TTL
func (c *Cache[K, V]) Set(key K, value V) {
	c.cache.Set(key, value)
}

// SetWithTTL 写入条目并覆盖 TTL
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.cache.Set(key, value)
	if ttl > 0 {
		c.cache.SetExpiresAfter(key, ttl)
	}
}

// Delete 删除条目
func (c *Cache[K, V]) Delete(key K) {
	c.cache.Invalidate(key)
}

// Clear 清空缓存
func (c *Cache[K, V]) Clear() {
	c.cache.InvalidateAll()
}

// TTL 默认存活时间
func (c *Cache[K, V]) TTL() time.Duration {
	return c.ttl
}

// Stats 返回命中统计
func (c *Cache[K, V]) Stats() Stats {
	snap := c.counter.Snapshot()
	return Stats{
		Hits:   snap.Hits,
		Misses: snap.Misses,
		Size:   c.cache.EstimatedSize(),
	}
}

// Close 停止后台协程
func (c *Cache[K, V]) Close() error {
	c.cache.StopAllGoroutines()
	return nil
}
