// Package ratelimit 基于令牌桶的单机限流组件。
//
// 每个限流键（通常是客户端地址）持有一个 golang.org/x/time/rate.Limiter，
// 空闲超过 IdleTimeout 的键会被后台清理：
//
//	limiter, _ := ratelimit.New(nil, ratelimit.WithLogger(logger))
//	defer limiter.Close()
//
//	r.Use(ratelimit.GinMiddleware(limiter, nil, ratelimit.Fixed(ratelimit.PerMinute(600))))
package ratelimit

import (
	"context"
	"time"
)

// Limit 令牌桶规则
type Limit struct {
	Rate  float64 // 每秒生成的令牌数
	Burst int     // 桶容量
}

// Valid 规则是否有效
func (l Limit) Valid() bool {
	return l.Rate > 0 && l.Burst > 0
}

// PerMinute 每分钟 n 个请求，允许一次性突发 n 个
func PerMinute(n int) Limit {
	if n <= 0 {
		return Limit{}
	}
	return Limit{Rate: float64(n) / 60, Burst: n}
}

// Limiter 限流器
type Limiter interface {
	// Allow 尝试获取 1 个令牌，不阻塞
	Allow(ctx context.Context, key string, limit Limit) (bool, error)
	// AllowN 尝试获取 n 个令牌，不阻塞
	AllowN(ctx context.Context, key string, limit Limit, n int) (bool, error)
	// Close 停止后台清理
	Close() error
}

// Config 限流器配置
type Config struct {
	// CleanupInterval 清理空闲键的间隔（默认 1 分钟）
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	// IdleTimeout 键空闲多久后被清理（默认 5 分钟）
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

func (c *Config) setDefaults() {
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
}

// New 创建单机限流器，cfg 为 nil 时使用默认配置
func New(cfg *Config, opts ...Option) (Limiter, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return newStandalone(c, o)
}
