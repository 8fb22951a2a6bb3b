// Package breaker 基于 gobreaker 的熔断器，按键（通常是注册中心地址）独立熔断。
//
// 客户端 SDK 用它保护对注册中心的调用：注册中心持续不可用时快速失败，
// 由上层回退到本地缓存，超时后进入半开状态探测恢复。
//
//	brk, _ := breaker.New(&breaker.Config{Timeout: 30 * time.Second}, breaker.WithLogger(logger))
//	v, err := brk.Execute(ctx, "http://registry:8080", func() (any, error) { ... })
package breaker

import (
	"context"
	"time"
)

// Breaker 熔断器核心接口
type Breaker interface {
	// Execute 执行受熔断保护的函数，熔断打开时返回 ErrOpenState 或降级结果
	Execute(ctx context.Context, key string, fn func() (any, error)) (any, error)

	// State 获取指定键的熔断器状态，未使用过的键视为 closed
	State(key string) (State, error)
}

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String 返回状态的字符串表示
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// MaxRequests 半开状态下允许通过的最大请求数（默认：1）
	MaxRequests uint32 `json:"max_requests" yaml:"max_requests"`

	// Interval 闭合状态下的统计周期，0 表示不清空统计
	Interval time.Duration `json:"interval" yaml:"interval"`

	// Timeout 打开状态持续时间（默认：60s），超时后进入半开状态
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// FailureRatio 失败率阈值（默认：0.6）
	FailureRatio float64 `json:"failure_ratio" yaml:"failure_ratio"`

	// MinimumRequests 触发熔断的最小请求数（默认：10）
	MinimumRequests uint32 `json:"minimum_requests" yaml:"minimum_requests"`
}

func (c *Config) setDefaults() {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.FailureRatio <= 0 || c.FailureRatio > 1 {
		c.FailureRatio = 0.6
	}
	if c.MinimumRequests == 0 {
		c.MinimumRequests = 10
	}
}

// New 创建熔断器实例，cfg 为 nil 时使用默认配置
func New(cfg *Config, opts ...Option) (Breaker, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return newBreaker(c, o)
}
