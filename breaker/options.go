package breaker

import (
	"context"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

// FallbackFunc 熔断打开时的降级函数，返回 nil 表示降级成功
type FallbackFunc func(ctx context.Context, key string, err error) (any, error)

type options struct {
	logger   clog.Logger
	meter    metrics.Meter
	fallback FallbackFunc
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
}

// WithLogger 设置 Logger，自动添加 "breaker" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("breaker")
		}
	}
}

// WithMeter 设置 Meter
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithFallback 设置降级函数
//
//	brk, _ := breaker.New(cfg, breaker.WithFallback(func(ctx context.Context, key string, err error) (any, error) {
//		return cache.Get(key)
//	}))
func WithFallback(fallback FallbackFunc) Option {
	return func(o *options) {
		o.fallback = fallback
	}
}
