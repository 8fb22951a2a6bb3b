package auth

import (
	"time"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/metrics"
)

// Option 配置选项函数
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	now    func() time.Time
}

// defaultOptions 创建默认选项，使用 Discard() 作为空实现
func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		now:    time.Now,
	}
}

// WithLogger 注入日志记录器，自动添加 "auth" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("auth")
		}
	}
}

// WithMeter 注入指标 Meter
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithClock 替换时间源，影响签发时间与过期校验
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
