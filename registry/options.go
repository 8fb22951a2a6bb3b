package registry

import (
	"time"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/idgen"
	"github.com/ceyewan/scoutquest/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	sink   EventSink
	ids    idgen.Generator
	now    func() time.Time
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		sink:   NopSink{},
		ids:    idgen.UUID("v4"),
		now:    time.Now,
	}
}

// WithLogger 注入日志记录器，自动追加 "registry" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("registry")
		}
	}
}

// WithMeter 注入指标
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithEventSink 设置事件接收方，通常是 eventbus.Bus
func WithEventSink(s EventSink) Option {
	return func(o *options) {
		if s != nil {
			o.sink = s
		}
	}
}

// WithIDGenerator 替换实例 ID 生成器
func WithIDGenerator(g idgen.Generator) Option {
	return func(o *options) {
		if g != nil {
			o.ids = g
		}
	}
}

// WithClock 替换时间源，测试中用于推进时间
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
