package cache

import (
	"github.com/ceyewan/scoutquest/clog"
)

// Option 缓存组件选项函数
type Option func(*options)

type options struct {
	logger clog.Logger
}

func defaultOptions() *options {
	return &options{logger: clog.Discard()}
}

// WithLogger 注入日志记录器，自动追加 "cache" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("cache")
		}
	}
}
