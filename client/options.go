package client

import (
	"net/http"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/metrics"
)

// Option 客户端选项
type Option func(*options)

type options struct {
	logger     clog.Logger
	meter      metrics.Meter
	httpClient *http.Client
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
}

// WithLogger 注入日志记录器，自动追加 "scoutquest" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("scoutquest")
		}
	}
}

// WithMeter 注入指标，熔断器与请求计数使用
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithHTTPClient 替换底层 HTTP 客户端，Timeout 配置不再生效
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}
