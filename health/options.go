package health

import (
	"net/http"
	"time"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/metrics"
)

// Option 选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	client *http.Client
	now    func() time.Time
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		client: &http.Client{
			// 超时由每次探测的 context 控制
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
		now: time.Now,
	}
}

// WithLogger 注入日志记录器，自动追加 "health" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("health")
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

// WithHTTPClient 替换探测使用的 HTTP 客户端
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.client = c
		}
	}
}

// WithClock 替换时间源，应与 Store 使用同一时钟
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
