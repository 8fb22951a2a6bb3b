package server

import (
	"github.com/ceyewan/scoutquest/access"
	"github.com/ceyewan/scoutquest/auth"
	"github.com/ceyewan/scoutquest/balancer"
	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/eventbus"
	"github.com/ceyewan/scoutquest/metrics"
	"github.com/ceyewan/scoutquest/ratelimit"
)

// Info /info 返回的静态信息
type Info struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// Option 服务器选项
type Option func(*options)

type options struct {
	logger    clog.Logger
	meter     metrics.Meter
	balancer  *balancer.Balancer
	bus       *eventbus.Bus
	access    *access.Filter
	auth      *auth.Authenticator
	limiter   ratelimit.Limiter
	limit     ratelimit.Limit
	traceName string
	info      Info
	features  map[string]bool
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		info: Info{
			Name:        "ScoutQuest Server",
			Version:     "dev",
			Description: "Universal Service Discovery for microservices",
		},
		features: map[string]bool{},
	}
}

// WithLogger 注入日志记录器，自动追加 "server" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("server")
		}
	}
}

// WithMeter 启用 HTTP RED 指标，并在 Config.MetricsPath 暴露 Prometheus 指标
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

// WithBalancer 替换负载均衡器
func WithBalancer(b *balancer.Balancer) Option {
	return func(o *options) {
		o.balancer = b
	}
}

// WithEventBus 启用 /ws 事件推送
func WithEventBus(b *eventbus.Bus) Option {
	return func(o *options) {
		o.bus = b
	}
}

// WithAccessFilter 启用网络访问策略
func WithAccessFilter(f *access.Filter) Option {
	return func(o *options) {
		o.access = f
	}
}

// WithAuthenticator 启用 API Key / JWT 认证
func WithAuthenticator(a *auth.Authenticator) Option {
	return func(o *options) {
		o.auth = a
	}
}

// WithRateLimiter 按客户端地址限流
func WithRateLimiter(l ratelimit.Limiter, limit ratelimit.Limit) Option {
	return func(o *options) {
		o.limiter = l
		o.limit = limit
	}
}

// WithTracing 启用 otelgin 链路追踪
func WithTracing(serviceName string) Option {
	return func(o *options) {
		o.traceName = serviceName
	}
}

// WithInfo 设置 /info 中的名称与版本
func WithInfo(info Info) Option {
	return func(o *options) {
		if info.Name != "" {
			o.info.Name = info.Name
		}
		if info.Version != "" {
			o.info.Version = info.Version
		}
		if info.Description != "" {
			o.info.Description = info.Description
		}
	}
}

// WithFeature 在 /info 中声明已启用的功能
func WithFeature(name string, enabled bool) Option {
	return func(o *options) {
		o.features[name] = enabled
	}
}
