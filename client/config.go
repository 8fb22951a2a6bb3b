package client

import (
	"time"

	"github.com/ceyewan/scoutquest/breaker"
	"github.com/ceyewan/scoutquest/cache"
)

// Config 客户端配置
type Config struct {
	// BaseURL 注册中心地址，如 http://localhost:8080
	BaseURL string `mapstructure:"base_url"`
	// APIKey 注册中心开启认证时使用，通过 X-API-Key 发送
	APIKey string `mapstructure:"api_key"`

	// Timeout 单次 HTTP 请求超时（默认：10s）
	Timeout time.Duration `mapstructure:"timeout"`
	// HeartbeatInterval 心跳间隔（默认：30s）
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// CacheTTL 发现结果的本地缓存时间（默认：30s），注册中心不可达时返回缓存
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// MaxAttempts 网络错误的最大尝试次数（默认：3）
	MaxAttempts uint `mapstructure:"max_attempts"`
	// InitialBackoff 首次重试等待（默认：200ms），之后指数增长
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	// MaxBackoff 单次重试最长等待（默认：5s）
	MaxBackoff time.Duration `mapstructure:"max_backoff"`

	Breaker breaker.Config `mapstructure:"breaker"`
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
}

func (c *Config) cacheConfig() *cache.Config {
	return &cache.Config{TTL: c.CacheTTL}
}
