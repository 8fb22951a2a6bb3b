package health

import "time"

// Config 健康检查的全局参数，实例声明的 interval/timeout 优先
type Config struct {
	// IntervalSeconds 默认探测间隔，也是心跳过期判定的基准
	IntervalSeconds int `mapstructure:"interval_seconds"`
	// TimeoutSeconds 默认单次探测超时
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// MaxFailures 连续失败多少次后标记为 Down
	MaxFailures int `mapstructure:"max_failures"`
	// MaxConcurrentProbes 同时进行的探测请求上限
	MaxConcurrentProbes int `mapstructure:"max_concurrent_probes"`
	// TickInterval 调度周期
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// EvictAfterSeconds 持续 Down 超过该时长的实例被移除，0 表示不移除
	EvictAfterSeconds int `mapstructure:"evict_after_seconds"`
}

// NewDefaultConfig 返回默认配置，Down 超过 5 分钟的实例被驱逐
func NewDefaultConfig() *Config {
	c := &Config{EvictAfterSeconds: 300}
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = 30
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 5
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.MaxConcurrentProbes <= 0 {
		c.MaxConcurrentProbes = 32
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.EvictAfterSeconds < 0 {
		c.EvictAfterSeconds = 0
	}
}
