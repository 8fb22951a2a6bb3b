package metrics

// Config 指标配置
//
//	metrics:
//	  enabled: true
//	  service_name: "scoutquest"
//	  version: "v0.3.0"
//	  path: "/metrics"
type Config struct {
	// Enabled 为 false 时 New 返回 noop Meter
	Enabled bool `mapstructure:"enabled"`

	// ServiceName 写入 OTel Resource 的 service.name
	ServiceName string `mapstructure:"service_name"`

	// Version 写入 OTel Resource 的 service.version
	Version string `mapstructure:"version"`

	// Path 指标暴露路径，由 API 服务器挂载到同一端口
	Path string `mapstructure:"path"`

	// Runtime 是否采集 Go 运行时指标（goroutine、GC、内存）
	Runtime bool `mapstructure:"runtime"`
}

// NewDevDefaultConfig 开发/测试用配置：启用指标，不采集运行时指标
func NewDevDefaultConfig(serviceName string) *Config {
	return &Config{
		Enabled:     true,
		ServiceName: serviceName,
		Version:     "dev",
		Path:        "/metrics",
	}
}
