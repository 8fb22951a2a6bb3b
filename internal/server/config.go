package server

import "time"

// Config API 服务器配置
type Config struct {
	Host            string
	Port            int
	EnableCORS      bool
	CORSOrigins     []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// MetricsPath 非空且注入了 Meter 时挂载 Prometheus 指标
	MetricsPath string

	TLS TLSConfig
}

// TLSConfig HTTPS 配置
type TLSConfig struct {
	Enabled  bool
	CertDir  string
	CertPath string
	KeyPath  string
	// AutoGenerate 不生成证书，只影响证书缺失时的错误提示
	AutoGenerate bool
	VerifyPeer   bool
	MinVersion   string
	MaxVersion   string
	RedirectHTTP bool
	HTTPPort     int
}

func (c *Config) setDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.TLS.CertDir == "" {
		c.TLS.CertDir = "/etc/certs"
	}
	if c.TLS.MinVersion == "" {
		c.TLS.MinVersion = "1.2"
	}
	if c.TLS.MaxVersion == "" {
		c.TLS.MaxVersion = "1.3"
	}
	if c.TLS.HTTPPort == 0 {
		c.TLS.HTTPPort = 3001
	}
}
