// Package config 加载 ScoutQuest 服务端配置。
//
// 来源按优先级从低到高：内置默认值 < 配置文件 < .env / 环境变量（SCOUTQUEST_ 前缀）< 命令行参数。
//
//	fs := pflag.NewFlagSet("scoutquest", pflag.ExitOnError)
//	config.RegisterFlags(fs)
//	_ = fs.Parse(os.Args[1:])
//
//	loader := config.New(config.WithFlags(fs))
//	cfg, err := loader.Load(ctx)
//
// 环境变量名由配置键转换而来，"." 替换为 "_"，例如 health_check.max_failures
// 对应 SCOUTQUEST_HEALTH_CHECK_MAX_FAILURES；列表使用逗号分隔。
package config

import "time"

// AppConfig 服务端完整配置
type AppConfig struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Security    SecurityConfig    `mapstructure:"security"`
	Network     NetworkConfig     `mapstructure:"network"`
	TLS         TLSConfig         `mapstructure:"tls"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Trace       TraceConfig       `mapstructure:"trace"`
	Events      EventsConfig      `mapstructure:"events"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	EnableCORS      bool          `mapstructure:"enable_cors"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json pretty console"`
}

// HealthCheckConfig 健康检查的全局默认值，实例未声明时使用
type HealthCheckConfig struct {
	IntervalSeconds     int           `mapstructure:"interval_seconds" validate:"min=1"`
	TimeoutSeconds      int           `mapstructure:"timeout_seconds" validate:"min=1"`
	MaxFailures         int           `mapstructure:"max_failures" validate:"min=1"`
	MaxConcurrentProbes int           `mapstructure:"max_concurrent_probes" validate:"min=1"`
	TickInterval        time.Duration `mapstructure:"tick_interval" validate:"min=1ms"`
	// EvictAfterSeconds 实例持续 Down 超过该时长后被移除，0 表示不移除
	EvictAfterSeconds int `mapstructure:"evict_after_seconds" validate:"min=0"`
}

type RegistryConfig struct {
	// InitialStatus 新注册实例的初始状态
	InitialStatus string `mapstructure:"initial_status" validate:"oneof=Up Starting"`
}

type SecurityConfig struct {
	EnableAuth         bool   `mapstructure:"enable_auth"`
	APIKey             string `mapstructure:"api_key"`
	JWTSecret          string `mapstructure:"jwt_secret"`
	RateLimitPerMinute int    `mapstructure:"rate_limit_per_minute" validate:"min=0"`
}

type NetworkConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	AllowedCIDRs      []string `mapstructure:"allowed_cidrs"`
	DeniedCIDRs       []string `mapstructure:"denied_cidrs"`
	DenyAction        string   `mapstructure:"deny_action" validate:"oneof=reject log_only"`
	TrustProxyHeaders bool     `mapstructure:"trust_proxy_headers"`
}

type TLSConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CertDir      string `mapstructure:"cert_dir"`
	CertPath     string `mapstructure:"cert_path"`
	KeyPath      string `mapstructure:"key_path"`
	AutoGenerate bool   `mapstructure:"auto_generate"`
	VerifyPeer   bool   `mapstructure:"verify_peer"`
	MinVersion   string `mapstructure:"min_version" validate:"oneof=1.0 1.1 1.2 1.3"`
	MaxVersion   string `mapstructure:"max_version" validate:"oneof=1.0 1.1 1.2 1.3"`
	RedirectHTTP bool   `mapstructure:"redirect_http"`
	HTTPPort     int    `mapstructure:"http_port" validate:"min=1,max=65535"`
}

type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	Path        string `mapstructure:"path" validate:"startswith=/"`
	Runtime     bool   `mapstructure:"runtime"`
}

type TraceConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	Sampler     float64 `mapstructure:"sampler" validate:"min=0,max=1"`
	Insecure    bool    `mapstructure:"insecure"`
}

type EventsConfig struct {
	QueueSize int        `mapstructure:"queue_size" validate:"min=1"`
	NATS      NATSConfig `mapstructure:"nats"`
}

// NATSConfig 事件转发到 NATS，URL 为空时不启用
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// defaults 与上游实现保持一致的默认值
var defaults = map[string]any{
	"server.host":             "0.0.0.0",
	"server.port":             8080,
	"server.enable_cors":      true,
	"server.cors_origins":     []string{"*"},
	"server.read_timeout":     "15s",
	"server.write_timeout":    "15s",
	"server.shutdown_timeout": "10s",

	"logging.level":  "info",
	"logging.format": "pretty",

	"health_check.interval_seconds":      30,
	"health_check.timeout_seconds":       10,
	"health_check.max_failures":          3,
	"health_check.max_concurrent_probes": 32,
	"health_check.tick_interval":         "1s",
	"health_check.evict_after_seconds":   300,

	"registry.initial_status": "Up",

	"security.enable_auth":           false,
	"security.api_key":               "",
	"security.jwt_secret":            "",
	"security.rate_limit_per_minute": 1000,

	"network.enabled":             false,
	"network.allowed_cidrs":       []string{},
	"network.denied_cidrs":        []string{},
	"network.deny_action":         "reject",
	"network.trust_proxy_headers": false,

	"tls.enabled":       false,
	"tls.cert_dir":      "/etc/certs",
	"tls.cert_path":     "",
	"tls.key_path":      "",
	"tls.auto_generate": true,
	"tls.verify_peer":   true,
	"tls.min_version":   "1.2",
	"tls.max_version":   "1.3",
	"tls.redirect_http": false,
	"tls.http_port":     3001,

	"metrics.enabled":      true,
	"metrics.service_name": "scoutquest",
	"metrics.version":      "dev",
	"metrics.path":         "/metrics",
	"metrics.runtime":      true,

	"trace.enabled":      false,
	"trace.service_name": "scoutquest",
	"trace.endpoint":     "",
	"trace.sampler":      1.0,
	"trace.insecure":     true,

	"events.queue_size":          256,
	"events.nats.url":            "",
	"events.nats.subject_prefix": "scoutquest.events",
}
