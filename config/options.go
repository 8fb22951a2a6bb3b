package config

import (
	"github.com/spf13/pflag"

	"github.com/ceyewan/scoutquest/clog"
)

// Option 加载器选项
type Option func(*options)

type options struct {
	name      string
	paths     []string
	file      string
	envPrefix string
	flags     *pflag.FlagSet
	logger    clog.Logger
}

func defaultOptions() *options {
	return &options{
		name:      "scoutquest",
		paths:     []string{".", "./config", "/etc/scoutquest"},
		envPrefix: "SCOUTQUEST",
		logger:    clog.Discard(),
	}
}

// WithConfigFile 指定配置文件路径，跳过按名称搜索
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.file = path
	}
}

// WithConfigName 设置搜索的配置文件名（不含扩展名）
func WithConfigName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithConfigPaths 设置搜索路径，覆盖默认值
func WithConfigPaths(paths ...string) Option {
	return func(o *options) {
		o.paths = paths
	}
}

// WithEnvPrefix 设置环境变量前缀
func WithEnvPrefix(prefix string) Option {
	return func(o *options) {
		o.envPrefix = prefix
	}
}

// WithFlags 绑定已解析的命令行参数，优先级最高
func WithFlags(fs *pflag.FlagSet) Option {
	return func(o *options) {
		o.flags = fs
	}
}

// WithLogger 注入日志记录器，自动追加 "config" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("config")
		}
	}
}
