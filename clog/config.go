package clog

import (
	"fmt"
	"strings"
)

// TimeFormat 日志时间戳格式
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Config 日志配置
//
//	Level:  debug|info|warn|error|fatal
//	Format: json|console（兼容 pretty，等价于 console）
//	Output: stdout|stderr|文件路径
type Config struct {
	Level     string `json:"level" yaml:"level" mapstructure:"level"`
	Format    string `json:"format" yaml:"format" mapstructure:"format"`
	Output    string `json:"output" yaml:"output" mapstructure:"output"`
	AddSource bool   `json:"add_source" yaml:"add_source" mapstructure:"add_source"`
}

// NewDevDefaultConfig 开发环境默认配置：debug 级别、console 格式、输出到 stderr
func NewDevDefaultConfig() *Config {
	return &Config{
		Level:  "debug",
		Format: "console",
		Output: "stderr",
	}
}

// NewProdDefaultConfig 生产环境默认配置：info 级别、json 格式、输出到 stdout
func NewProdDefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}
}

// validate 填充默认值并校验配置
func (c *Config) validate() error {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.Output == "" {
		c.Output = "stdout"
	}

	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}

	switch strings.ToLower(c.Format) {
	case "json", "console", "pretty":
	default:
		return fmt.Errorf("invalid format: %s, must be json or console", c.Format)
	}
	return nil
}
