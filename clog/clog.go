// Package clog 为 ScoutQuest 提供基于 slog 的结构化日志组件。
//
// 组件通过 WithLogger 选项注入 Logger，并各自追加命名空间（如 "registry"、"health"），
// 便于在日志中区分来源：
//
//	logger, _ := clog.New(&clog.Config{Level: "info", Format: "json"})
//	logger.WithNamespace("health").Info("probe failed", clog.String("instance_id", id))
//
// 日志级别可在运行时通过 SetLevel 调整，配置热更新依赖这一能力。
package clog

import "fmt"

// New 创建一个新的 Logger 实例
//
// config 为 nil 时使用 NewDevDefaultConfig 的开发配置。
func New(config *Config, opts ...Option) (Logger, error) {
	if config == nil {
		config = NewDevDefaultConfig()
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return newLogger(config, applyOptions(opts...))
}

// Must 类似 New，出错时 panic，仅用于初始化阶段
func Must(config *Config, opts ...Option) Logger {
	l, err := New(config, opts...)
	if err != nil {
		panic(err)
	}
	return l
}
