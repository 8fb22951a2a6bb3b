package clog

import "context"

// Logger 结构化日志接口
//
// 每个级别都有带 Context 和不带 Context 的版本。With 追加固定字段，
// WithNamespace 追加命名空间，二者都返回新的子 Logger，不影响父 Logger。
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	DebugContext(ctx context.Context, msg string, fields ...Field)
	InfoContext(ctx context.Context, msg string, fields ...Field)
	WarnContext(ctx context.Context, msg string, fields ...Field)
	ErrorContext(ctx context.Context, msg string, fields ...Field)
	FatalContext(ctx context.Context, msg string, fields ...Field)

	// With 创建带有预设字段的子 Logger
	With(fields ...Field) Logger

	// WithNamespace 创建扩展命名空间的子 Logger
	//
	//   logger.WithNamespace("registry").WithNamespace("store") // namespace=registry.store
	WithNamespace(parts ...string) Logger

	// SetLevel 动态调整日志级别，同一根 Logger 派生出的子 Logger 共享级别
	SetLevel(level Level) error

	// Flush 同步输出目标（文件输出时有效）
	Flush()
}
