package clog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// NamespaceKey 日志中命名空间字段的键
const NamespaceKey = "namespace"

// loggerImpl 基于 slog.Handler 的 Logger 实现
type loggerImpl struct {
	handler   slog.Handler
	levelVar  *slog.LevelVar
	closer    io.Closer
	namespace []string
	attrs     []slog.Attr
}

func newLogger(config *Config, o *options) (Logger, error) {
	w, closer, err := resolveWriter(config, o)
	if err != nil {
		return nil, err
	}

	level, _ := ParseLevel(config.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level.slog())

	handlerOpts := &slog.HandlerOptions{
		AddSource:   config.AddSource,
		Level:       levelVar,
		ReplaceAttr: replaceAttr,
	}

	var handler slog.Handler
	if strings.EqualFold(config.Format, "json") {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	return &loggerImpl{
		handler:   handler,
		levelVar:  levelVar,
		closer:    closer,
		namespace: append([]string(nil), o.namespaceParts...),
	}, nil
}

func resolveWriter(config *Config, o *options) (io.Writer, io.Closer, error) {
	if o.writer != nil {
		return o.writer, nil, nil
	}
	switch strings.ToLower(config.Output) {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	f, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}

// replaceAttr 统一时间格式，并将 Fatal 级别显示为 FATAL
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		if t, ok := a.Value.Any().(time.Time); ok {
			return slog.String(slog.TimeKey, t.Format(TimeFormat))
		}
	case slog.LevelKey:
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= FatalLevel.slog() {
			return slog.String(slog.LevelKey, "FATAL")
		}
	}
	return a
}

func (l *loggerImpl) Debug(msg string, fields ...Field) {
	l.log(context.Background(), DebugLevel, msg, fields)
}
func (l *loggerImpl) Info(msg string, fields ...Field) {
	l.log(context.Background(), InfoLevel, msg, fields)
}
func (l *loggerImpl) Warn(msg string, fields ...Field) {
	l.log(context.Background(), WarnLevel, msg, fields)
}
func (l *loggerImpl) Error(msg string, fields ...Field) {
	l.log(context.Background(), ErrorLevel, msg, fields)
}
func (l *loggerImpl) Fatal(msg string, fields ...Field) {
	l.log(context.Background(), FatalLevel, msg, fields)
}

func (l *loggerImpl) DebugContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, DebugLevel, msg, fields)
}
func (l *loggerImpl) InfoContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, InfoLevel, msg, fields)
}
func (l *loggerImpl) WarnContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, WarnLevel, msg, fields)
}
func (l *loggerImpl) ErrorContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, ErrorLevel, msg, fields)
}
func (l *loggerImpl) FatalContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, FatalLevel, msg, fields)
}

func (l *loggerImpl) With(fields ...Field) Logger {
	child := l.clone()
	child.attrs = append(child.attrs, fields...)
	return child
}

func (l *loggerImpl) WithNamespace(parts ...string) Logger {
	child := l.clone()
	child.namespace = append(child.namespace, parts...)
	return child
}

func (l *loggerImpl) SetLevel(level Level) error {
	l.levelVar.Set(level.slog())
	return nil
}

func (l *loggerImpl) Flush() {
	if s, ok := l.closer.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}

func (l *loggerImpl) clone() *loggerImpl {
	return &loggerImpl{
		handler:   l.handler,
		levelVar:  l.levelVar,
		closer:    l.closer,
		namespace: append([]string(nil), l.namespace...),
		attrs:     append([]slog.Attr(nil), l.attrs...),
	}
}

func (l *loggerImpl) log(ctx context.Context, level Level, msg string, fields []Field) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.handler.Enabled(ctx, level.slog()) {
		return
	}

	// skip: runtime.Callers, log, Info/Error 等
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	record := slog.NewRecord(time.Now(), level.slog(), msg, pcs[0])
	if len(l.namespace) > 0 {
		record.AddAttrs(slog.String(NamespaceKey, strings.Join(l.namespace, ".")))
	}
	record.AddAttrs(l.attrs...)
	record.AddAttrs(fields...)

	_ = l.handler.Handle(ctx, record)

	if level == FatalLevel {
		l.Flush()
		os.Exit(1)
	}
}
