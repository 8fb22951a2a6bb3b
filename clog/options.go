package clog

import "io"

// Option 函数式选项
type Option func(*options)

type options struct {
	namespaceParts []string
	writer         io.Writer
}

// WithNamespace 设置日志命名空间，多级以 "." 连接
//
//	clog.WithNamespace("scoutquest", "api") // namespace=scoutquest.api
func WithNamespace(parts ...string) Option {
	return func(o *options) {
		o.namespaceParts = append(o.namespaceParts, parts...)
	}
}

// WithWriter 指定输出目标，优先于 Config.Output，主要用于测试
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

func applyOptions(opts ...Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
