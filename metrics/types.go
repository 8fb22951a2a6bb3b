package metrics

import (
	"context"
	"net/http"
)

// Counter 单调递增计数器
type Counter interface {
	Inc(ctx context.Context, labels ...Label)
	Add(ctx context.Context, val float64, labels ...Label)
}

// Gauge 可增可减的瞬时值
type Gauge interface {
	Set(ctx context.Context, val float64, labels ...Label)
	Inc(ctx context.Context, labels ...Label)
	Dec(ctx context.Context, labels ...Label)
}

// Histogram 分布统计，常用于耗时
type Histogram interface {
	Record(ctx context.Context, val float64, labels ...Label)
}

// Meter 指标工厂
type Meter interface {
	Counter(name string, desc string, opts ...MetricOption) (Counter, error)
	Gauge(name string, desc string, opts ...MetricOption) (Gauge, error)
	Histogram(name string, desc string, opts ...MetricOption) (Histogram, error)

	// Handler 返回 Prometheus 文本格式的暴露端点
	Handler() http.Handler

	Shutdown(ctx context.Context) error
}

// Label 指标标签，值应保持低基数（不要使用实例 ID）
type Label struct {
	Key   string
	Value string
}

// L 构造 Label
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}

// MetricOption 单个指标的可选项
type MetricOption func(*MetricOptions)

type MetricOptions struct {
	Unit    string
	Buckets []float64
}

// WithUnit 设置单位，如 "s"
func WithUnit(unit string) MetricOption {
	return func(o *MetricOptions) {
		o.Unit = unit
	}
}

// WithBuckets 设置直方图桶边界
func WithBuckets(buckets []float64) MetricOption {
	return func(o *MetricOptions) {
		o.Buckets = buckets
	}
}
