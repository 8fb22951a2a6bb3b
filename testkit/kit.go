package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/metrics"
)

// Kit 包含通用的测试依赖
type Kit struct {
	Ctx    context.Context
	Logger clog.Logger
	Meter  metrics.Meter
	Clock  *Clock
	Events *EventRecorder
}

// NewKit 返回一个包含默认依赖的测试工具包，Ctx 最长存活一分钟
func NewKit(t *testing.T) *Kit {
	return &Kit{
		Ctx:    NewContext(t, time.Minute),
		Logger: NewLogger(),
		Meter:  NewMeter(),
		Clock:  NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		Events: &EventRecorder{},
	}
}

// NewLogger 返回一个用于测试的 logger，只输出 warn 及以上
func NewLogger() clog.Logger {
	cfg := clog.NewDevDefaultConfig()
	cfg.Level = "warn"
	logger, err := clog.New(cfg, clog.WithNamespace("test"))
	if err != nil {
		return clog.Discard()
	}
	return logger
}

// NewMeter 返回一个用于测试的 meter，失败时退化为 Discard
func NewMeter() metrics.Meter {
	meter, err := metrics.New(metrics.NewDevDefaultConfig("test"))
	if err != nil {
		return metrics.Discard()
	}
	return meter
}

// NewContext 返回一个带有超时的测试上下文，测试结束时自动取消
func NewContext(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// NewID 返回一个唯一的测试 ID (UUID v4 前 8 位)
func NewID() string {
	return uuid.New().String()[0:8]
}
