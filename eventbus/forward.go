package eventbus

import (
	"context"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/registry"
)

// Sink 外部事件接收方（消息队列、审计日志等）
type Sink interface {
	Send(ctx context.Context, event registry.ServiceEvent) error
	Close() error
}

// Forward 订阅全部事件并转发到 sink，直到 ctx 取消或总线关闭。
// 单条事件发送失败只记录日志，不中断转发。
func Forward(ctx context.Context, bus *Bus, sink Sink, logger clog.Logger) {
	if logger == nil {
		logger = clog.Discard()
	}
	sub := bus.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := sink.Send(ctx, event); err != nil {
				logger.WarnContext(ctx, "forward event failed",
					clog.String("event_type", string(event.EventType)),
					clog.String("service", event.ServiceName),
					clog.Error(err),
				)
			}
		}
	}
}
