package trace

// 跟踪器名称
const TracerName = "github.com/ceyewan/scoutquest"

const (
	// Messaging 语义属性键
	AttrMessagingSystem      = "messaging.system"
	AttrMessagingDestination = "messaging.destination"
	AttrMessagingOperation   = "messaging.operation"

	// 注册中心属性键
	AttrServiceName = "scoutquest.service"
	AttrInstanceID  = "scoutquest.instance_id"
	AttrProbeURL    = "scoutquest.probe.url"
)

const (
	MessagingSystemNATS       = "nats"
	MessagingOperationPublish = "publish"
)

// SpanNameEventPublish 事件发布的 Span 名称
func SpanNameEventPublish(destination string) string {
	if destination == "" {
		return "event.publish"
	}
	return "event.publish " + destination
}

// SpanNameHealthProbe 健康探测的 Span 名称
const SpanNameHealthProbe = "health.probe"
