package registry

import "time"

// EventType 生命周期事件类型
type EventType string

const (
	EventServiceRegistered     EventType = "ServiceRegistered"
	EventServiceDeregistered   EventType = "ServiceDeregistered"
	EventInstanceStatusChanged EventType = "InstanceStatusChanged"
	EventHealthCheckFailed     EventType = "HealthCheckFailed"
	EventHealthCheckPassed     EventType = "HealthCheckPassed"
)

// ServiceEvent 生命周期事件，只发布不存储
type ServiceEvent struct {
	EventType   EventType      `json:"event_type"`
	ServiceName string         `json:"service_name"`
	InstanceID  string         `json:"instance_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Details     map[string]any `json:"details"`
}

// EventSink 事件接收方，Publish 不得阻塞
type EventSink interface {
	Publish(event ServiceEvent)
}

// NopSink 丢弃所有事件
type NopSink struct{}

func (NopSink) Publish(ServiceEvent) {}

// SinkFunc 适配普通函数为 EventSink
type SinkFunc func(ServiceEvent)

func (f SinkFunc) Publish(e ServiceEvent) { f(e) }
