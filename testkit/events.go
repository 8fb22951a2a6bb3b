package testkit

import (
	"sync"

	"github.com/ceyewan/scoutquest/registry"
)

// EventRecorder 记录收到的事件，实现 registry.EventSink
type EventRecorder struct {
	mu     sync.Mutex
	events []registry.ServiceEvent
}

func (r *EventRecorder) Publish(e registry.ServiceEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// All 返回全部事件的副本
func (r *EventRecorder) All() []registry.ServiceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]registry.ServiceEvent, len(r.events))
	copy(out, r.events)
	return out
}

// OfType 按类型过滤
func (r *EventRecorder) OfType(t registry.EventType) []registry.ServiceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []registry.ServiceEvent
	for _, e := range r.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

// Count 某类型事件的数量
func (r *EventRecorder) Count(t registry.EventType) int {
	return len(r.OfType(t))
}

// Reset 清空记录
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
