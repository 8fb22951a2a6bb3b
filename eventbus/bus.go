// Package eventbus 进程内的生命周期事件分发。
//
// Publish 永不阻塞：订阅者列表以写时复制的切片保存，发布方只做一次原子读取；
// 每个订阅者持有有界队列，队列满时丢弃最旧的事件并计数。
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/metrics"
	"github.com/ceyewan/scoutquest/registry"
)

// DefaultQueueSize 每个订阅者的默认队列容量
const DefaultQueueSize = 256

// Bus 事件总线，实现 registry.EventSink
type Bus struct {
	subs atomic.Pointer[[]*Subscription]
	mu   sync.Mutex // 仅串行化订阅列表的修改

	queueSize int
	closed    atomic.Bool
	published atomic.Uint64
	dropped   atomic.Uint64

	logger      clog.Logger
	dropCounter metrics.Counter
}

// Option 选项
type Option func(*Bus)

// WithQueueSize 设置订阅者队列容量
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithLogger 注入日志记录器
func WithLogger(l clog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l.WithNamespace("eventbus")
		}
	}
}

// WithMeter 注入指标，记录 scoutquest_events_dropped_total
func WithMeter(m metrics.Meter) Option {
	return func(b *Bus) {
		if m == nil {
			return
		}
		if c, err := m.Counter("scoutquest_events_dropped_total", "Events dropped because a subscriber queue was full."); err == nil {
			b.dropCounter = c
		}
	}
}

// New 创建事件总线
func New(opts ...Option) *Bus {
	b := &Bus{
		queueSize: DefaultQueueSize,
		logger:    clog.Discard(),
	}
	b.dropCounter, _ = metrics.Discard().Counter("", "")
	for _, opt := range opts {
		opt(b)
	}
	empty := make([]*Subscription, 0)
	b.subs.Store(&empty)
	return b
}

// Publish 向所有匹配的订阅者投递事件，不阻塞
func (b *Bus) Publish(event registry.ServiceEvent) {
	if b.closed.Load() {
		return
	}
	b.published.Add(1)
	for _, s := range *b.subs.Load() {
		s.deliver(event)
	}
}

// Subscribe 创建订阅，services 为空表示订阅全部服务
func (b *Bus) Subscribe(services ...string) *Subscription {
	s := &Subscription{
		bus:      b,
		ch:       make(chan registry.ServiceEvent, b.queueSize),
		services: make(map[string]struct{}, len(services)),
	}
	for _, name := range services {
		if name != "" {
			s.services[name] = struct{}{}
		}
	}
	b.mu.Lock()
	// 与 Close 在同一把锁下判断，保证关闭后不再有新订阅漏关
	if b.closed.Load() {
		b.mu.Unlock()
		s.Close()
		return s
	}
	old := *b.subs.Load()
	next := make([]*Subscription, 0, len(old)+1)
	next = append(next, old...)
	next = append(next, s)
	b.subs.Store(&next)
	b.mu.Unlock()

	b.logger.Debug("subscriber added", clog.Int("subscribers", len(next)))
	return s
}

func (b *Bus) unsubscribe(target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := *b.subs.Load()
	next := make([]*Subscription, 0, len(old))
	for _, s := range old {
		if s != target {
			next = append(next, s)
		}
	}
	b.subs.Store(&next)
}

// Subscribers 当前订阅者数量
func (b *Bus) Subscribers() int {
	return len(*b.subs.Load())
}

// Published 累计发布的事件数
func (b *Bus) Published() uint64 { return b.published.Load() }

// Dropped 累计因队列满被丢弃的事件数（所有订阅者合计）
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close 关闭总线及全部订阅，可重复调用
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	subs := *b.subs.Load()
	b.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}

// ============================================================================
// Subscription
// ============================================================================

// Subscription 单个订阅者
type Subscription struct {
	bus *Bus
	ch  chan registry.ServiceEvent

	// mu 保护 ch 的发送与关闭
	mu     sync.Mutex
	closed bool

	filterMu sync.RWMutex
	services map[string]struct{}

	dropped atomic.Uint64
}

// Events 事件通道，订阅关闭后通道被关闭
func (s *Subscription) Events() <-chan registry.ServiceEvent {
	return s.ch
}

// AddService 增加关注的服务
func (s *Subscription) AddService(name string) {
	if name == "" {
		return
	}
	s.filterMu.Lock()
	s.services[name] = struct{}{}
	s.filterMu.Unlock()
}

// RemoveService 取消关注的服务，集合变空后重新接收全部服务
func (s *Subscription) RemoveService(name string) {
	s.filterMu.Lock()
	delete(s.services, name)
	s.filterMu.Unlock()
}

// Services 当前关注的服务
func (s *Subscription) Services() []string {
	s.filterMu.RLock()
	defer s.filterMu.RUnlock()
	out := make([]string, 0, len(s.services))
	for name := range s.services {
		out = append(out, name)
	}
	return out
}

// Dropped 该订阅者被丢弃的事件数
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) matches(service string) bool {
	s.filterMu.RLock()
	defer s.filterMu.RUnlock()
	if len(s.services) == 0 {
		return true
	}
	_, ok := s.services[service]
	return ok
}

func (s *Subscription) deliver(event registry.ServiceEvent) {
	if !s.matches(event.ServiceName) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- event:
			return
		default:
		}
		// 队列已满，丢弃最旧的一条后重试
		select {
		case <-s.ch:
			s.dropped.Add(1)
			s.bus.dropped.Add(1)
			s.bus.dropCounter.Inc(context.Background())
		default:
		}
	}
}

// Close 取消订阅并关闭事件通道，可重复调用
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.bus.unsubscribe(s)
}
