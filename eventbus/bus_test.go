package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/scoutquest/registry"
)

func event(service string, n int) registry.ServiceEvent {
	return registry.ServiceEvent{
		EventType:   registry.EventServiceRegistered,
		ServiceName: service,
		Timestamp:   time.Now(),
		Details:     map[string]any{"n": n},
	}
}

func drain(sub *Subscription) []registry.ServiceEvent {
	var out []registry.ServiceEvent
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestPublishSubscribe(t *testing.T) {
	t.Run("空过滤接收全部服务", func(t *testing.T) {
		bus := New()
		sub := bus.Subscribe()
		bus.Publish(event("a", 1))
		bus.Publish(event("b", 2))
		got := drain(sub)
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].ServiceName)
		assert.Equal(t, "b", got[1].ServiceName)
		assert.Equal(t, uint64(2), bus.Published())
	})

	t.Run("按服务过滤", func(t *testing.T) {
		bus := New()
		sub := bus.Subscribe("a")
		bus.Publish(event("a", 1))
		bus.Publish(event("b", 2))
		got := drain(sub)
		require.Len(t, got, 1)
		assert.Equal(t, "a", got[0].ServiceName)
	})

	t.Run("运行时修改过滤", func(t *testing.T) {
		bus := New()
		sub := bus.Subscribe("a")
		sub.AddService("b")
		assert.ElementsMatch(t, []string{"a", "b"}, sub.Services())

		bus.Publish(event("b", 1))
		assert.Len(t, drain(sub), 1)

		sub.RemoveService("a")
		bus.Publish(event("a", 2))
		assert.Empty(t, drain(sub))

		// 集合清空后恢复接收全部
		sub.RemoveService("b")
		bus.Publish(event("c", 3))
		assert.Len(t, drain(sub), 1)
	})

	t.Run("无订阅者时发布不阻塞", func(t *testing.T) {
		bus := New()
		for i := 0; i < 1000; i++ {
			bus.Publish(event("a", i))
		}
		assert.Equal(t, uint64(1000), bus.Published())
	})
}

func TestDropOldest(t *testing.T) {
	bus := New(WithQueueSize(3))
	sub := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(event("a", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish 在慢订阅者上阻塞")
	}

	got := drain(sub)
	require.Len(t, got, 3)
	assert.Equal(t, 7, got[0].Details["n"])
	assert.Equal(t, 9, got[2].Details["n"])
	assert.Equal(t, uint64(7), sub.Dropped())
	assert.Equal(t, uint64(7), bus.Dropped())
}

func TestClose(t *testing.T) {
	t.Run("订阅关闭幂等且移出总线", func(t *testing.T) {
		bus := New()
		sub := bus.Subscribe()
		assert.Equal(t, 1, bus.Subscribers())

		sub.Close()
		sub.Close()
		assert.Equal(t, 0, bus.Subscribers())

		_, ok := <-sub.Events()
		assert.False(t, ok)

		bus.Publish(event("a", 1))
	})

	t.Run("总线关闭后订阅全部关闭", func(t *testing.T) {
		bus := New()
		s1 := bus.Subscribe()
		s2 := bus.Subscribe("x")
		bus.Close()
		bus.Close()

		_, ok := <-s1.Events()
		assert.False(t, ok)
		_, ok = <-s2.Events()
		assert.False(t, ok)

		late := bus.Subscribe()
		_, ok = <-late.Events()
		assert.False(t, ok)
	})

	t.Run("并发发布与关闭不 panic", func(t *testing.T) {
		bus := New(WithQueueSize(1))
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			sub := bus.Subscribe()
			wg.Add(2)
			go func() {
				defer wg.Done()
				for j := 0; j < 200; j++ {
					bus.Publish(event("a", j))
				}
			}()
			go func() {
				defer wg.Done()
				sub.Close()
			}()
		}
		wg.Wait()
		assert.Equal(t, 0, bus.Subscribers())
	})

	t.Run("与关闭并发的订阅也会被关闭", func(t *testing.T) {
		for i := 0; i < 200; i++ {
			bus := New()
			subs := make(chan *Subscription, 1)
			go func() { subs <- bus.Subscribe() }()
			bus.Close()
			sub := <-subs

			select {
			case _, ok := <-sub.Events():
				require.False(t, ok, "round %d", i)
			case <-time.After(time.Second):
				t.Fatalf("round %d: 订阅在总线关闭后仍然打开", i)
			}
		}
	})
}

type recordingSink struct {
	mu     sync.Mutex
	events []registry.ServiceEvent
	fail   bool
}

func (s *recordingSink) Send(_ context.Context, e registry.ServiceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		s.fail = false
		return errors.New("broker unavailable")
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestForward(t *testing.T) {
	bus := New()
	sink := &recordingSink{fail: true}
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		Forward(ctx, bus, sink, nil)
		close(stopped)
	}()
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	bus.Publish(event("a", 1)) // 发送失败，只记日志
	bus.Publish(event("a", 2))
	bus.Publish(event("b", 3))
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Forward 未在取消后退出")
	}
	assert.Equal(t, 0, bus.Subscribers())
}

func TestSubject(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		service string
		want    string
	}{
		{"普通服务名", "scoutquest.events", "user-service", "scoutquest.events.user-service"},
		{"默认前缀", "", "orders", "scoutquest.events.orders"},
		{"替换层级分隔符", "p", "a.b*c>d e", "p.a_b_c_d_e"},
		{"空服务名", "p", "", "p._"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Subject(tt.prefix, tt.service))
		})
	}
}

func TestNewNATSSinkRequiresURL(t *testing.T) {
	_, err := NewNATSSink(NATSConfig{}, nil)
	assert.Error(t, err)
}
