package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/scoutquest/idgen"
	"github.com/ceyewan/scoutquest/xerrors"
)

// ============================================================================
// 测试辅助
// ============================================================================

type recorder struct {
	mu     sync.Mutex
	events []ServiceEvent
}

func (r *recorder) Publish(e ServiceEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) ofType(t EventType) []ServiceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ServiceEvent
	for _, e := range r.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts = append([]Option{WithEventSink(rec)}, opts...)
	return New(nil, opts...), rec
}

func register(t *testing.T, s *Store, name string, port int, tags ...string) *ServiceInstance {
	t.Helper()
	inst, err := s.Register(context.Background(), Registration{
		ServiceName: name,
		Host:        "localhost",
		Port:        port,
		Tags:        tags,
	})
	require.NoError(t, err)
	return inst
}

// ============================================================================
// 注册
// ============================================================================

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("注册后读取字段一致", func(t *testing.T) {
		s, rec := newTestStore(t)
		reg := Registration{
			ServiceName: "user-service",
			Host:        "10.0.0.1",
			Port:        3001,
			Secure:      true,
			Metadata:    map[string]string{"version": "1.2.0", "zone": "a"},
			Tags:        []string{"api", "v1"},
			HealthCheck: &HealthCheck{URL: "/health", IntervalSeconds: 5, TimeoutSeconds: 2},
		}
		inst, err := s.Register(ctx, reg)
		require.NoError(t, err)
		assert.NotEmpty(t, inst.ID)
		assert.Equal(t, StatusUp, inst.Status)

		svc, err := s.GetService("user-service")
		require.NoError(t, err)
		require.Len(t, svc.Instances, 1)
		got := svc.Instances[0]
		assert.Equal(t, inst.ID, got.ID)
		assert.Equal(t, reg.ServiceName, got.ServiceName)
		assert.Equal(t, reg.Host, got.Host)
		assert.Equal(t, reg.Port, got.Port)
		assert.Equal(t, reg.Secure, got.Secure)
		assert.Equal(t, reg.Metadata, got.Metadata)
		assert.Equal(t, reg.Tags, got.Tags)
		require.NotNil(t, got.HealthCheck)
		assert.Equal(t, "/health", got.HealthCheck.URL)
		assert.Equal(t, "GET", got.HealthCheck.Method)
		assert.Equal(t, 200, got.HealthCheck.ExpectedStatus)
		assert.Equal(t, []string{"api", "v1"}, svc.Tags)

		events := rec.ofType(EventServiceRegistered)
		require.Len(t, events, 1)
		assert.Equal(t, inst.ID, events[0].InstanceID)
		assert.Equal(t, 3001, events[0].Details["port"])
	})

	t.Run("非法注册参数", func(t *testing.T) {
		s, rec := newTestStore(t)
		cases := []Registration{
			{ServiceName: "", Host: "h", Port: 80},
			{ServiceName: "svc", Host: " ", Port: 80},
			{ServiceName: "svc", Host: "h", Port: 0},
			{ServiceName: "svc", Host: "h", Port: 65536},
			{ServiceName: "svc", Host: "h", Port: 80, HealthCheck: &HealthCheck{}},
			{ServiceName: "svc", Host: "h", Port: 80, HealthCheck: &HealthCheck{URL: "/h", ExpectedStatus: 42}},
		}
		for i, reg := range cases {
			_, err := s.Register(ctx, reg)
			require.Error(t, err, "case %d", i)
			assert.True(t, xerrors.Is(err, ErrInvalidRegistration), "case %d", i)
			assert.Equal(t, CodeInvalidRegistration, xerrors.GetCode(err))
		}
		assert.Empty(t, rec.ofType(EventServiceRegistered))
		assert.Empty(t, s.ListServices())
	})

	t.Run("初始状态可配置为 Starting", func(t *testing.T) {
		s := New(&Config{InitialStatus: StatusStarting})
		inst := register(t, s, "svc", 80)
		assert.Equal(t, StatusStarting, inst.Status)
	})

	t.Run("并发注册不丢实例且 ID 唯一", func(t *testing.T) {
		s, _ := newTestStore(t)
		const n = 200
		var wg sync.WaitGroup
		ids := make(chan string, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(port int) {
				defer wg.Done()
				inst, err := s.Register(ctx, Registration{ServiceName: "user-service", Host: "localhost", Port: port})
				if err == nil {
					ids <- inst.ID
				}
			}(3000 + i)
		}
		wg.Wait()
		close(ids)

		seen := map[string]bool{}
		for id := range ids {
			assert.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
		assert.Len(t, seen, n)

		svc, err := s.GetService("user-service")
		require.NoError(t, err)
		assert.Len(t, svc.Instances, n)
	})

	t.Run("生成器重复时重新生成", func(t *testing.T) {
		calls := 0
		gen := idgen.GeneratorFunc(func() string {
			calls++
			if calls <= 3 {
				return "same"
			}
			return fmt.Sprintf("id-%d", calls)
		})
		s, _ := newTestStore(t, WithIDGenerator(gen))
		a := register(t, s, "svc", 1)
		b := register(t, s, "svc", 2)
		assert.NotEqual(t, a.ID, b.ID)
	})
}

// ============================================================================
// 注销
// ============================================================================

func TestDeregister(t *testing.T) {
	ctx := context.Background()
	s, rec := newTestStore(t)
	a := register(t, s, "user-service", 3001)
	b := register(t, s, "user-service", 3002)

	require.NoError(t, s.Deregister(ctx, "user-service", a.ID))

	t.Run("重复注销返回 InstanceNotFound", func(t *testing.T) {
		err := s.Deregister(ctx, "user-service", a.ID)
		require.Error(t, err)
		assert.True(t, xerrors.Is(err, ErrInstanceNotFound))
	})

	t.Run("最后一个实例移除后服务消失", func(t *testing.T) {
		require.NoError(t, s.Deregister(ctx, "user-service", b.ID))
		_, err := s.GetService("user-service")
		assert.True(t, xerrors.Is(err, ErrServiceNotFound))

		err = s.Deregister(ctx, "user-service", b.ID)
		assert.True(t, xerrors.Is(err, ErrInstanceNotFound))
	})

	assert.Len(t, rec.ofType(EventServiceDeregistered), 2)
}

func TestDeleteService(t *testing.T) {
	ctx := context.Background()
	s, rec := newTestStore(t)
	register(t, s, "order-service", 1)
	register(t, s, "order-service", 2)
	register(t, s, "user-service", 3)

	require.NoError(t, s.DeleteService(ctx, "order-service"))
	assert.Len(t, rec.ofType(EventServiceDeregistered), 2)
	assert.Len(t, s.ListServices(), 1)
	assert.Equal(t, 1, s.Stats().TotalInstances)

	err := s.DeleteService(ctx, "order-service")
	assert.True(t, xerrors.Is(err, ErrServiceNotFound))
}

// ============================================================================
// 状态与心跳
// ============================================================================

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	s, rec := newTestStore(t)
	inst := register(t, s, "svc", 80)

	t.Run("状态未变化不发布事件", func(t *testing.T) {
		_, err := s.UpdateStatus(ctx, "svc", inst.ID, StatusUp)
		require.NoError(t, err)
		assert.Empty(t, rec.ofType(EventInstanceStatusChanged))
	})

	t.Run("状态变化发布事件", func(t *testing.T) {
		out, err := s.UpdateStatus(ctx, "svc", inst.ID, "out_of_service")
		require.NoError(t, err)
		assert.Equal(t, StatusOutOfService, out.Status)
		assert.True(t, !out.LastStatusChange.Before(inst.LastStatusChange))

		events := rec.ofType(EventInstanceStatusChanged)
		require.Len(t, events, 1)
		assert.Equal(t, "Up", events[0].Details["previous_status"])
		assert.Equal(t, "OutOfService", events[0].Details["new_status"])
	})

	t.Run("非法状态", func(t *testing.T) {
		_, err := s.UpdateStatus(ctx, "svc", inst.ID, "Sleeping")
		assert.True(t, xerrors.Is(err, ErrInvalidStatus))
	})

	t.Run("实例不存在", func(t *testing.T) {
		_, err := s.UpdateStatus(ctx, "svc", "missing", StatusDown)
		assert.True(t, xerrors.Is(err, ErrInstanceNotFound))
	})
}

func TestHeartbeat(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s, rec := newTestStore(t, WithClock(clock))
	inst := register(t, s, "svc", 80)
	assert.False(t, inst.HeartbeatTracked())

	t.Run("心跳更新时间且标记为心跳驱动", func(t *testing.T) {
		now = now.Add(10 * time.Second)
		out, err := s.Heartbeat(ctx, "svc", inst.ID)
		require.NoError(t, err)
		assert.Equal(t, now, out.LastHeartbeat)
		assert.True(t, out.HeartbeatTracked())
		assert.Empty(t, rec.ofType(EventInstanceStatusChanged))
	})

	t.Run("Down 实例被提升为 Up", func(t *testing.T) {
		_, err := s.UpdateStatus(ctx, "svc", inst.ID, StatusDown)
		require.NoError(t, err)
		out, err := s.Heartbeat(ctx, "svc", inst.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusUp, out.Status)
		assert.Len(t, rec.ofType(EventInstanceStatusChanged), 2)
	})

	t.Run("运维状态不被心跳覆盖", func(t *testing.T) {
		_, err := s.UpdateStatus(ctx, "svc", inst.ID, StatusOutOfService)
		require.NoError(t, err)
		now = now.Add(time.Second)
		out, err := s.Heartbeat(ctx, "svc", inst.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusOutOfService, out.Status)
		assert.Equal(t, now, out.LastHeartbeat)
	})

	t.Run("实例不存在", func(t *testing.T) {
		_, err := s.Heartbeat(ctx, "svc", "missing")
		assert.True(t, xerrors.Is(err, ErrInstanceNotFound))
	})
}

func TestApplyHealthTransition(t *testing.T) {
	ctx := context.Background()
	s, rec := newTestStore(t)
	inst := register(t, s, "svc", 80)

	notOperator := func(st Status) bool { return !st.Operator() }

	_, changed, err := s.ApplyHealthTransition(ctx, "svc", inst.ID, StatusDown, notOperator)
	require.NoError(t, err)
	assert.True(t, changed)

	_, changed, err = s.ApplyHealthTransition(ctx, "svc", inst.ID, StatusDown, notOperator)
	require.NoError(t, err)
	assert.False(t, changed, "相同状态不重复变更")

	_, err = s.UpdateStatus(ctx, "svc", inst.ID, StatusStopping)
	require.NoError(t, err)
	out, changed, err := s.ApplyHealthTransition(ctx, "svc", inst.ID, StatusUp, notOperator)
	require.NoError(t, err)
	assert.False(t, changed, "guard 拒绝时保持运维状态")
	assert.Equal(t, StatusStopping, out.Status)

	assert.Len(t, rec.ofType(EventInstanceStatusChanged), 2)
}

func TestStatusEventsFollowCommitOrder(t *testing.T) {
	ctx := context.Background()
	s, rec := newTestStore(t)
	inst := register(t, s, "svc", 80)

	statuses := []Status{StatusUp, StatusDown, StatusOutOfService, StatusStarting}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := s.UpdateStatus(ctx, "svc", inst.ID, statuses[(w+i)%len(statuses)])
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	events := rec.ofType(EventInstanceStatusChanged)
	require.NotEmpty(t, events)
	prev := string(StatusUp)
	for i, e := range events {
		require.Equal(t, prev, e.Details["previous_status"], "event %d", i)
		prev = e.Details["new_status"].(string)
	}

	final, err := s.GetInstance("svc", inst.ID)
	require.NoError(t, err)
	assert.Equal(t, string(final.Status), prev, "事件流重放结果与存储一致")
}

// ============================================================================
// 查询
// ============================================================================

func TestGetInstances(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	a := register(t, s, "svc", 1, "api", "v1")
	register(t, s, "svc", 2, "api")
	c := register(t, s, "svc", 3, "api", "v1", "canary")
	_, err := s.UpdateStatus(ctx, "svc", c.ID, StatusDown)
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter InstanceFilter
		ports  []int
	}{
		{"无过滤", InstanceFilter{}, []int{1, 2, 3}},
		{"仅健康", InstanceFilter{HealthyOnly: true}, []int{1, 2}},
		{"标签超集", InstanceFilter{Tags: []string{"v1", "api"}}, []int{1, 3}},
		{"标签加健康", InstanceFilter{Tags: []string{"v1"}, HealthyOnly: true}, []int{1}},
		{"限制数量", InstanceFilter{Limit: 2}, []int{1, 2}},
		{"无匹配", InstanceFilter{Tags: []string{"grpc"}}, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.GetInstances("svc", tt.filter)
			require.NoError(t, err)
			ports := make([]int, 0, len(got))
			for _, i := range got {
				ports = append(ports, i.Port)
			}
			assert.Equal(t, tt.ports, ports)
		})
	}

	t.Run("服务不存在", func(t *testing.T) {
		_, err := s.GetInstances("nope", InstanceFilter{})
		assert.True(t, xerrors.Is(err, ErrServiceNotFound))
	})

	t.Run("返回值是拷贝", func(t *testing.T) {
		got, err := s.GetInstances("svc", InstanceFilter{})
		require.NoError(t, err)
		got[0].Status = StatusDown
		got[0].Tags[0] = "mutated"
		got[0].Metadata["x"] = "y"

		again, err := s.GetInstance("svc", a.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusUp, again.Status)
		assert.Equal(t, "api", again.Tags[0])
		assert.NotContains(t, again.Metadata, "x")
	})
}

func TestTagsAndStats(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	register(t, s, "user-service", 1, "api", "v1")
	down := register(t, s, "user-service", 2, "api", "v2")
	register(t, s, "billing", 3, "internal")
	_, err := s.UpdateStatus(ctx, "user-service", down.ID, StatusDown)
	require.NoError(t, err)

	tags, err := s.ServiceTags("user-service")
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "v1", "v2"}, tags)

	byTag := s.ServicesByTag("internal")
	require.Len(t, byTag, 1)
	assert.Equal(t, "billing", byTag[0].Name)
	assert.Empty(t, s.ServicesByTag("nothing"))

	names := []string{}
	for _, svc := range s.ListServices() {
		names = append(names, svc.Name)
	}
	assert.Equal(t, []string{"billing", "user-service"}, names)

	stats := s.Stats()
	assert.Equal(t, 2, stats.TotalServices)
	assert.Equal(t, 3, stats.TotalInstances)
	assert.Equal(t, 2, stats.HealthyInstances)
	assert.Equal(t, s.StartTime(), stats.StartTime)

	assert.Len(t, s.Snapshot(), 3)
}

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"Up":             StatusUp,
		"down":           StatusDown,
		"OUT_OF_SERVICE": StatusOutOfService,
		"out-of-service": StatusOutOfService,
		"starting":       StatusStarting,
		"Unknown":        StatusUnknown,
		"stopping":       StatusStopping,
	}
	for in, want := range cases {
		got, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseStatus("")
	assert.Error(t, err)
}
