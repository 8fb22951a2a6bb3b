// Package registry 实现内存中的服务实例存储。
//
// Store 是注册中心唯一的可变状态：注册、注销、状态更新、心跳都经过它的原子操作，
// 读操作返回深拷贝。事件在释放锁之后交给 EventSink，锁内不做任何 I/O；
// 提交时先取得发布锁再释放数据锁，事件因此按提交顺序送达。
package registry

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/metrics"
	"github.com/ceyewan/scoutquest/xerrors"
)

// serviceEntry 单个服务的实例集合，保持注册顺序
type serviceEntry struct {
	instances []*ServiceInstance
	createdAt time.Time
	updatedAt time.Time
}

func (e *serviceEntry) find(id string) (int, *ServiceInstance) {
	for i, inst := range e.instances {
		if inst.ID == id {
			return i, inst
		}
	}
	return -1, nil
}

func (e *serviceEntry) view(name string) *Service {
	svc := &Service{
		Name:      name,
		Instances: make([]*ServiceInstance, 0, len(e.instances)),
		CreatedAt: e.createdAt,
		UpdatedAt: e.updatedAt,
	}
	seen := make(map[string]struct{})
	for _, inst := range e.instances {
		svc.Instances = append(svc.Instances, inst.Clone())
		for _, t := range inst.Tags {
			seen[t] = struct{}{}
		}
	}
	svc.Tags = make([]string, 0, len(seen))
	for t := range seen {
		svc.Tags = append(svc.Tags, t)
	}
	sort.Strings(svc.Tags)
	return svc
}

// Store 并发安全的实例存储
type Store struct {
	mu       sync.RWMutex
	services map[string]*serviceEntry
	// pub 发布锁，只在持有 mu 时获取
	pub sync.Mutex
	// ids 实例 ID 到服务名，用于保证 ID 唯一
	ids map[string]string

	cfg       Config
	opts      *options
	startTime time.Time

	eventCounter   metrics.Counter
	instanceGauge  metrics.Gauge
	servicesGauge  metrics.Gauge
	transitionsCnt metrics.Counter
}

// New 创建 Store，cfg 为 nil 时使用默认配置
func New(cfg *Config, opts ...Option) *Store {
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	c.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	s := &Store{
		services:  make(map[string]*serviceEntry),
		ids:       make(map[string]string),
		cfg:       c,
		opts:      o,
		startTime: o.now(),
	}
	s.initMetrics()
	return s
}

func (s *Store) initMetrics() {
	var err error
	if s.eventCounter, err = s.opts.meter.Counter("scoutquest_registry_events_total", "Lifecycle events emitted by the registry."); err != nil {
		s.opts.logger.Warn("create metric failed", clog.Error(err))
		s.eventCounter, _ = metrics.Discard().Counter("", "")
	}
	if s.instanceGauge, err = s.opts.meter.Gauge("scoutquest_registry_instances", "Registered instances."); err != nil {
		s.instanceGauge, _ = metrics.Discard().Gauge("", "")
	}
	if s.servicesGauge, err = s.opts.meter.Gauge("scoutquest_registry_services", "Registered services."); err != nil {
		s.servicesGauge, _ = metrics.Discard().Gauge("", "")
	}
	if s.transitionsCnt, err = s.opts.meter.Counter("scoutquest_registry_status_changes_total", "Instance status transitions."); err != nil {
		s.transitionsCnt, _ = metrics.Discard().Counter("", "")
	}
}

// handoff 必须在持有 s.mu 写锁时调用：取得发布锁后释放 s.mu，返回释放发布锁的函数。
// 发布锁内不得再获取 s.mu。
func (s *Store) handoff() func() {
	s.pub.Lock()
	s.mu.Unlock()
	return s.pub.Unlock
}

// StartTime 进程启动时间
func (s *Store) StartTime() time.Time {
	return s.startTime
}

// ============================================================================
// 写操作
// ============================================================================

// Register 注册新实例并返回其拷贝
func (s *Store) Register(ctx context.Context, reg Registration) (*ServiceInstance, error) {
	inst, err := s.newInstance(reg)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for {
		if _, dup := s.ids[inst.ID]; !dup {
			break
		}
		inst.ID = s.opts.ids.Next()
	}
	entry, ok := s.services[inst.ServiceName]
	if !ok {
		entry = &serviceEntry{createdAt: inst.RegisteredAt}
		s.services[inst.ServiceName] = entry
	}
	entry.instances = append(entry.instances, inst)
	entry.updatedAt = inst.RegisteredAt
	s.ids[inst.ID] = inst.ServiceName
	out := inst.Clone()
	done := s.handoff()

	s.opts.logger.InfoContext(ctx, "instance registered",
		clog.String("service", out.ServiceName),
		clog.String("instance_id", out.ID),
		clog.String("address", out.Address()),
		clog.String("status", string(out.Status)))

	s.emit(ctx, ServiceEvent{
		EventType:   EventServiceRegistered,
		ServiceName: out.ServiceName,
		InstanceID:  out.ID,
		Timestamp:   out.RegisteredAt,
		Details: map[string]any{
			"host": out.Host,
			"port": out.Port,
			"tags": slices.Clone(out.Tags),
		},
	})
	done()
	s.recordSizes(ctx)
	return out, nil
}

func (s *Store) newInstance(reg Registration) (*ServiceInstance, error) {
	name := strings.TrimSpace(reg.ServiceName)
	host := strings.TrimSpace(reg.Host)
	switch {
	case name == "":
		return nil, xerrors.Wrap(ErrInvalidRegistration, "service_name is required")
	case host == "":
		return nil, xerrors.Wrap(ErrInvalidRegistration, "host is required")
	case reg.Port < 1 || reg.Port > 65535:
		return nil, xerrors.Wrapf(ErrInvalidRegistration, "port %d out of range 1-65535", reg.Port)
	}

	hc := reg.HealthCheck.clone()
	if hc != nil {
		if strings.TrimSpace(hc.URL) == "" {
			return nil, xerrors.Wrap(ErrInvalidRegistration, "health_check.url is required")
		}
		if hc.IntervalSeconds < 0 || hc.TimeoutSeconds < 0 {
			return nil, xerrors.Wrap(ErrInvalidRegistration, "health_check interval and timeout must not be negative")
		}
		if hc.ExpectedStatus != 0 && (hc.ExpectedStatus < 100 || hc.ExpectedStatus > 599) {
			return nil, xerrors.Wrapf(ErrInvalidRegistration, "health_check.expected_status %d is not an HTTP status", hc.ExpectedStatus)
		}
		hc.normalize()
	}

	meta := make(map[string]string, len(reg.Metadata))
	for k, v := range reg.Metadata {
		meta[k] = v
	}

	tags := make([]string, 0, len(reg.Tags))
	for _, t := range reg.Tags {
		if t = strings.TrimSpace(t); t != "" && !slices.Contains(tags, t) {
			tags = append(tags, t)
		}
	}

	now := s.opts.now()
	return &ServiceInstance{
		ID:               s.opts.ids.Next(),
		ServiceName:      name,
		Host:             host,
		Port:             reg.Port,
		Secure:           reg.Secure,
		Status:           s.cfg.InitialStatus,
		Metadata:         meta,
		Tags:             tags,
		HealthCheck:      hc,
		RegisteredAt:     now,
		LastHeartbeat:    now,
		LastStatusChange: now,
	}, nil
}

// Deregister 注销实例，服务最后一个实例被移除时服务一并删除
func (s *Store) Deregister(ctx context.Context, serviceName, instanceID string) error {
	return s.remove(ctx, serviceName, instanceID, "deregistered")
}

// Evict 由健康检查驱逐长期不可达的实例
func (s *Store) Evict(ctx context.Context, serviceName, instanceID, reason string) error {
	return s.remove(ctx, serviceName, instanceID, reason)
}

func (s *Store) remove(ctx context.Context, serviceName, instanceID, reason string) error {
	s.mu.Lock()
	entry, ok := s.services[serviceName]
	if !ok {
		s.mu.Unlock()
		return xerrors.Wrapf(ErrInstanceNotFound, "instance %s of service %s", instanceID, serviceName)
	}
	idx, inst := entry.find(instanceID)
	if inst == nil {
		s.mu.Unlock()
		return xerrors.Wrapf(ErrInstanceNotFound, "instance %s of service %s", instanceID, serviceName)
	}
	entry.instances = slices.Delete(entry.instances, idx, idx+1)
	entry.updatedAt = s.opts.now()
	delete(s.ids, instanceID)
	serviceRemoved := len(entry.instances) == 0
	if serviceRemoved {
		delete(s.services, serviceName)
	}
	done := s.handoff()

	s.opts.logger.InfoContext(ctx, "instance removed",
		clog.String("service", serviceName),
		clog.String("instance_id", instanceID),
		clog.String("reason", reason),
		clog.Bool("service_removed", serviceRemoved))

	s.emit(ctx, ServiceEvent{
		EventType:   EventServiceDeregistered,
		ServiceName: serviceName,
		InstanceID:  instanceID,
		Timestamp:   s.opts.now(),
		Details: map[string]any{
			"host":   inst.Host,
			"port":   inst.Port,
			"reason": reason,
		},
	})
	done()
	s.recordSizes(ctx)
	return nil
}

// DeleteService 删除服务及其全部实例，每个实例发布一个 ServiceDeregistered
func (s *Store) DeleteService(ctx context.Context, serviceName string) error {
	s.mu.Lock()
	entry, ok := s.services[serviceName]
	if !ok {
		s.mu.Unlock()
		return xerrors.Wrapf(ErrServiceNotFound, "service %s", serviceName)
	}
	delete(s.services, serviceName)
	for _, inst := range entry.instances {
		delete(s.ids, inst.ID)
	}
	done := s.handoff()

	s.opts.logger.InfoContext(ctx, "service deleted",
		clog.String("service", serviceName),
		clog.Int("instances", len(entry.instances)))

	now := s.opts.now()
	for _, inst := range entry.instances {
		s.emit(ctx, ServiceEvent{
			EventType:   EventServiceDeregistered,
			ServiceName: serviceName,
			InstanceID:  inst.ID,
			Timestamp:   now,
			Details: map[string]any{
				"host":   inst.Host,
				"port":   inst.Port,
				"reason": "service deleted",
			},
		})
	}
	done()
	s.recordSizes(ctx)
	return nil
}

// UpdateStatus 显式设置实例状态，状态未变化时不发布事件
func (s *Store) UpdateStatus(ctx context.Context, serviceName, instanceID string, status Status) (*ServiceInstance, error) {
	st, err := ParseStatus(string(status))
	if err != nil {
		return nil, xerrors.Wrapf(err, "status %q", status)
	}
	out, _, err := s.transition(ctx, serviceName, instanceID, st, nil, nil, "api")
	return out, err
}

// Heartbeat 记录心跳；Down/Unknown/Starting 的实例提升为 Up，运维状态保持不变
func (s *Store) Heartbeat(ctx context.Context, serviceName, instanceID string) (*ServiceInstance, error) {
	touch := func(inst *ServiceInstance) {
		inst.LastHeartbeat = s.opts.now()
		inst.heartbeatSeen = true
	}
	promote := func(cur Status) bool {
		return cur == StatusDown || cur == StatusUnknown || cur == StatusStarting
	}
	out, _, err := s.transition(ctx, serviceName, instanceID, StatusUp, promote, touch, "heartbeat")
	return out, err
}

// ApplyHealthTransition 在写锁内比较并设置状态：仅当 guard(当前状态) 为 true 且状态确实变化时生效。
// 探测请求期间实例可能已被显式改为 Stopping/OutOfService，guard 用于避免覆盖。
func (s *Store) ApplyHealthTransition(ctx context.Context, serviceName, instanceID string, to Status, guard func(Status) bool) (*ServiceInstance, bool, error) {
	if guard == nil {
		guard = func(Status) bool { return true }
	}
	return s.transition(ctx, serviceName, instanceID, to, guard, nil, "health_check")
}

// transition 是所有状态变更的唯一入口。guard 为 nil 表示无条件；mutate 在锁内对实例做额外修改。
// 状态确实变化时按提交顺序发布 InstanceStatusChanged。
func (s *Store) transition(ctx context.Context, serviceName, instanceID string, to Status, guard func(Status) bool, mutate func(*ServiceInstance), source string) (*ServiceInstance, bool, error) {
	s.mu.Lock()
	entry, ok := s.services[serviceName]
	var inst *ServiceInstance
	if ok {
		_, inst = entry.find(instanceID)
	}
	if inst == nil {
		s.mu.Unlock()
		return nil, false, xerrors.Wrapf(ErrInstanceNotFound, "instance %s of service %s", instanceID, serviceName)
	}

	if mutate != nil {
		mutate(inst)
	}

	prev := inst.Status
	changed := prev != to && (guard == nil || guard(prev))
	if changed {
		inst.Status = to
		inst.LastStatusChange = s.opts.now()
		entry.updatedAt = inst.LastStatusChange
	}
	out := inst.Clone()
	if !changed {
		s.mu.Unlock()
		return out, false, nil
	}

	done := s.handoff()
	s.statusChanged(ctx, out, prev, source)
	done()
	return out, true, nil
}

func (s *Store) statusChanged(ctx context.Context, inst *ServiceInstance, prev Status, source string) {
	s.opts.logger.InfoContext(ctx, "instance status changed",
		clog.String("service", inst.ServiceName),
		clog.String("instance_id", inst.ID),
		clog.String("from", string(prev)),
		clog.String("to", string(inst.Status)),
		clog.String("source", source))

	s.transitionsCnt.Inc(ctx, metrics.L("to", string(inst.Status)), metrics.L("source", source))
	s.emit(ctx, ServiceEvent{
		EventType:   EventInstanceStatusChanged,
		ServiceName: inst.ServiceName,
		InstanceID:  inst.ID,
		Timestamp:   inst.LastStatusChange,
		Details: map[string]any{
			"previous_status": string(prev),
			"new_status":      string(inst.Status),
		},
	})
}

// Emit 发布事件，供健康检查发布 HealthCheckFailed/HealthCheckPassed
func (s *Store) Emit(ctx context.Context, event ServiceEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.opts.now()
	}
	s.pub.Lock()
	s.emit(ctx, event)
	s.pub.Unlock()
}

// emit 调用方需持有发布锁
func (s *Store) emit(ctx context.Context, event ServiceEvent) {
	s.eventCounter.Inc(ctx, metrics.L("event_type", string(event.EventType)))
	s.opts.sink.Publish(event)
}

func (s *Store) recordSizes(ctx context.Context) {
	s.mu.RLock()
	services, instances := len(s.services), len(s.ids)
	s.mu.RUnlock()
	s.servicesGauge.Set(ctx, float64(services))
	s.instanceGauge.Set(ctx, float64(instances))
}

// ============================================================================
// 读操作
// ============================================================================

// GetService 返回服务及其全部实例
func (s *Store) GetService(name string) (*Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.services[name]
	if !ok {
		return nil, xerrors.Wrapf(ErrServiceNotFound, "service %s", name)
	}
	return entry.view(name), nil
}

// ListServices 按名称排序返回全部服务
func (s *Store) ListServices() []*Service {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Service, 0, len(s.services))
	for name, entry := range s.services {
		out = append(out, entry.view(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetInstances 按过滤条件返回实例拷贝，服务不存在时返回 ErrServiceNotFound
func (s *Store) GetInstances(name string, filter InstanceFilter) ([]*ServiceInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.services[name]
	if !ok {
		return nil, xerrors.Wrapf(ErrServiceNotFound, "service %s", name)
	}

	out := make([]*ServiceInstance, 0, len(entry.instances))
	for _, inst := range entry.instances {
		if !filter.match(inst) {
			continue
		}
		out = append(out, inst.Clone())
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// GetInstance 返回单个实例
func (s *Store) GetInstance(serviceName, instanceID string) (*ServiceInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if entry, ok := s.services[serviceName]; ok {
		if _, inst := entry.find(instanceID); inst != nil {
			return inst.Clone(), nil
		}
	}
	return nil, xerrors.Wrapf(ErrInstanceNotFound, "instance %s of service %s", instanceID, serviceName)
}

// ServiceTags 返回服务的聚合标签
func (s *Store) ServiceTags(name string) ([]string, error) {
	svc, err := s.GetService(name)
	if err != nil {
		return nil, err
	}
	return svc.Tags, nil
}

// ServicesByTag 返回至少有一个实例带有 tag 的服务
func (s *Store) ServicesByTag(tag string) []*Service {
	all := s.ListServices()
	out := make([]*Service, 0, len(all))
	for _, svc := range all {
		if slices.Contains(svc.Tags, tag) {
			out = append(out, svc)
		}
	}
	return out
}

// Snapshot 返回全部实例的拷贝，供健康检查遍历
func (s *Store) Snapshot() []*ServiceInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ServiceInstance, 0, len(s.ids))
	for _, entry := range s.services {
		for _, inst := range entry.instances {
			out = append(out, inst.Clone())
		}
	}
	return out
}

// Stats 统计信息
func (s *Store) Stats() RegistryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := RegistryStats{
		TotalServices: len(s.services),
		StartTime:     s.startTime,
	}
	for _, entry := range s.services {
		stats.TotalInstances += len(entry.instances)
		for _, inst := range entry.instances {
			if inst.Status == StatusUp {
				stats.HealthyInstances++
			}
		}
	}
	return stats
}
