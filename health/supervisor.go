// Package health 周期性地核对实例存活状态。
//
// 三类实例分别处理：
//   - 声明了 health_check 的实例按各自间隔主动探测，连续失败达到 max_failures 后标记为 Down；
//   - 未声明 health_check 但上报过心跳的实例，心跳超过 interval*max_failures 未更新时标记为 Down；
//   - 两者都没有的实例不做处理。
//
// Stopping 与 OutOfService 属于运维状态，健康检查不会改写。
// 状态变更通过 registry.Store.ApplyHealthTransition 在写锁内比较并设置，网络 I/O 期间不持有锁。
// 探测在独立的 goroutine 中进行，并发数由信号量限制；同一实例同时最多一个探测，
// 慢探测不会推迟其他实例的探测以及心跳过期判定。
package health

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/metrics"
	"github.com/ceyewan/scoutquest/registry"
	"github.com/ceyewan/scoutquest/trace"
	"github.com/ceyewan/scoutquest/xerrors"
)

// 探测结果
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
)

var (
	// ErrProbeFailure 探测返回了非预期状态码或请求失败
	ErrProbeFailure = xerrors.Coded("PROBE_FAILURE", "health probe failed")
	// ErrProbeTimeout 探测超时
	ErrProbeTimeout = xerrors.Coded("PROBE_TIMEOUT", "health probe timed out")
)

// probeState 单个实例的探测状态，只属于 Supervisor
type probeState struct {
	failures  int
	lastProbe time.Time
	// inFlight 已派发但尚未结束的探测
	inFlight bool
}

// Supervisor 健康检查调度器
type Supervisor struct {
	store *registry.Store
	cfg   Config
	opts  *options

	mu     sync.Mutex
	states map[string]*probeState

	// sem 跨 tick 共享的探测并发上限
	sem *semaphore.Weighted
	// running Run 派发的探测，退出前等待
	running sync.WaitGroup

	probes      metrics.Counter
	duration    metrics.Histogram
	transitions metrics.Counter
	evictions   metrics.Counter
}

// New 创建 Supervisor，cfg 为 nil 时使用默认配置
func New(store *registry.Store, cfg *Config, opts ...Option) (*Supervisor, error) {
	if store == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "registry store is required")
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	s := &Supervisor{
		store:  store,
		cfg:    c,
		opts:   o,
		states: make(map[string]*probeState),
		sem:    semaphore.NewWeighted(int64(c.MaxConcurrentProbes)),
	}
	if err := s.initMetrics(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Supervisor) initMetrics() error {
	var err error
	if s.probes, err = s.opts.meter.Counter("scoutquest_health_probes_total", "Health probes by outcome."); err != nil {
		return xerrors.Wrap(err, "create probes counter")
	}
	if s.duration, err = s.opts.meter.Histogram("scoutquest_health_probe_duration_seconds", "Health probe latency.",
		metrics.WithUnit("s"),
		metrics.WithBuckets([]float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}),
	); err != nil {
		return xerrors.Wrap(err, "create probe duration histogram")
	}
	if s.transitions, err = s.opts.meter.Counter("scoutquest_health_transitions_total", "Status transitions driven by health checking."); err != nil {
		return xerrors.Wrap(err, "create transitions counter")
	}
	if s.evictions, err = s.opts.meter.Counter("scoutquest_health_evictions_total", "Instances evicted after staying down."); err != nil {
		return xerrors.Wrap(err, "create evictions counter")
	}
	return nil
}

// Run 按 TickInterval 周期核对，探测异步进行；ctx 取消后等待进行中的探测结束再返回
func (s *Supervisor) Run(ctx context.Context) {
	s.opts.logger.Info("health supervisor started",
		clog.Duration("tick_interval", s.cfg.TickInterval),
		clog.Int("interval_seconds", s.cfg.IntervalSeconds),
		clog.Int("max_failures", s.cfg.MaxFailures),
		clog.Int("max_concurrent_probes", s.cfg.MaxConcurrentProbes))

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.running.Wait()
			s.opts.logger.Info("health supervisor stopped")
			return
		case <-ticker.C:
			s.tick(ctx, &s.running)
		}
	}
}

// Tick 执行一轮核对：驱逐、心跳过期判定、到期实例的主动探测。
// 与 Run 不同，Tick 返回时本轮派发的探测均已完成。
func (s *Supervisor) Tick(ctx context.Context) {
	var wg sync.WaitGroup
	s.tick(ctx, &wg)
	wg.Wait()
}

// tick 同步完成驱逐与心跳判定，到期的探测异步派发并计入 wg
func (s *Supervisor) tick(ctx context.Context, wg *sync.WaitGroup) {
	now := s.opts.now()
	snapshot := s.store.Snapshot()
	s.prune(snapshot)

	var due []*registry.ServiceInstance
	for _, inst := range snapshot {
		if s.evictIfExpired(ctx, inst, now) {
			continue
		}
		switch {
		case inst.HealthCheck != nil:
			if s.markDue(inst, now) {
				due = append(due, inst)
			}
		case inst.HeartbeatTracked():
			s.checkHeartbeat(ctx, inst, now)
		}
	}
	for _, inst := range due {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.finish(inst.ID)
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer s.sem.Release(1)
			s.probe(ctx, inst)
		}()
	}
}

// prune 清理已不存在的实例状态
func (s *Supervisor) prune(snapshot []*registry.ServiceInstance) {
	alive := make(map[string]struct{}, len(snapshot))
	for _, inst := range snapshot {
		alive[inst.ID] = struct{}{}
	}
	s.mu.Lock()
	for id := range s.states {
		if _, ok := alive[id]; !ok {
			delete(s.states, id)
		}
	}
	s.mu.Unlock()
}

func (s *Supervisor) state(id string) *probeState {
	st, ok := s.states[id]
	if !ok {
		st = &probeState{}
		s.states[id] = st
	}
	return st
}

// markDue 判断实例是否到了探测时间且没有进行中的探测，满足则占用该实例
func (s *Supervisor) markDue(inst *registry.ServiceInstance, now time.Time) bool {
	interval := s.interval(inst)
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(inst.ID)
	if st.inFlight {
		return false
	}
	if !st.lastProbe.IsZero() && now.Sub(st.lastProbe) < interval {
		return false
	}
	st.lastProbe = now
	st.inFlight = true
	return true
}

// finish 释放实例的探测占用
func (s *Supervisor) finish(id string) {
	s.mu.Lock()
	if st, ok := s.states[id]; ok {
		st.inFlight = false
	}
	s.mu.Unlock()
}

// Failures 返回实例当前的连续失败次数
func (s *Supervisor) Failures(instanceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[instanceID]; ok {
		return st.failures
	}
	return 0
}

func (s *Supervisor) interval(inst *registry.ServiceInstance) time.Duration {
	sec := s.cfg.IntervalSeconds
	if inst.HealthCheck != nil && inst.HealthCheck.IntervalSeconds > 0 {
		sec = inst.HealthCheck.IntervalSeconds
	}
	return time.Duration(sec) * time.Second
}

func (s *Supervisor) timeout(inst *registry.ServiceInstance) time.Duration {
	sec := s.cfg.TimeoutSeconds
	if inst.HealthCheck != nil && inst.HealthCheck.TimeoutSeconds > 0 {
		sec = inst.HealthCheck.TimeoutSeconds
	}
	return time.Duration(sec) * time.Second
}

// ============================================================================
// 心跳与驱逐
// ============================================================================

func (s *Supervisor) checkHeartbeat(ctx context.Context, inst *registry.ServiceInstance, now time.Time) {
	limit := s.interval(inst) * time.Duration(s.cfg.MaxFailures)
	silence := now.Sub(inst.LastHeartbeat)
	if silence <= limit || !demotable(inst.Status) {
		return
	}
	s.markDown(ctx, inst, "heartbeat timeout", map[string]any{
		"last_heartbeat": inst.LastHeartbeat,
		"silence":        silence.String(),
	})
}

func (s *Supervisor) evictIfExpired(ctx context.Context, inst *registry.ServiceInstance, now time.Time) bool {
	if s.cfg.EvictAfterSeconds <= 0 || inst.Status != registry.StatusDown {
		return false
	}
	if now.Sub(inst.LastStatusChange) <= time.Duration(s.cfg.EvictAfterSeconds)*time.Second {
		return false
	}
	if err := s.store.Evict(ctx, inst.ServiceName, inst.ID, "evicted after staying down"); err != nil {
		// 已被并发注销
		return true
	}
	s.evictions.Inc(ctx)
	s.mu.Lock()
	delete(s.states, inst.ID)
	s.mu.Unlock()
	s.opts.logger.WarnContext(ctx, "instance evicted",
		clog.String("service", inst.ServiceName),
		clog.String("instance_id", inst.ID),
		clog.Time("down_since", inst.LastStatusChange))
	return true
}

// ============================================================================
// 主动探测
// ============================================================================

func (s *Supervisor) probe(ctx context.Context, inst *registry.ServiceInstance) {
	start := time.Now()
	err := s.do(ctx, inst)
	elapsed := time.Since(start)
	if ctx.Err() != nil {
		// 调度器正在退出，结果不计入失败次数
		return
	}

	outcome := OutcomeSuccess
	switch {
	case errors.Is(err, ErrProbeTimeout):
		outcome = OutcomeTimeout
	case err != nil:
		outcome = OutcomeFailure
	}
	s.probes.Inc(ctx, metrics.L("outcome", outcome))
	s.duration.Record(ctx, elapsed.Seconds(), metrics.L("outcome", outcome))

	if err == nil {
		s.onSuccess(ctx, inst)
		return
	}
	s.onFailure(ctx, inst, err)
}

// do 发起一次探测请求，仅当响应状态码等于 expected_status 时成功
func (s *Supervisor) do(ctx context.Context, inst *registry.ServiceInstance) (err error) {
	hc := inst.HealthCheck
	pctx, cancel := context.WithTimeout(ctx, s.timeout(inst))
	defer cancel()

	method := hc.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(pctx, method, ProbeURL(inst), nil)
	if err != nil {
		return xerrors.Wrapf(ErrProbeFailure, "build request: %v", err)
	}
	for k, v := range hc.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", "scoutquest-health/1.0")

	_, span := trace.StartProbeSpan(pctx, req, inst.ServiceName, inst.ID)
	defer func() {
		trace.MarkSpanError(span, err)
		span.End()
	}()

	resp, err := s.opts.client.Do(req)
	if err != nil {
		if errors.Is(pctx.Err(), context.DeadlineExceeded) {
			return xerrors.Wrapf(ErrProbeTimeout, "after %s", s.timeout(inst))
		}
		return xerrors.Wrapf(ErrProbeFailure, "request: %v", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()

	expected := hc.ExpectedStatus
	if expected == 0 {
		expected = http.StatusOK
	}
	if resp.StatusCode != expected {
		return xerrors.Wrapf(ErrProbeFailure, "status %d, expected %d", resp.StatusCode, expected)
	}
	return nil
}

// ProbeURL 计算探测地址：绝对 URL 原样使用，否则拼接到实例的 http(s)://host:port
func ProbeURL(inst *registry.ServiceInstance) string {
	u := strings.TrimSpace(inst.HealthCheck.URL)
	lower := strings.ToLower(u)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return u
	}
	if !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	return inst.BaseURL() + u
}

func (s *Supervisor) onSuccess(ctx context.Context, inst *registry.ServiceInstance) {
	s.mu.Lock()
	s.state(inst.ID).failures = 0
	s.mu.Unlock()

	out, changed, err := s.store.ApplyHealthTransition(ctx, inst.ServiceName, inst.ID, registry.StatusUp, recoverable)
	if err != nil || !changed {
		return
	}
	s.transitions.Inc(ctx, metrics.L("to", string(registry.StatusUp)))
	s.store.Emit(ctx, registry.ServiceEvent{
		EventType:   registry.EventHealthCheckPassed,
		ServiceName: out.ServiceName,
		InstanceID:  out.ID,
		Details: map[string]any{
			"url": ProbeURL(inst),
		},
	})
}

func (s *Supervisor) onFailure(ctx context.Context, inst *registry.ServiceInstance, cause error) {
	s.mu.Lock()
	st := s.state(inst.ID)
	st.failures++
	failures := st.failures
	s.mu.Unlock()

	s.opts.logger.DebugContext(ctx, "probe failed",
		clog.String("service", inst.ServiceName),
		clog.String("instance_id", inst.ID),
		clog.Int("failures", failures),
		clog.Error(cause))

	if failures < s.cfg.MaxFailures {
		return
	}
	s.markDown(ctx, inst, cause.Error(), map[string]any{
		"url":                  ProbeURL(inst),
		"consecutive_failures": failures,
		"code":                 xerrors.GetCode(cause),
	})
}

// markDown 将实例标记为 Down，仅在状态确实变化时发布一次 HealthCheckFailed
func (s *Supervisor) markDown(ctx context.Context, inst *registry.ServiceInstance, reason string, details map[string]any) {
	out, changed, err := s.store.ApplyHealthTransition(ctx, inst.ServiceName, inst.ID, registry.StatusDown, demotable)
	if err != nil || !changed {
		return
	}
	s.transitions.Inc(ctx, metrics.L("to", string(registry.StatusDown)))
	s.opts.logger.WarnContext(ctx, "instance marked down",
		clog.String("service", out.ServiceName),
		clog.String("instance_id", out.ID),
		clog.String("reason", reason))

	details["reason"] = reason
	s.store.Emit(ctx, registry.ServiceEvent{
		EventType:   registry.EventHealthCheckFailed,
		ServiceName: out.ServiceName,
		InstanceID:  out.ID,
		Details:     details,
	})
}

// demotable 可被健康检查降级为 Down 的状态
func demotable(st registry.Status) bool {
	return st == registry.StatusUp || st == registry.StatusStarting || st == registry.StatusUnknown
}

// recoverable 可被健康检查恢复为 Up 的状态
func recoverable(st registry.Status) bool {
	return st == registry.StatusStarting || st == registry.StatusDown || st == registry.StatusUnknown
}
