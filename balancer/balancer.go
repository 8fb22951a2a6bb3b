// Package balancer 在发现请求时从实例快照中选出一个实例。
//
// 选择前先过滤出 Up 实例；过滤结果为空时回退到全部实例，HealthyOnly 除外。
// RoundRobin 计数器按服务名独立维护，不同服务之间没有竞争。
package balancer

import (
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ceyewan/scoutquest/registry"
	"github.com/ceyewan/scoutquest/xerrors"
)

// Strategy 负载均衡策略，封闭枚举
type Strategy string

const (
	RoundRobin Strategy = "RoundRobin"
	Random     Strategy = "Random"
	// WeightedRandom 尚未建模权重，行为等同 Random
	WeightedRandom Strategy = "WeightedRandom"
	// LeastConnections 没有连接数跟踪，行为等同 Random
	LeastConnections Strategy = "LeastConnections"
	HealthyOnly      Strategy = "HealthyOnly"
)

// Strategies 全部支持的策略
var Strategies = []Strategy{RoundRobin, Random, WeightedRandom, LeastConnections, HealthyOnly}

const (
	CodeNoInstancesAvailable = "NO_INSTANCES_AVAILABLE"
	CodeNoHealthyInstances   = "NO_HEALTHY_INSTANCES"
	CodeUnknownStrategy      = "UNKNOWN_STRATEGY"
)

var (
	// ErrNoInstancesAvailable 输入为空，调用方可退避后重试
	ErrNoInstancesAvailable = xerrors.Coded(CodeNoInstancesAvailable, "no instances available")

	// ErrNoHealthyInstances HealthyOnly 下没有 Up 实例
	ErrNoHealthyInstances = xerrors.Coded(CodeNoHealthyInstances, "no healthy instances")

	// ErrUnknownStrategy 无法识别的策略名
	ErrUnknownStrategy = xerrors.Coded(CodeUnknownStrategy, "unknown load balancing strategy")
)

// ParseStrategy 解析策略名，忽略大小写与 "_" / "-"，空串返回 RoundRobin
func ParseStrategy(s string) (Strategy, error) {
	norm := normalize(s)
	if norm == "" {
		return RoundRobin, nil
	}
	for _, st := range Strategies {
		if normalize(string(st)) == norm {
			return st, nil
		}
	}
	return "", xerrors.Wrapf(ErrUnknownStrategy, "%q", s)
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", "-", "").Replace(s)
}

// Balancer 负载均衡器，并发安全
type Balancer struct {
	// counters service name -> *atomic.Uint64
	counters sync.Map
	intn     func(n int) int
}

// Option 选项
type Option func(*Balancer)

// WithRand 替换随机源，测试中用于固定随机结果
func WithRand(intn func(n int) int) Option {
	return func(b *Balancer) {
		if intn != nil {
			b.intn = intn
		}
	}
}

// New 创建 Balancer
func New(opts ...Option) *Balancer {
	b := &Balancer{intn: rand.IntN}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Select 按策略选出一个实例。instances 应为快照拷贝，Select 不修改它。
func (b *Balancer) Select(serviceName string, instances []*registry.ServiceInstance, strategy Strategy) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, xerrors.Wrapf(ErrNoInstancesAvailable, "service %s", serviceName)
	}

	up := make([]*registry.ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		if inst.Status == registry.StatusUp {
			up = append(up, inst)
		}
	}

	if strategy == HealthyOnly {
		if len(up) == 0 {
			return nil, xerrors.Wrapf(ErrNoHealthyInstances, "service %s", serviceName)
		}
		return up[b.intn(len(up))], nil
	}

	candidates := up
	if len(candidates) == 0 {
		candidates = instances
	}

	switch strategy {
	case RoundRobin, "":
		n := b.counter(serviceName).Add(1) - 1
		return candidates[n%uint64(len(candidates))], nil
	case Random, WeightedRandom, LeastConnections:
		return candidates[b.intn(len(candidates))], nil
	default:
		return nil, xerrors.Wrapf(ErrUnknownStrategy, "%q", strategy)
	}
}

func (b *Balancer) counter(serviceName string) *atomic.Uint64 {
	if c, ok := b.counters.Load(serviceName); ok {
		return c.(*atomic.Uint64)
	}
	c, _ := b.counters.LoadOrStore(serviceName, new(atomic.Uint64))
	return c.(*atomic.Uint64)
}

// ResetRoundRobin 将服务的轮询计数器归零
func (b *Balancer) ResetRoundRobin(serviceName string) {
	if c, ok := b.counters.Load(serviceName); ok {
		c.(*atomic.Uint64).Store(0)
	}
}

// ResetAll 归零所有计数器
func (b *Balancer) ResetAll() {
	b.counters.Range(func(_, v any) bool {
		v.(*atomic.Uint64).Store(0)
		return true
	})
}

// Forget 删除服务的计数器，服务被删除后调用以免计数器无限增长
func (b *Balancer) Forget(serviceName string) {
	b.counters.Delete(serviceName)
}
