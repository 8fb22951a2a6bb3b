package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/metrics"
	"github.com/ceyewan/scoutquest/xerrors"
)

// limiterWrapper 包装 rate.Limiter 并记录最后访问时间
type limiterWrapper struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

type standaloneLimiter struct {
	cfg      Config
	opts     *options
	limiters sync.Map // map[string]*limiterWrapper

	decisions metrics.Counter

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newStandalone(cfg Config, o *options) (*standaloneLimiter, error) {
	l := &standaloneLimiter{
		cfg:    cfg,
		opts:   o,
		stopCh: make(chan struct{}),
	}
	var err error
	if l.decisions, err = o.meter.Counter("scoutquest_ratelimit_decisions_total", "Rate limit decisions by result."); err != nil {
		return nil, xerrors.Wrap(err, "create ratelimit counter")
	}

	go l.cleanup()

	o.logger.Debug("rate limiter created",
		clog.Duration("cleanup_interval", cfg.CleanupInterval),
		clog.Duration("idle_timeout", cfg.IdleTimeout))
	return l, nil
}

// Allow 尝试获取 1 个令牌
func (l *standaloneLimiter) Allow(ctx context.Context, key string, limit Limit) (bool, error) {
	return l.AllowN(ctx, key, limit, 1)
}

// AllowN 尝试获取 n 个令牌
func (l *standaloneLimiter) AllowN(ctx context.Context, key string, limit Limit, n int) (bool, error) {
	if key == "" {
		return false, ErrKeyEmpty
	}
	if !limit.Valid() {
		return false, ErrInvalidLimit
	}
	if n <= 0 {
		return false, xerrors.Wrap(xerrors.ErrInvalidInput, "ratelimit: n must be positive")
	}

	now := l.opts.now()
	wrapper := l.getLimiter(key, limit, now)

	wrapper.mu.Lock()
	allowed := wrapper.limiter.AllowN(now, n)
	wrapper.lastSeen = now
	wrapper.mu.Unlock()

	result := "allowed"
	if !allowed {
		result = "denied"
	}
	l.decisions.Inc(ctx, metrics.L("result", result))
	return allowed, nil
}

// getLimiter 获取或创建指定 key 的限流器，规则变化时视为不同的桶
func (l *standaloneLimiter) getLimiter(key string, limit Limit, now time.Time) *limiterWrapper {
	cacheKey := fmt.Sprintf("%s:%v:%d", key, limit.Rate, limit.Burst)
	if v, ok := l.limiters.Load(cacheKey); ok {
		return v.(*limiterWrapper)
	}

	lim := rate.NewLimiter(rate.Limit(limit.Rate), limit.Burst)
	// 以注入的时钟为基准填满令牌桶
	lim.SetBurstAt(now, limit.Burst)
	wrapper := &limiterWrapper{limiter: lim, lastSeen: now}

	actual, _ := l.limiters.LoadOrStore(cacheKey, wrapper)
	return actual.(*limiterWrapper)
}

// cleanup 定期清理空闲的限流器
func (l *standaloneLimiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep(l.opts.now())
		case <-l.stopCh:
			return
		}
	}
}

// sweep 删除空闲超过 IdleTimeout 的键，返回删除数量
func (l *standaloneLimiter) sweep(now time.Time) int {
	count := 0
	l.limiters.Range(func(key, value any) bool {
		wrapper := value.(*limiterWrapper)
		wrapper.mu.Lock()
		idle := now.Sub(wrapper.lastSeen)
		wrapper.mu.Unlock()

		if idle > l.cfg.IdleTimeout {
			l.limiters.Delete(key)
			count++
		}
		return true
	})
	if count > 0 {
		l.opts.logger.Debug("cleaned up idle limiters", clog.Int("count", count))
	}
	return count
}

// Close 停止后台清理，可重复调用
func (l *standaloneLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	return nil
}
