package breaker

import (
	"context"
	"sync"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/metrics"
	"github.com/ceyewan/scoutquest/xerrors"
)

type circuitBreaker struct {
	cfg  Config
	opts *options

	breakers sync.Map // map[string]*gobreaker.CircuitBreaker[any]

	requests     metrics.Counter
	stateChanges metrics.Counter
}

func newBreaker(cfg Config, o *options) (*circuitBreaker, error) {
	cb := &circuitBreaker{cfg: cfg, opts: o}

	var err error
	if cb.requests, err = o.meter.Counter("scoutquest_client_breaker_requests_total", "Calls guarded by the circuit breaker, by result."); err != nil {
		return nil, xerrors.Wrap(err, "create breaker requests counter")
	}
	if cb.stateChanges, err = o.meter.Counter("scoutquest_client_breaker_state_changes_total", "Circuit breaker state transitions."); err != nil {
		return nil, xerrors.Wrap(err, "create breaker state counter")
	}

	o.logger.Debug("circuit breaker created",
		clog.Int("max_requests", int(cfg.MaxRequests)),
		clog.Duration("timeout", cfg.Timeout),
		clog.Float64("failure_ratio", cfg.FailureRatio),
		clog.Int("minimum_requests", int(cfg.MinimumRequests)))
	return cb, nil
}

// Execute 执行受熔断保护的函数
func (cb *circuitBreaker) Execute(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}

	result, err := cb.getOrCreate(key).Execute(fn)
	switch {
	case err == nil:
		cb.requests.Inc(ctx, metrics.L("result", "success"))
		return result, nil
	case xerrors.Is(err, gobreaker.ErrOpenState), xerrors.Is(err, gobreaker.ErrTooManyRequests):
		cb.requests.Inc(ctx, metrics.L("result", "rejected"))
		if cb.opts.fallback != nil {
			return cb.opts.fallback(ctx, key, ErrOpenState)
		}
		return nil, xerrors.Wrapf(ErrOpenState, "key %s", key)
	default:
		cb.requests.Inc(ctx, metrics.L("result", "failure"))
		return result, err
	}
}

// State 获取指定键的熔断器状态
func (cb *circuitBreaker) State(key string) (State, error) {
	if key == "" {
		return StateClosed, ErrKeyEmpty
	}
	val, ok := cb.breakers.Load(key)
	if !ok {
		return StateClosed, nil
	}
	return fromGobreaker(val.(*gobreaker.CircuitBreaker[any]).State()), nil
}

func (cb *circuitBreaker) getOrCreate(key string) *gobreaker.CircuitBreaker[any] {
	if val, ok := cb.breakers.Load(key); ok {
		return val.(*gobreaker.CircuitBreaker[any])
	}

	settings := gobreaker.Settings{
		Name:          key,
		MaxRequests:   cb.cfg.MaxRequests,
		Interval:      cb.cfg.Interval,
		Timeout:       cb.cfg.Timeout,
		ReadyToTrip:   cb.readyToTrip,
		OnStateChange: cb.onStateChange,
	}
	actual, _ := cb.breakers.LoadOrStore(key, gobreaker.NewCircuitBreaker[any](settings))
	return actual.(*gobreaker.CircuitBreaker[any])
}

// readyToTrip 请求数达到下限且失败率超过阈值时熔断
func (cb *circuitBreaker) readyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < cb.cfg.MinimumRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= cb.cfg.FailureRatio
}

func (cb *circuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	cb.stateChanges.Inc(context.Background(), metrics.L("to", fromGobreaker(to).String()))
	cb.opts.logger.Warn("circuit breaker state changed",
		clog.String("key", name),
		clog.String("from", fromGobreaker(from).String()),
		clog.String("to", fromGobreaker(to).String()))
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
