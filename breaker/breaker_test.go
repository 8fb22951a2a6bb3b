package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/scoutquest/xerrors"
)

var errBackend = errors.New("connection refused")

func fail() (any, error)    { return nil, errBackend }
func succeed() (any, error) { return "ok", nil }

func TestExecute(t *testing.T) {
	ctx := context.Background()
	brk, err := New(&Config{MinimumRequests: 3, FailureRatio: 0.5, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	t.Run("空键", func(t *testing.T) {
		_, err := brk.Execute(ctx, "", succeed)
		assert.ErrorIs(t, err, ErrKeyEmpty)
	})

	t.Run("成功透传结果", func(t *testing.T) {
		v, err := brk.Execute(ctx, "healthy", succeed)
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
	})

	t.Run("连续失败后熔断", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, err := brk.Execute(ctx, "flaky", fail)
			assert.ErrorIs(t, err, errBackend)
		}
		st, err := brk.State("flaky")
		require.NoError(t, err)
		assert.Equal(t, StateOpen, st)

		_, err = brk.Execute(ctx, "flaky", succeed)
		assert.ErrorIs(t, err, ErrOpenState)
		assert.Equal(t, "CIRCUIT_OPEN", xerrors.GetCode(err))

		st, _ = brk.State("healthy")
		assert.Equal(t, StateClosed, st, "按键隔离")
	})

	t.Run("超时后半开探测恢复", func(t *testing.T) {
		time.Sleep(80 * time.Millisecond)
		st, _ := brk.State("flaky")
		assert.Equal(t, StateHalfOpen, st)

		_, err := brk.Execute(ctx, "flaky", succeed)
		require.NoError(t, err)
		st, _ = brk.State("flaky")
		assert.Equal(t, StateClosed, st)
	})
}

func TestFallback(t *testing.T) {
	ctx := context.Background()
	brk, err := New(&Config{MinimumRequests: 1, FailureRatio: 0.1, Timeout: time.Minute},
		WithFallback(func(_ context.Context, key string, err error) (any, error) {
			assert.ErrorIs(t, err, ErrOpenState)
			return "cached:" + key, nil
		}))
	require.NoError(t, err)

	_, err = brk.Execute(ctx, "registry", fail)
	assert.ErrorIs(t, err, errBackend)

	v, err := brk.Execute(ctx, "registry", succeed)
	require.NoError(t, err)
	assert.Equal(t, "cached:registry", v)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
