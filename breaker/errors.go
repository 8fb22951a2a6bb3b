package breaker

import "github.com/ceyewan/scoutquest/xerrors"

var (
	// ErrKeyEmpty 熔断键为空
	ErrKeyEmpty = xerrors.New("breaker: key is empty")

	// ErrOpenState 熔断器处于打开状态
	ErrOpenState = xerrors.Coded("CIRCUIT_OPEN", "circuit breaker is open")
)
