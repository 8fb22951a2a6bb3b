package ratelimit

import "github.com/ceyewan/scoutquest/xerrors"

// CodeRateLimited 被限流时返回给调用方的错误码
const CodeRateLimited = "RATE_LIMITED"

var (
	// ErrKeyEmpty 限流键为空
	ErrKeyEmpty = xerrors.New("ratelimit: key is empty")

	// ErrInvalidLimit 限流规则无效
	ErrInvalidLimit = xerrors.New("ratelimit: invalid limit")

	// ErrRateLimitExceeded 超出限流阈值
	ErrRateLimitExceeded = xerrors.Coded(CodeRateLimited, "rate limit exceeded")
)
