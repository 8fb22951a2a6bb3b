package auth

import "github.com/ceyewan/scoutquest/xerrors"

// CodeUnauthorized 认证失败的错误码
const CodeUnauthorized = "UNAUTHORIZED"

// 认证失败的错误均带有 UNAUTHORIZED 错误码
var (
	ErrMissingCredentials = xerrors.Coded(CodeUnauthorized, "missing credentials")
	ErrInvalidAPIKey      = xerrors.Coded(CodeUnauthorized, "invalid api key")
	ErrInvalidToken       = xerrors.Coded(CodeUnauthorized, "invalid token")
	ErrExpiredToken       = xerrors.Coded(CodeUnauthorized, "token expired")
)

var (
	ErrInvalidClaims = xerrors.New("auth: invalid claims")
	ErrInvalidConfig = xerrors.New("auth: invalid config")
)
