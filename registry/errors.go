package registry

import "github.com/ceyewan/scoutquest/xerrors"

// 错误码是 HTTP 响应体的一部分，保持稳定
const (
	CodeInvalidRegistration = "INVALID_REGISTRATION"
	CodeInvalidStatus       = "INVALID_STATUS"
	CodeServiceNotFound     = "SERVICE_NOT_FOUND"
	CodeInstanceNotFound    = "INSTANCE_NOT_FOUND"
)

var (
	// ErrInvalidRegistration 注册参数非法，调用方不应重试
	ErrInvalidRegistration = xerrors.Coded(CodeInvalidRegistration, "invalid registration")

	// ErrInvalidStatus 无法识别的实例状态
	ErrInvalidStatus = xerrors.Coded(CodeInvalidStatus, "invalid status")

	// ErrServiceNotFound 服务不存在
	ErrServiceNotFound = xerrors.Coded(CodeServiceNotFound, "service not found")

	// ErrInstanceNotFound 实例不存在
	ErrInstanceNotFound = xerrors.Coded(CodeInstanceNotFound, "instance not found")
)
