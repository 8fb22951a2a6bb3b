// Package xerrors 提供错误包装与稳定错误码。
//
// 错误码是 API 契约的一部分：HTTP 层通过 GetCode 取出错误码并写入响应体，
// 调用方依据错误码而不是错误文本决定是否重试。
package xerrors

import (
	"errors"
	"fmt"
)

// ErrInvalidInput 通用参数错误，组件可在其上 Wrap 具体原因
var ErrInvalidInput = WithCode(errors.New("invalid input"), "INVALID_INPUT")

// Wrap 用上下文信息包装错误，保留错误链。err 为 nil 时返回 nil。
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 用格式化的上下文信息包装错误。
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// WithCode 为错误附加机器可读的错误码。
func WithCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Cause: err}
}

// Coded 创建带错误码的哨兵错误
//
//	var ErrServiceNotFound = xerrors.Coded("SERVICE_NOT_FOUND", "service not found")
func Coded(code, msg string) error {
	return &CodedError{Code: code, Cause: errors.New(msg)}
}

// CodedError 带错误码的错误。Error() 只返回原因文本，错误码通过 GetCode 获取。
type CodedError struct {
	Code  string
	Cause error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return e.Code
	}
	return e.Cause.Error()
}

func (e *CodedError) Unwrap() error {
	return e.Cause
}

// GetCode 从错误链中提取最外层的错误码，没有时返回空串。
func GetCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// CodeOr 与 GetCode 相同，但在错误链中没有错误码时返回 fallback。
func CodeOr(err error, fallback string) string {
	if code := GetCode(err); code != "" {
		return code
	}
	return fallback
}

// Must 如果 err 不为 nil 则 panic，仅用于初始化阶段。
func Must[T any](v T, err error) T {
	if err != nil {
		panic(fmt.Sprintf("must: %v", err))
	}
	return v
}

// MultiError 合并多个错误。
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	switch len(m.Errors) {
	case 0:
		return "no errors"
	case 1:
		return m.Errors[0].Error()
	default:
		return fmt.Sprintf("%v (and %d more errors)", m.Errors[0], len(m.Errors)-1)
	}
}

func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Combine 合并多个错误，忽略 nil。关闭多个资源时常用。
func Combine(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return &MultiError{Errors: nonNil}
	}
}

// 标准库函数再导出
var (
	New    = errors.New
	Errorf = fmt.Errorf
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
)
