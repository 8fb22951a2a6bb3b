package client

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ceyewan/scoutquest/xerrors"
)

const (
	// CodeNetworkError 与注册中心或目标服务之间的传输失败，会按退避策略重试
	CodeNetworkError = "NETWORK_ERROR"
	// CodeUnexpectedStatus 响应不是注册中心的错误体时使用
	CodeUnexpectedStatus = "UNEXPECTED_STATUS"
)

var (
	// ErrNetwork 传输层失败
	ErrNetwork = xerrors.Coded(CodeNetworkError, "network error")

	// ErrNotRegistered 当前客户端没有已注册的实例
	ErrNotRegistered = xerrors.New("scoutquest: no registered instance")

	// ErrInvalidConfig 客户端配置非法
	ErrInvalidConfig = xerrors.New("scoutquest: invalid client config")
)

// APIError 非 2xx 响应
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scoutquest: %d %s: %s", e.Status, e.Code, e.Message)
}

// decodeAPIError 解析 {"error":{"code","message"}}，返回的错误可用 xerrors.GetCode 取出错误码
func decodeAPIError(status int, body []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	apiErr := &APIError{Status: status, Code: CodeUnexpectedStatus, Message: http.StatusText(status)}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return xerrors.WithCode(apiErr, apiErr.Code)
}

// IsNotFound 服务或实例不存在
func IsNotFound(err error) bool {
	var apiErr *APIError
	return xerrors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
