package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/scoutquest/access"
	"github.com/ceyewan/scoutquest/auth"
	"github.com/ceyewan/scoutquest/balancer"
	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/ratelimit"
	"github.com/ceyewan/scoutquest/registry"
	"github.com/ceyewan/scoutquest/xerrors"
)

const (
	CodeInvalidQuery = "INVALID_QUERY"
	CodeInternal     = "INTERNAL"
)

// ErrInvalidQuery 查询参数无法解析
var ErrInvalidQuery = xerrors.Coded(CodeInvalidQuery, "invalid query parameter")

// statusByCode 错误码到 HTTP 状态码，未列出的按 500 处理
var statusByCode = map[string]int{
	registry.CodeInvalidRegistration:  http.StatusBadRequest,
	registry.CodeInvalidStatus:        http.StatusBadRequest,
	CodeInvalidQuery:                  http.StatusBadRequest,
	balancer.CodeUnknownStrategy:      http.StatusBadRequest,
	registry.CodeServiceNotFound:      http.StatusNotFound,
	registry.CodeInstanceNotFound:     http.StatusNotFound,
	balancer.CodeNoInstancesAvailable: http.StatusServiceUnavailable,
	balancer.CodeNoHealthyInstances:   http.StatusServiceUnavailable,
	access.CodeAccessDenied:           http.StatusForbidden,
	auth.CodeUnauthorized:             http.StatusUnauthorized,
	ratelimit.CodeRateLimited:         http.StatusTooManyRequests,
}

// StatusFor 返回错误对应的 HTTP 状态码
func StatusFor(err error) int {
	if status, ok := statusByCode[xerrors.GetCode(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// errorBody 统一错误响应体 {"error":{"code","message"}}
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	status := StatusFor(err)
	code := xerrors.CodeOr(err, CodeInternal)
	msg := err.Error()

	ctx := c.Request.Context()
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(ctx, "request failed",
			clog.String("path", c.FullPath()),
			clog.ErrorWithCode(err, code))
		if code == CodeInternal {
			msg = "internal server error"
		}
	} else {
		s.logger.DebugContext(ctx, "request rejected",
			clog.String("path", c.FullPath()),
			clog.String("code", code),
			clog.Error(err))
	}

	c.AbortWithStatusJSON(status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}
