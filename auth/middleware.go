package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/xerrors"
)

// PrincipalKey gin.Context 中保存认证结果的键
const PrincipalKey = "auth:principal"

// GinMiddleware 返回 Gin 认证中间件，skipPaths 中的路由不做认证
func (a *Authenticator) GinMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		principal, err := a.Authenticate(c.Request.Context(), c.Request)
		if err != nil {
			a.options.logger.WarnContext(c.Request.Context(), "request unauthorized",
				clog.String("path", c.Request.URL.Path),
				clog.String("client_ip", c.ClientIP()),
				clog.Error(err))
			c.Header("WWW-Authenticate", `Bearer realm="scoutquest"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    xerrors.CodeOr(err, CodeUnauthorized),
					"message": err.Error(),
				},
			})
			return
		}

		c.Set(PrincipalKey, principal)
		c.Next()
	}
}

// GetPrincipal 从 Gin Context 获取认证结果
func GetPrincipal(c *gin.Context) (*Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok
}
