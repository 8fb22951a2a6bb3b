package access

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/metrics"
)

const (
	// ContextKeyClientAddr gin.Context 中保存解析后的来源地址
	ContextKeyClientAddr = "access.client_addr"
	// ContextKeyViolation log_only 模式下被放行的违规请求会带上该标记
	ContextKeyViolation = "access.violation"
)

// Middleware 返回 gin 中间件，应放在所有处理器之前
func (f *Filter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := f.ClientAddr(c.Request)
		if addr.IsValid() {
			c.Set(ContextKeyClientAddr, addr.String())
		}

		d := f.Evaluate(addr)
		if d.Allowed {
			c.Next()
			return
		}

		f.violations.Add(1)
		f.counter.Inc(c.Request.Context(), metrics.L("action", string(f.action)))

		fields := []clog.Field{
			clog.String("client_addr", addr.String()),
			clog.String("path", c.Request.URL.Path),
			clog.String("reason", d.Reason),
			clog.String("rule", d.Matched),
		}

		if f.action == DenyLogOnly {
			f.logger.WarnContext(c.Request.Context(), "network policy violation (log only)", fields...)
			c.Set(ContextKeyViolation, d)
			c.Next()
			return
		}

		f.logger.WarnContext(c.Request.Context(), "request rejected by network policy", fields...)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": gin.H{
				"code":    CodeAccessDenied,
				"message": ErrAccessDenied.Error(),
			},
		})
	}
}
