package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/scoutquest/access"
)

// Fixed 返回固定规则的 limitFunc
func Fixed(limit Limit) func(*gin.Context) Limit {
	return func(*gin.Context) Limit { return limit }
}

// ClientKey 默认限流键：优先使用访问控制解析出的来源地址，否则使用 gin 的 ClientIP
func ClientKey(c *gin.Context) string {
	if v, ok := c.Get(access.ContextKeyClientAddr); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return c.ClientIP()
}

// GinMiddleware 创建 Gin 限流中间件，被限流时返回 429 RATE_LIMITED
//
//	r.Use(ratelimit.GinMiddleware(limiter, nil, ratelimit.Fixed(ratelimit.PerMinute(600))))
func GinMiddleware(
	limiter Limiter,
	keyFunc func(*gin.Context) string,
	limitFunc func(*gin.Context) Limit,
) gin.HandlerFunc {
	if keyFunc == nil {
		keyFunc = ClientKey
	}

	return func(c *gin.Context) {
		key := keyFunc(c)
		if key == "" {
			c.Next()
			return
		}

		limit := limitFunc(c)
		if !limit.Valid() {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Burst))

		allowed, err := limiter.Allow(c.Request.Context(), key, limit)
		if err != nil {
			// 限流器自身出错时放行
			c.Next()
			return
		}

		if !allowed {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(retryAfter(limit)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    CodeRateLimited,
					"message": ErrRateLimitExceeded.Error(),
				},
			})
			return
		}

		c.Next()
	}
}

// retryAfter 补充一个令牌所需的秒数，至少 1 秒
func retryAfter(limit Limit) int {
	secs := int(math.Ceil(1 / limit.Rate))
	if secs < 1 {
		secs = 1
	}
	return secs
}
