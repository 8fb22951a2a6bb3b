package server

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/scoutquest/clog"
)

var (
	corsMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
	}, ", ")
	corsHeaders = strings.Join([]string{"Content-Type", "Authorization", "X-API-Key"}, ", ")
)

// recovery 捕获 panic，返回 INTERNAL 错误体
func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		s.logger.ErrorContext(c.Request.Context(), "panic recovered",
			clog.String("path", c.Request.URL.Path),
			clog.Any("panic", rec))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{
			Error: errorDetail{Code: CodeInternal, Message: "internal server error"},
		})
	})
}

// requestLog 访问日志，/health 与指标路径不记录
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if s.quietPath(path) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []clog.Field{
			clog.String("method", c.Request.Method),
			clog.String("path", path),
			clog.Int("status", status),
			clog.Duration("latency", time.Since(start)),
			clog.String("client_ip", c.ClientIP()),
		}

		ctx := c.Request.Context()
		switch {
		case status >= http.StatusInternalServerError:
			s.logger.ErrorContext(ctx, "http request", fields...)
		case status >= http.StatusBadRequest:
			s.logger.WarnContext(ctx, "http request", fields...)
		default:
			s.logger.DebugContext(ctx, "http request", fields...)
		}
	}
}

func (s *Server) quietPath(path string) bool {
	return path == "/health" || (s.cfg.MetricsPath != "" && path == s.cfg.MetricsPath)
}

// cors 设置跨域响应头，OPTIONS 预检直接返回 204
func (s *Server) cors() gin.HandlerFunc {
	wildcard := slices.Contains(s.cfg.CORSOrigins, "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (wildcard || slices.Contains(s.cfg.CORSOrigins, origin)) {
			h := c.Writer.Header()
			if wildcard {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// originAllowed WebSocket 握手的来源校验，未启用 CORS 时只允许同源
func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.cfg.EnableCORS && (slices.Contains(s.cfg.CORSOrigins, "*") || slices.Contains(s.cfg.CORSOrigins, origin)) {
		return true
	}
	host := strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	return strings.EqualFold(host, r.Host)
}
