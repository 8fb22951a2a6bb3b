package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/scoutquest/balancer"
	"github.com/ceyewan/scoutquest/registry"
	"github.com/ceyewan/scoutquest/xerrors"
)

func (s *Server) routes() {
	r := s.engine

	r.GET("/health", s.health)
	r.GET("/info", s.info)
	if s.opts.meter != nil && s.cfg.MetricsPath != "" {
		r.GET(s.cfg.MetricsPath, gin.WrapH(s.opts.meter.Handler()))
	}
	if s.bus != nil {
		r.GET("/ws", s.streamEvents)
	}

	api := r.Group("/api")
	api.POST("/services", s.register)
	api.GET("/services", s.listServices)
	api.GET("/services/:name", s.getService)
	api.DELETE("/services/:name", s.deleteService)
	api.GET("/services/:name/tags", s.serviceTags)
	api.GET("/services/:name/instances", s.listInstances)
	api.PUT("/services/:name/instances/:id/status", s.updateStatus)
	api.POST("/services/:name/instances/:id/heartbeat", s.heartbeat)
	api.DELETE("/services/:name/instances/:id", s.deregister)
	api.GET("/discovery/:name", s.discover)
	api.GET("/tags/:tag/services", s.servicesByTag)
}

// ============================================================
// 实例生命周期
// ============================================================

func (s *Server) register(c *gin.Context) {
	var reg registry.Registration
	if err := c.ShouldBindJSON(&reg); err != nil {
		s.abortWithError(c, xerrors.Wrap(registry.ErrInvalidRegistration, err.Error()))
		return
	}

	inst, err := s.store.Register(c.Request.Context(), reg)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inst)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) updateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, xerrors.Wrap(registry.ErrInvalidStatus, err.Error()))
		return
	}
	status, err := registry.ParseStatus(req.Status)
	if err != nil {
		s.abortWithError(c, xerrors.Wrapf(err, "%q", req.Status))
		return
	}

	inst, err := s.store.UpdateStatus(c.Request.Context(), c.Param("name"), c.Param("id"), status)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) heartbeat(c *gin.Context) {
	inst, err := s.store.Heartbeat(c.Request.Context(), c.Param("name"), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) deregister(c *gin.Context) {
	name := c.Param("name")
	if err := s.store.Deregister(c.Request.Context(), name, c.Param("id")); err != nil {
		s.abortWithError(c, err)
		return
	}
	s.forgetIfGone(name)
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteService(c *gin.Context) {
	name := c.Param("name")
	if err := s.store.DeleteService(c.Request.Context(), name); err != nil {
		s.abortWithError(c, err)
		return
	}
	s.balancer.Forget(name)
	c.Status(http.StatusNoContent)
}

// forgetIfGone 服务的最后一个实例被移除后清理轮询计数器
func (s *Server) forgetIfGone(name string) {
	if _, err := s.store.GetService(name); err != nil {
		s.balancer.Forget(name)
	}
}

// ============================================================
// 查询与发现
// ============================================================

func (s *Server) listServices(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.ListServices())
}

func (s *Server) getService(c *gin.Context) {
	svc, err := s.store.GetService(c.Param("name"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, svc)
}

func (s *Server) serviceTags(c *gin.Context) {
	tags, err := s.store.ServiceTags(c.Param("name"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tags)
}

func (s *Server) servicesByTag(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.ServicesByTag(c.Param("tag")))
}

func (s *Server) listInstances(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	instances, err := s.store.GetInstances(c.Param("name"), filter)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, instances)
}

// discover 在过滤后的快照上按策略选出一个实例
func (s *Server) discover(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	strategy, err := balancer.ParseStrategy(c.Query("strategy"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	name := c.Param("name")
	instances, err := s.store.GetInstances(name, filter)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	inst, err := s.balancer.Select(name, instances, strategy)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

// parseFilter 解析 healthy_only、tags（逗号分隔）、limit
func parseFilter(c *gin.Context) (registry.InstanceFilter, error) {
	var f registry.InstanceFilter

	if v := c.Query("healthy_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, xerrors.Wrapf(ErrInvalidQuery, "healthy_only=%q", v)
		}
		f.HealthyOnly = b
	}

	if v := c.Query("tags"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.Tags = append(f.Tags, t)
			}
		}
	}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, xerrors.Wrapf(ErrInvalidQuery, "limit=%q", v)
		}
		f.Limit = n
	}
	return f, nil
}

// ============================================================
// 运维端点
// ============================================================

type healthResponse struct {
	Status string `json:"status"`
	registry.RegistryStats
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{Status: "UP", RegistryStats: s.store.Stats()})
}

type infoResponse struct {
	Info
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Stats         registry.RegistryStats `json:"stats"`
	Features      map[string]bool        `json:"features"`
	Strategies    []balancer.Strategy    `json:"strategies"`
	WebSocketURL  string                 `json:"websocket_url,omitempty"`
}

func (s *Server) info(c *gin.Context) {
	stats := s.store.Stats()
	resp := infoResponse{
		Info:          s.opts.info,
		UptimeSeconds: int64(time.Since(stats.StartTime).Seconds()),
		Stats:         stats,
		Features:      s.features(),
		Strategies:    balancer.Strategies,
	}
	if s.bus != nil {
		resp.WebSocketURL = "/ws"
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) features() map[string]bool {
	out := map[string]bool{
		"cors":       s.cfg.EnableCORS,
		"tls":        s.tlsConfig != nil,
		"auth":       s.opts.auth != nil,
		"rate_limit": s.opts.limiter != nil && s.opts.limit.Valid(),
		"network":    s.opts.access != nil && s.opts.access.Enabled(),
		"metrics":    s.opts.meter != nil && s.cfg.MetricsPath != "",
		"tracing":    s.opts.traceName != "",
		"websocket":  s.bus != nil,
	}
	for k, v := range s.opts.features {
		out[k] = v
	}
	return out
}
