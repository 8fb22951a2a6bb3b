// Package server 注册中心的 HTTP/WebSocket API。
//
// 中间件顺序：recovery → 访问控制 → 访问日志 → 链路追踪 → HTTP 指标 → CORS → 限流 → 认证。
// /health 与指标路径不做认证。
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/scoutquest/balancer"
	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/eventbus"
	"github.com/ceyewan/scoutquest/metrics"
	"github.com/ceyewan/scoutquest/ratelimit"
	"github.com/ceyewan/scoutquest/registry"
	"github.com/ceyewan/scoutquest/trace"
	"github.com/ceyewan/scoutquest/xerrors"
)

// Server 注册中心 API 服务器
type Server struct {
	cfg      Config
	opts     *options
	logger   clog.Logger
	store    *registry.Store
	balancer *balancer.Balancer
	bus      *eventbus.Bus

	engine     *gin.Engine
	tlsConfig  *tls.Config
	httpServer *http.Server
	redirect   *http.Server
	listener   net.Listener

	// done 在 Shutdown 时关闭，通知 WebSocket 连接退出
	done      chan struct{}
	closeOnce sync.Once
	conns     sync.WaitGroup
}

// New 创建服务器并注册路由。TLS 证书在此加载，加载失败视为启动失败。
func New(cfg *Config, store *registry.Store, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, xerrors.New("server: store is nil")
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.balancer == nil {
		o.balancer = balancer.New()
	}

	s := &Server{
		cfg:      c,
		opts:     o,
		logger:   o.logger,
		store:    store,
		balancer: o.balancer,
		bus:      o.bus,
		done:     make(chan struct{}),
	}

	if c.TLS.Enabled {
		tlsCfg, err := buildTLSConfig(c.TLS)
		if err != nil {
			return nil, err
		}
		s.tlsConfig = tlsCfg
	}

	if err := s.buildEngine(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) buildEngine() error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.ContextWithFallback = true

	r.Use(s.recovery())
	if s.opts.access != nil && s.opts.access.Enabled() {
		r.Use(s.opts.access.Middleware())
	}
	r.Use(s.requestLog())
	if s.opts.traceName != "" {
		r.Use(trace.GinMiddleware(s.opts.traceName))
	}
	if s.opts.meter != nil {
		httpMetrics, err := metrics.NewHTTPServerMetrics(s.opts.meter, s.opts.info.Name)
		if err != nil {
			return xerrors.Wrap(err, "server: http metrics")
		}
		r.Use(metrics.GinHTTPMiddleware(httpMetrics))
	}
	if s.cfg.EnableCORS {
		r.Use(s.cors())
	}
	if s.opts.limiter != nil && s.opts.limit.Valid() {
		r.Use(ratelimit.GinMiddleware(s.opts.limiter, ratelimit.ClientKey, ratelimit.Fixed(s.opts.limit)))
	}
	if s.opts.auth != nil {
		skip := []string{"/health"}
		if s.cfg.MetricsPath != "" {
			skip = append(skip, s.cfg.MetricsPath)
		}
		r.Use(s.opts.auth.GinMiddleware(skip...))
	}

	s.engine = r
	s.routes()
	return nil
}

// Handler 返回完整的 HTTP 处理器，测试中配合 httptest 使用
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr 实际监听地址，Start 之前为空
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start 绑定端口并在后台提供服务，端口绑定失败时返回错误
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return xerrors.Wrapf(err, "server: listen %s", addr)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		TLSConfig:    s.tlsConfig,
	}

	scheme := "http"
	if s.tlsConfig != nil {
		scheme = "https"
		s.logger.Info("tls enabled",
			clog.String("min_version", s.cfg.TLS.MinVersion),
			clog.String("max_version", s.cfg.TLS.MaxVersion),
			clog.Bool("verify_peer", s.cfg.TLS.VerifyPeer))
		if s.cfg.TLS.RedirectHTTP {
			if err := s.startRedirect(); err != nil {
				_ = ln.Close()
				return err
			}
		}
	}

	go func() {
		var err error
		if s.tlsConfig != nil {
			err = s.httpServer.ServeTLS(ln, "", "")
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", clog.Error(err))
		}
	}()

	s.logger.Info("api server listening",
		clog.String("addr", ln.Addr().String()),
		clog.String("scheme", scheme))
	return nil
}

// Shutdown 优雅关闭：先断开 WebSocket，再等待进行中的请求完成
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if s.redirect != nil {
		errs = append(errs, s.redirect.Shutdown(ctx))
	}
	if s.httpServer != nil {
		errs = append(errs, s.httpServer.Shutdown(ctx))
	}

	waited := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	s.logger.Info("api server stopped")
	return xerrors.Combine(errs...)
}
