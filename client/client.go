// Package client ScoutQuest 注册中心的 Go 客户端。
//
// 注册后自动发送心跳；注册中心因重启丢失实例时自动重新注册。
// 对注册中心的调用受熔断器保护，网络错误按指数退避重试，发现结果缓存在本地，
// 注册中心不可达时返回最近一次的结果。
//
//	c, err := client.New(&client.Config{BaseURL: "http://localhost:8080"}, client.WithLogger(logger))
//	inst, err := c.Register(ctx, registry.Registration{ServiceName: "orders", Host: "10.0.0.5", Port: 9000})
//	defer c.Close(ctx)
//
//	instances, err := c.Discover(ctx, "payments", client.DiscoverOptions{HealthyOnly: true})
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ceyewan/scoutquest/balancer"
	"github.com/ceyewan/scoutquest/breaker"
	"github.com/ceyewan/scoutquest/cache"
	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/metrics"
	"github.com/ceyewan/scoutquest/registry"
	"github.com/ceyewan/scoutquest/xerrors"
)

const maxResponseBody = 4 << 20

// Client 注册中心客户端，并发安全
type Client struct {
	cfg      Config
	baseURL  string
	http     *http.Client
	logger   clog.Logger
	breaker  breaker.Breaker
	cache    *cache.Cache[string, []*registry.ServiceInstance]
	balancer *balancer.Balancer
	requests metrics.Counter

	mu           sync.Mutex
	registration *registry.Registration
	instance     *registry.ServiceInstance
	hbCancel     context.CancelFunc
	hbDone       chan struct{}
}

// New 创建客户端
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrInvalidConfig, "config is nil")
	}
	c := *cfg
	c.setDefaults()

	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, xerrors.Wrapf(ErrInvalidConfig, "base_url %q", c.BaseURL)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: c.Timeout}
	}

	brk, err := breaker.New(&c.Breaker, breaker.WithLogger(o.logger), breaker.WithMeter(o.meter))
	if err != nil {
		return nil, err
	}
	discovered, err := cache.New[string, []*registry.ServiceInstance](c.cacheConfig(), cache.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	requests, err := o.meter.Counter("scoutquest_client_requests_total", "Requests sent by the registry client, by operation and result.")
	if err != nil {
		return nil, xerrors.Wrap(err, "create client request counter")
	}

	return &Client{
		cfg:      c,
		baseURL:  base,
		http:     o.httpClient,
		logger:   o.logger,
		breaker:  brk,
		cache:    discovered,
		balancer: balancer.New(),
		requests: requests,
	}, nil
}

// ============================================================
// 注册与心跳
// ============================================================

// Register 注册实例并启动心跳。同一客户端再次注册会替换之前的实例。
func (c *Client) Register(ctx context.Context, reg registry.Registration) (*registry.ServiceInstance, error) {
	var inst registry.ServiceInstance
	if err := c.call(ctx, "register", http.MethodPost, "/api/services", reg, &inst); err != nil {
		return nil, err
	}

	c.mu.Lock()
	r := reg
	c.registration = &r
	c.instance = &inst
	c.mu.Unlock()

	c.startHeartbeat()
	c.logger.InfoContext(ctx, "service registered",
		clog.String("service", inst.ServiceName),
		clog.String("instance_id", inst.ID))
	return inst.Clone(), nil
}

// Instance 当前注册的实例，未注册时返回 nil
func (c *Client) Instance() *registry.ServiceInstance {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.instance == nil {
		return nil
	}
	return c.instance.Clone()
}

// Heartbeat 立即发送一次心跳
func (c *Client) Heartbeat(ctx context.Context) error {
	inst := c.Instance()
	if inst == nil {
		return ErrNotRegistered
	}
	return c.call(ctx, "heartbeat", http.MethodPost, instancePath(inst)+"/heartbeat", nil, nil)
}

// UpdateStatus 显式设置当前实例状态，例如下线前设置为 Stopping
func (c *Client) UpdateStatus(ctx context.Context, status registry.Status) error {
	inst := c.Instance()
	if inst == nil {
		return ErrNotRegistered
	}
	return c.call(ctx, "update_status", http.MethodPut, instancePath(inst)+"/status",
		map[string]string{"status": string(status)}, nil)
}

// Deregister 停止心跳并注销实例
func (c *Client) Deregister(ctx context.Context) error {
	c.stopHeartbeat()

	c.mu.Lock()
	inst := c.instance
	c.instance = nil
	c.registration = nil
	c.mu.Unlock()

	if inst == nil {
		return ErrNotRegistered
	}
	err := c.call(ctx, "deregister", http.MethodDelete, instancePath(inst), nil, nil)
	if err != nil && !IsNotFound(err) {
		return err
	}
	c.logger.InfoContext(ctx, "service deregistered",
		clog.String("service", inst.ServiceName),
		clog.String("instance_id", inst.ID))
	return nil
}

// Close 注销已注册的实例并释放资源
func (c *Client) Close(ctx context.Context) error {
	var errs []error
	if err := c.Deregister(ctx); err != nil && !xerrors.Is(err, ErrNotRegistered) {
		errs = append(errs, err)
	}
	errs = append(errs, c.cache.Close())
	return xerrors.Combine(errs...)
}

func (c *Client) startHeartbeat() {
	c.stopHeartbeat()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.hbCancel = cancel
	c.hbDone = done
	c.mu.Unlock()

	go c.heartbeatLoop(ctx, done)
}

func (c *Client) stopHeartbeat() {
	c.mu.Lock()
	cancel, done := c.hbCancel, c.hbDone
	c.hbCancel, c.hbDone = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := c.Heartbeat(ctx)
		switch {
		case err == nil, ctx.Err() != nil:
		case IsNotFound(err):
			// 注册中心不持久化，重启后实例丢失
			c.logger.Warn("instance unknown to registry, registering again", clog.Error(err))
			if err := c.reregister(ctx); err != nil {
				c.logger.Error("re-register failed", clog.Error(err))
			}
		default:
			c.logger.Warn("heartbeat failed", clog.Error(err))
		}
	}
}

func (c *Client) reregister(ctx context.Context) error {
	c.mu.Lock()
	reg := c.registration
	c.mu.Unlock()
	if reg == nil {
		return ErrNotRegistered
	}

	var inst registry.ServiceInstance
	if err := c.call(ctx, "register", http.MethodPost, "/api/services", reg, &inst); err != nil {
		return err
	}

	c.mu.Lock()
	if c.registration == reg {
		c.instance = &inst
	}
	c.mu.Unlock()

	c.logger.Info("service registered again",
		clog.String("service", inst.ServiceName),
		clog.String("instance_id", inst.ID))
	return nil
}

func instancePath(inst *registry.ServiceInstance) string {
	return "/api/services/" + url.PathEscape(inst.ServiceName) + "/instances/" + url.PathEscape(inst.ID)
}

// ============================================================
// 传输
// ============================================================

type response struct {
	status int
	body   []byte
}

// call 调用注册中心 API
func (c *Client) call(ctx context.Context, op, method, path string, in, out any) error {
	body, err := encodeBody(in)
	if err != nil {
		return err
	}

	resp, err := c.retry(ctx, op, func() (*response, error) {
		return c.guarded(ctx, c.baseURL, method, c.baseURL+path, body)
	})
	if err != nil {
		c.requests.Inc(ctx, metrics.L("op", op), metrics.L("result", "error"))
		return err
	}
	return c.decode(ctx, op, resp, out)
}

func (c *Client) decode(ctx context.Context, op string, resp *response, out any) error {
	if resp.status >= http.StatusBadRequest {
		c.requests.Inc(ctx, metrics.L("op", op), metrics.L("result", "rejected"))
		return decodeAPIError(resp.status, resp.body)
	}
	c.requests.Inc(ctx, metrics.L("op", op), metrics.L("result", "success"))
	if out == nil || len(resp.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return xerrors.Wrapf(err, "decode %s response", op)
	}
	return nil
}

// retry 网络错误按指数退避重试；熔断打开或上下文结束时立即返回
func (c *Client) retry(ctx context.Context, op string, fn func() (*response, error)) (*response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff

	return backoff.Retry(ctx, func() (*response, error) {
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || !xerrors.Is(err, ErrNetwork) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.WarnContext(ctx, "request failed, retrying",
				clog.String("op", op),
				clog.Duration("backoff", wait),
				clog.Error(err))
		}),
	)
}

// guarded 在 key 对应的熔断器内执行一次请求，只有传输失败计入熔断统计
func (c *Client) guarded(ctx context.Context, key, method, rawURL string, body []byte) (*response, error) {
	v, err := c.breaker.Execute(ctx, key, func() (any, error) {
		return c.roundTrip(ctx, method, rawURL, body)
	})
	if err != nil {
		return nil, err
	}
	return v.(*response), nil
}

func (c *Client) roundTrip(ctx context.Context, method, rawURL string, body []byte) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, xerrors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, xerrors.Wrapf(ErrNetwork, "%s %s: %v", method, rawURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, xerrors.Wrapf(ErrNetwork, "read %s %s: %v", method, rawURL, err)
	}
	return &response{status: resp.StatusCode, body: data}, nil
}

func encodeBody(in any) ([]byte, error) {
	if in == nil {
		return nil, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, xerrors.Wrap(err, "encode request body")
	}
	return data, nil
}
