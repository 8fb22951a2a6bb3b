package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ceyewan/scoutquest/balancer"
	"github.com/ceyewan/scoutquest/breaker"
	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/registry"
	"github.com/ceyewan/scoutquest/xerrors"
)

// DiscoverOptions 发现查询条件
type DiscoverOptions struct {
	HealthyOnly bool
	Tags        []string
	Limit       int
}

func (o DiscoverOptions) query() url.Values {
	q := url.Values{}
	if o.HealthyOnly {
		q.Set("healthy_only", "true")
	}
	if len(o.Tags) > 0 {
		q.Set("tags", strings.Join(o.Tags, ","))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	return q
}

// Discover 查询服务实例。注册中心不可达或熔断打开时，返回缓存中的最近结果。
func (c *Client) Discover(ctx context.Context, service string, opts DiscoverOptions) ([]*registry.ServiceInstance, error) {
	q := opts.query()
	key := service + "?" + q.Encode()
	path := "/api/services/" + url.PathEscape(service) + "/instances"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var instances []*registry.ServiceInstance
	err := c.call(ctx, "discover", http.MethodGet, path, nil, &instances)
	if err == nil {
		c.cache.Set(key, instances)
		return cloneAll(instances), nil
	}

	if unreachable(err) {
		if cached, ok := c.cache.Get(key); ok {
			c.logger.WarnContext(ctx, "registry unreachable, serving cached instances",
				clog.String("service", service),
				clog.Int("instances", len(cached)),
				clog.Error(err))
			return cloneAll(cached), nil
		}
	}
	if IsNotFound(err) {
		c.cache.Delete(key)
	}
	return nil, err
}

// Select 由注册中心按策略选出一个实例
func (c *Client) Select(ctx context.Context, service string, strategy balancer.Strategy, opts DiscoverOptions) (*registry.ServiceInstance, error) {
	q := opts.query()
	if strategy != "" {
		q.Set("strategy", string(strategy))
	}
	path := "/api/discovery/" + url.PathEscape(service)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var inst registry.ServiceInstance
	if err := c.call(ctx, "select", http.MethodGet, path, nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// Pick 在本地对发现结果做负载均衡，可使用缓存结果
func (c *Client) Pick(ctx context.Context, service string, strategy balancer.Strategy) (*registry.ServiceInstance, error) {
	instances, err := c.Discover(ctx, service, DiscoverOptions{})
	if err != nil {
		return nil, err
	}
	return c.balancer.Select(service, instances, strategy)
}

// ListServices 列出全部服务
func (c *Client) ListServices(ctx context.Context) ([]*registry.Service, error) {
	var out []*registry.Service
	if err := c.call(ctx, "list_services", http.MethodGet, "/api/services", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ServicesByTag 查询带有指定标签的服务
func (c *Client) ServicesByTag(ctx context.Context, tag string) ([]*registry.Service, error) {
	var out []*registry.Service
	if err := c.call(ctx, "services_by_tag", http.MethodGet, "/api/tags/"+url.PathEscape(tag)+"/services", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CallJSON 通过本地轮询选出 service 的实例并发起 JSON 请求。
// 每次重试都会重新选择实例，熔断按实例地址独立统计。
func (c *Client) CallJSON(ctx context.Context, service, method, path string, in, out any) error {
	body, err := encodeBody(in)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	resp, err := c.retry(ctx, "call", func() (*response, error) {
		inst, err := c.Pick(ctx, service, balancer.RoundRobin)
		if err != nil {
			return nil, err
		}
		return c.guarded(ctx, inst.Address(), method, inst.BaseURL()+path, body)
	})
	if err != nil {
		return err
	}
	return c.decode(ctx, "call", resp, out)
}

func unreachable(err error) bool {
	return xerrors.Is(err, ErrNetwork) || xerrors.Is(err, breaker.ErrOpenState)
}

func cloneAll(in []*registry.ServiceInstance) []*registry.ServiceInstance {
	out := make([]*registry.ServiceInstance, len(in))
	for i, inst := range in {
		out[i] = inst.Clone()
	}
	return out
}
