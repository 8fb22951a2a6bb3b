// Package access 按来源地址对入站请求执行 CIDR 允许/拒绝策略。
//
// 求值顺序：未启用时放行；命中 denied_cidrs 拒绝（拒绝优先）；命中 allowed_cidrs 放行；否则拒绝。
// "拒绝" 由 deny_action 决定：reject 直接返回 403，log_only 放行但记录违规，便于分阶段上线策略。
package access

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync/atomic"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/metrics"
	"github.com/ceyewan/scoutquest/xerrors"
)

// DenyAction 拒绝时的处理方式
type DenyAction string

const (
	DenyReject  DenyAction = "reject"
	DenyLogOnly DenyAction = "log_only"
)

// CodeAccessDenied 访问被拒绝的错误码
const CodeAccessDenied = "ACCESS_DENIED"

var (
	// ErrAccessDenied 来源地址被策略拒绝
	ErrAccessDenied = xerrors.Coded(CodeAccessDenied, "access denied by network policy")

	// ErrInvalidPolicy 策略配置非法
	ErrInvalidPolicy = xerrors.Coded("INVALID_NETWORK_POLICY", "invalid network policy")
)

// Policy 网络访问策略，启动时加载，进程生命周期内不变
type Policy struct {
	Enabled           bool       `mapstructure:"enabled" json:"enabled"`
	AllowedCIDRs      []string   `mapstructure:"allowed_cidrs" json:"allowed_cidrs"`
	DeniedCIDRs       []string   `mapstructure:"denied_cidrs" json:"denied_cidrs"`
	DenyAction        DenyAction `mapstructure:"deny_action" json:"deny_action"`
	TrustProxyHeaders bool       `mapstructure:"trust_proxy_headers" json:"trust_proxy_headers"`
}

// Decision 单次求值结果
type Decision struct {
	Allowed bool
	// Matched 命中的规则，未命中任何规则时为空
	Matched string
	Reason  string
}

// Filter 编译后的访问策略
type Filter struct {
	enabled    bool
	allowed    []netip.Prefix
	denied     []netip.Prefix
	action     DenyAction
	trustProxy bool

	violations atomic.Uint64
	logger     clog.Logger
	counter    metrics.Counter
}

// Option 选项
type Option func(*Filter)

// WithLogger 注入日志记录器，自动追加 "access" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(f *Filter) {
		if l != nil {
			f.logger = l.WithNamespace("access")
		}
	}
}

// WithMeter 注入指标，记录 scoutquest_access_violations_total
func WithMeter(m metrics.Meter) Option {
	return func(f *Filter) {
		if m == nil {
			return
		}
		if c, err := m.Counter("scoutquest_access_violations_total", "Requests denied by the network policy."); err == nil {
			f.counter = c
		}
	}
}

// New 校验并编译策略
func New(p Policy, opts ...Option) (*Filter, error) {
	f := &Filter{
		enabled:    p.Enabled,
		action:     p.DenyAction,
		trustProxy: p.TrustProxyHeaders,
		logger:     clog.Discard(),
	}
	f.counter, _ = metrics.Discard().Counter("", "")
	for _, opt := range opts {
		opt(f)
	}

	switch f.action {
	case "":
		f.action = DenyReject
	case DenyReject, DenyLogOnly:
	default:
		return nil, xerrors.Wrapf(ErrInvalidPolicy, "deny_action %q must be reject or log_only", p.DenyAction)
	}

	var err error
	if f.allowed, err = parsePrefixes(p.AllowedCIDRs); err != nil {
		return nil, err
	}
	if f.denied, err = parsePrefixes(p.DeniedCIDRs); err != nil {
		return nil, err
	}

	if f.enabled && len(f.allowed) == 0 {
		return nil, xerrors.Wrap(ErrInvalidPolicy, "allowed_cidrs must not be empty when network policy is enabled")
	}
	return f, nil
}

// parsePrefixes 解析 CIDR 列表，单个 IP 视为主机前缀（/32 或 /128）
func parsePrefixes(in []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(in))
	for _, raw := range in {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			addr, err := netip.ParseAddr(s)
			if err != nil {
				return nil, xerrors.Wrapf(ErrInvalidPolicy, "invalid address %q", raw)
			}
			addr = addr.Unmap()
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, xerrors.Wrapf(ErrInvalidPolicy, "invalid CIDR %q", raw)
		}
		if p.Addr().Is4In6() && p.Bits() >= 96 {
			p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

// Enabled 策略是否启用
func (f *Filter) Enabled() bool { return f.enabled }

// Action 拒绝动作
func (f *Filter) Action() DenyAction { return f.action }

// Violations 累计被判定为拒绝的请求数（reject 与 log_only 都计入）
func (f *Filter) Violations() uint64 { return f.violations.Load() }

// Evaluate 对单个地址求值，拒绝优先
func (f *Filter) Evaluate(addr netip.Addr) Decision {
	if !f.enabled {
		return Decision{Allowed: true, Reason: "policy disabled"}
	}
	if !addr.IsValid() {
		return Decision{Allowed: false, Reason: "unknown source address"}
	}
	addr = addr.Unmap()

	for _, p := range f.denied {
		if p.Contains(addr) {
			return Decision{Allowed: false, Matched: p.String(), Reason: "denied by rule"}
		}
	}
	for _, p := range f.allowed {
		if p.Contains(addr) {
			return Decision{Allowed: true, Matched: p.String(), Reason: "allowed by rule"}
		}
	}
	return Decision{Allowed: false, Reason: "not in allowed list"}
}

// ClientAddr 解析请求的有效来源地址。
// 信任代理头时依次取 X-Forwarded-For 的第一个有效地址、X-Real-IP，都没有时使用连接对端地址。
func (f *Filter) ClientAddr(r *http.Request) netip.Addr {
	if f.trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, part := range strings.Split(xff, ",") {
				if addr, err := netip.ParseAddr(strings.TrimSpace(part)); err == nil {
					return addr.Unmap()
				}
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			if addr, err := netip.ParseAddr(realIP); err == nil {
				return addr.Unmap()
			}
		}
	}
	return peerAddr(r.RemoteAddr)
}

func peerAddr(remote string) netip.Addr {
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().Unmap()
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}
