package access

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/scoutquest/xerrors"
)

func mustFilter(t *testing.T, p Policy) *Filter {
	t.Helper()
	f, err := New(p)
	require.NoError(t, err)
	return f
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"未启用且无规则", Policy{}, false},
		{"启用但允许列表为空", Policy{Enabled: true}, true},
		{"非法 CIDR", Policy{Enabled: true, AllowedCIDRs: []string{"10.0.0.0/33"}}, true},
		{"非法拒绝列表", Policy{AllowedCIDRs: []string{"10.0.0.0/8"}, DeniedCIDRs: []string{"nope"}}, true},
		{"非法动作", Policy{Enabled: true, AllowedCIDRs: []string{"10.0.0.0/8"}, DenyAction: "drop"}, true},
		{"单个 IP 作为主机前缀", Policy{Enabled: true, AllowedCIDRs: []string{"192.168.1.10", "::1"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.policy)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, xerrors.Is(err, ErrInvalidPolicy))
				return
			}
			assert.NoError(t, err)
		})
	}

	f := mustFilter(t, Policy{Enabled: true, AllowedCIDRs: []string{"10.0.0.0/8"}})
	assert.Equal(t, DenyReject, f.Action(), "默认动作为 reject")
}

func TestEvaluate(t *testing.T) {
	f := mustFilter(t, Policy{
		Enabled:      true,
		AllowedCIDRs: []string{"10.0.0.0/8", "192.168.1.10", "2001:db8::/32"},
		DeniedCIDRs:  []string{"10.0.0.0/24"},
	})

	tests := []struct {
		addr    string
		allowed bool
	}{
		{"10.1.2.3", true},
		{"10.0.0.7", false}, // 同时命中允许与拒绝，拒绝优先
		{"192.168.1.10", true},
		{"192.168.1.11", false},
		{"::ffff:10.1.2.3", true},
		{"2001:db8::1", true},
		{"8.8.8.8", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			d := f.Evaluate(netip.MustParseAddr(tt.addr))
			assert.Equal(t, tt.allowed, d.Allowed, d.Reason)
		})
	}

	t.Run("未启用时全部放行", func(t *testing.T) {
		off := mustFilter(t, Policy{DeniedCIDRs: []string{"0.0.0.0/0"}})
		assert.True(t, off.Evaluate(netip.MustParseAddr("1.2.3.4")).Allowed)
	})

	t.Run("无效地址被拒绝", func(t *testing.T) {
		assert.False(t, f.Evaluate(netip.Addr{}).Allowed)
	})
}

func TestClientAddr(t *testing.T) {
	req := func(remote string, headers map[string]string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/health", nil)
		r.RemoteAddr = remote
		for k, v := range headers {
			r.Header.Set(k, v)
		}
		return r
	}

	trusting := mustFilter(t, Policy{TrustProxyHeaders: true})
	plain := mustFilter(t, Policy{})

	tests := []struct {
		name    string
		filter  *Filter
		request *http.Request
		want    string
	}{
		{"对端地址", plain, req("10.0.0.1:5555", nil), "10.0.0.1"},
		{"IPv6 对端地址", plain, req("[::1]:5555", nil), "::1"},
		{"不信任代理时忽略转发头", plain, req("10.0.0.1:5555", map[string]string{"X-Forwarded-For": "1.1.1.1"}), "10.0.0.1"},
		{"转发头取第一个", trusting, req("10.0.0.1:5555", map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2"}), "1.1.1.1"},
		{"跳过无效转发项", trusting, req("10.0.0.1:5555", map[string]string{"X-Forwarded-For": "unknown, 3.3.3.3"}), "3.3.3.3"},
		{"使用 X-Real-IP", trusting, req("10.0.0.1:5555", map[string]string{"X-Real-IP": "4.4.4.4"}), "4.4.4.4"},
		{"无转发头回退对端地址", trusting, req("10.0.0.1:5555", nil), "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.ClientAddr(tt.request).String())
		})
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	serve := func(f *Filter, remote string) (*httptest.ResponseRecorder, bool) {
		violated := false
		r := gin.New()
		r.Use(f.Middleware())
		r.GET("/health", func(c *gin.Context) {
			_, violated = c.Get(ContextKeyViolation)
			c.Status(http.StatusOK)
		})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = remote
		r.ServeHTTP(rec, req)
		return rec, violated
	}

	policy := Policy{
		Enabled:      true,
		AllowedCIDRs: []string{"10.0.0.0/8"},
		DeniedCIDRs:  []string{"10.0.0.5/32"},
	}

	t.Run("reject 返回 403", func(t *testing.T) {
		f := mustFilter(t, policy)
		rec, _ := serve(f, "10.0.0.5:1234")
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), CodeAccessDenied)
		assert.Equal(t, uint64(1), f.Violations())

		rec, _ = serve(f, "10.0.0.6:1234")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, uint64(1), f.Violations())
	})

	t.Run("log_only 放行但可观测", func(t *testing.T) {
		p := policy
		p.DenyAction = DenyLogOnly
		f := mustFilter(t, p)
		rec, violated := serve(f, "10.0.0.5:1234")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, violated)
		assert.Equal(t, uint64(1), f.Violations())
	})
}
