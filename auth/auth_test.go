package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/scoutquest/testkit"
	"github.com/ceyewan/scoutquest/xerrors"
)

const (
	testKey    = "sq-test-api-key"
	testSecret = "this-is-a-valid-secret-key-at-least-32-chars"
)

func newTestAuthenticator(t *testing.T, cfg Config, opts ...Option) *Authenticator {
	t.Helper()
	a, err := New(&cfg, opts...)
	require.NoError(t, err)
	return a
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"nil 配置", nil, true},
		{"未设置任何凭证", &Config{}, true},
		{"密钥过短", &Config{JWTSecret: "short"}, true},
		{"仅 API Key", &Config{APIKey: testKey}, false},
		{"仅 JWT", &Config{JWTSecret: testSecret}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				assert.Nil(t, a)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	a := newTestAuthenticator(t, Config{APIKey: testKey, JWTSecret: testSecret})
	token, err := a.GenerateToken(ctx, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "deployer"}})
	require.NoError(t, err)

	tests := []struct {
		name       string
		headers    map[string]string
		wantErr    error
		wantMethod string
	}{
		{"X-API-Key", map[string]string{HeaderAPIKey: testKey}, nil, MethodAPIKey},
		{"Bearer API Key", map[string]string{"Authorization": "Bearer " + testKey}, nil, MethodAPIKey},
		{"Bearer JWT", map[string]string{"Authorization": "Bearer " + token}, nil, MethodJWT},
		{"错误的 API Key", map[string]string{HeaderAPIKey: "wrong"}, ErrInvalidAPIKey, ""},
		{"无凭证", nil, ErrMissingCredentials, ""},
		{"非 Bearer 方案", map[string]string{"Authorization": "Basic abc"}, ErrMissingCredentials, ""},
		{"伪造 Token", map[string]string{"Authorization": "Bearer not-a-jwt"}, ErrInvalidToken, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/services", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			p, err := a.Authenticate(ctx, r)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, CodeUnauthorized, xerrors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMethod, p.Method)
		})
	}

	t.Run("未配置 JWT 时 Bearer 只接受 API Key", func(t *testing.T) {
		keyOnly := newTestAuthenticator(t, Config{APIKey: testKey})
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		_, err := keyOnly.Authenticate(ctx, r)
		assert.ErrorIs(t, err, ErrInvalidAPIKey)
	})

	t.Run("未配置 API Key 时拒绝 X-API-Key", func(t *testing.T) {
		jwtOnly := newTestAuthenticator(t, Config{JWTSecret: testSecret})
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(HeaderAPIKey, testKey)
		p, err := jwtOnly.Authenticate(ctx, r)
		assert.ErrorIs(t, err, ErrInvalidAPIKey)
		assert.Nil(t, p)
	})
}

func TestToken(t *testing.T) {
	ctx := context.Background()
	clock := testkit.NewClock(time.Now())
	a := newTestAuthenticator(t, Config{JWTSecret: testSecret, Issuer: "scoutquest", TokenTTL: time.Hour}, WithClock(clock.Now))

	token, err := a.GenerateToken(ctx, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ci"},
		Roles:            []string{"deployer"},
	})
	require.NoError(t, err)

	t.Run("签发后可校验", func(t *testing.T) {
		claims, err := a.ValidateToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "ci", claims.Subject)
		assert.Equal(t, "scoutquest", claims.Issuer)
		assert.Equal(t, []string{"deployer"}, claims.Roles)
	})

	t.Run("过期", func(t *testing.T) {
		clock.Advance(2 * time.Hour)
		_, err := a.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("签发者不匹配", func(t *testing.T) {
		other := newTestAuthenticator(t, Config{JWTSecret: testSecret, Issuer: "other"})
		tok, err := other.GenerateToken(ctx, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "x"}})
		require.NoError(t, err)
		strict := newTestAuthenticator(t, Config{JWTSecret: testSecret, Issuer: "scoutquest"})
		_, err = strict.ValidateToken(ctx, tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("密钥不同", func(t *testing.T) {
		other := newTestAuthenticator(t, Config{JWTSecret: testSecret + "-rotated"})
		_, err := other.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("缺少 subject", func(t *testing.T) {
		_, err := a.GenerateToken(ctx, &Claims{})
		assert.ErrorIs(t, err, ErrInvalidClaims)
		_, err = a.GenerateToken(ctx, nil)
		assert.ErrorIs(t, err, ErrInvalidClaims)
	})
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newTestAuthenticator(t, Config{APIKey: testKey})

	r := gin.New()
	r.Use(a.GinMiddleware("/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/services", func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		require.True(t, ok)
		c.String(http.StatusOK, p.Method)
	})

	t.Run("跳过路径无需凭证", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("缺少凭证返回 401", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/services", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), CodeUnauthorized)
		assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("凭证正确", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/services", nil)
		req.Header.Set(HeaderAPIKey, testKey)
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, MethodAPIKey, rec.Body.String())
	})
}
