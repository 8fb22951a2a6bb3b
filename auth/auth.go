// Package auth 为注册中心 API 提供调用方认证。
//
// 支持两种凭证：
//   - 静态 API Key，通过 X-API-Key 头或 Authorization: Bearer <key> 传入；
//   - HS256 签名的 JWT，通过 Authorization: Bearer <token> 传入，需配置 jwt_secret。
//
// 基本使用：
//
//	authenticator, _ := auth.New(&auth.Config{APIKey: "...", JWTSecret: "..."})
//	r.Use(authenticator.GinMiddleware("/health", "/metrics"))
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/metrics"
	"github.com/ceyewan/scoutquest/xerrors"
)

// HeaderAPIKey API Key 请求头
const HeaderAPIKey = "X-API-Key"

// Authenticator 认证器
type Authenticator struct {
	cfg     Config
	options *options
	results metrics.Counter
}

// New 创建 Authenticator
func New(cfg *Config, opts ...Option) (*Authenticator, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	a := &Authenticator{cfg: c, options: o}
	var err error
	if a.results, err = o.meter.Counter("scoutquest_auth_attempts_total", "Authentication attempts by method and result."); err != nil {
		return nil, xerrors.Wrap(err, "create auth counter")
	}
	return a, nil
}

// Authenticate 校验请求携带的凭证
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	if key := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); key != "" {
		p, err := a.checkAPIKey(key)
		return a.record(ctx, MethodAPIKey, p, err)
	}

	bearer, ok := bearerToken(r)
	if !ok {
		a.results.Inc(ctx, metrics.L("method", "none"), metrics.L("result", "missing"))
		return nil, ErrMissingCredentials
	}

	// Bearer 既可能是 API Key 也可能是 JWT
	if a.cfg.APIKey != "" && secureEqual(bearer, a.cfg.APIKey) {
		return a.record(ctx, MethodAPIKey, &Principal{Method: MethodAPIKey, Subject: MethodAPIKey}, nil)
	}
	if a.cfg.JWTSecret == "" {
		return a.record(ctx, MethodAPIKey, nil, ErrInvalidAPIKey)
	}
	claims, err := a.ValidateToken(ctx, bearer)
	if err != nil {
		return a.record(ctx, MethodJWT, nil, err)
	}
	return a.record(ctx, MethodJWT, &Principal{Method: MethodJWT, Subject: claims.Subject, Claims: claims}, nil)
}

func (a *Authenticator) checkAPIKey(key string) (*Principal, error) {
	if a.cfg.APIKey == "" || !secureEqual(key, a.cfg.APIKey) {
		return nil, ErrInvalidAPIKey
	}
	return &Principal{Method: MethodAPIKey, Subject: MethodAPIKey}, nil
}

func (a *Authenticator) record(ctx context.Context, method string, p *Principal, err error) (*Principal, error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	a.results.Inc(ctx, metrics.L("method", method), metrics.L("result", result))
	return p, err
}

// GenerateToken 签发 HS256 Token，未设置 exp/iat/iss 时按配置补全
func (a *Authenticator) GenerateToken(ctx context.Context, claims *Claims) (string, error) {
	if claims == nil || claims.Subject == "" {
		return "", ErrInvalidClaims
	}
	if a.cfg.JWTSecret == "" {
		return "", xerrors.Wrap(ErrInvalidConfig, "jwt_secret is not configured")
	}

	now := a.options.now()
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.cfg.TokenTTL))
	}
	if claims.Issuer == "" {
		claims.Issuer = a.cfg.Issuer
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.JWTSecret))
	if err != nil {
		return "", xerrors.Wrap(err, "sign token")
	}
	a.options.logger.InfoContext(ctx, "token issued",
		clog.String("subject", claims.Subject),
		clog.Time("expires_at", claims.ExpiresAt.Time))
	return token, nil
}

// ValidateToken 校验 Token 并返回载荷
func (a *Authenticator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	if a.cfg.JWTSecret == "" {
		return nil, ErrInvalidToken
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.options.now),
		jwt.WithLeeway(a.cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.cfg.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(a.cfg.JWTSecret), nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		a.options.logger.DebugContext(ctx, "token rejected", clog.Error(err))
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
