package auth

import (
	"time"

	"github.com/ceyewan/scoutquest/xerrors"
)

// Config 认证配置，APIKey 与 JWTSecret 至少设置一个
type Config struct {
	// APIKey 静态密钥，通过 X-API-Key 或 Authorization: Bearer 传入
	APIKey string `mapstructure:"api_key"`
	// JWTSecret HS256 签名密钥（至少 32 字符），为空时不接受 JWT
	JWTSecret string `mapstructure:"jwt_secret"`
	// Issuer 签发者，非空时校验 iss
	Issuer string `mapstructure:"issuer"`
	// TokenTTL 签发 Token 的有效期，默认 24h
	TokenTTL time.Duration `mapstructure:"token_ttl"`
	// Leeway 校验 exp/nbf 时允许的时钟偏差
	Leeway time.Duration `mapstructure:"leeway"`
}

func (c *Config) setDefaults() {
	if c.TokenTTL <= 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.Leeway < 0 {
		c.Leeway = 0
	}
}

func (c *Config) validate() error {
	if c.APIKey == "" && c.JWTSecret == "" {
		return xerrors.Wrap(ErrInvalidConfig, "api_key or jwt_secret is required when auth is enabled")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return xerrors.Wrap(ErrInvalidConfig, "jwt_secret must be at least 32 characters")
	}
	return nil
}
