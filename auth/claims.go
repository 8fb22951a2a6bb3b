package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims JWT 载荷，内嵌标准声明（sub、iss、exp 等）
type Claims struct {
	jwt.RegisteredClaims

	// Roles 调用方角色，仅透传给处理器，不做授权判断
	Roles []string `json:"roles,omitempty"`
}

// Principal 认证通过的调用方
type Principal struct {
	// Method 认证方式：api_key 或 jwt
	Method  string
	Subject string
	Claims  *Claims
}

const (
	MethodAPIKey = "api_key"
	MethodJWT    = "jwt"
)
