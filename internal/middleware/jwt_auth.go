package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ==================== JWT 配置 ====================

// JWTConfig 操作员令牌由外部系统签发，这里只做校验
type JWTConfig struct {
	SecretKey string // 签名密钥，为空时不启用鉴权
	Issuer    string // 签发者，为空时不校验
}

// ==================== Claims 定义 ====================

// OperatorClaims 操作员声明
type OperatorClaims struct {
	OperatorID int64  `json:"operator_id"`
	Username   string `json:"username"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// ==================== Token 生成与解析 ====================

// GenerateOperatorToken 签发操作员令牌，运维脚本与测试使用
func GenerateOperatorToken(cfg JWTConfig, operatorID int64, username, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &OperatorClaims{
		OperatorID: operatorID,
		Username:   username,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   "access",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.SecretKey))
}

// ParseOperatorToken 解析并校验令牌
func ParseOperatorToken(cfg JWTConfig, tokenString string) (*OperatorClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(cfg.SecretKey), nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*OperatorClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// ==================== Gin 中间件 ====================

// Context Keys
const (
	ContextKeyOperatorID = "operator_id"
	ContextKeyUsername   = "username"
	ContextKeyRole       = "role"
	ContextKeyClaims     = "claims"
)

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    "UNAUTHORIZED",
		"message": msg,
	})
}

// JWTAuth 操作员认证中间件
func JWTAuth(cfg JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.SecretKey == "" {
			c.Next()
			return
		}

		// 获取 Authorization Header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "未提供认证信息")
			return
		}

		// 解析 Bearer Token
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			unauthorized(c, "认证格式错误，应为 Bearer {token}")
			return
		}

		claims, err := ParseOperatorToken(cfg, parts[1])
		if err != nil {
			unauthorized(c, "Token 无效或已过期")
			return
		}
		if claims.Subject != "access" {
			unauthorized(c, "Token 类型错误")
			return
		}

		// 注入操作员信息到 Context
		c.Set(ContextKeyOperatorID, claims.OperatorID)
		c.Set(ContextKeyUsername, claims.Username)
		c.Set(ContextKeyRole, claims.Role)
		c.Set(ContextKeyClaims, claims)

		c.Next()
	}
}

// RequireRole 角色权限校验中间件，未启用鉴权时放行
func RequireRole(cfg JWTConfig, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.SecretKey == "" {
			c.Next()
			return
		}
		role := c.GetString(ContextKeyRole)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"code":    "FORBIDDEN",
			"message": "无权限访问",
		})
	}
}

// ==================== 辅助函数 ====================

// GetOperatorID 从 Context 获取操作员 ID，未登录返回 0
func GetOperatorID(c *gin.Context) int64 {
	if id, exists := c.Get(ContextKeyOperatorID); exists {
		if v, ok := id.(int64); ok {
			return v
		}
	}
	return 0
}

// GetUsername 从 Context 获取用户名
func GetUsername(c *gin.Context) string {
	return c.GetString(ContextKeyUsername)
}
