package middleware

import (
	"context"
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClientIPKey gin 上下文与 request ctx 中的客户端 IP 键
const ClientIPKey = "client_ip"

const (
	headerXRealIP       = "X-Real-IP"
	headerXForwardedFor = "X-Forwarded-For"
)

// GetClientIP 从 Gin Context 中获取客户端真实 IP
// 优先级：X-Real-IP > X-Forwarded-For 首个地址 > RemoteAddr
func GetClientIP(c *gin.Context) string {
	if ip := strings.TrimSpace(c.GetHeader(headerXRealIP)); ip != "" && net.ParseIP(ip) != nil {
		return ip
	}

	if xff := c.GetHeader(headerXForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}

	return c.ClientIP()
}

// GetClientIPSafe 安全获取 IP（包含格式校验）
func GetClientIPSafe(c *gin.Context) (string, bool) {
	ip := ClientIPFromGinContext(c)
	if ip == "" {
		ip = GetClientIP(c)
	}
	if ip == "" || net.ParseIP(ip) == nil {
		return "", false
	}
	return ip, true
}

// ClientIPMiddleware 注入 IP 到 Context
func ClientIPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := GetClientIP(c)
		c.Set(ClientIPKey, ip)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), ClientIPKey, ip))
		c.Next()
	}
}

// ClientIPFromGinContext 从 Gin Context 获取 IP
func ClientIPFromGinContext(c *gin.Context) string {
	return c.GetString(ClientIPKey)
}
