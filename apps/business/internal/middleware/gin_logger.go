package middleware

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"BusinessServer/consts"
	"BusinessServer/pkg/logger"
	"BusinessServer/pkg/result"

	"github.com/gin-gonic/gin"
)

// 慢请求阈值
const slowRequestThreshold = 2 * time.Second

// NewContextWithGin 从 gin.Context 创建包含 trace_id、client_ip 的 context.Context
// 用于将 Gin 上下文中的字段传递到日志系统与服务层
func NewContextWithGin(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if traceID := c.GetString(logger.TraceIDKey); traceID != "" {
		ctx = context.WithValue(ctx, logger.TraceIDKey, traceID)
	}
	if clientIP := c.GetString(ClientIPKey); clientIP != "" {
		ctx = context.WithValue(ctx, ClientIPKey, clientIP)
	}
	return ctx
}

// GinLogger 接收 gin 框架默认的日志
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		ctx := NewContextWithGin(c)

		logger.Debug(ctx, "请求开始",
			logger.String("method", c.Request.Method),
			logger.String("path", path),
			logger.String("query", query),
			logger.String("ip", ClientIPFromGinContext(c)),
		)

		c.Next()

		cost := time.Since(start)
		status := c.Writer.Status()

		// 只记录服务端错误(5xx)和慢请求，正常请求不记录
		if status >= http.StatusInternalServerError || cost > slowRequestThreshold {
			logger.Warn(ctx, "慢请求或服务端错误",
				logger.Int("status", status),
				logger.String("method", c.Request.Method),
				logger.String("path", path),
				logger.String("query", query),
				logger.String("ip", ClientIPFromGinContext(c)),
				logger.String("user-agent", c.Request.UserAgent()),
				logger.String("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()),
				logger.Duration("cost", cost),
			)
		}
	}
}

// GinRecovery 捕获 handler 中的 panic，记录日志并返回内部错误
func GinRecovery(stack bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			fields := []logger.Field{
				logger.Any("panic", r),
				logger.String("method", c.Request.Method),
				logger.String("path", c.Request.URL.Path),
			}
			if stack {
				fields = append(fields, logger.String("stack", string(debug.Stack())))
			}
			logger.Error(NewContextWithGin(c), "请求处理发生 panic", fields...)

			if !c.Writer.Written() {
				result.Fail(c, nil, consts.CodeInternalError)
			}
			c.Abort()
		}()
		c.Next()
	}
}
