package util

import (
	"context"

	"BusinessServer/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const HeaderXRequestID = "X-Request-ID"

// TraceLogger 追踪中间件，生成或获取 trace_id，
// 同时写入 Gin 上下文（响应体使用）和 request ctx（日志、异步任务使用）
func TraceLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 优先使用上游（Nginx/网关）传入的 ID
		traceId := c.GetHeader(HeaderXRequestID)
		if traceId == "" {
			traceId = uuid.New().String()
		}

		c.Set(logger.TraceIDKey, traceId)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.TraceIDKey, traceId))
		c.Header(HeaderXRequestID, traceId)

		c.Next()
	}
}
