package router

import (
	"net/http"
	"time"

	"BusinessServer/apps/business/internal/handler"
	"BusinessServer/apps/business/internal/middleware"
	"BusinessServer/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options 路由可选依赖
type Options struct {
	RateLimiter    *middleware.RateLimiter // nil 不限流
	HTTPMetrics    *middleware.HTTPMetrics // nil 不记录
	Gatherer       prometheus.Gatherer     // /metrics 数据源，nil 使用默认注册器
	RequestTimeout time.Duration           // 0 不设置
}

// InitRouter 初始化路由
func InitRouter(friendHandler *handler.FriendHandler, opts Options) *gin.Engine {
	r := gin.New()

	// 恢复中间件
	r.Use(middleware.GinRecovery(true))

	// 追踪中间件 (生成 trace_id)
	r.Use(util.TraceLogger())

	// 客户端 IP 中间件
	r.Use(middleware.ClientIPMiddleware())

	// 日志中间件
	r.Use(middleware.GinLogger())

	// Prometheus 监控中间件
	r.Use(middleware.PrometheusMiddleware(opts.HTTPMetrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	api.Use(middleware.IPRateLimitMiddleware(opts.RateLimiter))
	api.Use(middleware.TimeoutMiddleware(opts.RequestTimeout))
	{
		friend := api.Group("/friend")
		{
			friend.POST("", friendHandler.AddFriend)
			friend.DELETE("/:account_id/:friend_account_id", friendHandler.DeleteFriend)
			friend.GET("/list/:account_id", friendHandler.ListFriends)
		}
	}

	return r
}
