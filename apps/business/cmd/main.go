package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"BusinessServer/apps/business/internal/handler"
	"BusinessServer/apps/business/internal/middleware"
	"BusinessServer/apps/business/internal/repository"
	"BusinessServer/apps/business/internal/router"
	"BusinessServer/apps/business/internal/service"
	"BusinessServer/apps/business/mq"
	"BusinessServer/config"
	"BusinessServer/model"
	"BusinessServer/pkg/async"
	"BusinessServer/pkg/database"
	"BusinessServer/pkg/kafka"
	"BusinessServer/pkg/logger"
	"BusinessServer/pkg/peerconn"
	"BusinessServer/pkg/protocol"
	pkgredis "BusinessServer/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// 读循环因重连耗尽退出后，再次启动前的等待时间
const serveRestartDelay = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "YAML 配置文件路径，为空时读取 BUSINESS_CONFIG")
	flag.Parse()

	// 可选的 .env 文件，只用于本地开发注入环境变量
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("加载 .env 失败: %v", err)
	}
	if *configPath == "" {
		*configPath = os.Getenv("BUSINESS_CONFIG")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), logger.TraceIDKey, "0"))
	defer cancel()

	// 1. 初始化日志
	zl, err := logger.Build(cfg.Logger)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	logger.ReplaceGlobal(zl)
	defer func() { _ = zl.Sync() }()

	logger.Info(ctx, "Business 服务初始化中...")

	// 2. 初始化数据库
	db, err := database.Build(cfg.Database)
	if err != nil {
		logger.Fatal(ctx, "初始化数据库失败", logger.ErrorField("error", err))
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Error(ctx, "关闭数据库连接失败", logger.ErrorField("error", err))
		}
	}()
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(&model.UserRelationship{}); err != nil {
			logger.Fatal(ctx, "自动建表失败", logger.ErrorField("error", err))
		}
	}
	logger.Info(ctx, "数据库初始化成功",
		logger.String("driver", cfg.Database.Driver),
		logger.String("host", cfg.Database.Host),
	)

	// 3. 初始化 Redis，失败时好友列表直接读数据库
	var redisClient *redis.Client
	if rc, err := pkgredis.Build(cfg.Redis); err != nil {
		logger.Warn(ctx, "Redis 初始化失败，好友列表缓存与分布式限流降级",
			logger.ErrorField("error", err),
		)
	} else {
		redisClient = rc
		defer func() { _ = redisClient.Close() }()
		logger.Info(ctx, "Redis 初始化成功", logger.String("addr", cfg.Redis.Addr))
	}

	// 4. 初始化 Kafka 缓存重试队列（仅在 Redis 可用且配置了 broker 时启动）
	if redisClient != nil && len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.RedisRetryTopic)
		mq.SetGlobalProducer(producer)

		consumer := mq.NewRedisRetryConsumer(
			cfg.Kafka.Brokers,
			cfg.Kafka.RedisRetryTopic,
			cfg.Kafka.GroupID,
			redisClient,
			producer,
			kafka.NewZapLoggerAdapter(logger.L()),
		)
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(ctx, "Redis 重试消费者运行错误", logger.ErrorField("error", err))
			}
		}()
		defer func() {
			if err := consumer.Close(); err != nil {
				logger.Error(ctx, "关闭 Redis 重试消费者失败", logger.ErrorField("error", err))
			}
			if err := producer.Close(); err != nil {
				logger.Error(ctx, "关闭 Kafka Producer 失败", logger.ErrorField("error", err))
			}
		}()
		logger.Info(ctx, "Kafka 重试队列初始化成功",
			logger.String("topic", cfg.Kafka.RedisRetryTopic),
			logger.String("group_id", cfg.Kafka.GroupID),
		)
	}

	// 5. 初始化协程池
	pool, err := async.New(cfg.Async)
	if err != nil {
		logger.Fatal(ctx, "初始化协程池失败", logger.ErrorField("error", err))
	}
	pool.ContextPropagator = async.TracePropagator
	defer func() {
		if err := pool.Release(); err != nil {
			logger.Warn(ctx, "协程池释放超时", logger.ErrorField("error", err))
		}
	}()

	// 6. 组装依赖：Repository -> Service
	relationRepo := repository.NewRelationRepository(db, redisClient, pool)

	// 入站消息处理器需要 service，service 的通知通道是 client，这里先占位再回填
	var relationService service.IRelationService
	peerClient, err := peerconn.New(peerconn.Options{
		Config: cfg.Peer,
		Handler: func(ctx context.Context, f *protocol.Frame) {
			relationService.HandleInbound(ctx, f)
		},
		Executor: pool,
		Metrics:  peerconn.NewMetrics(nil),
	})
	if err != nil {
		logger.Fatal(ctx, "创建对端连接客户端失败", logger.ErrorField("error", err))
	}
	relationService = service.NewRelationService(relationRepo, peerClient, service.NewMetrics(nil))

	go servePeer(ctx, peerClient)
	logger.Info(ctx, "对端连接客户端已启动", logger.String("addr", cfg.Peer.Addr))

	// 7. 初始化 HTTP
	gin.SetMode(cfg.Server.Mode)
	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, redisClient)
	}
	r := router.InitRouter(handler.NewFriendHandler(relationService), router.Options{
		RateLimiter:    limiter,
		HTTPMetrics:    middleware.NewHTTPMetrics(nil),
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	srv := &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	go func() {
		logger.Info(ctx, "Business HTTP 服务启动", logger.String("address", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(ctx, "HTTP 服务启动失败", logger.ErrorField("error", err))
		}
	}()

	// 8. 优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info(ctx, "收到关闭信号，开始优雅停机...", logger.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "HTTP 服务强制关闭", logger.ErrorField("error", err))
	}

	cancel()
	if err := peerClient.Close(); err != nil {
		logger.Error(ctx, "关闭对端连接失败", logger.ErrorField("error", err))
	}
	logger.Info(ctx, "Business 服务已优雅退出")
}

// servePeer 驱动对端读循环，重连耗尽后等待一段时间再次启动，直到 ctx 取消或客户端关闭
func servePeer(ctx context.Context, client *peerconn.Client) {
	for {
		err := client.Serve(ctx)
		if ctx.Err() != nil || errors.Is(err, peerconn.ErrClosed) {
			return
		}
		logger.Warn(ctx, "对端读循环退出，稍后重启",
			logger.ErrorField("error", err),
			logger.Duration("delay", serveRestartDelay),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(serveRestartDelay):
		}
	}
}
