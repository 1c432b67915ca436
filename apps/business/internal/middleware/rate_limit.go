package middleware

import (
	"context"
	"sync"
	"time"

	"BusinessServer/consts"
	rediskey "BusinessServer/consts/redisKey"
	"BusinessServer/pkg/logger"
	"BusinessServer/pkg/result"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// luaTokenBucket Redis 令牌桶脚本
//
//	KEYS[1]: 限流 key
//	ARGV[1]: 当前时间戳 (毫秒)
//	ARGV[2]: 令牌桶容量
//	ARGV[3]: 每秒产生的令牌数
//	ARGV[4]: 本次消耗的令牌数
//
// 返回 1 允许通过，0 令牌不足
const luaTokenBucket = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local info = redis.call('HMGET', key, 'tokens', 'last_time')
local current_tokens = tonumber(info[1])
local last_time = tonumber(info[2])

if current_tokens == nil then
    current_tokens = capacity
end
if last_time == nil then
    last_time = now
end

local time_diff = math.max(0, now - last_time)
local new_tokens = math.floor((time_diff * rate) / 1000)
if new_tokens > 0 then
    current_tokens = math.min(capacity, current_tokens + new_tokens)
    last_time = now
end

local allowed = 0
if current_tokens >= requested then
    current_tokens = current_tokens - requested
    allowed = 1
end

redis.call('HSET', key, 'tokens', current_tokens, 'last_time', last_time)

local fill_time = math.ceil(capacity / rate)
redis.call('EXPIRE', key, math.max(60, fill_time * 2))

return allowed
`

// 本地限流器数量上限，超过后整体重建
const maxLocalLimiters = 10000

// Redis 单次限流检查超时，防止 Redis 响应慢拖慢接口
const redisLimitTimeout = 50 * time.Millisecond

// RateLimiter IP 级别令牌桶限流。
// 优先使用 Redis 做多实例共享计数，Redis 不可用时降级为进程内 x/time/rate 限流。
type RateLimiter struct {
	redisClient *redis.Client
	script      *redis.Script
	rate        float64
	burst       int

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

// NewRateLimiter redisClient 可为 nil
func NewRateLimiter(r float64, burst int, redisClient *redis.Client) *RateLimiter {
	if burst <= 0 {
		burst = int(r) + 1
	}
	return &RateLimiter{
		redisClient: redisClient,
		script:      redis.NewScript(luaTokenBucket),
		rate:        r,
		burst:       burst,
		local:       make(map[string]*rate.Limiter),
	}
}

// Allow 检查 ip 是否允许通过
func (l *RateLimiter) Allow(ctx context.Context, ip string) bool {
	if l.redisClient != nil {
		allowed, err := l.allowRedis(ctx, ip)
		if err == nil {
			return allowed
		}
		logger.Warn(ctx, "Redis 限流检查失败，降级为本地限流",
			logger.String("ip", ip),
			logger.ErrorField("error", err),
		)
	}
	return l.localLimiter(ip).Allow()
}

func (l *RateLimiter) allowRedis(ctx context.Context, ip string) (bool, error) {
	redisCtx, cancel := context.WithTimeout(ctx, redisLimitTimeout)
	defer cancel()

	allowed, err := l.script.Run(redisCtx, l.redisClient,
		[]string{rediskey.IPRateLimitKey(ip)},
		time.Now().UnixMilli(), l.burst, l.rate, 1,
	).Int64()
	if err != nil {
		return false, err
	}
	return allowed == 1, nil
}

func (l *RateLimiter) localLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.local[ip]
	if !ok {
		if len(l.local) >= maxLocalLimiters {
			l.local = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(rate.Limit(l.rate), l.burst)
		l.local[ip] = lim
	}
	return lim
}

// IPRateLimitMiddleware 基于 IP 的限流中间件，limiter 为 nil 时不限流
func IPRateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		ctx := NewContextWithGin(c)

		ip, ok := GetClientIPSafe(c)
		if !ok {
			logger.Warn(ctx, "无法获取客户端 IP，跳过限流检查",
				logger.String("path", c.Request.URL.Path),
			)
			c.Next()
			return
		}

		if !limiter.Allow(ctx, ip) {
			logger.Warn(ctx, "IP 请求被限流",
				logger.String("ip", ip),
				logger.String("path", c.Request.URL.Path),
				logger.String("method", c.Request.Method),
			)
			result.Fail(c, nil, consts.CodeTooManyRequests)
			c.Abort()
			return
		}
		c.Next()
	}
}
