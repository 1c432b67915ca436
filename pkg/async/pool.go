package async

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"BusinessServer/config"
	"BusinessServer/pkg/logger"

	"github.com/panjf2000/ants/v2"
)

// ErrNotInitialized 表示协程池尚未初始化或已释放。
var ErrNotInitialized = errors.New("async pool not initialized")

const defaultTaskTimeout = time.Minute

// Pool 对 ants 协程池的封装：统一 panic 恢复、任务超时与上下文透传。
type Pool struct {
	inner          *ants.Pool
	releaseTimeout time.Duration

	// ContextPropagator 从父 ctx 提取需要透传到异步任务的字段（如 trace_id）。
	// 为空时异步任务使用 context.Background()。
	ContextPropagator func(parent context.Context) context.Context
}

// New 根据配置创建协程池。
func New(cfg config.AsyncConfig) (*Pool, error) {
	opts := []ants.Option{
		ants.WithMaxBlockingTasks(cfg.MaxBlockingTasks),
		ants.WithExpiryDuration(cfg.ExpiryDuration),
		ants.WithPanicHandler(func(p any) {
			logger.Error(context.Background(), "async task panic",
				logger.Any("panic", p),
				logger.String("stack", string(debug.Stack())),
			)
		}),
	}
	if cfg.Nonblocking {
		opts = append(opts, ants.WithNonblocking(true))
	}

	inner, err := ants.NewPool(cfg.PoolSize, opts...)
	if err != nil {
		return nil, err
	}
	return &Pool{inner: inner, releaseTimeout: cfg.ReleaseTimeout}, nil
}

// Submit 投递原始任务。
func (p *Pool) Submit(task func()) error {
	if p == nil || p.inner == nil {
		return ErrNotInitialized
	}
	return p.inner.Submit(task)
}

// Go 以默认超时异步执行任务，失败只记录日志。
func (p *Pool) Go(ctx context.Context, task func(ctx context.Context)) {
	p.RunSafe(ctx, task, 0)
}

// RunSafe 安全的异步任务：
// - 任务拿到的 ctx 与请求 ctx 生命周期解耦，只透传 ContextPropagator 提取的字段；
// - timeout<=0 时使用 1 分钟；
// - panic 被恢复并记录。
func (p *Pool) RunSafe(ctx context.Context, task func(ctx context.Context), timeout time.Duration) {
	if task == nil {
		return
	}
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}

	baseCtx := context.Background()
	if p != nil && p.ContextPropagator != nil && ctx != nil {
		baseCtx = p.ContextPropagator(ctx)
	}
	runCtx, cancel := context.WithTimeout(baseCtx, timeout)

	wrap := func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger.Error(runCtx, "async task panic",
					logger.Any("panic", r),
					logger.String("stack", string(debug.Stack())),
				)
			}
		}()

		task(runCtx)

		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			logger.Warn(runCtx, "async task timeout", logger.Duration("timeout", timeout))
		}
	}

	if err := p.Submit(wrap); err != nil {
		cancel()
		logger.Error(baseCtx, "async submit failed",
			logger.ErrorField("error", err),
			logger.Duration("timeout", timeout),
		)
	}
}

// Running 当前运行中的 worker 数
func (p *Pool) Running() int {
	if p == nil || p.inner == nil {
		return 0
	}
	return p.inner.Running()
}

// Release 优雅释放协程池资源（等待任务执行完）。
func (p *Pool) Release() error {
	if p == nil || p.inner == nil {
		return nil
	}
	if p.releaseTimeout > 0 {
		return p.inner.ReleaseTimeout(p.releaseTimeout)
	}
	p.inner.Release()
	return nil
}

// TracePropagator 只透传 trace_id 的默认实现
func TracePropagator(parent context.Context) context.Context {
	ctx := context.Background()
	if traceID, ok := parent.Value(logger.TraceIDKey).(string); ok {
		ctx = context.WithValue(ctx, logger.TraceIDKey, traceID)
	}
	return ctx
}
