package peerconn

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"BusinessServer/config"
	"BusinessServer/pkg/logger"
	"BusinessServer/pkg/protocol"

	"github.com/bwmarrin/snowflake"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

var (
	ErrConnect = errors.New("peerconn: connect error")
	ErrSend    = errors.New("peerconn: send error")
	ErrReceive = errors.New("peerconn: receive error")
	ErrClosed  = errors.New("peerconn: client closed")
)

// Handler 处理未被 Request 认领的入站消息
type Handler func(ctx context.Context, f *protocol.Frame)

// Executor 入站消息的异步执行器（*async.Pool 实现了该接口）
type Executor interface {
	Go(ctx context.Context, task func(ctx context.Context))
}

// Options 客户端构造参数
type Options struct {
	Config   config.PeerConfig
	Handler  Handler
	Executor Executor // 为空时在读循环中同步调用 Handler
	Metrics  *Metrics
	// Dialer 为空时使用 net.Dialer，测试可注入
	Dialer func(ctx context.Context, addr string) (net.Conn, error)
}

// Client 到对端消息服务的单条长连接。
// 约束：
// - 所有写操作由 writeSem 串行化，保证两帧字节不交错；
// - 读由单个读循环（Serve）或调用方自行调用 Receive 驱动，二者不能并用；
// - 连接断开后下一次读/写按退避策略重连，重试次数有上限；
// - 同一时刻只有一次拨号在进行，等待者仍响应自身 ctx。
type Client struct {
	cfg      config.PeerConfig
	handler  Handler
	executor Executor
	metrics  *Metrics
	dial     func(ctx context.Context, addr string) (net.Conn, error)
	seq      *snowflake.Node
	breaker  *gobreaker.CircuitBreaker

	writeSem chan struct{} // 容量为 1 的写锁

	mu            sync.Mutex // 保护以下字段，持有期间不做网络 IO
	conn          net.Conn
	gen           uint64 // 每建立一次连接 +1，读循环据此判断失效的是否为同一条连接
	everConnected bool

	connecting singleflight.Group
	rng        *rand.Rand // 只在 connecting 内使用

	pendingMu sync.Mutex
	pending   map[uint64]chan *protocol.Frame

	lastWrite atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

// liveConn 一次拨号成功后安装的连接
type liveConn struct {
	conn net.Conn
	gen  uint64
}

// New 创建客户端，不立即建连；首次读写时建立连接。
func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: empty peer address", ErrConnect)
	}
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("初始化 seq_num 生成器失败: %w", err)
	}

	c := &Client{
		cfg:      cfg,
		handler:  opts.Handler,
		executor: opts.Executor,
		metrics:  opts.Metrics,
		dial:     opts.Dialer,
		seq:      node,
		writeSem: make(chan struct{}, 1),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		pending:  make(map[uint64]chan *protocol.Frame),
		done:     make(chan struct{}),
	}
	if c.dial == nil {
		c.dial = func(ctx context.Context, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: cfg.ConnectTimeout}
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "peer:" + cfg.Addr,
		MaxRequests: 1,
		Interval:    15 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		// 调用方取消和主动关闭不计入失败
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "对端熔断器状态变化",
				logger.String("name", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})
	return c, nil
}

// Dial 创建客户端并立即建立连接，失败返回 ErrConnect。
func Dial(ctx context.Context, opts Options) (*Client, error) {
	c, err := New(opts)
	if err != nil {
		return nil, err
	}
	if _, _, err := c.ensureConn(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// NextSeq 生成一个新的 seq_num（雪花 ID，恒为正数）
func (c *Client) NextSeq() uint64 {
	return uint64(c.seq.Generate().Int64())
}

// Send 编码并完整写出一帧，不修改 f。SeqNum 为 0 时本次发送分配新的 seq_num。
// 编码错误原样返回；传输失败返回 ErrSend，连接被丢弃，下一次读写重连。
func (c *Client) Send(ctx context.Context, f *protocol.Frame) error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrSend)
	}
	out := *f
	if out.SeqNum == 0 {
		out.SeqNum = c.NextSeq()
	}
	return c.send(ctx, &out)
}

func (c *Client) send(ctx context.Context, f *protocol.Frame) error {
	buf, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	typ := f.Type.String()
	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.write(ctx, buf)
	})
	if err != nil {
		c.metrics.sendFailed(typ)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %w", ErrSend, err)
		}
		return err
	}
	c.metrics.sent(typ)
	return nil
}

func (c *Client) write(ctx context.Context, buf []byte) error {
	select {
	case c.writeSem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSend, ctx.Err())
	case <-c.done:
		return ErrClosed
	}
	defer func() { <-c.writeSem }()

	conn, gen, err := c.ensureConn(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}

	_ = conn.SetWriteDeadline(c.writeDeadline(ctx))
	for n := 0; n < len(buf); {
		m, err := conn.Write(buf[n:])
		if err != nil {
			c.invalidate(gen)
			return fmt.Errorf("%w: %w", ErrSend, err)
		}
		n += m
	}
	c.lastWrite.Store(time.Now().UnixNano())
	return nil
}

func (c *Client) writeDeadline(ctx context.Context) time.Time {
	var deadline time.Time
	if c.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(c.cfg.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return deadline
}

// Receive 阻塞读取下一条完整消息。
// 读失败（EOF、头部非法、ctx 取消）时连接被丢弃，返回 ErrReceive。
func (c *Client) Receive(ctx context.Context) (*protocol.Frame, error) {
	conn, gen, err := c.ensureConn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReceive, err)
	}

	_ = conn.SetReadDeadline(time.Time{})
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Unix(1, 0))
		close(fired)
	})
	defer func() {
		if !stop() {
			<-fired
			_ = conn.SetReadDeadline(time.Time{})
		}
	}()

	f, err := protocol.ReadFrame(conn)
	if err != nil {
		c.invalidate(gen)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrReceive, ctxErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrReceive, err)
	}
	c.metrics.received(f.Type.String())
	return f, nil
}

// Request 发送一帧并等待对端回送相同 seq_num 的响应，需要 Serve 读循环在运行。
// 与 Send 相同，f 本身不被修改。
func (c *Client) Request(ctx context.Context, f *protocol.Frame) (*protocol.Frame, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrSend)
	}
	out := *f
	if out.SeqNum == 0 {
		out.SeqNum = c.NextSeq()
	}
	ch := make(chan *protocol.Frame, 1)
	c.pendingMu.Lock()
	c.pending[out.SeqNum] = ch
	c.pendingMu.Unlock()
	defer c.forget(out.SeqNum)

	if err := c.send(ctx, &out); err != nil {
		return nil, err
	}
	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// Serve 读循环：持续接收消息，按 seq_num 交给等待中的 Request，其余交给 Handler。
// 连接断开时自动重连；重连耗尽、ctx 取消或客户端关闭时返回。
func (c *Client) Serve(ctx context.Context) error {
	if c.cfg.HeartbeatInterval > 0 {
		// 心跳随本次 Serve 退出
		hbCtx, hbCancel := context.WithCancel(ctx)
		defer hbCancel()
		go c.heartbeatLoop(hbCtx)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		default:
		}

		f, err := c.Receive(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, ErrClosed):
				return ErrClosed
			case errors.Is(err, ErrConnect):
				logger.Error(ctx, "对端重连失败，读循环退出", logger.ErrorField("error", err))
				return err
			}
			logger.Warn(ctx, "对端连接读取失败，准备重连", logger.ErrorField("error", err))
			continue
		}
		c.dispatch(ctx, f)
	}
}

// Close 幂等关闭：通知读循环退出并释放连接，进行中的拨号随之取消。
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.dropLocked()
		c.mu.Unlock()
	})
	return nil
}

func (c *Client) dispatch(ctx context.Context, f *protocol.Frame) {
	if f.SeqNum != 0 {
		c.pendingMu.Lock()
		ch, ok := c.pending[f.SeqNum]
		if ok {
			delete(c.pending, f.SeqNum)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- f
			return
		}
	}

	if c.handler == nil {
		return
	}
	if c.executor != nil {
		c.executor.Go(ctx, func(runCtx context.Context) { c.handler(runCtx, f) })
		return
	}
	c.handler(ctx, f)
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	interval := c.cfg.HeartbeatInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if time.Since(time.Unix(0, c.lastWrite.Load())) < interval {
				continue
			}
			if err := c.Send(ctx, protocol.HeartbeatFrame()); err != nil {
				logger.Warn(ctx, "对端心跳发送失败", logger.ErrorField("error", err))
			}
		}
	}
}

func (c *Client) forget(seq uint64) {
	c.pendingMu.Lock()
	delete(c.pending, seq)
	c.pendingMu.Unlock()
}

// ensureConn 返回当前连接；没有连接时加入（或发起）唯一一次进行中的拨号，
// 等待期间 ctx 结束立即返回，拨号本身继续进行。
func (c *Client) ensureConn(ctx context.Context) (net.Conn, uint64, error) {
	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		return nil, 0, ErrClosed
	}
	if c.conn != nil {
		conn, gen := c.conn, c.gen
		c.mu.Unlock()
		return conn, gen, nil
	}
	c.mu.Unlock()

	ch := c.connecting.DoChan("connect", func() (interface{}, error) {
		return c.connect()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, 0, res.Err
		}
		lc := res.Val.(liveConn)
		return lc.conn, lc.gen, nil
	case <-ctx.Done():
		return nil, 0, fmt.Errorf("%w: %w", ErrConnect, ctx.Err())
	case <-c.done:
		return nil, 0, ErrClosed
	}
}

// connect 在 singleflight 内执行，不依赖任何调用方的 ctx，只随客户端关闭中断
func (c *Client) connect() (liveConn, error) {
	c.mu.Lock()
	if c.conn != nil {
		lc := liveConn{conn: c.conn, gen: c.gen}
		c.mu.Unlock()
		return lc, nil
	}
	c.mu.Unlock()

	conn, attempt, err := c.dialWithBackoff()
	if err != nil {
		return liveConn{}, err
	}

	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		_ = conn.Close()
		return liveConn{}, ErrClosed
	}
	c.conn = conn
	c.gen++
	lc := liveConn{conn: conn, gen: c.gen}
	if c.everConnected {
		c.metrics.reconnected()
	}
	c.everConnected = true
	c.lastWrite.Store(time.Now().UnixNano())
	c.mu.Unlock()

	logger.Info(context.Background(), "对端连接建立",
		logger.String("addr", c.cfg.Addr),
		logger.Int("attempt", attempt),
	)
	return lc, nil
}

// dialWithBackoff 共尝试 MaxRetries+1 次，不持有 mu。
func (c *Client) dialWithBackoff() (net.Conn, int, error) {
	attempts := c.cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	// 客户端关闭时中断拨号与退避等待
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if c.isClosed() {
			return nil, attempt, ErrClosed
		}
		conn, err := c.dial(ctx, c.cfg.Addr)
		if err == nil {
			return conn, attempt, nil
		}

		lastErr = err
		logger.Warn(ctx, "对端拨号失败",
			logger.String("addr", c.cfg.Addr),
			logger.Int("attempt", attempt),
			logger.ErrorField("error", err),
		)
		if attempt == attempts {
			break
		}
		if err := sleepCtx(ctx, nextBackoffDelay(c.cfg, attempt, c.rng)); err != nil {
			if c.isClosed() {
				return nil, attempt, ErrClosed
			}
			return nil, attempt, fmt.Errorf("%w: %w", ErrConnect, err)
		}
	}
	if c.isClosed() {
		return nil, attempts, ErrClosed
	}
	return nil, attempts, fmt.Errorf("%w: %s after %d attempts: %w", ErrConnect, c.cfg.Addr, attempts, lastErr)
}

// invalidate 仅当失败的仍是当前连接时才丢弃，避免误关已重连的新连接
func (c *Client) invalidate(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.dropLocked()
	}
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
