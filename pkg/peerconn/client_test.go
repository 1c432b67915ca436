package peerconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"BusinessServer/config"
	"BusinessServer/pkg/protocol"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePeer 本地 TCP 对端，每个被接受的连接都投递到 conns
type fakePeer struct {
	ln    net.Listener
	conns chan net.Conn
}

func newFakePeer(t *testing.T) *fakePeer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := &fakePeer{ln: ln, conns: make(chan net.Conn, 16)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			p.conns <- conn
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		for {
			select {
			case c := <-p.conns:
				_ = c.Close()
			default:
				return
			}
		}
	})
	return p
}

func (p *fakePeer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-p.conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("peer accepted no connection")
		return nil
	}
}

func testPeerConfig(addr string) config.PeerConfig {
	cfg := config.DefaultPeerConfig()
	cfg.Addr = addr
	cfg.MaxRetries = 2
	cfg.InitialBackoff = 5 * time.Millisecond
	cfg.MaxBackoff = 20 * time.Millisecond
	cfg.ConnectTimeout = time.Second
	cfg.HeartbeatInterval = 0
	return cfg
}

func dialTest(t *testing.T, opts Options) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDialUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	var dials int
	opts := Options{
		Config: testPeerConfig(addr),
		Dialer: func(ctx context.Context, addr string) (net.Conn, error) {
			dials++
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
	_, err = Dial(context.Background(), opts)
	assert.ErrorIs(t, err, ErrConnect)
	assert.Equal(t, 3, dials)
}

func TestNewRejectsEmptyAddr(t *testing.T) {
	_, err := New(Options{Config: testPeerConfig("")})
	assert.ErrorIs(t, err, ErrConnect)
}

func TestSendReceiveRoundTrip(t *testing.T) {
	peer := newFakePeer(t)
	c := dialTest(t, Options{Config: testPeerConfig(peer.ln.Addr().String())})
	srv := peer.accept(t)

	out := protocol.FriendRelationshipFrame(1, 2, protocol.RelationComplete)
	require.NoError(t, c.Send(context.Background(), out))

	got, err := protocol.ReadFrame(srv)
	require.NoError(t, err)
	assert.Equal(t, protocol.FriendRelationship, got.Type)
	assert.Equal(t, uint64(1), got.Sender)
	assert.Equal(t, uint64(2), got.Receiver)
	assert.NotZero(t, got.SeqNum, "seq_num assigned on send")
	assert.Equal(t, []byte("COMPLETE"), got.Body)

	reply := protocol.NewFrame(protocol.Ack, 2, 1, nil)
	reply.SeqNum = got.SeqNum
	require.NoError(t, protocol.WriteFrame(srv, reply))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	in, err := c.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.Ack, in.Type)
	assert.Equal(t, got.SeqNum, in.SeqNum)
}

func TestSendKeepsExplicitSeq(t *testing.T) {
	peer := newFakePeer(t)
	c := dialTest(t, Options{Config: testPeerConfig(peer.ln.Addr().String())})
	srv := peer.accept(t)

	f := protocol.NewFrame(protocol.Text, 1, 2, []byte("hi"))
	f.SeqNum = 42
	require.NoError(t, c.Send(context.Background(), f))

	got, err := protocol.ReadFrame(srv)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.SeqNum)
}

func TestSendEncodingError(t *testing.T) {
	peer := newFakePeer(t)
	c := dialTest(t, Options{Config: testPeerConfig(peer.ln.Addr().String())})

	f := protocol.NewFrame(protocol.Text, 1, 2, make([]byte, protocol.MaxBodyLen+1))
	err := c.Send(context.Background(), f)
	assert.ErrorIs(t, err, protocol.ErrEncoding)
	assert.NotErrorIs(t, err, ErrSend)
}

func TestConcurrentSendsDoNotInterleave(t *testing.T) {
	peer := newFakePeer(t)
	c := dialTest(t, Options{Config: testPeerConfig(peer.ln.Addr().String())})
	srv := peer.accept(t)

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := []byte(fmt.Sprintf("payload-%03d-%s", i, string(make([]byte, i*31))))
			assert.NoError(t, c.Send(context.Background(), protocol.NewFrame(protocol.Text, uint64(i), 0, body)))
		}(i)
	}

	seen := make(map[uint64]bool, n)
	for i := 0; i < n; i++ {
		f, err := protocol.ReadFrame(srv)
		require.NoError(t, err)
		require.Equal(t, protocol.Text, f.Type)
		require.Equal(t, fmt.Sprintf("payload-%03d-", f.Sender), string(f.Body[:12]))
		require.Len(t, f.Body, 12+int(f.Sender)*31)
		seen[f.Sender] = true
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestReceiveReconnectsAfterEOF(t *testing.T) {
	peer := newFakePeer(t)
	c := dialTest(t, Options{Config: testPeerConfig(peer.ln.Addr().String())})
	first := peer.accept(t)
	require.NoError(t, first.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Receive(ctx)
	require.ErrorIs(t, err, ErrReceive)

	// 下一次写触发重连
	require.NoError(t, c.Send(ctx, protocol.NewFrame(protocol.Text, 1, 2, []byte("again"))))
	second := peer.accept(t)
	got, err := protocol.ReadFrame(second)
	require.NoError(t, err)
	assert.Equal(t, []byte("again"), got.Body)
}

func TestReceiveRejectsUnknownType(t *testing.T) {
	peer := newFakePeer(t)
	c := dialTest(t, Options{Config: testPeerConfig(peer.ln.Addr().String())})
	srv := peer.accept(t)

	head := make([]byte, protocol.HeadLen)
	head[2] = 200
	_, err := srv.Write(head)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.Receive(ctx)
	assert.ErrorIs(t, err, ErrReceive)
	assert.ErrorIs(t, err, protocol.ErrUnknownType)
}

func TestReceiveHonorsContext(t *testing.T) {
	peer := newFakePeer(t)
	c := dialTest(t, Options{Config: testPeerConfig(peer.ln.Addr().String())})
	peer.accept(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Receive(ctx)
	assert.ErrorIs(t, err, ErrReceive)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServeDemuxesReplies(t *testing.T) {
	peer := newFakePeer(t)

	unsolicited := make(chan *protocol.Frame, 1)
	c := dialTest(t, Options{
		Config:  testPeerConfig(peer.ln.Addr().String()),
		Handler: func(_ context.Context, f *protocol.Frame) { unsolicited <- f },
	})
	srv := peer.accept(t)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- c.Serve(ctx) }()

	go func() {
		req, err := protocol.ReadFrame(srv)
		if err != nil {
			return
		}
		_ = protocol.WriteFrame(srv, protocol.NewFrame(protocol.Text, 9, 1, []byte("push")))
		ack := protocol.NewFrame(protocol.Ack, 2, 1, nil)
		ack.SeqNum = req.SeqNum
		_ = protocol.WriteFrame(srv, ack)
	}()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reqCancel()
	reply, err := c.Request(reqCtx, protocol.NewFrame(protocol.Text, 1, 2, []byte("ping")))
	require.NoError(t, err)
	assert.Equal(t, protocol.Ack, reply.Type)

	select {
	case f := <-unsolicited:
		assert.Equal(t, []byte("push"), f.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	cancel()
	select {
	case err := <-served:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	peer := newFakePeer(t)
	c := dialTest(t, Options{Config: testPeerConfig(peer.ln.Addr().String())})

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send(context.Background(), protocol.HeartbeatFrame()), ErrClosed)
	_, err := c.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSendLeavesCallerFrameUntouched(t *testing.T) {
	peer := newFakePeer(t)
	c := dialTest(t, Options{Config: testPeerConfig(peer.ln.Addr().String())})
	srv := peer.accept(t)

	f := protocol.NewFrame(protocol.Text, 1, 2, []byte("reused"))
	require.NoError(t, c.Send(context.Background(), f))
	require.NoError(t, c.Send(context.Background(), f))
	assert.Zero(t, f.SeqNum)

	first, err := protocol.ReadFrame(srv)
	require.NoError(t, err)
	second, err := protocol.ReadFrame(srv)
	require.NoError(t, err)
	assert.NotZero(t, first.SeqNum)
	assert.NotEqual(t, first.SeqNum, second.SeqNum)
}

func TestSendHonorsContextWhileReconnecting(t *testing.T) {
	cfg := testPeerConfig("127.0.0.1:1")
	cfg.MaxRetries = 3
	cfg.InitialBackoff = 400 * time.Millisecond
	cfg.MaxBackoff = time.Second

	dialed := make(chan struct{}, 16)
	c, err := New(Options{
		Config: cfg,
		Dialer: func(ctx context.Context, addr string) (net.Conn, error) {
			select {
			case dialed <- struct{}{}:
			default:
			}
			return nil, errors.New("connection refused")
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	// 读循环正在退避重连
	received := make(chan error, 1)
	go func() {
		_, err := c.Receive(context.Background())
		received <- err
	}()
	select {
	case <-dialed:
	case <-time.After(2 * time.Second):
		t.Fatal("reader never dialed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = c.Send(ctx, protocol.HeartbeatFrame())
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrSend)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, 300*time.Millisecond)

	// 关闭后进行中的重连随之结束
	require.NoError(t, c.Close())
	select {
	case err := <-received:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect did not stop after close")
	}
}

func TestReaderAndWritersShareOneDial(t *testing.T) {
	peer := newFakePeer(t)
	var dials atomic.Int32
	release := make(chan struct{})
	c, err := New(Options{
		Config: testPeerConfig(peer.ln.Addr().String()),
		Dialer: func(ctx context.Context, addr string) (net.Conn, error) {
			dials.Add(1)
			<-release
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	readCtx, readCancel := context.WithCancel(context.Background())
	defer readCancel()
	go func() { _, _ = c.Receive(readCtx) }()

	const n = 4
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			assert.NoError(t, c.Send(ctx, protocol.HeartbeatFrame()))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), dials.Load())
	srv := peer.accept(t)
	for i := 0; i < n; i++ {
		f, err := protocol.ReadFrame(srv)
		require.NoError(t, err)
		assert.Equal(t, protocol.Heartbeat, f.Type)
	}
}

func TestServeSendsHeartbeatWhenIdle(t *testing.T) {
	peer := newFakePeer(t)
	cfg := testPeerConfig(peer.ln.Addr().String())
	cfg.HeartbeatInterval = 20 * time.Millisecond
	c := dialTest(t, Options{Config: cfg})
	srv := peer.accept(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Serve(ctx) }()

	require.NoError(t, srv.SetReadDeadline(time.Now().Add(2*time.Second)))
	f, err := protocol.ReadFrame(srv)
	require.NoError(t, err)
	assert.Equal(t, protocol.Heartbeat, f.Type)
	assert.NotZero(t, f.SeqNum)
}

func TestServeSkipsHeartbeatWhileBusy(t *testing.T) {
	peer := newFakePeer(t)
	cfg := testPeerConfig(peer.ln.Addr().String())
	cfg.HeartbeatInterval = 40 * time.Millisecond
	c := dialTest(t, Options{Config: cfg})
	srv := peer.accept(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Serve(ctx) }()

	const n = 60
	go func() {
		for i := 0; i < n; i++ {
			if err := c.Send(ctx, protocol.NewFrame(protocol.Text, 1, 2, []byte("busy"))); err != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	require.NoError(t, srv.SetReadDeadline(time.Now().Add(5*time.Second)))
	for i := 0; i < n; i++ {
		f, err := protocol.ReadFrame(srv)
		require.NoError(t, err)
		require.Equal(t, protocol.Text, f.Type, "frame %d", i)
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	cfg := testPeerConfig("127.0.0.1:1")
	cfg.MaxRetries = 0
	cfg.BreakerTimeout = time.Minute

	var dials atomic.Int32
	c, err := New(Options{
		Config: cfg,
		Dialer: func(ctx context.Context, addr string) (net.Conn, error) {
			dials.Add(1)
			return nil, errors.New("connection refused")
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	for i := 0; i < 5; i++ {
		err := c.Send(context.Background(), protocol.HeartbeatFrame())
		require.ErrorIs(t, err, ErrSend)
		require.ErrorIs(t, err, ErrConnect)
	}
	require.Equal(t, int32(5), dials.Load())

	err = c.Send(context.Background(), protocol.HeartbeatFrame())
	assert.ErrorIs(t, err, ErrSend)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(5), dials.Load(), "open breaker must not dial")
}
