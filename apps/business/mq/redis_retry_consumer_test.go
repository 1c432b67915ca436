package mq

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"BusinessServer/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var initLoggerOnce sync.Once

func initTestLogger() {
	initLoggerOnce.Do(func() { logger.ReplaceGlobal(zap.NewNop()) })
}

type fakePublisher struct {
	mu    sync.Mutex
	tasks []RedisTask
	keys  []string
	err   error
}

func (p *fakePublisher) Send(_ context.Context, key, value []byte) error {
	if p.err != nil {
		return p.err
	}
	var task RedisTask
	if err := json.Unmarshal(value, &task); err != nil {
		return err
	}
	p.mu.Lock()
	p.tasks = append(p.tasks, task)
	p.keys = append(p.keys, string(key))
	p.mu.Unlock()
	return nil
}

func newTestConsumer(t *testing.T) (*RedisRetryConsumer, *miniredis.Miniredis, *fakePublisher) {
	t.Helper()
	initTestLogger()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	pub := &fakePublisher{}
	return &RedisRetryConsumer{redis: rdb, publisher: pub}, mr, pub
}

func marshalTask(t *testing.T, task RedisTask) []byte {
	t.Helper()
	data, err := json.Marshal(task)
	require.NoError(t, err)
	return data
}

func TestHandleDelTask(t *testing.T) {
	c, mr, pub := newTestConsumer(t)
	require.NoError(t, mr.Set("k1", "v"))
	require.NoError(t, mr.Set("k2", "v"))

	c.handle(context.Background(), marshalTask(t, BuildDelTask("k1", "k2")))

	assert.False(t, mr.Exists("k1"))
	assert.False(t, mr.Exists("k2"))
	assert.Empty(t, pub.tasks)
}

func TestHandlePipelineTask(t *testing.T) {
	c, mr, _ := newTestConsumer(t)
	require.NoError(t, mr.Set("a", "1"))

	task := BuildPipelineTask([]RedisCmd{
		{Command: "del", Args: []interface{}{"a"}},
		{Command: "set", Args: []interface{}{"b", "2"}},
	})
	c.handle(context.Background(), marshalTask(t, task))

	assert.False(t, mr.Exists("a"))
	got, err := mr.Get("b")
	require.NoError(t, err)
	assert.Equal(t, "2", got)
}

func TestHandleFailedTaskIsRepublished(t *testing.T) {
	c, _, pub := newTestConsumer(t)

	task := RedisTask{Type: CmdSimple, Command: "nosuchcommand", Args: []interface{}{"k"}, MaxRetries: 2}
	c.handle(context.Background(), marshalTask(t, task))

	require.Len(t, pub.tasks, 1)
	assert.Equal(t, 1, pub.tasks[0].RetryCount)
	assert.NotEmpty(t, pub.tasks[0].OriginalErr)
	assert.Equal(t, "k", pub.keys[0])
}

func TestHandleGivesUpAfterMaxRetries(t *testing.T) {
	c, _, pub := newTestConsumer(t)

	task := RedisTask{Type: CmdSimple, Command: "nosuchcommand", Args: []interface{}{"k"}, MaxRetries: 2, RetryCount: 2}
	c.handle(context.Background(), marshalTask(t, task))

	assert.Empty(t, pub.tasks)
}

func TestHandleMalformedMessage(t *testing.T) {
	c, _, pub := newTestConsumer(t)
	c.handle(context.Background(), []byte("not-json"))
	assert.Empty(t, pub.tasks)
}

func TestSendRedisTaskWithoutProducer(t *testing.T) {
	SetGlobalProducer(nil)
	assert.ErrorIs(t, SendRedisTask(context.Background(), BuildDelTask("k")), ErrNoProducer)

	pub := &fakePublisher{}
	SetGlobalProducer(pub)
	t.Cleanup(func() { SetGlobalProducer(nil) })

	ctx := context.WithValue(context.Background(), logger.TraceIDKey, "trace-1")
	require.NoError(t, SendRedisTask(ctx, BuildDelTask("k").WithContext(ctx).WithSource("test")))
	require.Len(t, pub.tasks, 1)
	assert.Equal(t, "trace-1", pub.tasks[0].TraceID)
	assert.Equal(t, "test", pub.tasks[0].Source)
}
