package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"BusinessServer/pkg/logger"
)

// ==================== Redis 任务定义 ====================

type CommandType string

const (
	CmdSimple   CommandType = "simple"   // DEL key...
	CmdPipeline CommandType = "pipeline" // 批量操作
)

const defaultMaxRetries = 3

// RedisTask 存放在 Kafka 里的消息体：一次失败的缓存维护操作
type RedisTask struct {
	Type CommandType `json:"type"`

	Command string        `json:"command,omitempty"` // e.g. "del"
	Args    []interface{} `json:"args,omitempty"`

	PipelineCmds []RedisCmd `json:"pipeline_cmds,omitempty"`

	// 元数据（用于追踪和重试控制）
	TraceID     string    `json:"trace_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	RetryCount  int       `json:"retry_count"`
	MaxRetries  int       `json:"max_retries"`
	OriginalErr string    `json:"original_err"`
	Source      string    `json:"source,omitempty"`
}

type RedisCmd struct {
	Command string        `json:"command"`
	Args    []interface{} `json:"args"`
}

// BuildDelTask 构造一个 DEL 任务，可一次删除多个 key
func BuildDelTask(keys ...string) RedisTask {
	args := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		args = append(args, k)
	}
	return RedisTask{
		Type:       CmdSimple,
		Command:    "del",
		Args:       args,
		Timestamp:  time.Now(),
		MaxRetries: defaultMaxRetries,
	}
}

// BuildPipelineTask 构造一个 Pipeline 任务
func BuildPipelineTask(cmds []RedisCmd) RedisTask {
	return RedisTask{
		Type:         CmdPipeline,
		PipelineCmds: cmds,
		Timestamp:    time.Now(),
		MaxRetries:   defaultMaxRetries,
	}
}

// WithContext 为任务添加 trace_id
func (t RedisTask) WithContext(ctx context.Context) RedisTask {
	if ctx == nil {
		return t
	}
	if traceID, ok := ctx.Value(logger.TraceIDKey).(string); ok {
		t.TraceID = traceID
	}
	return t
}

// WithError 记录原始错误
func (t RedisTask) WithError(err error) RedisTask {
	if err != nil {
		t.OriginalErr = err.Error()
	}
	return t
}

// WithSource 记录来源
func (t RedisTask) WithSource(source string) RedisTask {
	t.Source = source
	return t
}

// partitionKey 同一组 key 的任务落到同一分区
func (t RedisTask) partitionKey() []byte {
	if t.Type == CmdSimple && len(t.Args) > 0 {
		return []byte(fmt.Sprint(t.Args[0]))
	}
	if len(t.PipelineCmds) > 0 && len(t.PipelineCmds[0].Args) > 0 {
		return []byte(fmt.Sprint(t.PipelineCmds[0].Args[0]))
	}
	return nil
}

// ==================== 全局生产者 ====================

// Publisher 重试任务的投递端（*kafka.Producer 实现）
type Publisher interface {
	Send(ctx context.Context, key, value []byte) error
}

var (
	producerMu sync.RWMutex
	producer   Publisher
)

// ErrNoProducer Kafka 未启用
var ErrNoProducer = errors.New("redis retry producer not configured")

// SetGlobalProducer 进程启动时设置，传 nil 关闭重试
func SetGlobalProducer(p Publisher) {
	producerMu.Lock()
	producer = p
	producerMu.Unlock()
}

// SendRedisTask 序列化任务并投递到重试 topic
func SendRedisTask(ctx context.Context, task RedisTask) error {
	producerMu.RLock()
	p := producer
	producerMu.RUnlock()
	if p == nil {
		return ErrNoProducer
	}
	return publish(ctx, p, task)
}

func publish(ctx context.Context, p Publisher, task RedisTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("序列化 Redis 任务失败: %w", err)
	}
	return p.Send(ctx, task.partitionKey(), data)
}
