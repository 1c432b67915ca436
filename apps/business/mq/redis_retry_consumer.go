package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"BusinessServer/pkg/kafka"
	"BusinessServer/pkg/logger"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

// messageSource 消费端抽象（*kafka.Consumer 实现）
type messageSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// redisExecutor 重放任务所需的 Redis 能力（*redis.Client 实现）
type redisExecutor interface {
	Do(ctx context.Context, args ...interface{}) *redis.Cmd
	Pipeline() redis.Pipeliner
}

// RedisRetryConsumer 消费重试 topic，重放失败的缓存操作。
// 重放仍失败时 RetryCount+1 重新投递，超过 MaxRetries 后丢弃并记录错误。
type RedisRetryConsumer struct {
	source    messageSource
	redis     redisExecutor
	publisher Publisher
	backoff   time.Duration
}

// NewRedisRetryConsumer 创建消费者
func NewRedisRetryConsumer(brokers []string, topic, groupID string, redisClient *redis.Client, publisher Publisher, kafkaLogger *kafka.ZapLoggerAdapter) *RedisRetryConsumer {
	var kl kafkago.Logger
	if kafkaLogger != nil {
		kl = kafkaLogger
	}
	return &RedisRetryConsumer{
		source:    kafka.NewConsumer(brokers, topic, groupID, kl),
		redis:     redisClient,
		publisher: publisher,
		backoff:   200 * time.Millisecond,
	}
}

// Start 阻塞消费直到 ctx 取消
func (c *RedisRetryConsumer) Start(ctx context.Context) error {
	for {
		msg, err := c.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("拉取 Redis 重试任务失败: %w", err)
		}

		c.handle(ctx, msg.Value)

		if err := c.source.Commit(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Error(ctx, "提交 Redis 重试任务 offset 失败", logger.ErrorField("error", err))
		}
	}
}

// Close 关闭消费者
func (c *RedisRetryConsumer) Close() error {
	return c.source.Close()
}

func (c *RedisRetryConsumer) handle(ctx context.Context, raw []byte) {
	var task RedisTask
	if err := json.Unmarshal(raw, &task); err != nil {
		logger.Error(ctx, "Redis 重试任务格式错误，丢弃", logger.ErrorField("error", err))
		return
	}
	taskCtx := ctx
	if task.TraceID != "" {
		taskCtx = context.WithValue(ctx, logger.TraceIDKey, task.TraceID)
	}

	err := c.execute(taskCtx, task)
	if err == nil {
		logger.Info(taskCtx, "Redis 重试任务执行成功",
			logger.String("task_type", string(task.Type)),
			logger.Int("retry_count", task.RetryCount),
		)
		return
	}

	task.RetryCount++
	task.OriginalErr = err.Error()
	if task.RetryCount > task.MaxRetries {
		logger.Error(taskCtx, "Redis 重试任务超过最大重试次数，放弃",
			logger.ErrorField("error", err),
			logger.String("task_type", string(task.Type)),
			logger.String("command", task.Command),
			logger.Int("retry_count", task.RetryCount),
		)
		return
	}

	if c.backoff > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff * time.Duration(task.RetryCount)):
		}
	}
	if c.publisher == nil {
		return
	}
	if err := publish(taskCtx, c.publisher, task); err != nil {
		logger.Error(taskCtx, "Redis 重试任务重新投递失败",
			logger.ErrorField("error", err),
			logger.Int("retry_count", task.RetryCount),
		)
	}
}

var errEmptyTask = errors.New("empty redis task")

func (c *RedisRetryConsumer) execute(ctx context.Context, task RedisTask) error {
	switch task.Type {
	case CmdSimple:
		if task.Command == "" {
			return errEmptyTask
		}
		args := append([]interface{}{task.Command}, task.Args...)
		err := c.redis.Do(ctx, args...).Err()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	case CmdPipeline:
		if len(task.PipelineCmds) == 0 {
			return errEmptyTask
		}
		pipe := c.redis.Pipeline()
		for _, cmd := range task.PipelineCmds {
			pipe.Do(ctx, append([]interface{}{cmd.Command}, cmd.Args...)...)
		}
		_, err := pipe.Exec(ctx)
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	return fmt.Errorf("unknown redis task type %q", task.Type)
}
