package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message 对外暴露的消息类型
type Message = kafka.Message

// Consumer 消费组消费者，手动提交 offset
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer 创建消费者，logger 可为 nil
func NewConsumer(brokers []string, topic, groupID string, logger kafka.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        500 * time.Millisecond,
			CommitInterval: 0,
			StartOffset:    kafka.FirstOffset,
			Logger:         logger,
			ErrorLogger:    logger,
		}),
	}
}

// Fetch 阻塞拉取下一条消息，不自动提交
func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.reader.FetchMessage(ctx)
}

// Commit 提交 offset
func (c *Consumer) Commit(ctx context.Context, msgs ...Message) error {
	return c.reader.CommitMessages(ctx, msgs...)
}

// Close 关闭消费者
func (c *Consumer) Close() error {
	return c.reader.Close()
}
