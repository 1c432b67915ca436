package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrProducerClosed 生产者未初始化
var ErrProducerClosed = errors.New("kafka producer not initialized")

// Producer 单 topic 生产者
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer 创建生产者。按 key 哈希分区，同一 key 的任务保持顺序。
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 3 * time.Second,
		},
		topic: topic,
	}
}

// Topic 生产者绑定的 topic
func (p *Producer) Topic() string {
	if p == nil {
		return ""
	}
	return p.topic
}

// Send 同步写入一条消息
func (p *Producer) Send(ctx context.Context, key, value []byte) error {
	if p == nil || p.writer == nil {
		return ErrProducerClosed
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value, Time: time.Now()})
}

// Close 刷新并关闭
func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
