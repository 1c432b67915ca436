package config

// KafkaConfig Kafka 配置。
// 仅用于缓存失效失败后的重试队列，Brokers 为空时不启用。
type KafkaConfig struct {
	Brokers         []string `json:"brokers" yaml:"brokers"`
	RedisRetryTopic string   `json:"redisRetryTopic" yaml:"redisRetryTopic"`
	GroupID         string   `json:"groupId" yaml:"groupId"`
}

// DefaultKafkaConfig 返回本地开发的默认配置
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:         []string{"127.0.0.1:9092"},
		RedisRetryTopic: "business-redis-retry",
		GroupID:         "business-redis-retry-consumer",
	}
}
