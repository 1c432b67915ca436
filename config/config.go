package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 业务服务的全部配置
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Logger   LoggerConfig   `json:"logger" yaml:"logger"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Kafka    KafkaConfig    `json:"kafka" yaml:"kafka"`
	Peer     PeerConfig     `json:"peer" yaml:"peer"`
	Async    AsyncConfig    `json:"async" yaml:"async"`
}

// Default 返回全部默认配置
func Default() Config {
	return Config{
		Server:   DefaultServerConfig(),
		Logger:   DefaultLoggerConfig(),
		Database: DefaultDatabaseConfig(),
		Redis:    DefaultRedisConfig(),
		Kafka:    DefaultKafkaConfig(),
		Peer:     DefaultPeerConfig(),
		Async:    DefaultAsyncConfig(),
	}
}

// Load 在默认配置之上覆盖 YAML 文件中的字段。
// path 为空时直接返回默认配置。
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return cfg, nil
}
