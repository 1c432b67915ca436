package config

import "time"

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr            string        `json:"addr" yaml:"addr"`
	Mode            string        `json:"mode" yaml:"mode"`                       // gin 模式 debug/release/test
	RateLimit       float64       `json:"rateLimit" yaml:"rateLimit"`             // 每个 IP 每秒请求数，0 表示不限流
	RateBurst       int           `json:"rateBurst" yaml:"rateBurst"`             // 令牌桶容量
	RequestTimeout  time.Duration `json:"requestTimeout" yaml:"requestTimeout"`   // 单个请求处理超时，0 表示不限制
	ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"` // 优雅退出等待时间
}

// DefaultServerConfig 返回本地开发的默认配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            "127.0.0.1:5000",
		Mode:            "release",
		RateLimit:       20,
		RateBurst:       40,
		RequestTimeout:  5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}
