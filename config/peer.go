package config

import "time"

// PeerConfig 对端消息服务的长连接配置
type PeerConfig struct {
	Addr              string        `json:"addr" yaml:"addr"`                           // host:port
	NodeID            int64         `json:"nodeId" yaml:"nodeId"`                       // 雪花算法节点号，用于生成 seq_num
	ConnectTimeout    time.Duration `json:"connectTimeout" yaml:"connectTimeout"`       // 单次拨号超时
	WriteTimeout      time.Duration `json:"writeTimeout" yaml:"writeTimeout"`           // 单帧写超时，0 表示不设置
	HeartbeatInterval time.Duration `json:"heartbeatInterval" yaml:"heartbeatInterval"` // 空闲心跳间隔，0 表示关闭
	MaxRetries        int           `json:"maxRetries" yaml:"maxRetries"`               // 断线重连最大次数
	InitialBackoff    time.Duration `json:"initialBackoff" yaml:"initialBackoff"`
	MaxBackoff        time.Duration `json:"maxBackoff" yaml:"maxBackoff"`
	BackoffMultiplier float64       `json:"backoffMultiplier" yaml:"backoffMultiplier"`
	BreakerTimeout    time.Duration `json:"breakerTimeout" yaml:"breakerTimeout"` // 熔断开启后多久进入半开
}

// DefaultPeerConfig 返回本地开发的默认配置
func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		Addr:              "127.0.0.1:8190",
		NodeID:            1,
		ConnectTimeout:    3 * time.Second,
		WriteTimeout:      5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxRetries:        5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        3 * time.Second,
		BackoffMultiplier: 2,
		BreakerTimeout:    30 * time.Second,
	}
}
