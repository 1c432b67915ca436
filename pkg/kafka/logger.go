package kafka

import (
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ZapLoggerAdapter 将 kafka-go 的日志接口适配到 zap（Debug 级别）
type ZapLoggerAdapter struct {
	zl *zap.Logger
}

var _ kafka.Logger = (*ZapLoggerAdapter)(nil)

// NewZapLoggerAdapter 创建适配器
func NewZapLoggerAdapter(zl *zap.Logger) *ZapLoggerAdapter {
	if zl == nil {
		zl = zap.NewNop()
	}
	return &ZapLoggerAdapter{zl: zl.Named("kafka")}
}

// Printf 实现 kafka.Logger
func (a *ZapLoggerAdapter) Printf(format string, args ...interface{}) {
	a.zl.Debug(fmt.Sprintf(format, args...))
}
