package protocol

import "errors"

var (
	// ErrEncoding 编码失败（消息体超出 16 位长度字段）
	ErrEncoding = errors.New("protocol: encoding error")

	// ErrDecoding 解码失败（头部不足或消息体被截断）
	ErrDecoding = errors.New("protocol: decoding error")

	// ErrUnknownType 未知的消息类型
	ErrUnknownType = errors.New("protocol: unknown message type")
)
