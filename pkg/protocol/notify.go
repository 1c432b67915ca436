package protocol

import (
	"strings"
	"time"
)

// 好友关系通知的消息体（UTF-8 文本）
const (
	RelationAddPrefix = "ADD_"
	RelationComplete  = "COMPLETE"
	RelationDelete    = "DELETE"
)

// NewFrame 构造一条消息，时间戳取当前毫秒，seq_num 由发送方（连接客户端）分配。
func NewFrame(typ Type, sender, receiver uint64, body []byte) *Frame {
	return &Frame{
		Length:    uint16(len(body)),
		Type:      typ,
		Sender:    sender,
		Receiver:  receiver,
		Timestamp: uint64(time.Now().UnixMilli()),
		Version:   CurrentVersion,
		Body:      body,
	}
}

// FriendRelationshipFrame 构造好友关系通知
func FriendRelationshipFrame(sender, receiver uint64, payload string) *Frame {
	return NewFrame(FriendRelationship, sender, receiver, []byte(payload))
}

// AddFriendPayload "ADD_" + 备注
func AddFriendPayload(remark string) string {
	return RelationAddPrefix + remark
}

// HeartbeatFrame 心跳，sender/receiver 均为 0
func HeartbeatFrame() *Frame {
	return NewFrame(Heartbeat, 0, 0, nil)
}

// ParseRelationPayload 解析好友关系通知消息体，返回动作与附带备注。
// 动作取值 ADD / COMPLETE / DELETE，无法识别时 ok=false。
func ParseRelationPayload(body []byte) (action, remark string, ok bool) {
	s := string(body)
	switch {
	case s == RelationComplete:
		return "COMPLETE", "", true
	case s == RelationDelete:
		return "DELETE", "", true
	case strings.HasPrefix(s, RelationAddPrefix):
		return "ADD", strings.TrimPrefix(s, RelationAddPrefix), true
	}
	return "", "", false
}
