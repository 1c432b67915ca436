package service

import (
	"context"
	"errors"
	"time"

	"BusinessServer/pkg/protocol"
)

var (
	// ErrInvalidArgument 参数非法（id 为 0、添加自己）
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound 不存在存活的好友关系
	ErrNotFound = errors.New("relationship not found")

	// ErrConflict 并发创建冲突重试耗尽
	ErrConflict = errors.New("relationship conflict")
)

// Notifier 通知下发通道（*peerconn.Client 实现）
type Notifier interface {
	Send(ctx context.Context, f *protocol.Frame) error
}

// Result 一次关系变更的结果。
// 数据已提交但通知发送失败时 NotifyErr 非空，视为降级成功。
type Result struct {
	PairID    int64 `json:"pair_id"`
	Created   bool  `json:"created"`
	Completed bool  `json:"completed"`
	Deleted   bool  `json:"deleted"`
	Notified  int   `json:"notified"` // 成功发出的通知数
	NotifyErr error `json:"-"`
}

// Degraded 数据已提交但通知未全部送达
func (r *Result) Degraded() bool {
	return r != nil && r.NotifyErr != nil
}

// FriendView 从某个用户视角看到的一条好友关系
type FriendView struct {
	PairID     int64     `json:"pair_id"`
	FriendID   uint64    `json:"friend_id"`
	Remark     string    `json:"remark"`      // 自己给对方的备注
	PeerRemark string    `json:"peer_remark"` // 对方给自己的备注
	Mutual     bool      `json:"mutual"`
	CreatedAt  time.Time `json:"created_at"`
}

// ==================== 好友关系服务接口 ====================

// IRelationService 好友关系服务接口
// 职责：关系规范化、备注更新、互为好友检测（通知只发一次）、软删除
type IRelationService interface {
	// RequestFriend requester 向 target 发起/确认好友关系并设置备注
	RequestFriend(ctx context.Context, requester, target uint64, remark string) (*Result, error)

	// RemoveFriend 删除好友关系并通知对方
	RemoveFriend(ctx context.Context, requester, target uint64) (*Result, error)

	// ListFriends 好友列表，按关系创建时间升序
	ListFriends(ctx context.Context, accountID uint64) ([]*FriendView, error)

	// HandleInbound 处理对端推送的入站消息
	HandleInbound(ctx context.Context, f *protocol.Frame)
}
