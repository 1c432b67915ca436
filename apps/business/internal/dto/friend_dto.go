package dto

import (
	"time"

	"BusinessServer/apps/business/internal/service"
)

// ==================== 好友关系相关 DTO ====================

// AddFriendRequest 添加 / 确认好友请求 DTO
type AddFriendRequest struct {
	AccountID       uint64 `json:"account_id" binding:"required"`        // 发起方账号
	FriendAccountID uint64 `json:"friend_account_id" binding:"required"` // 目标账号
	Remark          string `json:"remark" binding:"omitempty,max=64"`    // 发起方给对方的备注
}

// FriendPathRequest 删除好友路径参数
type FriendPathRequest struct {
	AccountID       uint64 `uri:"account_id" binding:"required"`
	FriendAccountID uint64 `uri:"friend_account_id" binding:"required"`
}

// AccountPathRequest 好友列表路径参数
type AccountPathRequest struct {
	AccountID uint64 `uri:"account_id" binding:"required"`
}

// RelationResponse 关系变更响应 DTO
type RelationResponse struct {
	PairID    int64 `json:"pair_id"`
	Created   bool  `json:"created"`
	Completed bool  `json:"completed"`
	Deleted   bool  `json:"deleted"`
	Notified  int   `json:"notified"` // 成功送达的通知数
	Degraded  bool  `json:"degraded"` // 数据已提交但通知未全部送达
}

// FriendItem 好友列表项 DTO
type FriendItem struct {
	PairID     int64     `json:"pair_id"`
	FriendID   uint64    `json:"friend_id"`
	Remark     string    `json:"remark"`
	PeerRemark string    `json:"peer_remark"`
	Mutual     bool      `json:"mutual"`
	CreatedAt  time.Time `json:"created_at"`
}

// FriendListResponse 好友列表响应 DTO
type FriendListResponse struct {
	Items []*FriendItem `json:"items"`
	Total int           `json:"total"`
}

// ConvertRelationResponse 服务层结果转换为响应
func ConvertRelationResponse(res *service.Result) *RelationResponse {
	if res == nil {
		return &RelationResponse{}
	}
	return &RelationResponse{
		PairID:    res.PairID,
		Created:   res.Created,
		Completed: res.Completed,
		Deleted:   res.Deleted,
		Notified:  res.Notified,
		Degraded:  res.Degraded(),
	}
}

// ConvertFriendList 服务层好友视图转换为响应
func ConvertFriendList(views []*service.FriendView) *FriendListResponse {
	items := make([]*FriendItem, 0, len(views))
	for _, v := range views {
		items = append(items, &FriendItem{
			PairID:     v.PairID,
			FriendID:   v.FriendID,
			Remark:     v.Remark,
			PeerRemark: v.PeerRemark,
			Mutual:     v.Mutual,
			CreatedAt:  v.CreatedAt,
		})
	}
	return &FriendListResponse{Items: items, Total: len(items)}
}
