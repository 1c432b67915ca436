package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UserRelationship 一对用户之间的好友关系，一对用户只存一行。
// 约束：
//   - LowId < HighId，(a,b) 与 (b,a) 不会分开存储；
//   - uidx_live_pair 保证同一对用户最多一条存活记录：存活时 alive=true，
//     软删除时 alive 置 NULL（NULL 在唯一索引中互不冲突），已删除的历史行不阻塞重新添加；
//   - 两侧备注均非空即为互为好友；CompletedLow/High 非空表示互为好友的通知已发出，只写一次。
type UserRelationship struct {
	Id            int64          `gorm:"column:id;primaryKey;autoIncrement;comment:自增id" json:"id"`
	LowId         uint64         `gorm:"column:user_id_low;not null;uniqueIndex:uidx_live_pair,priority:1;comment:较小的用户id" json:"low_id"`
	HighId        uint64         `gorm:"column:user_id_high;not null;uniqueIndex:uidx_live_pair,priority:2;index;comment:较大的用户id" json:"high_id"`
	RemarkLow     string         `gorm:"column:remark_low;type:varchar(64);not null;default:'';comment:low 给 high 的备注" json:"remark_low"`
	RemarkHigh    string         `gorm:"column:remark_high;type:varchar(64);not null;default:'';comment:high 给 low 的备注" json:"remark_high"`
	CompletedLow  datatypes.JSON `gorm:"column:completed_low;comment:low 侧完成通知标记" json:"completed_low,omitempty"`
	CompletedHigh datatypes.JSON `gorm:"column:completed_high;comment:high 侧完成通知标记" json:"completed_high,omitempty"`
	Alive         *bool          `gorm:"column:alive;uniqueIndex:uidx_live_pair,priority:3;comment:存活标记 true/NULL" json:"-"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"column:deleted_at;index" json:"deleted_at"`
}

func (UserRelationship) TableName() string { return "user_relationship" }

// NewUserRelationship 构造一条新的存活记录，调用方保证 low < high
func NewUserRelationship(low, high uint64) *UserRelationship {
	alive := true
	return &UserRelationship{LowId: low, HighId: high, Alive: &alive}
}

// RemarkOf 返回 high 侧或 low 侧给出的备注
func (r *UserRelationship) RemarkOf(high bool) string {
	if high {
		return r.RemarkHigh
	}
	return r.RemarkLow
}

// SetRemark 只修改一侧备注
func (r *UserRelationship) SetRemark(high bool, remark string) {
	if high {
		r.RemarkHigh = remark
		return
	}
	r.RemarkLow = remark
}

// IsMutual 两侧备注都已设置
func (r *UserRelationship) IsMutual() bool {
	return r.RemarkLow != "" && r.RemarkHigh != ""
}

// IsCompleted 完成通知标记已写入
func (r *UserRelationship) IsCompleted() bool {
	return len(r.CompletedLow) > 0 || len(r.CompletedHigh) > 0
}

// Other 返回关系中另一方的 id
func (r *UserRelationship) Other(accountID uint64) uint64 {
	if accountID == r.LowId {
		return r.HighId
	}
	return r.LowId
}

// CompletionMarker 完成通知标记内容
type CompletionMarker struct {
	NotifiedTo uint64 `json:"notified_to"`
	By         uint64 `json:"by"` // 触发完成的请求方
	NotifiedAt int64  `json:"notified_at"`
}

// NewCompletionMarker 序列化为 JSON 列值
func NewCompletionMarker(notifiedTo, by uint64, at time.Time) datatypes.JSON {
	data, err := json.Marshal(CompletionMarker{NotifiedTo: notifiedTo, By: by, NotifiedAt: at.UnixMilli()})
	if err != nil {
		return datatypes.JSON(`{}`)
	}
	return datatypes.JSON(data)
}
