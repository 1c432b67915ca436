package repository

import (
	"context"

	"BusinessServer/model"

	"gorm.io/datatypes"
)

// ==================== 好友关系 Repository ====================

// IRelationRepository 好友关系数据访问接口。
// 一对用户只有一行（low < high），所有方法只作用于未删除的行。
type IRelationRepository interface {
	// Transaction 在同一事务中执行 fn，fn 内必须使用传入的 tx。
	// 事务提交后才失效相关缓存。
	Transaction(ctx context.Context, fn func(tx IRelationRepository) error) error

	// FindPair 查询存活的关系行，不存在返回 ErrRecordNotFound
	FindPair(ctx context.Context, lowID, highID uint64) (*model.UserRelationship, error)

	// InsertPair 插入新的关系行，同一对用户已有存活行时返回 ErrDuplicateKey
	InsertPair(ctx context.Context, pair *model.UserRelationship) error

	// UpdateRemark 只更新一侧备注，行已删除时返回 ErrRecordNotFound
	UpdateRemark(ctx context.Context, pair *model.UserRelationship, high bool, remark string) error

	// MarkCompleted 条件写入两侧完成标记：
	// 仅当两侧备注均非空且尚未标记时生效，返回本次调用是否完成了状态迁移
	MarkCompleted(ctx context.Context, pair *model.UserRelationship, markerLow, markerHigh datatypes.JSON) (bool, error)

	// SoftDelete 软删除，返回本次调用是否删除了该行
	SoftDelete(ctx context.Context, pair *model.UserRelationship) (bool, error)

	// ListPairs 查询某用户参与的全部存活关系，按创建时间升序（带缓存）
	ListPairs(ctx context.Context, accountID uint64) ([]*model.UserRelationship, error)
}
