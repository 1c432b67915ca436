package repository

import (
	"context"
	"time"

	"BusinessServer/model"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// relationRepositoryImpl 好友关系数据访问层实现
type relationRepositoryImpl struct {
	db          *gorm.DB
	redisClient *redis.Client
	pool        Executor

	// 非 nil 表示处于事务中：涉及的用户 id 先记下，提交后统一失效缓存
	touched *[]uint64
}

// Executor 缓存重建的异步执行器（*async.Pool 实现了该接口）
type Executor interface {
	Go(ctx context.Context, task func(ctx context.Context))
}

// NewRelationRepository 创建好友关系仓储实例。
// redisClient 为 nil 时不使用缓存；pool 为 nil 时缓存重建同步执行。
func NewRelationRepository(db *gorm.DB, redisClient *redis.Client, pool Executor) IRelationRepository {
	return &relationRepositoryImpl{db: db, redisClient: redisClient, pool: pool}
}

// Transaction 事务执行，嵌套调用时 gorm 使用 SavePoint
func (r *relationRepositoryImpl) Transaction(ctx context.Context, fn func(tx IRelationRepository) error) error {
	if r.touched != nil {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(r.withDB(tx, r.touched))
		})
	}

	var touched []uint64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.withDB(tx, &touched))
	})
	if err != nil {
		return err
	}
	r.invalidateFriendCache(ctx, touched...)
	return nil
}

// FindPair 查询存活的关系行
func (r *relationRepositoryImpl) FindPair(ctx context.Context, lowID, highID uint64) (*model.UserRelationship, error) {
	var pair model.UserRelationship
	err := r.db.WithContext(ctx).
		Where("user_id_low = ? AND user_id_high = ?", lowID, highID).
		Take(&pair).Error
	if err != nil {
		return nil, WrapDBError(err)
	}
	return &pair, nil
}

// InsertPair 插入新关系，唯一索引 uidx_live_pair 保证并发下只有一个插入成功
func (r *relationRepositoryImpl) InsertPair(ctx context.Context, pair *model.UserRelationship) error {
	if pair.Alive == nil {
		alive := true
		pair.Alive = &alive
	}
	if err := r.db.WithContext(ctx).Create(pair).Error; err != nil {
		return WrapDBError(err)
	}
	r.markTouched(ctx, pair.LowId, pair.HighId)
	return nil
}

// UpdateRemark 只更新请求方一侧的备注
func (r *relationRepositoryImpl) UpdateRemark(ctx context.Context, pair *model.UserRelationship, high bool, remark string) error {
	column := "remark_low"
	if high {
		column = "remark_high"
	}
	now := time.Now()

	result := r.db.WithContext(ctx).
		Model(&model.UserRelationship{}).
		Where("id = ?", pair.Id).
		Updates(map[string]interface{}{
			column:       remark,
			"updated_at": now,
		})
	if result.Error != nil {
		return WrapDBError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}

	pair.SetRemark(high, remark)
	pair.UpdatedAt = now
	r.markTouched(ctx, pair.LowId, pair.HighId)
	return nil
}

// MarkCompleted 条件更新（CAS）：
// WHERE 中同时校验两侧备注非空、两侧标记为空，由影响行数决定谁负责发送完成通知
func (r *relationRepositoryImpl) MarkCompleted(ctx context.Context, pair *model.UserRelationship, markerLow, markerHigh datatypes.JSON) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&model.UserRelationship{}).
		Where("id = ? AND remark_low <> '' AND remark_high <> '' AND completed_low IS NULL AND completed_high IS NULL", pair.Id).
		Updates(map[string]interface{}{
			"completed_low":  markerLow,
			"completed_high": markerHigh,
			"updated_at":     now,
		})
	if result.Error != nil {
		return false, WrapDBError(result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	pair.CompletedLow = markerLow
	pair.CompletedHigh = markerHigh
	pair.UpdatedAt = now
	r.markTouched(ctx, pair.LowId, pair.HighId)
	return true, nil
}

// SoftDelete 软删除并释放唯一索引（alive 置 NULL）
func (r *relationRepositoryImpl) SoftDelete(ctx context.Context, pair *model.UserRelationship) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&model.UserRelationship{}).
		Where("id = ?", pair.Id).
		Updates(map[string]interface{}{
			"alive":      nil,
			"deleted_at": gorm.DeletedAt{Time: now, Valid: true},
			"updated_at": now,
		})
	if result.Error != nil {
		return false, WrapDBError(result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	pair.Alive = nil
	pair.DeletedAt = gorm.DeletedAt{Time: now, Valid: true}
	pair.UpdatedAt = now
	r.markTouched(ctx, pair.LowId, pair.HighId)
	return true, nil
}

// ListPairs 采用 Cache-Aside：优先读 Redis Hash，未命中回源数据库并异步重建
func (r *relationRepositoryImpl) ListPairs(ctx context.Context, accountID uint64) ([]*model.UserRelationship, error) {
	if pairs, hit := r.getFriendListCache(ctx, accountID); hit {
		return pairs, nil
	}

	// 版本号必须在查库之前读取
	version, versionOK := r.friendListVersion(ctx, accountID)

	var pairs []*model.UserRelationship
	err := r.db.WithContext(ctx).
		Where("user_id_low = ? OR user_id_high = ?", accountID, accountID).
		Order("created_at ASC, id ASC").
		Find(&pairs).Error
	if err != nil {
		return nil, WrapDBError(err)
	}

	// 事务内读到的数据可能回滚，不写缓存
	if r.touched == nil && versionOK {
		r.rebuildFriendListCache(ctx, accountID, version, pairs)
	}
	return pairs, nil
}

func (r *relationRepositoryImpl) withDB(tx *gorm.DB, touched *[]uint64) *relationRepositoryImpl {
	return &relationRepositoryImpl{db: tx, redisClient: r.redisClient, pool: r.pool, touched: touched}
}

func (r *relationRepositoryImpl) markTouched(ctx context.Context, accountIDs ...uint64) {
	if r.touched != nil {
		*r.touched = append(*r.touched, accountIDs...)
		return
	}
	r.invalidateFriendCache(ctx, accountIDs...)
}
