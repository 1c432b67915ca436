package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"BusinessServer/apps/business/internal/repository"
	"BusinessServer/model"
	"BusinessServer/pkg/logger"
	"BusinessServer/pkg/protocol"
)

// 首次请求并发插入冲突后的最大重读次数
const maxConflictRetries = 3

// relationServiceImpl 好友关系服务实现
type relationServiceImpl struct {
	repo     repository.IRelationRepository
	notifier Notifier
	metrics  *Metrics
	now      func() time.Time
}

// NewRelationService 创建好友关系服务实例，metrics 可为 nil
func NewRelationService(repo repository.IRelationRepository, notifier Notifier, metrics *Metrics) IRelationService {
	return &relationServiceImpl{
		repo:     repo,
		notifier: notifier,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Canonicalize 规范化一对用户：low 为较小 id，high 为较大 id，
// isHigh 表示 requester 是否位于 high 侧
func Canonicalize(requester, target uint64) (low, high uint64, isHigh bool) {
	if requester < target {
		return requester, target, false
	}
	return target, requester, true
}

func validatePair(requester, target uint64) error {
	if requester == 0 || target == 0 {
		return fmt.Errorf("%w: account id must be non-zero", ErrInvalidArgument)
	}
	if requester == target {
		return fmt.Errorf("%w: cannot befriend oneself", ErrInvalidArgument)
	}
	return nil
}

// RequestFriend 添加好友 / 确认好友。
// 流程（单个事务内）：
//  1. 查询存活的关系行；不存在则插入（唯一索引兜底并发插入，冲突后新开事务重读）；
//  2. 已存在则只更新请求方一侧备注；
//  3. 尚未完成时执行条件更新写入完成标记，影响行数为 1 的调用负责发送 COMPLETE。
//
// 通知在事务提交后发送，发送失败只记录并返回降级结果。
func (s *relationServiceImpl) RequestFriend(ctx context.Context, requester, target uint64, remark string) (*Result, error) {
	if err := validatePair(requester, target); err != nil {
		return nil, err
	}
	low, high, isHigh := Canonicalize(requester, target)

	var (
		res    *Result
		frames []*protocol.Frame
		err    error
	)
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		res, frames, err = s.requestOnce(ctx, requester, target, low, high, isHigh, remark)
		if err == nil {
			break
		}
		// 插入冲突：另一个请求抢先创建；更新时行被并发删除。两种情况都重读
		if errors.Is(err, repository.ErrDuplicateKey) || errors.Is(err, repository.ErrRecordNotFound) {
			s.metrics.conflict()
			logger.Warn(ctx, "好友关系并发冲突，重新读取",
				logger.Uint64("low_id", low),
				logger.Uint64("high_id", high),
				logger.Int("attempt", attempt),
				logger.ErrorField("error", err),
			)
			continue
		}
		return nil, fmt.Errorf("添加好友失败: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConflict, err)
	}

	switch {
	case res.Created:
		s.metrics.transition("created")
	case res.Completed:
		s.metrics.transition("completed")
	}
	s.notify(ctx, res, frames)
	return res, nil
}

func (s *relationServiceImpl) requestOnce(ctx context.Context, requester, target, low, high uint64, isHigh bool, remark string) (*Result, []*protocol.Frame, error) {
	res := &Result{}
	var frames []*protocol.Frame

	err := s.repo.Transaction(ctx, func(tx repository.IRelationRepository) error {
		pair, err := tx.FindPair(ctx, low, high)
		if errors.Is(err, repository.ErrRecordNotFound) {
			pair = model.NewUserRelationship(low, high)
			pair.SetRemark(isHigh, remark)
			if err := tx.InsertPair(ctx, pair); err != nil {
				return err
			}
			res.PairID = pair.Id
			res.Created = true
			frames = []*protocol.Frame{
				protocol.FriendRelationshipFrame(requester, target, protocol.AddFriendPayload(remark)),
			}
			return nil
		}
		if err != nil {
			return err
		}

		res.PairID = pair.Id
		if err := tx.UpdateRemark(ctx, pair, isHigh, remark); err != nil {
			return err
		}
		// 完成标记只写一次，已完成的关系再改备注不发通知
		if pair.IsCompleted() {
			return nil
		}

		now := s.now()
		done, err := tx.MarkCompleted(ctx, pair,
			model.NewCompletionMarker(low, requester, now),
			model.NewCompletionMarker(high, requester, now),
		)
		if err != nil {
			return err
		}
		if done {
			res.Completed = true
			frames = []*protocol.Frame{
				protocol.FriendRelationshipFrame(target, requester, protocol.RelationComplete),
				protocol.FriendRelationshipFrame(requester, target, protocol.RelationComplete),
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res, frames, nil
}

// RemoveFriend 软删除关系并通知对方
func (s *relationServiceImpl) RemoveFriend(ctx context.Context, requester, target uint64) (*Result, error) {
	if err := validatePair(requester, target); err != nil {
		return nil, err
	}
	low, high, _ := Canonicalize(requester, target)

	res := &Result{}
	err := s.repo.Transaction(ctx, func(tx repository.IRelationRepository) error {
		pair, err := tx.FindPair(ctx, low, high)
		if err != nil {
			return err
		}
		deleted, err := tx.SoftDelete(ctx, pair)
		if err != nil {
			return err
		}
		if !deleted {
			return repository.ErrRecordNotFound
		}
		res.PairID = pair.Id
		res.Deleted = true
		return nil
	})
	if errors.Is(err, repository.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("删除好友失败: %w", err)
	}

	s.metrics.transition("deleted")
	s.notify(ctx, res, []*protocol.Frame{
		protocol.FriendRelationshipFrame(requester, target, protocol.RelationDelete),
	})
	return res, nil
}

// ListFriends 好友列表
func (s *relationServiceImpl) ListFriends(ctx context.Context, accountID uint64) ([]*FriendView, error) {
	if accountID == 0 {
		return nil, fmt.Errorf("%w: account id must be non-zero", ErrInvalidArgument)
	}
	pairs, err := s.repo.ListPairs(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("查询好友列表失败: %w", err)
	}

	views := make([]*FriendView, 0, len(pairs))
	for _, pair := range pairs {
		isHigh := accountID == pair.HighId
		views = append(views, &FriendView{
			PairID:     pair.Id,
			FriendID:   pair.Other(accountID),
			Remark:     pair.RemarkOf(isHigh),
			PeerRemark: pair.RemarkOf(!isHigh),
			Mutual:     pair.IsMutual(),
			CreatedAt:  pair.CreatedAt,
		})
	}
	return views, nil
}

// HandleInbound 对端推送的消息只做记录，错误类消息按 Error 级别输出
func (s *relationServiceImpl) HandleInbound(ctx context.Context, f *protocol.Frame) {
	if f == nil {
		return
	}
	fields := []logger.Field{
		logger.String("type", f.Type.String()),
		logger.Uint64("sender", f.Sender),
		logger.Uint64("receiver", f.Receiver),
		logger.Uint64("seq_num", f.SeqNum),
	}

	switch f.Type {
	case protocol.Error, protocol.InternalError:
		logger.Error(ctx, "对端返回错误消息", append(fields, logger.String("body", string(f.Body)))...)
	case protocol.FriendRelationship:
		action, remark, ok := protocol.ParseRelationPayload(f.Body)
		if !ok {
			logger.Warn(ctx, "无法识别的好友关系消息", append(fields, logger.String("body", string(f.Body)))...)
			return
		}
		logger.Info(ctx, "收到好友关系消息", append(fields,
			logger.String("action", action),
			logger.String("remark", remark),
		)...)
	case protocol.Heartbeat, protocol.Ack:
		logger.Debug(ctx, "收到对端心跳/确认", fields...)
	default:
		logger.Debug(ctx, "忽略对端消息", fields...)
	}
}

// notify 顺序发送，单条失败不影响后续；失败汇总到 res.NotifyErr
func (s *relationServiceImpl) notify(ctx context.Context, res *Result, frames []*protocol.Frame) {
	if len(frames) == 0 {
		return
	}
	if s.notifier == nil {
		res.NotifyErr = errors.New("notifier not configured")
		s.metrics.notifyFailed()
		logger.Warn(ctx, "未配置通知通道，跳过发送", logger.Int64("pair_id", res.PairID))
		return
	}

	var errs []error
	for _, f := range frames {
		if err := s.notifier.Send(ctx, f); err != nil {
			errs = append(errs, err)
			logger.Warn(ctx, "好友关系通知发送失败，数据已提交",
				logger.Int64("pair_id", res.PairID),
				logger.Uint64("receiver", f.Receiver),
				logger.String("body", string(f.Body)),
				logger.ErrorField("error", err),
			)
			continue
		}
		res.Notified++
	}
	if len(errs) > 0 {
		res.NotifyErr = errors.Join(errs...)
		s.metrics.notifyFailed()
	}
}
