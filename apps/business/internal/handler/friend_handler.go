package handler

import (
	"errors"

	"BusinessServer/apps/business/internal/dto"
	"BusinessServer/apps/business/internal/middleware"
	"BusinessServer/apps/business/internal/service"
	"BusinessServer/consts"
	"BusinessServer/pkg/logger"
	"BusinessServer/pkg/result"

	"github.com/gin-gonic/gin"
)

// FriendHandler 好友关系处理器
type FriendHandler struct {
	relationService service.IRelationService
}

// NewFriendHandler 创建好友关系处理器
func NewFriendHandler(relationService service.IRelationService) *FriendHandler {
	return &FriendHandler{
		relationService: relationService,
	}
}

// AddFriend 添加 / 确认好友
// @Router /api/v1/friend [post]
func (h *FriendHandler) AddFriend(c *gin.Context) {
	ctx := middleware.NewContextWithGin(c)

	var req dto.AddFriendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// 参数错误由客户端输入导致，不记录日志
		result.Fail(c, nil, consts.CodeParamError)
		return
	}

	res, err := h.relationService.RequestFriend(ctx, req.AccountID, req.FriendAccountID, req.Remark)
	if err != nil {
		invalidCode := int32(consts.CodeParamError)
		if req.AccountID == req.FriendAccountID {
			invalidCode = consts.CodeCannotAddSelf
		}
		h.fail(c, err, "添加好友失败", invalidCode)
		return
	}
	result.Success(c, dto.ConvertRelationResponse(res))
}

// DeleteFriend 删除好友
// @Router /api/v1/friend/{account_id}/{friend_account_id} [delete]
func (h *FriendHandler) DeleteFriend(c *gin.Context) {
	ctx := middleware.NewContextWithGin(c)

	var req dto.FriendPathRequest
	if err := c.ShouldBindUri(&req); err != nil {
		result.Fail(c, nil, consts.CodeParamError)
		return
	}

	res, err := h.relationService.RemoveFriend(ctx, req.AccountID, req.FriendAccountID)
	if err != nil {
		h.fail(c, err, "删除好友失败", consts.CodeParamError)
		return
	}
	result.Success(c, dto.ConvertRelationResponse(res))
}

// ListFriends 好友列表
// @Router /api/v1/friend/list/{account_id} [get]
func (h *FriendHandler) ListFriends(c *gin.Context) {
	ctx := middleware.NewContextWithGin(c)

	var req dto.AccountPathRequest
	if err := c.ShouldBindUri(&req); err != nil {
		result.Fail(c, nil, consts.CodeParamError)
		return
	}

	views, err := h.relationService.ListFriends(ctx, req.AccountID)
	if err != nil {
		h.fail(c, err, "查询好友列表失败", consts.CodeParamError)
		return
	}
	result.Success(c, dto.ConvertFriendList(views))
}

// fail 服务层错误转换为业务错误码，只有内部错误记录日志
func (h *FriendHandler) fail(c *gin.Context, err error, msg string, invalidCode int32) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		result.Fail(c, nil, invalidCode)
	case errors.Is(err, service.ErrNotFound):
		result.Fail(c, nil, consts.CodeNotFriend)
	case errors.Is(err, service.ErrConflict):
		result.Fail(c, nil, consts.CodeRelationConflict)
	default:
		logger.Error(middleware.NewContextWithGin(c), msg, logger.ErrorField("error", err))
		result.Fail(c, nil, consts.CodeInternalError)
	}
}
