package repository

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"BusinessServer/apps/business/mq"
	rediskey "BusinessServer/consts/redisKey"
	"BusinessServer/model"

	"github.com/redis/go-redis/v9"
)

// getFriendListCache 读取好友列表缓存
// 返回值: pairs(缓存内容), hit(缓存是否存在且可用)
func (r *relationRepositoryImpl) getFriendListCache(ctx context.Context, accountID uint64) ([]*model.UserRelationship, bool) {
	if r.redisClient == nil {
		return nil, false
	}

	cacheKey := rediskey.FriendListKey(accountID)
	fields, err := r.redisClient.HGetAll(ctx, cacheKey).Result()
	if err != nil {
		if isRedisWrongType(err) {
			_ = r.redisClient.Del(ctx, cacheKey).Err()
		} else if !errors.Is(err, redis.Nil) {
			// Redis 不可用，降级查库
			LogRedisError(ctx, err)
		}
		return nil, false
	}
	if len(fields) == 0 {
		return nil, false
	}

	pairs := make([]*model.UserRelationship, 0, len(fields))
	for field, raw := range fields {
		if field == rediskey.EmptyField {
			continue
		}
		var pair model.UserRelationship
		if err := json.Unmarshal([]byte(raw), &pair); err != nil {
			// 脏数据，整体作废
			_ = r.redisClient.Del(ctx, cacheKey).Err()
			return nil, false
		}
		pairs = append(pairs, &pair)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].CreatedAt.Equal(pairs[j].CreatedAt) {
			return pairs[i].Id < pairs[j].Id
		}
		return pairs[i].CreatedAt.Before(pairs[j].CreatedAt)
	})
	return pairs, true
}

// luaRebuildFriendList 版本号未变时才重建列表缓存
// KEYS[1]: 列表 key  KEYS[2]: 版本 key
// ARGV[1]: 查库前读到的版本  ARGV[2]: 过期毫秒  ARGV[3..]: field/value 交替
var luaRebuildFriendList = redis.NewScript(`
local cur = redis.call('GET', KEYS[2])
if not cur then
	cur = '0'
end
if cur ~= ARGV[1] then
	return 0
end
redis.call('DEL', KEYS[1])
for i = 3, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// friendListVersion 读取好友列表缓存版本号，不存在视为 "0"。
// 读取失败时返回 false，本次不回填缓存。
func (r *relationRepositoryImpl) friendListVersion(ctx context.Context, accountID uint64) (string, bool) {
	if r.redisClient == nil {
		return "", false
	}
	version, err := r.redisClient.Get(ctx, rediskey.FriendListVersionKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	if err != nil {
		LogRedisError(ctx, err)
		return "", false
	}
	return version, true
}

// rebuildFriendListCache 重建好友列表缓存（Hash），空列表写入占位 field。
// 期间发生过失效（版本号变化）则放弃写入。
func (r *relationRepositoryImpl) rebuildFriendListCache(ctx context.Context, accountID uint64, version string, pairs []*model.UserRelationship) {
	if r.redisClient == nil {
		return
	}

	ttl := getRandomExpireTime(rediskey.FriendListTTL)
	args := []interface{}{version, 0}
	if len(pairs) == 0 {
		ttl = rediskey.FriendListEmptyTTL
		args = append(args, rediskey.EmptyField, "{}")
	} else {
		for _, pair := range pairs {
			data, err := json.Marshal(pair)
			if err != nil {
				continue
			}
			args = append(args, strconv.FormatUint(pair.Other(accountID), 10), string(data))
		}
	}
	args[1] = ttl.Milliseconds()

	rebuild := func(runCtx context.Context) {
		cacheKey := rediskey.FriendListKey(accountID)
		keys := []string{cacheKey, rediskey.FriendListVersionKey(accountID)}
		if err := luaRebuildFriendList.Run(runCtx, r.redisClient, keys, args...).Err(); err != nil && !errors.Is(err, redis.Nil) {
			if isRedisWrongType(err) {
				_ = r.redisClient.Del(runCtx, cacheKey).Err()
				return
			}
			LogRedisError(runCtx, err)
		}
	}

	if r.pool == nil {
		rebuild(ctx)
		return
	}
	r.pool.Go(ctx, rebuild)
}

// invalidateFriendCache 同步删除相关用户的好友列表缓存并递增版本号，失败时投递 Kafka 重试
func (r *relationRepositoryImpl) invalidateFriendCache(ctx context.Context, accountIDs ...uint64) {
	if r.redisClient == nil || len(accountIDs) == 0 {
		return
	}

	seen := make(map[uint64]struct{}, len(accountIDs))
	keys := make([]string, 0, len(accountIDs))
	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range accountIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			key := rediskey.FriendListKey(id)
			keys = append(keys, key)
			versionKey := rediskey.FriendListVersionKey(id)
			pipe.Incr(ctx, versionKey)
			pipe.Expire(ctx, versionKey, rediskey.FriendListVersionTTL)
			pipe.Del(ctx, key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		LogAndRetryRedisError(ctx, mq.BuildDelTask(keys...).WithSource("relation_repository"), err)
	}
}

func isRedisWrongType(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "WRONGTYPE")
}

// getRandomExpireTime 基础过期时间 ± 10% 的随机抖动，避免缓存同时失效
func getRandomExpireTime(baseExpire time.Duration) time.Duration {
	jitterRange := float64(baseExpire) * 0.1
	jitter := time.Duration(rand.Float64()*jitterRange*2 - jitterRange)
	return baseExpire + jitter
}
