package rediskey

import (
	"fmt"
	"time"
)

const (
	// FriendListTTL 好友列表缓存 TTL
	FriendListTTL = 24 * time.Hour
	// FriendListEmptyTTL 好友列表空值缓存 TTL
	FriendListEmptyTTL = 5 * time.Minute
	// FriendListVersionTTL 版本号需长于任何一次进行中的重建
	FriendListVersionTTL = 48 * time.Hour

	// EmptyField 空列表占位 field，区分"缓存为空"与"未缓存"
	EmptyField = "__EMPTY__"
)

// FriendListKey 好友列表缓存 Key: business:relation:friend:{account_id}
// Hash 结构，field 为好友 id，value 为关系行 JSON
func FriendListKey(accountID uint64) string {
	return fmt.Sprintf("business:relation:friend:%d", accountID)
}

// FriendListVersionKey 好友列表缓存版本号 Key: business:relation:friend:ver:{account_id}
// 每次失效时 INCR，重建前后比对，防止旧快照回填
func FriendListVersionKey(accountID uint64) string {
	return fmt.Sprintf("business:relation:friend:ver:%d", accountID)
}

// IPRateLimitKey IP 限流令牌桶 Key: business:rate:limit:ip:{ip}
func IPRateLimitKey(ip string) string {
	return "business:rate:limit:ip:" + ip
}
