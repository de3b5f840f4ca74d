package cache

import (
	"context"
	"strings"
	"time"
)

const donationSessionKeyPrefix = "donation_session"

// DonationSessionKey 捐款状态查询缓存键，记录 ID 与 Session ID 各占一个键
func DonationSessionKey(id string) string {
	return donationSessionKeyPrefix + ":" + strings.TrimSpace(id)
}

// GetDonationSession 读取缓存的捐款状态视图
func GetDonationSession(ctx context.Context, id string, dest interface{}) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, nil
	}
	return GetJSON(ctx, DonationSessionKey(id), dest)
}

// SetDonationSession 缓存捐款状态视图
func SetDonationSession(ctx context.Context, id string, value interface{}, ttl time.Duration) error {
	if strings.TrimSpace(id) == "" || ttl <= 0 {
		return nil
	}
	return SetJSON(ctx, DonationSessionKey(id), value, ttl)
}

// InvalidateDonationSession 状态变化后删除所有别名键
func InvalidateDonationSession(ctx context.Context, ids ...string) error {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		keys = append(keys, DonationSessionKey(id))
	}
	return Del(ctx, keys...)
}
