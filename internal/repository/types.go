package repository

import "time"

// PaymentRecordListFilter 管理端捐款记录列表过滤条件
type PaymentRecordListFilter struct {
	Page        int
	PageSize    int
	Status      string
	Interval    string
	Currency    string
	Email       string
	Search      string // 匹配邮箱、姓名、网关ID
	Source      string // metadata.source
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// DonorListFilter 捐赠人列表过滤条件
type DonorListFilter struct {
	Page     int
	PageSize int
	Search   string
	OrderBy  string // total_desc / recent / email
}

// GatewayRefs 网关侧标识，只允许首次写入
type GatewayRefs struct {
	SessionID       string
	PaymentIntentID string
	SubscriptionID  string
}

// IsEmpty 是否没有任何标识
func (r GatewayRefs) IsEmpty() bool {
	return r.SessionID == "" && r.PaymentIntentID == "" && r.SubscriptionID == ""
}

// DonorTotal 按邮箱聚合的捐款汇总，用于重建捐赠人表
type DonorTotal struct {
	Email            string
	Name             string
	TotalDonated     int64
	DonationCount    int
	LastDonationDate *time.Time
}
