package models

import "time"

// Donor 捐赠人汇总，按小写邮箱聚合
type Donor struct {
	ID               uint       `gorm:"primarykey" json:"id"`                                // 主键
	Email            string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"` // 小写邮箱
	Name             string     `gorm:"type:varchar(255)" json:"name"`                       // 最近一次捐款使用的姓名
	TotalDonated     int64      `gorm:"not null;default:0" json:"total_donated"`             // 累计净捐款（最小货币单位）
	DonationCount    int        `gorm:"not null;default:0" json:"donation_count"`            // 成功捐款次数
	LastDonationDate *time.Time `json:"last_donation_date"`                                  // 最近一次成功捐款时间
	CreatedAt        time.Time  `gorm:"index" json:"created_at"`                             // 创建时间
	UpdatedAt        time.Time  `json:"updated_at"`                                          // 更新时间
	AppliedKeys      []string   `gorm:"-" json:"-"`                                          // 文档库中的已应用调整键
}

// TableName 指定表名
func (Donor) TableName() string {
	return "donors"
}

// DonorAdjustment 捐赠人汇总调整流水，source_key 唯一保证每次调整只生效一次
type DonorAdjustment struct {
	ID         uint      `gorm:"primarykey" json:"id"`                                     // 主键
	SourceKey  string    `gorm:"type:varchar(320);uniqueIndex;not null" json:"source_key"` // 记录ID:事件ID
	Email      string    `gorm:"type:varchar(255);index;not null" json:"email"`            // 小写邮箱
	Delta      int64     `gorm:"not null" json:"delta"`                                    // 调整金额，可为负
	OccurredAt time.Time `json:"occurred_at"`                                              // 业务发生时间
	CreatedAt  time.Time `json:"created_at"`                                               // 写入时间
}

// TableName 指定表名
func (DonorAdjustment) TableName() string {
	return "donor_adjustments"
}
