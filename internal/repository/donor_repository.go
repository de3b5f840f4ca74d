package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/harvesttable/donations/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DonorAdjustmentInput 捐赠人汇总调整
type DonorAdjustmentInput struct {
	Email      string
	Name       string
	Delta      int64
	OccurredAt time.Time
	SourceKey  string // 同一 SourceKey 只生效一次
}

// DonorRepository 捐赠人汇总数据访问接口
type DonorRepository interface {
	ApplyAdjustment(ctx context.Context, input DonorAdjustmentInput) (bool, error)
	GetByEmail(ctx context.Context, email string) (*models.Donor, error)
	List(ctx context.Context, filter DonorListFilter) ([]models.Donor, int64, error)
	ReplaceAll(ctx context.Context, totals []DonorTotal) error
}

// GormDonorRepository GORM 实现
type GormDonorRepository struct {
	db *gorm.DB
}

// NewDonorRepository 创建捐赠人仓库
func NewDonorRepository(db *gorm.DB) *GormDonorRepository {
	return &GormDonorRepository{db: db}
}

// ApplyAdjustment 写入调整流水并更新汇总，返回 false 表示该 SourceKey 已处理过
func (r *GormDonorRepository) ApplyAdjustment(ctx context.Context, input DonorAdjustmentInput) (bool, error) {
	email := NormalizeEmail(input.Email)
	sourceKey := strings.TrimSpace(input.SourceKey)
	if email == "" || sourceKey == "" || input.Delta == 0 {
		return false, nil
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		adjustment := models.DonorAdjustment{
			SourceKey:  sourceKey,
			Email:      email,
			Delta:      input.Delta,
			OccurredAt: occurredAt,
		}
		inserted := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&adjustment)
		if inserted.Error != nil {
			return inserted.Error
		}
		if inserted.RowsAffected == 0 {
			return nil
		}
		applied = true

		if input.Delta > 0 {
			seed := models.Donor{Email: email, Name: strings.TrimSpace(input.Name)}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
				return err
			}
		}

		var donor models.Donor
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("email = ?", email).
			First(&donor).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// 退款对应的捐赠人尚不存在时只记流水
				return nil
			}
			return err
		}
		applyDonorDelta(&donor, input.Name, input.Delta, occurredAt)
		return tx.Save(&donor).Error
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// applyDonorDelta 汇总规则：总额不低于 0，正向调整计入次数与最近捐款时间
func applyDonorDelta(donor *models.Donor, name string, delta int64, occurredAt time.Time) {
	donor.TotalDonated += delta
	if donor.TotalDonated < 0 {
		donor.TotalDonated = 0
	}
	if delta <= 0 {
		return
	}
	donor.DonationCount++
	if donor.LastDonationDate == nil || occurredAt.After(*donor.LastDonationDate) {
		at := occurredAt
		donor.LastDonationDate = &at
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			donor.Name = trimmed
		}
	}
}

// GetByEmail 根据邮箱获取捐赠人
func (r *GormDonorRepository) GetByEmail(ctx context.Context, email string) (*models.Donor, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	var donor models.Donor
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&donor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &donor, nil
}

// List 分页查询捐赠人
func (r *GormDonorRepository) List(ctx context.Context, filter DonorListFilter) ([]models.Donor, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Donor{})
	if search := strings.TrimSpace(filter.Search); search != "" {
		condition, count := buildLikeCondition(r.db, []string{"email", "name"})
		query = query.Where("("+condition+")", repeatLikeArgs("%"+search+"%", count)...)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var donors []models.Donor
	if err := query.Order(donorOrderClause(filter.OrderBy)).Find(&donors).Error; err != nil {
		return nil, 0, err
	}
	return donors, total, nil
}

func donorOrderClause(orderBy string) string {
	switch strings.ToLower(strings.TrimSpace(orderBy)) {
	case "recent":
		return "last_donation_date desc, id desc"
	case "email":
		return "email asc"
	default:
		return "total_donated desc, id asc"
	}
}

// ReplaceAll 使用重新计算的结果整体替换捐赠人表，调整流水保留用于去重
func (r *GormDonorRepository) ReplaceAll(ctx context.Context, totals []DonorTotal) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.Donor{}).Error; err != nil {
			return err
		}
		if len(totals) == 0 {
			return nil
		}
		donors := make([]models.Donor, 0, len(totals))
		for _, total := range totals {
			donors = append(donors, models.Donor{
				Email:            total.Email,
				Name:             total.Name,
				TotalDonated:     total.TotalDonated,
				DonationCount:    total.DonationCount,
				LastDonationDate: total.LastDonationDate,
			})
		}
		return tx.CreateInBatches(donors, 200).Error
	})
}
