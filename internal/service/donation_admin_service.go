package service

import (
	"context"
	"strings"

	"github.com/harvesttable/donations/internal/models"
	"github.com/harvesttable/donations/internal/repository"
)

// DonationDetail 管理端捐款详情，含事件台账
type DonationDetail struct {
	Record *models.PaymentRecord       `json:"record"`
	Events []models.PaymentRecordEvent `json:"events"`
}

// DonationAdminService 管理端捐款查询
type DonationAdminService struct {
	records repository.PaymentRecordRepository
}

// NewDonationAdminService 创建管理端查询服务
func NewDonationAdminService(records repository.PaymentRecordRepository) *DonationAdminService {
	return &DonationAdminService{records: records}
}

// List 分页查询捐款记录
func (s *DonationAdminService) List(ctx context.Context, filter repository.PaymentRecordListFilter) ([]models.PaymentRecord, int64, error) {
	filter.Status = strings.ToLower(strings.TrimSpace(filter.Status))
	filter.Interval = strings.ToLower(strings.TrimSpace(filter.Interval))
	filter.Currency = strings.ToLower(strings.TrimSpace(filter.Currency))
	filter.Email = repository.NormalizeEmail(filter.Email)
	return s.records.ListAdmin(ctx, filter)
}

// Get 查询单条记录及其事件台账
func (s *DonationAdminService) Get(ctx context.Context, id string) (*DonationDetail, error) {
	record, err := s.records.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrDonationNotFound
	}
	events, err := s.records.ListEvents(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []models.PaymentRecordEvent{}
	}
	return &DonationDetail{Record: record, Events: events}, nil
}
