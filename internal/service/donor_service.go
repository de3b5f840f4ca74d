package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harvesttable/donations/internal/logger"
	"github.com/harvesttable/donations/internal/metrics"
	"github.com/harvesttable/donations/internal/models"
	"github.com/harvesttable/donations/internal/queue"
	"github.com/harvesttable/donations/internal/repository"

	"github.com/google/uuid"
)

// DonorAdjustment 一次捐赠人汇总变更
type DonorAdjustment struct {
	Email      string
	Name       string
	Delta      int64 // 最小货币单位，退款为负
	OccurredAt time.Time
	SourceKey  string // 记录ID:事件ID，用于去重
}

// DonorService 捐赠人汇总服务
type DonorService struct {
	donors  repository.DonorRepository
	records repository.PaymentRecordRepository
	queue   TaskQueue
	metrics *metrics.Metrics
}

// NewDonorService 创建捐赠人汇总服务
func NewDonorService(donors repository.DonorRepository, records repository.PaymentRecordRepository, queueClient TaskQueue, m *metrics.Metrics) *DonorService {
	return &DonorService{
		donors:  donors,
		records: records,
		queue:   queueClient,
		metrics: m,
	}
}

// Apply 同步应用调整；总额不低于 0，同一 SourceKey 只生效一次
func (s *DonorService) Apply(ctx context.Context, adjustment DonorAdjustment) (bool, error) {
	email := repository.NormalizeEmail(adjustment.Email)
	if email == "" {
		logger.Warnw("donor_adjustment_skipped_no_email",
			"source_key", adjustment.SourceKey,
			"delta", adjustment.Delta,
		)
		s.metrics.DonorAdjustment(adjustment.Delta, metrics.OutcomeSkipped)
		return false, nil
	}
	if adjustment.Delta == 0 {
		return false, nil
	}
	sourceKey := strings.TrimSpace(adjustment.SourceKey)
	if sourceKey == "" {
		sourceKey = "manual:" + uuid.NewString()
	}
	occurredAt := adjustment.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	applied, err := s.donors.ApplyAdjustment(ctx, repository.DonorAdjustmentInput{
		Email:      email,
		Name:       strings.TrimSpace(adjustment.Name),
		Delta:      adjustment.Delta,
		OccurredAt: occurredAt,
		SourceKey:  sourceKey,
	})
	if err != nil {
		s.metrics.DonorAdjustment(adjustment.Delta, metrics.OutcomeFailed)
		return false, err
	}
	if !applied {
		s.metrics.DonorAdjustment(adjustment.Delta, metrics.OutcomeDuplicate)
		logger.Debugw("donor_adjustment_duplicate", "source_key", sourceKey)
		return false, nil
	}
	s.metrics.DonorAdjustment(adjustment.Delta, metrics.OutcomeApplied)
	logger.Infow("donor_adjustment_applied",
		"email", maskEmail(email),
		"delta", adjustment.Delta,
		"source_key", sourceKey,
	)
	return true, nil
}

// Submit 队列可用时异步投递，否则同步应用
func (s *DonorService) Submit(ctx context.Context, adjustment DonorAdjustment) error {
	if queueEnabled(s.queue) {
		err := s.queue.EnqueueDonorAdjustment(queue.DonorAdjustmentPayload{
			SourceKey:  adjustment.SourceKey,
			Email:      adjustment.Email,
			Name:       adjustment.Name,
			Delta:      adjustment.Delta,
			OccurredAt: adjustment.OccurredAt.Unix(),
		})
		if err == nil {
			return nil
		}
		logger.Warnw("donor_adjustment_enqueue_failed",
			"source_key", adjustment.SourceKey,
			"error", err,
		)
	}
	_, err := s.Apply(ctx, adjustment)
	return err
}

// Rebuild 由已支付记录重新计算全部捐赠人汇总
func (s *DonorService) Rebuild(ctx context.Context) (int, error) {
	totals, err := s.records.AggregateDonors(ctx)
	if err != nil {
		return 0, fmt.Errorf("aggregate donors: %w", err)
	}
	if err := s.donors.ReplaceAll(ctx, totals); err != nil {
		return 0, fmt.Errorf("replace donors: %w", err)
	}
	logger.Infow("donor_aggregate_rebuilt", "donors", len(totals))
	return len(totals), nil
}

// RequestRebuild 队列可用时异步重建，返回 queued=true；否则同步执行
func (s *DonorService) RequestRebuild(ctx context.Context, requestedBy string) (bool, int, error) {
	if queueEnabled(s.queue) {
		err := s.queue.EnqueueDonorRebuild(queue.DonorRebuildPayload{RequestedBy: requestedBy})
		if err == nil {
			logger.Infow("donor_rebuild_enqueued", "requested_by", requestedBy)
			return true, 0, nil
		}
		logger.Warnw("donor_rebuild_enqueue_failed", "error", err)
	}
	count, err := s.Rebuild(ctx)
	return false, count, err
}

// GetByEmail 查询单个捐赠人
func (s *DonorService) GetByEmail(ctx context.Context, email string) (*models.Donor, error) {
	return s.donors.GetByEmail(ctx, repository.NormalizeEmail(email))
}

// List 捐赠人列表
func (s *DonorService) List(ctx context.Context, filter repository.DonorListFilter) ([]models.Donor, int64, error) {
	return s.donors.List(ctx, filter)
}
