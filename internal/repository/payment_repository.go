package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/harvesttable/donations/internal/constants"
	"github.com/harvesttable/donations/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ApplyEventInput 一次 webhook 事件对记录的变更请求
type ApplyEventInput struct {
	RecordID   string
	EventID    string
	EventType  string
	OccurredAt time.Time
	// Mutate 在锁定的记录上执行状态迁移，返回 false 表示事件无需变更
	Mutate func(record *models.PaymentRecord) bool
}

// TransitionResult 事件处理结果
type TransitionResult struct {
	Outcome string // applied / skipped / duplicate
	Before  *models.PaymentRecord
	After   *models.PaymentRecord
}

// Changed 是否发生了状态变更
func (r *TransitionResult) Changed() bool {
	return r != nil && r.Outcome == constants.EventOutcomeApplied
}

// PaymentRecordRepository 捐款记录数据访问接口
type PaymentRecordRepository interface {
	Create(ctx context.Context, record *models.PaymentRecord) error
	GetByID(ctx context.Context, id string) (*models.PaymentRecord, error)
	GetBySessionID(ctx context.Context, sessionID string) (*models.PaymentRecord, error)
	GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.PaymentRecord, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*models.PaymentRecord, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.PaymentRecord, error)
	AttachGatewayRefs(ctx context.Context, id string, refs GatewayRefs) error
	ApplyEvent(ctx context.Context, input ApplyEventInput) (*TransitionResult, error)
	ListEvents(ctx context.Context, recordID string) ([]models.PaymentRecordEvent, error)
	ListAdmin(ctx context.Context, filter PaymentRecordListFilter) ([]models.PaymentRecord, int64, error)
	AggregateDonors(ctx context.Context) ([]DonorTotal, error)
}

// GormPaymentRecordRepository GORM 实现
type GormPaymentRecordRepository struct {
	db *gorm.DB
}

// NewPaymentRecordRepository 创建捐款记录仓库
func NewPaymentRecordRepository(db *gorm.DB) *GormPaymentRecordRepository {
	return &GormPaymentRecordRepository{db: db}
}

// Create 创建捐款记录
func (r *GormPaymentRecordRepository) Create(ctx context.Context, record *models.PaymentRecord) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(record).Error
}

// GetByID 根据内部 ID 获取记录
func (r *GormPaymentRecordRepository) GetByID(ctx context.Context, id string) (*models.PaymentRecord, error) {
	return r.findOne(ctx, "id = ?", id)
}

// GetBySessionID 根据 Checkout Session ID 获取记录
func (r *GormPaymentRecordRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.PaymentRecord, error) {
	return r.findOne(ctx, "gateway_session_id = ?", sessionID)
}

// GetByPaymentIntentID 根据 PaymentIntent ID 获取记录
func (r *GormPaymentRecordRepository) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.PaymentRecord, error) {
	return r.findOne(ctx, "gateway_payment_intent_id = ?", paymentIntentID)
}

// GetBySubscriptionID 根据订阅 ID 获取记录
func (r *GormPaymentRecordRepository) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*models.PaymentRecord, error) {
	return r.findOne(ctx, "gateway_subscription_id = ?", subscriptionID)
}

// GetByIdempotencyKey 根据幂等键获取记录
func (r *GormPaymentRecordRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.PaymentRecord, error) {
	return r.findOne(ctx, "idempotency_key = ?", key)
}

func (r *GormPaymentRecordRepository) findOne(ctx context.Context, condition string, value string) (*models.PaymentRecord, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	var record models.PaymentRecord
	if err := r.db.WithContext(ctx).Where(condition, value).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// AttachGatewayRefs 写入网关标识，已存在的列保持不变
func (r *GormPaymentRecordRepository) AttachGatewayRefs(ctx context.Context, id string, refs GatewayRefs) error {
	if strings.TrimSpace(id) == "" || refs.IsEmpty() {
		return nil
	}
	columns := []struct {
		name  string
		value string
	}{
		{"gateway_session_id", refs.SessionID},
		{"gateway_payment_intent_id", refs.PaymentIntentID},
		{"gateway_subscription_id", refs.SubscriptionID},
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, column := range columns {
			value := strings.TrimSpace(column.value)
			if value == "" {
				continue
			}
			if err := tx.Model(&models.PaymentRecord{}).
				Where("id = ? AND "+column.name+" IS NULL", id).
				Updates(map[string]interface{}{
					column.name:  value,
					"updated_at": time.Now(),
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyEvent 在单个事务内完成：锁定记录、写入事件账本、执行状态迁移
// 已生效的事件重复到达时返回 duplicate，不再调用 Mutate；曾被跳过的事件重新判定
func (r *GormPaymentRecordRepository) ApplyEvent(ctx context.Context, input ApplyEventInput) (*TransitionResult, error) {
	recordID := strings.TrimSpace(input.RecordID)
	eventID := strings.TrimSpace(input.EventID)
	if recordID == "" || eventID == "" {
		return nil, ErrInvalidEventInput
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	var result *TransitionResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.PaymentRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", recordID).
			First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		ledger := models.PaymentRecordEvent{
			PaymentRecordID: recordID,
			EventID:         eventID,
			EventType:       input.EventType,
			Outcome:         constants.EventOutcomeSkipped,
			ProcessedAt:     time.Now(),
		}
		inserted := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ledger)
		if inserted.Error != nil {
			return inserted.Error
		}
		if inserted.RowsAffected == 0 {
			// 已跳过的事件可在重投时重新判定，只有已生效的事件才算重复
			var existing models.PaymentRecordEvent
			if err := tx.Where("payment_record_id = ? AND event_id = ?", recordID, eventID).
				First(&existing).Error; err != nil {
				return err
			}
			ledger = existing
			if ledger.Outcome != constants.EventOutcomeSkipped {
				result = &TransitionResult{
					Outcome: constants.EventOutcomeDuplicate,
					Before:  record.Clone(),
					After:   record.Clone(),
				}
				return nil
			}
		}

		before := record.Clone()
		outcome := constants.EventOutcomeSkipped
		if input.Mutate != nil && input.Mutate(&record) {
			record.LastEventAt = &occurredAt
			if err := tx.Omit(clause.Associations).Save(&record).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.PaymentRecordEvent{}).
				Where("id = ?", ledger.ID).
				Updates(map[string]interface{}{
					"outcome":      constants.EventOutcomeApplied,
					"processed_at": time.Now(),
				}).Error; err != nil {
				return err
			}
			outcome = constants.EventOutcomeApplied
		}
		result = &TransitionResult{
			Outcome: outcome,
			Before:  before,
			After:   record.Clone(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListEvents 获取记录的事件账本
func (r *GormPaymentRecordRepository) ListEvents(ctx context.Context, recordID string) ([]models.PaymentRecordEvent, error) {
	var events []models.PaymentRecordEvent
	if err := r.db.WithContext(ctx).
		Where("payment_record_id = ?", recordID).
		Order("processed_at asc, id asc").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// ListAdmin 管理端捐款记录列表
func (r *GormPaymentRecordRepository) ListAdmin(ctx context.Context, filter PaymentRecordListFilter) ([]models.PaymentRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.PaymentRecord{})

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Interval != "" {
		query = query.Where("donation_interval = ?", filter.Interval)
	}
	if filter.Currency != "" {
		query = query.Where("currency = ?", strings.ToLower(filter.Currency))
	}
	if filter.Email != "" {
		query = query.Where("LOWER(customer_email) = ?", strings.ToLower(strings.TrimSpace(filter.Email)))
	}
	if filter.Source != "" {
		query = query.Where(jsonTextExpr(r.db, "metadata", constants.MetadataSource)+" = ?", filter.Source)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		condition, count := buildLikeCondition(r.db, []string{
			"customer_email",
			"customer_name",
			"gateway_session_id",
			"gateway_payment_intent_id",
		})
		query = query.Where("("+condition+")", repeatLikeArgs("%"+search+"%", count)...)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPagination(query, filter.Page, filter.PageSize)

	var records []models.PaymentRecord
	if err := query.Order("created_at desc, id desc").Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

type paidRecordRow struct {
	CustomerEmail  string
	CustomerName   string
	Amount         int64
	RefundedAmount int64
	PaidAt         *time.Time
}

// AggregateDonors 按邮箱汇总所有曾支付成功的记录
func (r *GormPaymentRecordRepository) AggregateDonors(ctx context.Context) ([]DonorTotal, error) {
	var rows []paidRecordRow
	if err := r.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Select("customer_email, customer_name, amount, refunded_amount, paid_at").
		Where("paid_at IS NOT NULL AND customer_email <> ''").
		Order("paid_at asc").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	totals := make(map[string]*DonorTotal)
	for _, row := range rows {
		addPaidRecord(totals, row)
	}
	return sortedDonorTotals(totals), nil
}

func addPaidRecord(totals map[string]*DonorTotal, row paidRecordRow) {
	email := NormalizeEmail(row.CustomerEmail)
	if email == "" {
		return
	}
	total, ok := totals[email]
	if !ok {
		total = &DonorTotal{Email: email}
		totals[email] = total
	}
	net := row.Amount - row.RefundedAmount
	if net > 0 {
		total.TotalDonated += net
	}
	total.DonationCount++
	if row.PaidAt != nil && (total.LastDonationDate == nil || row.PaidAt.After(*total.LastDonationDate)) {
		paidAt := *row.PaidAt
		total.LastDonationDate = &paidAt
		if name := strings.TrimSpace(row.CustomerName); name != "" {
			total.Name = name
		}
	}
	if total.Name == "" {
		total.Name = strings.TrimSpace(row.CustomerName)
	}
}

func sortedDonorTotals(totals map[string]*DonorTotal) []DonorTotal {
	result := make([]DonorTotal, 0, len(totals))
	for _, total := range totals {
		result = append(result, *total)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Email < result[j].Email
	})
	return result
}

// NormalizeEmail 捐赠人主键统一为去空白的小写邮箱
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
