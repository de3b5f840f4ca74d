package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/harvesttable/donations/internal/cache"
	"github.com/harvesttable/donations/internal/logger"
	"github.com/harvesttable/donations/internal/models"
	"github.com/harvesttable/donations/internal/repository"
)

const defaultSessionCacheTTL = 30 * time.Second

// DonationSessionView 感谢页使用的脱敏状态
type DonationSessionView struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	Amount        int64      `json:"amount"`
	AmountDisplay string     `json:"amountDisplay"`
	Currency      string     `json:"currency"`
	Interval      string     `json:"interval"`
	Email         string     `json:"email,omitempty"`
	Name          string     `json:"name,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// DonationSessionService 公开捐款状态查询
type DonationSessionService struct {
	records  repository.PaymentRecordRepository
	cacheTTL time.Duration
}

// NewDonationSessionService 创建状态查询服务，ttl <= 0 时使用默认值
func NewDonationSessionService(records repository.PaymentRecordRepository, ttl time.Duration) *DonationSessionService {
	if ttl <= 0 {
		ttl = defaultSessionCacheTTL
	}
	return &DonationSessionService{records: records, cacheTTL: ttl}
}

// Get 按内部ID或网关 Session ID 查询
func (s *DonationSessionService) Get(ctx context.Context, id string) (*DonationSessionView, error) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > 255 {
		return nil, ErrDonationNotFound
	}

	var cached DonationSessionView
	if hit, err := cache.GetDonationSession(ctx, id, &cached); err != nil {
		logger.Warnw("donation_session_cache_get_failed", "error", err)
	} else if hit {
		return &cached, nil
	}

	record, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrDonationNotFound
	}
	view := BuildDonationSessionView(record)
	if err := cache.SetDonationSession(ctx, id, view, s.cacheTTL); err != nil {
		logger.Warnw("donation_session_cache_set_failed", "error", err)
	}
	return view, nil
}

func (s *DonationSessionService) lookup(ctx context.Context, id string) (*models.PaymentRecord, error) {
	if strings.HasPrefix(id, "cs_") {
		return s.records.GetBySessionID(ctx, id)
	}
	record, err := s.records.GetByID(ctx, id)
	if err != nil || record != nil {
		return record, err
	}
	return s.records.GetBySessionID(ctx, id)
}

// BuildDonationSessionView 生成脱敏视图，不含网关标识、metadata 与幂等键
func BuildDonationSessionView(record *models.PaymentRecord) *DonationSessionView {
	view := &DonationSessionView{
		ID:            record.ID,
		Status:        record.Status,
		Amount:        record.Amount,
		AmountDisplay: models.FormatMinorAmount(record.Amount, record.Currency),
		Currency:      strings.ToUpper(record.Currency),
		Interval:      record.Interval,
		Email:         maskEmail(record.CustomerEmail),
		Name:          firstName(record.CustomerName),
		CreatedAt:     record.CreatedAt,
	}
	if record.PaidAt != nil {
		completedAt := *record.PaidAt
		view.CompletedAt = &completedAt
	}
	return view
}

// maskEmail 保留首字母与域名：jane@example.com -> j***@example.com
func maskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	first, _ := utf8.DecodeRuneInString(email)
	return string(first) + "***" + email[at:]
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// invalidateDonationSession 状态变化后清理缓存
func invalidateDonationSession(ctx context.Context, record *models.PaymentRecord) {
	if record == nil {
		return
	}
	if err := cache.InvalidateDonationSession(ctx, record.ID, record.SessionID()); err != nil {
		logger.Warnw("donation_session_cache_invalidate_failed", "record_id", record.ID, "error", err)
	}
}
