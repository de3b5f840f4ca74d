package service

import (
	"context"
	"errors"
	"strings"

	"github.com/harvesttable/donations/internal/logger"
	"github.com/harvesttable/donations/internal/repository"
)

// ReceiptService 捐款收据发送
type ReceiptService struct {
	records repository.PaymentRecordRepository
	email   *EmailService
}

// NewReceiptService 创建收据服务
func NewReceiptService(records repository.PaymentRecordRepository, email *EmailService) *ReceiptService {
	return &ReceiptService{records: records, email: email}
}

// SendReceipt 为已支付记录发送收据；记录缺失、未支付或无邮箱时跳过
func (s *ReceiptService) SendReceipt(ctx context.Context, recordID string) error {
	if !s.email.Enabled() {
		return nil
	}
	record, err := s.records.GetByID(ctx, strings.TrimSpace(recordID))
	if err != nil {
		return err
	}
	if record == nil || !record.IsPaid() || strings.TrimSpace(record.CustomerEmail) == "" {
		logger.Infow("donation_receipt_skipped", "record_id", recordID)
		return nil
	}
	input := ReceiptEmailInput{
		OrgName:   s.email.OrgName(),
		DonorName: record.CustomerName,
		RecordID:  record.ID,
		Amount:    record.Amount,
		Currency:  record.Currency,
		Interval:  record.Interval,
	}
	if record.PaidAt != nil {
		input.CompletedAt = *record.PaidAt
	}
	err = s.email.SendDonationReceipt(record.CustomerEmail, input)
	switch {
	case err == nil:
		logger.Infow("donation_receipt_sent", "record_id", record.ID, "email", maskEmail(record.CustomerEmail))
		return nil
	case errors.Is(err, ErrEmailRecipientRejected), errors.Is(err, ErrInvalidEmail):
		// 收件人无效，重试无意义
		logger.Warnw("donation_receipt_recipient_rejected", "record_id", record.ID, "error", err)
		return nil
	default:
		return err
	}
}
