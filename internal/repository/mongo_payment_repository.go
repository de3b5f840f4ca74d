package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/harvesttable/donations/internal/constants"
	"github.com/harvesttable/donations/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoPaymentEvent struct {
	EventID     string    `bson:"event_id"`
	EventType   string    `bson:"event_type"`
	Outcome     string    `bson:"outcome"`
	ProcessedAt time.Time `bson:"processed_at"`
}

type mongoPaymentRecord struct {
	ID                     string                 `bson:"_id"`
	Flow                   string                 `bson:"flow"`
	GatewaySessionID       *string                `bson:"gateway_session_id,omitempty"`
	GatewayPaymentIntentID *string                `bson:"gateway_payment_intent_id,omitempty"`
	GatewaySubscriptionID  *string                `bson:"gateway_subscription_id,omitempty"`
	Amount                 int64                  `bson:"amount"`
	RefundedAmount         int64                  `bson:"refunded_amount"`
	Currency               string                 `bson:"currency"`
	Interval               string                 `bson:"interval"`
	Status                 string                 `bson:"status"`
	CustomerEmail          string                 `bson:"customer_email"`
	CustomerName           string                 `bson:"customer_name"`
	Metadata               map[string]interface{} `bson:"metadata,omitempty"`
	IdempotencyKey         string                 `bson:"idempotency_key"`
	CreatedAt              time.Time              `bson:"created_at"`
	UpdatedAt              time.Time              `bson:"updated_at"`
	PaidAt                 *time.Time             `bson:"paid_at,omitempty"`
	FailedAt               *time.Time             `bson:"failed_at,omitempty"`
	RefundedAt             *time.Time             `bson:"refunded_at,omitempty"`
	CanceledAt             *time.Time             `bson:"canceled_at,omitempty"`
	LastEventAt            *time.Time             `bson:"last_event_at,omitempty"`
	ProcessedEventIDs      []string               `bson:"processed_event_ids"`
	Events                 []mongoPaymentEvent    `bson:"events"`
	Version                int64                  `bson:"version"`
}

func newMongoPaymentRecord(record *models.PaymentRecord) mongoPaymentRecord {
	return mongoPaymentRecord{
		ID:                     record.ID,
		Flow:                   record.Flow,
		GatewaySessionID:       record.GatewaySessionID,
		GatewayPaymentIntentID: record.GatewayPaymentIntentID,
		GatewaySubscriptionID:  record.GatewaySubscriptionID,
		Amount:                 record.Amount,
		RefundedAmount:         record.RefundedAmount,
		Currency:               record.Currency,
		Interval:               record.Interval,
		Status:                 record.Status,
		CustomerEmail:          record.CustomerEmail,
		CustomerName:           record.CustomerName,
		Metadata:               record.Metadata,
		IdempotencyKey:         record.IdempotencyKey,
		CreatedAt:              record.CreatedAt,
		UpdatedAt:              record.UpdatedAt,
		PaidAt:                 record.PaidAt,
		FailedAt:               record.FailedAt,
		RefundedAt:             record.RefundedAt,
		CanceledAt:             record.CanceledAt,
		LastEventAt:            record.LastEventAt,
		ProcessedEventIDs:      []string{},
		Events:                 []mongoPaymentEvent{},
	}
}

func (d *mongoPaymentRecord) toModel() *models.PaymentRecord {
	record := &models.PaymentRecord{
		ID:                     d.ID,
		Flow:                   d.Flow,
		GatewaySessionID:       d.GatewaySessionID,
		GatewayPaymentIntentID: d.GatewayPaymentIntentID,
		GatewaySubscriptionID:  d.GatewaySubscriptionID,
		Amount:                 d.Amount,
		RefundedAmount:         d.RefundedAmount,
		Currency:               d.Currency,
		Interval:               d.Interval,
		Status:                 d.Status,
		CustomerEmail:          d.CustomerEmail,
		CustomerName:           d.CustomerName,
		Metadata:               models.JSON(d.Metadata),
		IdempotencyKey:         d.IdempotencyKey,
		CreatedAt:              d.CreatedAt,
		UpdatedAt:              d.UpdatedAt,
		PaidAt:                 d.PaidAt,
		FailedAt:               d.FailedAt,
		RefundedAt:             d.RefundedAt,
		CanceledAt:             d.CanceledAt,
		LastEventAt:            d.LastEventAt,
		ProcessedEventIDs:      append([]string(nil), d.ProcessedEventIDs...),
	}
	if record.Metadata == nil {
		record.Metadata = models.JSON{}
	}
	return record
}

// MongoPaymentRecordRepository MongoDB 实现，事件去重与状态迁移依赖单文档条件更新
type MongoPaymentRecordRepository struct {
	collection *mongo.Collection
}

// NewMongoPaymentRecordRepository 创建 MongoDB 捐款记录仓库
func NewMongoPaymentRecordRepository(db *mongo.Database) *MongoPaymentRecordRepository {
	return &MongoPaymentRecordRepository{collection: db.Collection(mongoPaymentRecordsCollection)}
}

// Create 创建捐款记录
func (r *MongoPaymentRecordRepository) Create(ctx context.Context, record *models.PaymentRecord) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	_, err := r.collection.InsertOne(ctx, newMongoPaymentRecord(record))
	return err
}

// GetByID 根据内部 ID 获取记录
func (r *MongoPaymentRecordRepository) GetByID(ctx context.Context, id string) (*models.PaymentRecord, error) {
	return r.findOne(ctx, "_id", id)
}

// GetBySessionID 根据 Checkout Session ID 获取记录
func (r *MongoPaymentRecordRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.PaymentRecord, error) {
	return r.findOne(ctx, "gateway_session_id", sessionID)
}

// GetByPaymentIntentID 根据 PaymentIntent ID 获取记录
func (r *MongoPaymentRecordRepository) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.PaymentRecord, error) {
	return r.findOne(ctx, "gateway_payment_intent_id", paymentIntentID)
}

// GetBySubscriptionID 根据订阅 ID 获取记录
func (r *MongoPaymentRecordRepository) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*models.PaymentRecord, error) {
	return r.findOne(ctx, "gateway_subscription_id", subscriptionID)
}

// GetByIdempotencyKey 根据幂等键获取记录
func (r *MongoPaymentRecordRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.PaymentRecord, error) {
	return r.findOne(ctx, "idempotency_key", key)
}

func (r *MongoPaymentRecordRepository) findOne(ctx context.Context, field, value string) (*models.PaymentRecord, error) {
	doc, err := r.findDocument(ctx, bson.M{field: strings.TrimSpace(value)})
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.toModel(), nil
}

func (r *MongoPaymentRecordRepository) findDocument(ctx context.Context, filter bson.M) (*mongoPaymentRecord, error) {
	var doc mongoPaymentRecord
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

// AttachGatewayRefs 写入网关标识，已存在的字段保持不变
func (r *MongoPaymentRecordRepository) AttachGatewayRefs(ctx context.Context, id string, refs GatewayRefs) error {
	if strings.TrimSpace(id) == "" || refs.IsEmpty() {
		return nil
	}
	fields := map[string]string{
		"gateway_session_id":        refs.SessionID,
		"gateway_payment_intent_id": refs.PaymentIntentID,
		"gateway_subscription_id":   refs.SubscriptionID,
	}
	for field, value := range fields {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		filter := bson.M{"_id": id, field: bson.M{"$exists": false}}
		update := bson.M{"$set": bson.M{field: value, "updated_at": time.Now().UTC()}}
		if _, err := r.collection.UpdateOne(ctx, filter, update); err != nil {
			return err
		}
	}
	return nil
}

// ApplyEvent 读取-迁移-条件写回，version 或账本变化时重试；processed_event_ids 只收录已生效事件
func (r *MongoPaymentRecordRepository) ApplyEvent(ctx context.Context, input ApplyEventInput) (*TransitionResult, error) {
	recordID := strings.TrimSpace(input.RecordID)
	eventID := strings.TrimSpace(input.EventID)
	if recordID == "" || eventID == "" {
		return nil, ErrInvalidEventInput
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	for attempt := 0; attempt < mongoMaxCASAttempts; attempt++ {
		doc, err := r.findDocument(ctx, bson.M{"_id": recordID})
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, nil
		}
		current := doc.toModel()
		if current.HasProcessedEvent(eventID) {
			return &TransitionResult{
				Outcome: constants.EventOutcomeDuplicate,
				Before:  current,
				After:   current.Clone(),
			}, nil
		}

		before := current.Clone()
		next := current.Clone()
		outcome := constants.EventOutcomeSkipped
		set := bson.M{"updated_at": time.Now().UTC()}
		if input.Mutate != nil && input.Mutate(next) {
			outcome = constants.EventOutcomeApplied
			next.LastEventAt = &occurredAt
			for key, value := range mutableRecordFields(next) {
				set[key] = value
			}
		}

		filter := bson.M{
			"_id":                 recordID,
			"version":             doc.Version,
			"processed_event_ids": bson.M{"$ne": eventID},
		}
		// 跳过的事件只记审计，不进入去重集合，重投时可重新判定
		push := bson.M{
			"events": mongoPaymentEvent{
				EventID:     eventID,
				EventType:   input.EventType,
				Outcome:     outcome,
				ProcessedAt: time.Now().UTC(),
			},
		}
		if outcome == constants.EventOutcomeApplied {
			push["processed_event_ids"] = eventID
		}
		update := bson.M{
			"$set":  set,
			"$inc":  bson.M{"version": 1},
			"$push": push,
		}
		res, err := r.collection.UpdateOne(ctx, filter, update)
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			continue
		}
		if outcome == constants.EventOutcomeApplied {
			next.ProcessedEventIDs = append(next.ProcessedEventIDs, eventID)
		}
		return &TransitionResult{Outcome: outcome, Before: before, After: next}, nil
	}
	return nil, ErrConcurrentUpdate
}

// mutableRecordFields 状态迁移可能修改的字段；未设置的网关 ID 不写入，避免稀疏唯一索引冲突
func mutableRecordFields(record *models.PaymentRecord) bson.M {
	fields := bson.M{
		"status":          record.Status,
		"refunded_amount": record.RefundedAmount,
		"customer_email":  record.CustomerEmail,
		"customer_name":   record.CustomerName,
		"paid_at":         record.PaidAt,
		"failed_at":       record.FailedAt,
		"refunded_at":     record.RefundedAt,
		"canceled_at":     record.CanceledAt,
		"last_event_at":   record.LastEventAt,
	}
	if record.Metadata != nil {
		fields["metadata"] = map[string]interface{}(record.Metadata)
	}
	if record.GatewaySessionID != nil {
		fields["gateway_session_id"] = *record.GatewaySessionID
	}
	if record.GatewayPaymentIntentID != nil {
		fields["gateway_payment_intent_id"] = *record.GatewayPaymentIntentID
	}
	if record.GatewaySubscriptionID != nil {
		fields["gateway_subscription_id"] = *record.GatewaySubscriptionID
	}
	return fields
}

// ListEvents 获取记录的事件账本
func (r *MongoPaymentRecordRepository) ListEvents(ctx context.Context, recordID string) ([]models.PaymentRecordEvent, error) {
	doc, err := r.findDocument(ctx, bson.M{"_id": strings.TrimSpace(recordID)})
	if err != nil || doc == nil {
		return []models.PaymentRecordEvent{}, err
	}
	events := make([]models.PaymentRecordEvent, 0, len(doc.Events))
	for idx, event := range doc.Events {
		events = append(events, models.PaymentRecordEvent{
			ID:              uint(idx + 1),
			PaymentRecordID: doc.ID,
			EventID:         event.EventID,
			EventType:       event.EventType,
			Outcome:         event.Outcome,
			ProcessedAt:     event.ProcessedAt,
		})
	}
	return events, nil
}

// ListAdmin 管理端捐款记录列表
func (r *MongoPaymentRecordRepository) ListAdmin(ctx context.Context, filter PaymentRecordListFilter) ([]models.PaymentRecord, int64, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Interval != "" {
		query["interval"] = filter.Interval
	}
	if filter.Currency != "" {
		query["currency"] = strings.ToLower(filter.Currency)
	}
	if filter.Email != "" {
		query["customer_email"] = mongoExactRegex(filter.Email)
	}
	if filter.Source != "" {
		query["metadata."+constants.MetadataSource] = filter.Source
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		regex := mongoSearchRegex(search)
		query["$or"] = bson.A{
			bson.M{"customer_email": regex},
			bson.M{"customer_name": regex},
			bson.M{"gateway_session_id": regex},
			bson.M{"gateway_payment_intent_id": regex},
		}
	}
	created := bson.M{}
	if filter.CreatedFrom != nil {
		created["$gte"] = *filter.CreatedFrom
	}
	if filter.CreatedTo != nil {
		created["$lte"] = *filter.CreatedTo
	}
	if len(created) > 0 {
		query["created_at"] = created
	}

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	opts := mongoPageOptions(filter.Page, filter.PageSize, bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	opts.SetProjection(bson.M{"events": 0})
	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var docs []mongoPaymentRecord
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, err
	}
	records := make([]models.PaymentRecord, 0, len(docs))
	for idx := range docs {
		records = append(records, *docs[idx].toModel())
	}
	return records, total, nil
}

// AggregateDonors 按邮箱汇总所有曾支付成功的记录
func (r *MongoPaymentRecordRepository) AggregateDonors(ctx context.Context) ([]DonorTotal, error) {
	filter := bson.M{
		"paid_at":        bson.M{"$ne": nil},
		"customer_email": bson.M{"$ne": ""},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "paid_at", Value: 1}}).
		SetProjection(bson.M{"customer_email": 1, "customer_name": 1, "amount": 1, "refunded_amount": 1, "paid_at": 1})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	totals := make(map[string]*DonorTotal)
	for cursor.Next(ctx) {
		var doc mongoPaymentRecord
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		addPaidRecord(totals, paidRecordRow{
			CustomerEmail:  doc.CustomerEmail,
			CustomerName:   doc.CustomerName,
			Amount:         doc.Amount,
			RefundedAmount: doc.RefundedAmount,
			PaidAt:         doc.PaidAt,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return sortedDonorTotals(totals), nil
}
