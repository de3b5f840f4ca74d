package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/harvesttable/donations/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type mongoDonor struct {
	Email            string     `bson:"_id"`
	Name             string     `bson:"name"`
	TotalDonated     int64      `bson:"total_donated"`
	DonationCount    int        `bson:"donation_count"`
	LastDonationDate *time.Time `bson:"last_donation_date,omitempty"`
	AppliedKeys      []string   `bson:"applied_keys"`
	Version          int64      `bson:"version"`
	CreatedAt        time.Time  `bson:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at"`
}

func (d *mongoDonor) toModel() *models.Donor {
	return &models.Donor{
		Email:            d.Email,
		Name:             d.Name,
		TotalDonated:     d.TotalDonated,
		DonationCount:    d.DonationCount,
		LastDonationDate: d.LastDonationDate,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		AppliedKeys:      d.AppliedKeys,
	}
}

// MongoDonorRepository MongoDB 实现，文档以小写邮箱为主键
type MongoDonorRepository struct {
	collection *mongo.Collection
}

// NewMongoDonorRepository 创建 MongoDB 捐赠人仓库
func NewMongoDonorRepository(db *mongo.Database) *MongoDonorRepository {
	return &MongoDonorRepository{collection: db.Collection(mongoDonorsCollection)}
}

// ApplyAdjustment 条件更新汇总，applied_keys 保存最近处理过的 SourceKey
func (r *MongoDonorRepository) ApplyAdjustment(ctx context.Context, input DonorAdjustmentInput) (bool, error) {
	email := NormalizeEmail(input.Email)
	sourceKey := strings.TrimSpace(input.SourceKey)
	if email == "" || sourceKey == "" || input.Delta == 0 {
		return false, nil
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	for attempt := 0; attempt < mongoMaxCASAttempts; attempt++ {
		doc, err := r.find(ctx, email)
		if err != nil {
			return false, err
		}
		if doc == nil {
			if input.Delta < 0 {
				return true, nil
			}
			donor := &models.Donor{Email: email}
			applyDonorDelta(donor, input.Name, input.Delta, occurredAt)
			now := time.Now().UTC()
			_, err := r.collection.InsertOne(ctx, mongoDonor{
				Email:            email,
				Name:             donor.Name,
				TotalDonated:     donor.TotalDonated,
				DonationCount:    donor.DonationCount,
				LastDonationDate: donor.LastDonationDate,
				AppliedKeys:      []string{sourceKey},
				CreatedAt:        now,
				UpdatedAt:        now,
			})
			if err != nil {
				if mongo.IsDuplicateKeyError(err) {
					continue
				}
				return false, err
			}
			return true, nil
		}
		if containsString(doc.AppliedKeys, sourceKey) {
			return false, nil
		}

		donor := doc.toModel()
		applyDonorDelta(donor, input.Name, input.Delta, occurredAt)
		filter := bson.M{
			"_id":          email,
			"version":      doc.Version,
			"applied_keys": bson.M{"$ne": sourceKey},
		}
		update := bson.M{
			"$set": bson.M{
				"name":               donor.Name,
				"total_donated":      donor.TotalDonated,
				"donation_count":     donor.DonationCount,
				"last_donation_date": donor.LastDonationDate,
				"updated_at":         time.Now().UTC(),
			},
			"$inc": bson.M{"version": 1},
			"$push": bson.M{
				"applied_keys": bson.M{"$each": bson.A{sourceKey}, "$slice": -mongoAppliedKeysLimit},
			},
		}
		res, err := r.collection.UpdateOne(ctx, filter, update)
		if err != nil {
			return false, err
		}
		if res.MatchedCount == 0 {
			continue
		}
		return true, nil
	}
	return false, ErrConcurrentUpdate
}

func (r *MongoDonorRepository) find(ctx context.Context, email string) (*mongoDonor, error) {
	var doc mongoDonor
	if err := r.collection.FindOne(ctx, bson.M{"_id": email}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

// GetByEmail 根据邮箱获取捐赠人
func (r *MongoDonorRepository) GetByEmail(ctx context.Context, email string) (*models.Donor, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	doc, err := r.find(ctx, email)
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.toModel(), nil
}

// List 分页查询捐赠人
func (r *MongoDonorRepository) List(ctx context.Context, filter DonorListFilter) ([]models.Donor, int64, error) {
	query := bson.M{}
	if search := strings.TrimSpace(filter.Search); search != "" {
		regex := mongoSearchRegex(search)
		query["$or"] = bson.A{bson.M{"_id": regex}, bson.M{"name": regex}}
	}
	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	var sort bson.D
	switch strings.ToLower(strings.TrimSpace(filter.OrderBy)) {
	case "recent":
		sort = bson.D{{Key: "last_donation_date", Value: -1}, {Key: "_id", Value: 1}}
	case "email":
		sort = bson.D{{Key: "_id", Value: 1}}
	default:
		sort = bson.D{{Key: "total_donated", Value: -1}, {Key: "_id", Value: 1}}
	}
	opts := mongoPageOptions(filter.Page, filter.PageSize, sort)
	opts.SetProjection(bson.M{"applied_keys": 0})
	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var docs []mongoDonor
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, err
	}
	donors := make([]models.Donor, 0, len(docs))
	for idx := range docs {
		donors = append(donors, *docs[idx].toModel())
	}
	return donors, total, nil
}

// ReplaceAll 用重新计算的结果替换汇总，保留各邮箱已处理的 SourceKey
func (r *MongoDonorRepository) ReplaceAll(ctx context.Context, totals []DonorTotal) error {
	existing := make(map[string][]string)
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return err
	}
	var docs []mongoDonor
	if err := cursor.All(ctx, &docs); err != nil {
		return err
	}
	for _, doc := range docs {
		existing[doc.Email] = doc.AppliedKeys
	}

	if _, err := r.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return err
	}
	if len(totals) == 0 {
		return nil
	}
	now := time.Now().UTC()
	items := make([]interface{}, 0, len(totals))
	for _, total := range totals {
		keys := existing[total.Email]
		if keys == nil {
			keys = []string{}
		}
		items = append(items, mongoDonor{
			Email:            total.Email,
			Name:             total.Name,
			TotalDonated:     total.TotalDonated,
			DonationCount:    total.DonationCount,
			LastDonationDate: total.LastDonationDate,
			AppliedKeys:      keys,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}
	_, err = r.collection.InsertMany(ctx, items)
	return err
}
