package repository

import (
	"context"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoPaymentRecordsCollection = "payment_records"
	mongoDonorsCollection         = "donors"
	mongoMaxCASAttempts           = 8
	mongoAppliedKeysLimit         = 1000
)

// EnsureMongoIndexes 创建文档库所需的唯一索引
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	records := db.Collection(mongoPaymentRecordsCollection)
	_, err := records.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "idempotency_key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "gateway_session_id", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "gateway_payment_intent_id", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "gateway_subscription_id", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "customer_email", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return err
	}
	donors := db.Collection(mongoDonorsCollection)
	_, err = donors.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "total_donated", Value: -1}}},
		{Keys: bson.D{{Key: "last_donation_date", Value: -1}}},
	})
	return err
}

// mongoSearchRegex 构造大小写不敏感的包含匹配
func mongoSearchRegex(search string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(search), "$options": "i"}
}

// mongoExactRegex 大小写不敏感的完整匹配
func mongoExactRegex(value string) bson.M {
	return bson.M{"$regex": "^" + regexp.QuoteMeta(strings.TrimSpace(value)) + "$", "$options": "i"}
}

// mongoPageOptions 分页与排序
func mongoPageOptions(page, pageSize int, sort bson.D) *options.FindOptions {
	opts := options.Find().SetSort(sort)
	if pageSize <= 0 {
		return opts
	}
	if page < 1 {
		page = 1
	}
	return opts.SetSkip(int64((page - 1) * pageSize)).SetLimit(int64(pageSize))
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
