package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/meterly/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *usagedomain.UsageEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_events (id, account_id, subscription_id, meter_code, quantity, occurred_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.AccountID,
		event.SubscriptionID,
		event.MeterCode,
		event.Quantity,
		event.OccurredAt,
		event.CreatedAt,
	).Error
}

func (r *repo) SumBucket(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, meterCode string, from, to time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(quantity), 0)
		 FROM usage_events
		 WHERE subscription_id = ? AND meter_code = ? AND occurred_at >= ? AND occurred_at < ?`,
		subscriptionID,
		meterCode,
		from,
		to,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) UpsertAggregate(ctx context.Context, db *gorm.DB, aggregate *usagedomain.UsageAggregate) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "subscription_id"},
				{Name: "meter_code"},
				{Name: "day"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
		}).
		Create(aggregate).Error
}

func (r *repo) FindAggregate(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, meterCode string, day time.Time) (*usagedomain.UsageAggregate, error) {
	var aggregate usagedomain.UsageAggregate
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_id, meter_code, day, quantity, updated_at
		 FROM usage_aggregates
		 WHERE subscription_id = ? AND meter_code = ? AND day = ?`,
		subscriptionID,
		meterCode,
		day,
	).Scan(&aggregate).Error
	if err != nil {
		return nil, err
	}
	if aggregate.ID == 0 {
		return nil, nil
	}
	return &aggregate, nil
}

func (r *repo) ListBucketKeys(ctx context.Context, db *gorm.DB, from, to time.Time) ([]usagedomain.BucketKey, error) {
	var keys []usagedomain.BucketKey
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT subscription_id, meter_code
		 FROM usage_events
		 WHERE occurred_at >= ? AND occurred_at < ?
		 ORDER BY subscription_id, meter_code`,
		from,
		to,
	).Scan(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}
