package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *UsageEvent) error
	// SumBucket totals event quantities with occurred_at in [from, to).
	SumBucket(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, meterCode string, from, to time.Time) (int64, error)
	// UpsertAggregate inserts the aggregate or replaces the stored quantity.
	UpsertAggregate(ctx context.Context, db *gorm.DB, aggregate *UsageAggregate) error
	FindAggregate(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, meterCode string, day time.Time) (*UsageAggregate, error)
	ListBucketKeys(ctx context.Context, db *gorm.DB, from, to time.Time) ([]BucketKey, error)
}
