// Package domain contains persistence models for metered usage.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageEvent is a single metered occurrence. Rows are append-only.
type UsageEvent struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	AccountID      snowflake.ID `gorm:"not null"`
	SubscriptionID snowflake.ID `gorm:"not null;index:idx_usage_events_bucket,priority:1"`
	MeterCode      string       `gorm:"type:varchar(64);not null;index:idx_usage_events_bucket,priority:2"`
	Quantity       int64        `gorm:"not null"`
	OccurredAt     time.Time    `gorm:"precision:6;not null;index:idx_usage_events_bucket,priority:3"`
	CreatedAt      time.Time    `gorm:"precision:6;not null"`
}

func (UsageEvent) TableName() string { return "usage_events" }

// UsageAggregate is the daily total of one meter on one subscription. Day is
// the UTC midnight that starts the bucket.
type UsageAggregate struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	SubscriptionID snowflake.ID `gorm:"not null;uniqueIndex:ux_usage_aggregates_key,priority:1"`
	MeterCode      string       `gorm:"type:varchar(64);not null;uniqueIndex:ux_usage_aggregates_key,priority:2"`
	Day            time.Time    `gorm:"precision:6;not null;uniqueIndex:ux_usage_aggregates_key,priority:3"`
	Quantity       int64        `gorm:"not null"`
	UpdatedAt      time.Time    `gorm:"precision:6;not null"`
}

func (UsageAggregate) TableName() string { return "usage_aggregates" }

// BucketKey names one aggregate row.
type BucketKey struct {
	SubscriptionID snowflake.ID
	MeterCode      string
}

// DayStart truncates t to the UTC midnight of its day.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
