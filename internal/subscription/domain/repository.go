package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// PeriodUpdate moves a subscription to its next period. The write applies
// only while the stored period end and status still equal the expected
// values.
type PeriodUpdate struct {
	ID                snowflake.ID
	ExpectedPeriodEnd time.Time
	ExpectedStatus    SubscriptionStatus
	NewPeriodStart    time.Time
	NewPeriodEnd      time.Time
	NewStatus         SubscriptionStatus
	UpdatedAt         time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	InsertItems(ctx context.Context, db *gorm.DB, items []SubscriptionItem) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	ListItems(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]SubscriptionItem, error)
	ListDue(ctx context.Context, db *gorm.DB, statuses []SubscriptionStatus, now time.Time, afterID snowflake.ID, limit int) ([]Subscription, error)
	ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]Subscription, error)

	// AdvancePeriod reports the number of rows it changed; zero means the
	// compare-and-swap lost.
	AdvancePeriod(ctx context.Context, db *gorm.DB, update PeriodUpdate) (int64, error)
	// UpdateLifecycle writes status, payment flag and canceled_at when the
	// stored status still equals expected.
	UpdateLifecycle(ctx context.Context, db *gorm.DB, subscription *Subscription, expected SubscriptionStatus) (int64, error)
}
