package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	"github.com/smallbiznis/meterly/pkg/db/option"
	"github.com/smallbiznis/meterly/pkg/repository"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, account_id, plan_id, status, trial_end, current_period_start,
	 current_period_end, billing_period, interval_count, default_currency, payment_failed,
	 canceled_at, created_at, updated_at`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, account_id, plan_id, status, trial_end, current_period_start,
			current_period_end, billing_period, interval_count, default_currency,
			payment_failed, canceled_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.AccountID,
		subscription.PlanID,
		subscription.Status,
		subscription.TrialEnd,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.BillingPeriod,
		subscription.IntervalCount,
		subscription.DefaultCurrency,
		subscription.PaymentFailed,
		subscription.CanceledAt,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []subscriptiondomain.SubscriptionItem) error {
	for _, item := range items {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO subscription_items (id, subscription_id, price_id, quantity, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			item.ID,
			item.SubscriptionID,
			item.PriceID,
			item.Quantity,
			item.CreatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`,
		id,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

// FindByIDForUpdate row-locks the subscription on engines that support it.
func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return repository.ProvideStore[subscriptiondomain.Subscription](db).FindOne(ctx,
		&subscriptiondomain.Subscription{ID: id},
		option.ForUpdate(),
	)
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]subscriptiondomain.SubscriptionItem, error) {
	var items []subscriptiondomain.SubscriptionItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_id, price_id, quantity, created_at
		 FROM subscription_items WHERE subscription_id = ? ORDER BY id ASC`,
		subscriptionID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, statuses []subscriptiondomain.SubscriptionStatus, now time.Time, afterID snowflake.ID, limit int) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status IN ? AND current_period_end <= ? AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		statuses,
		now,
		afterID,
		limit,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE account_id = ? ORDER BY created_at DESC, id DESC`,
		accountID,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) AdvancePeriod(ctx context.Context, db *gorm.DB, update subscriptiondomain.PeriodUpdate) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET current_period_start = ?, current_period_end = ?, status = ?, updated_at = ?
		 WHERE id = ? AND current_period_end = ? AND status = ?`,
		update.NewPeriodStart,
		update.NewPeriodEnd,
		update.NewStatus,
		update.UpdatedAt,
		update.ID,
		update.ExpectedPeriodEnd,
		update.ExpectedStatus,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) UpdateLifecycle(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription, expected subscriptiondomain.SubscriptionStatus) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, payment_failed = ?, canceled_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		subscription.Status,
		subscription.PaymentFailed,
		subscription.CanceledAt,
		subscription.UpdatedAt,
		subscription.ID,
		expected,
	)
	return res.RowsAffected, res.Error
}
