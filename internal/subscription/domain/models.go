// Package domain contains persistence models for subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/internal/period"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "TRIALING"
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusPaused   SubscriptionStatus = "PAUSED"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
)

// Billable reports whether the billing cycle runner advances and invoices
// subscriptions in this status.
func (s SubscriptionStatus) Billable() bool {
	switch s {
	case SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// BillableStatuses lists the statuses selected by the billing cycle runner.
func BillableStatuses() []SubscriptionStatus {
	return []SubscriptionStatus{
		SubscriptionStatusTrialing,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
	}
}

// Subscription captures an account's billing agreement for one plan.
type Subscription struct {
	ID                 snowflake.ID         `gorm:"primaryKey" json:"id"`
	AccountID          snowflake.ID         `gorm:"not null;index" json:"account_id"`
	PlanID             snowflake.ID         `gorm:"not null" json:"plan_id"`
	Status             SubscriptionStatus   `gorm:"type:varchar(16);not null;index:idx_subscriptions_due,priority:1" json:"status"`
	TrialEnd           *time.Time           `gorm:"precision:6" json:"trial_end,omitempty"`
	CurrentPeriodStart time.Time            `gorm:"precision:6;not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time            `gorm:"precision:6;not null;index:idx_subscriptions_due,priority:2" json:"current_period_end"`
	BillingPeriod      period.BillingPeriod `gorm:"type:varchar(16);not null" json:"billing_period"`
	IntervalCount      int                  `gorm:"not null;default:1" json:"interval_count"`
	DefaultCurrency    string               `gorm:"type:varchar(8);not null" json:"default_currency"`
	PaymentFailed      bool                 `gorm:"not null;default:false" json:"payment_failed"`
	CanceledAt         *time.Time           `gorm:"precision:6" json:"canceled_at,omitempty"`
	CreatedAt          time.Time            `gorm:"precision:6;not null" json:"created_at"`
	UpdatedAt          time.Time            `gorm:"precision:6;not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// SubscriptionItem is a priced component billed every cycle.
type SubscriptionItem struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	SubscriptionID snowflake.ID `gorm:"not null;index" json:"subscription_id"`
	PriceID        snowflake.ID `gorm:"not null" json:"price_id"`
	Quantity       int64        `gorm:"not null" json:"quantity"`
	CreatedAt      time.Time    `gorm:"precision:6;not null" json:"created_at"`
}

// TableName sets the database table name.
func (SubscriptionItem) TableName() string { return "subscription_items" }

// AdvanceResult reports the subscription after an advance attempt. Advanced
// is false when the period was not due or a concurrent advance won.
type AdvanceResult struct {
	Subscription Subscription
	Advanced     bool
}

// StatusView is the entitlement-facing summary of a subscription.
type StatusView struct {
	Subscription  Subscription `json:"subscription"`
	Valid         bool         `json:"valid"`
	DaysRemaining int          `json:"days_remaining"`
}
