package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/internal/period"
	pricedomain "github.com/smallbiznis/meterly/internal/price/domain"
	"gorm.io/gorm"
)

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)
	Get(ctx context.Context, id snowflake.ID) (*Subscription, error)
	GetTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Subscription, error)
	ListItems(ctx context.Context, tx *gorm.DB, id snowflake.ID) ([]SubscriptionItem, error)
	Status(ctx context.Context, id snowflake.ID) (*StatusView, error)
	// ListDue pages through billable subscriptions whose period ended at or
	// before now, ordered by id and starting after afterID.
	ListDue(ctx context.Context, now time.Time, afterID snowflake.ID, limit int) ([]Subscription, error)
	ListByAccount(ctx context.Context, accountID snowflake.ID) ([]Subscription, error)

	AdvancePeriod(ctx context.Context, id snowflake.ID) (*AdvanceResult, error)
	AdvancePeriodTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*AdvanceResult, error)
	Cancel(ctx context.Context, id snowflake.ID) (*Subscription, error)
	RecordPaymentOutcome(ctx context.Context, id snowflake.ID, succeeded bool) (*Subscription, error)
	Resume(ctx context.Context, id snowflake.ID) (*Subscription, error)
}

type CreateSubscriptionRequest struct {
	AccountID     snowflake.ID
	PlanCode      string
	BillingPeriod period.BillingPeriod
}

var (
	ErrInvalidAccount       = errors.New("invalid_account")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrAlreadyCanceled      = errors.New("already_canceled")
	ErrInvalidTransition    = errors.New("invalid_transition")

	ErrPriceNotFound = pricedomain.ErrPriceNotFound
)
