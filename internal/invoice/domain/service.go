package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	"gorm.io/gorm"
)

type Service interface {
	Issue(ctx context.Context, subscriptionID snowflake.ID) (*Invoice, error)
	IssueTx(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID) (*Invoice, error)
	Get(ctx context.Context, id snowflake.ID) (*Invoice, error)
	ListBySubscription(ctx context.Context, subscriptionID snowflake.ID) ([]Invoice, error)
	ListByAccount(ctx context.Context, accountID snowflake.ID) ([]Invoice, error)
}

var (
	ErrInvoiceNotFound         = errors.New("invoice_not_found")
	ErrNumberConflict          = errors.New("number_conflict")
	ErrSubscriptionNotBillable = errors.New("subscription_not_billable")
	ErrMissingItems            = errors.New("missing_subscription_items")
	ErrMissingPrice            = errors.New("missing_price")

	ErrSubscriptionNotFound = subscriptiondomain.ErrSubscriptionNotFound
)
