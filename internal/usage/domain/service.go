package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
)

type LogRequest struct {
	AccountID      snowflake.ID
	SubscriptionID snowflake.ID
	MeterCode      string
	Quantity       int64
	// OccurredAt defaults to now when zero.
	OccurredAt time.Time
}

type ListEventsRequest struct {
	SubscriptionID snowflake.ID
	MeterCode      string
	Limit          int
}

type Service interface {
	LogUsage(ctx context.Context, req LogRequest) (*UsageEvent, error)
	ListEvents(ctx context.Context, req ListEventsRequest) ([]UsageEvent, error)

	Rollup(ctx context.Context, subscriptionID snowflake.ID, meterCode string, day time.Time) (*UsageAggregate, error)
	RollupDay(ctx context.Context, day time.Time) (int, error)
	GetAggregate(ctx context.Context, subscriptionID snowflake.ID, meterCode string, day time.Time) (*UsageAggregate, error)
}

var (
	ErrInvalidQuantity   = errors.New("invalid_quantity")
	ErrInvalidMeterCode  = errors.New("invalid_meter_code")
	ErrInvalidAccount    = errors.New("invalid_account")
	ErrRateLimited       = errors.New("rate_limited")
	ErrAggregateNotFound = errors.New("aggregate_not_found")

	ErrSubscriptionNotFound = subscriptiondomain.ErrSubscriptionNotFound
)
