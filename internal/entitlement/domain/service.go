package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Evaluate returns nil without error when the subscription is missing or
	// canceled, or its plan does not configure featureKey.
	Evaluate(ctx context.Context, subscriptionID snowflake.ID, featureKey string) (*Entitlement, error)
}
