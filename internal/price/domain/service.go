package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/meterly/internal/period"
)

// Service maintains the plan catalog. The billing core only reads it.
type Service interface {
	CreatePlan(ctx context.Context, req CreatePlanRequest) (*Plan, error)
	CreatePrice(ctx context.Context, req CreatePriceRequest) (*Price, error)
	SetFeature(ctx context.Context, req SetFeatureRequest) (*PlanFeature, error)
	GetPlan(ctx context.Context, code string) (*Plan, error)
	ResolvePrice(ctx context.Context, planCode string, billingPeriod period.BillingPeriod) (*Plan, *Price, error)
	ListFeatures(ctx context.Context, planCode string) ([]PlanFeature, error)
}

type CreatePlanRequest struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	TrialDays int    `json:"trial_days"`
}

type CreatePriceRequest struct {
	PlanCode      string `json:"plan_code"`
	BillingPeriod string `json:"billing_period"`
	IntervalCount int    `json:"interval_count"`
	UnitAmount    int64  `json:"unit_amount"`
	Currency      string `json:"currency"`
}

// SetFeatureRequest carries any JSON-encodable value: a bool flag, a numeric
// limit or a string.
type SetFeatureRequest struct {
	PlanCode   string `json:"plan_code"`
	FeatureKey string `json:"feature_key"`
	Value      any    `json:"value"`
}

var (
	ErrInvalidCode       = errors.New("invalid_code")
	ErrInvalidName       = errors.New("invalid_name")
	ErrInvalidTrialDays  = errors.New("invalid_trial_days")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidCurrency   = errors.New("invalid_currency")
	ErrInvalidFeatureKey = errors.New("invalid_feature_key")
	ErrPlanExists        = errors.New("plan_exists")
	ErrPlanNotFound      = errors.New("plan_not_found")
	ErrPriceNotFound     = errors.New("price_not_found")
)
