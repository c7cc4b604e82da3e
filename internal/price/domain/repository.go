package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/internal/period"
	"gorm.io/gorm"
)

type Repository interface {
	InsertPlan(ctx context.Context, db *gorm.DB, plan *Plan) error
	InsertPrice(ctx context.Context, db *gorm.DB, price *Price) error
	UpsertPlanFeature(ctx context.Context, db *gorm.DB, feature *PlanFeature) error

	FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindPlanByCode(ctx context.Context, db *gorm.DB, code string) (*Plan, error)
	FindPriceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Price, error)
	FindActivePrice(ctx context.Context, db *gorm.DB, planID snowflake.ID, billingPeriod period.BillingPeriod) (*Price, error)
	FindPlanFeature(ctx context.Context, db *gorm.DB, planID snowflake.ID, featureKey string) (*PlanFeature, error)
	ListPlanFeatures(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]PlanFeature, error)
}
