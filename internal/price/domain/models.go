package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/internal/period"
	"gorm.io/datatypes"
)

type Plan struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Code      string       `json:"code" gorm:"type:varchar(64);not null;uniqueIndex"`
	Name      string       `json:"name" gorm:"type:varchar(255);not null"`
	TrialDays int          `json:"trial_days" gorm:"not null;default:0"`
	CreatedAt time.Time    `json:"created_at" gorm:"precision:6;not null"`
}

func (Plan) TableName() string { return "plans" }

// Price is the recurring amount of a plan for one billing period and
// interval. Amounts are in minor units of Currency.
type Price struct {
	ID            snowflake.ID         `json:"id" gorm:"primaryKey"`
	PlanID        snowflake.ID         `json:"plan_id" gorm:"column:plan_id;not null;index"`
	BillingPeriod period.BillingPeriod `json:"billing_period" gorm:"type:varchar(16);not null"`
	IntervalCount int                  `json:"interval_count" gorm:"not null;default:1"`
	UnitAmount    int64                `json:"unit_amount" gorm:"not null"`
	Currency      string               `json:"currency" gorm:"type:varchar(8);not null"`
	Active        bool                 `json:"active" gorm:"not null;default:true"`
	CreatedAt     time.Time            `json:"created_at" gorm:"precision:6;not null"`
}

func (Price) TableName() string { return "prices" }

// PlanFeature is the raw entitlement value a plan grants for a feature key.
type PlanFeature struct {
	ID         snowflake.ID   `json:"id" gorm:"primaryKey"`
	PlanID     snowflake.ID   `json:"plan_id" gorm:"column:plan_id;not null;uniqueIndex:ux_plan_features_key"`
	FeatureKey string         `json:"feature_key" gorm:"type:varchar(128);not null;uniqueIndex:ux_plan_features_key"`
	Value      datatypes.JSON `json:"value" gorm:"not null"`
	CreatedAt  time.Time      `json:"created_at" gorm:"precision:6;not null"`
}

func (PlanFeature) TableName() string { return "plan_features" }
