package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/internal/period"
	pricedomain "github.com/smallbiznis/meterly/internal/price/domain"
	"github.com/smallbiznis/meterly/pkg/db/option"
	"github.com/smallbiznis/meterly/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() pricedomain.Repository {
	return &repo{}
}

func (r *repo) InsertPlan(ctx context.Context, db *gorm.DB, plan *pricedomain.Plan) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO plans (id, code, name, trial_days, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		plan.ID,
		plan.Code,
		plan.Name,
		plan.TrialDays,
		plan.CreatedAt,
	).Error
}

func (r *repo) InsertPrice(ctx context.Context, db *gorm.DB, p *pricedomain.Price) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO prices (
			id, plan_id, billing_period, interval_count, unit_amount,
			currency, active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.PlanID,
		p.BillingPeriod,
		p.IntervalCount,
		p.UnitAmount,
		p.Currency,
		p.Active,
		p.CreatedAt,
	).Error
}

// UpsertPlanFeature replaces the value of an existing (plan, feature) pair.
func (r *repo) UpsertPlanFeature(ctx context.Context, db *gorm.DB, feature *pricedomain.PlanFeature) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "plan_id"}, {Name: "feature_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(feature).Error
}

func (r *repo) FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*pricedomain.Plan, error) {
	return repository.ProvideStore[pricedomain.Plan](db).FindOne(ctx, &pricedomain.Plan{ID: id})
}

func (r *repo) FindPlanByCode(ctx context.Context, db *gorm.DB, code string) (*pricedomain.Plan, error) {
	return repository.ProvideStore[pricedomain.Plan](db).FindOne(ctx, &pricedomain.Plan{Code: code})
}

func (r *repo) FindPriceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*pricedomain.Price, error) {
	return repository.ProvideStore[pricedomain.Price](db).FindOne(ctx, &pricedomain.Price{ID: id})
}

// FindActivePrice returns the newest active price of the plan for the period.
func (r *repo) FindActivePrice(ctx context.Context, db *gorm.DB, planID snowflake.ID, billingPeriod period.BillingPeriod) (*pricedomain.Price, error) {
	return repository.ProvideStore[pricedomain.Price](db).FindOne(ctx,
		&pricedomain.Price{PlanID: planID, BillingPeriod: billingPeriod, Active: true},
		option.WithOrder("created_at", true),
		option.WithOrder("id", true),
	)
}

func (r *repo) FindPlanFeature(ctx context.Context, db *gorm.DB, planID snowflake.ID, featureKey string) (*pricedomain.PlanFeature, error) {
	var feature pricedomain.PlanFeature
	err := db.WithContext(ctx).Raw(
		`SELECT id, plan_id, feature_key, value, created_at
		 FROM plan_features WHERE plan_id = ? AND feature_key = ?`,
		planID,
		featureKey,
	).Scan(&feature).Error
	if err != nil {
		return nil, err
	}
	if feature.ID == 0 {
		return nil, nil
	}
	return &feature, nil
}

func (r *repo) ListPlanFeatures(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]pricedomain.PlanFeature, error) {
	var items []pricedomain.PlanFeature
	err := db.WithContext(ctx).Raw(
		`SELECT id, plan_id, feature_key, value, created_at
		 FROM plan_features WHERE plan_id = ? ORDER BY feature_key ASC`,
		planID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
