package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/internal/cache"
	entitlementdomain "github.com/smallbiznis/meterly/internal/entitlement/domain"
	pricedomain "github.com/smallbiznis/meterly/internal/price/domain"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	SubscriptionRepo subscriptiondomain.Repository
	PriceRepo        pricedomain.Repository
	Cache            cache.PlanFeatureCache `optional:"true"`
}

type Service struct {
	db               *gorm.DB
	log              *zap.Logger
	subscriptionRepo subscriptiondomain.Repository
	priceRepo        pricedomain.Repository
	cache            cache.PlanFeatureCache
}

func New(p Params) entitlementdomain.Service {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("entitlement.service"),
		subscriptionRepo: p.SubscriptionRepo,
		priceRepo:        p.PriceRepo,
		cache:            p.Cache,
	}
}

func (s *Service) Evaluate(ctx context.Context, subscriptionID snowflake.ID, featureKey string) (*entitlementdomain.Entitlement, error) {
	featureKey = strings.TrimSpace(featureKey)
	if subscriptionID == 0 || featureKey == "" {
		return nil, nil
	}

	subscription, err := s.subscriptionRepo.FindByID(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if subscription == nil || subscription.Status == subscriptiondomain.SubscriptionStatusCanceled {
		return nil, nil
	}

	feature, err := s.planFeature(ctx, subscription.PlanID, featureKey)
	if err != nil {
		return nil, err
	}
	if feature == nil {
		return nil, nil
	}

	return &entitlementdomain.Entitlement{
		FeatureKey: feature.FeatureKey,
		Value:      feature.Value,
	}, nil
}

func (s *Service) planFeature(ctx context.Context, planID snowflake.ID, featureKey string) (*pricedomain.PlanFeature, error) {
	if s.cache != nil {
		if feature, ok := s.cache.Get(planID, featureKey); ok {
			return feature, nil
		}
	}

	feature, err := s.priceRepo.FindPlanFeature(ctx, s.db, planID, featureKey)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(planID, featureKey, feature)
	}
	return feature, nil
}
