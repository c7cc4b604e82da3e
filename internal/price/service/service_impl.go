package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/internal/cache"
	"github.com/smallbiznis/meterly/internal/clock"
	"github.com/smallbiznis/meterly/internal/period"
	pricedomain "github.com/smallbiznis/meterly/internal/price/domain"
	"github.com/smallbiznis/meterly/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  pricedomain.Repository
	Cache cache.PlanFeatureCache `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  pricedomain.Repository
	cache cache.PlanFeatureCache
}

func New(p Params) pricedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("price.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		cache: p.Cache,
	}
}

func (s *Service) CreatePlan(ctx context.Context, req pricedomain.CreatePlanRequest) (*pricedomain.Plan, error) {
	code := normalizeCode(req.Code)
	if code == "" {
		return nil, pricedomain.ErrInvalidCode
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, pricedomain.ErrInvalidName
	}
	if req.TrialDays < 0 {
		return nil, pricedomain.ErrInvalidTrialDays
	}

	plan := &pricedomain.Plan{
		ID:        s.genID.Generate(),
		Code:      code,
		Name:      name,
		TrialDays: req.TrialDays,
		CreatedAt: s.now(),
	}
	if err := s.repo.InsertPlan(ctx, s.db, plan); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, pricedomain.ErrPlanExists
		}
		return nil, err
	}

	s.log.Info("plan created", zap.String("plan_code", plan.Code), zap.Int("trial_days", plan.TrialDays))
	return plan, nil
}

func (s *Service) CreatePrice(ctx context.Context, req pricedomain.CreatePriceRequest) (*pricedomain.Price, error) {
	billingPeriod, err := period.ParseBillingPeriod(req.BillingPeriod)
	if err != nil {
		return nil, err
	}
	intervalCount := req.IntervalCount
	if intervalCount == 0 {
		intervalCount = 1
	}
	if intervalCount < 0 {
		return nil, period.ErrInvalidPeriod
	}
	if req.UnitAmount < 0 {
		return nil, pricedomain.ErrInvalidAmount
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, pricedomain.ErrInvalidCurrency
	}

	plan, err := s.GetPlan(ctx, req.PlanCode)
	if err != nil {
		return nil, err
	}

	price := &pricedomain.Price{
		ID:            s.genID.Generate(),
		PlanID:        plan.ID,
		BillingPeriod: billingPeriod,
		IntervalCount: intervalCount,
		UnitAmount:    req.UnitAmount,
		Currency:      currency,
		Active:        true,
		CreatedAt:     s.now(),
	}
	if err := s.repo.InsertPrice(ctx, s.db, price); err != nil {
		return nil, err
	}
	return price, nil
}

func (s *Service) SetFeature(ctx context.Context, req pricedomain.SetFeatureRequest) (*pricedomain.PlanFeature, error) {
	key := strings.TrimSpace(req.FeatureKey)
	if key == "" {
		return nil, pricedomain.ErrInvalidFeatureKey
	}
	raw, err := json.Marshal(req.Value)
	if err != nil {
		return nil, err
	}

	plan, err := s.GetPlan(ctx, req.PlanCode)
	if err != nil {
		return nil, err
	}

	feature := &pricedomain.PlanFeature{
		ID:         s.genID.Generate(),
		PlanID:     plan.ID,
		FeatureKey: key,
		Value:      datatypes.JSON(raw),
		CreatedAt:  s.now(),
	}
	if err := s.repo.UpsertPlanFeature(ctx, s.db, feature); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Invalidate(plan.ID, key)
	}
	return s.repo.FindPlanFeature(ctx, s.db, plan.ID, key)
}

func (s *Service) GetPlan(ctx context.Context, code string) (*pricedomain.Plan, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, pricedomain.ErrInvalidCode
	}
	plan, err := s.repo.FindPlanByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, pricedomain.ErrPlanNotFound
	}
	return plan, nil
}

// ResolvePrice finds the active price of a plan for a billing period. An
// unknown plan and a plan without such a price both report ErrPriceNotFound.
func (s *Service) ResolvePrice(ctx context.Context, planCode string, billingPeriod period.BillingPeriod) (*pricedomain.Plan, *pricedomain.Price, error) {
	return ResolvePrice(ctx, s.db, s.repo, planCode, billingPeriod)
}

func (s *Service) ListFeatures(ctx context.Context, planCode string) ([]pricedomain.PlanFeature, error) {
	plan, err := s.GetPlan(ctx, planCode)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPlanFeatures(ctx, s.db, plan.ID)
}

// ResolvePrice is shared with callers that resolve prices inside their own
// transaction.
func ResolvePrice(ctx context.Context, tx *gorm.DB, repo pricedomain.Repository, planCode string, billingPeriod period.BillingPeriod) (*pricedomain.Plan, *pricedomain.Price, error) {
	if !billingPeriod.Valid() {
		return nil, nil, period.ErrInvalidPeriod
	}
	code := normalizeCode(planCode)
	if code == "" {
		return nil, nil, pricedomain.ErrPriceNotFound
	}
	plan, err := repo.FindPlanByCode(ctx, tx, code)
	if err != nil {
		return nil, nil, err
	}
	if plan == nil {
		return nil, nil, pricedomain.ErrPriceNotFound
	}
	price, err := repo.FindActivePrice(ctx, tx, plan.ID, billingPeriod)
	if err != nil {
		return nil, nil, err
	}
	if price == nil {
		return nil, nil, pricedomain.ErrPriceNotFound
	}
	return plan, price, nil
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
