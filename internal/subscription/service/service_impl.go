package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterly/internal/account/domain"
	"github.com/smallbiznis/meterly/internal/clock"
	"github.com/smallbiznis/meterly/internal/config"
	obsmetrics "github.com/smallbiznis/meterly/internal/observability/metrics"
	"github.com/smallbiznis/meterly/internal/period"
	pricedomain "github.com/smallbiznis/meterly/internal/price/domain"
	priceservice "github.com/smallbiznis/meterly/internal/price/service"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID       *snowflake.Node
	clock       clock.Clock
	repo        subscriptiondomain.Repository
	accountRepo accountdomain.Repository
	priceRepo   pricedomain.Repository
	billingCfg  *config.BillingConfigHolder
	metrics     *obsmetrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        subscriptiondomain.Repository
	AccountRepo accountdomain.Repository
	PriceRepo   pricedomain.Repository
	BillingCfg  *config.BillingConfigHolder `optional:"true"`
	Metrics     *obsmetrics.Metrics         `optional:"true"`
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		accountRepo: p.AccountRepo,
		priceRepo:   p.PriceRepo,
		billingCfg:  p.BillingCfg,
		metrics:     p.Metrics,
	}
}

// Create starts a subscription on the active price of a plan. Plans with a
// trial start TRIALING with the first period ending at the trial end.
func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	if req.AccountID == 0 {
		return nil, subscriptiondomain.ErrInvalidAccount
	}
	if !req.BillingPeriod.Valid() {
		return nil, period.ErrInvalidPeriod
	}
	if strings.TrimSpace(req.PlanCode) == "" {
		return nil, subscriptiondomain.ErrPriceNotFound
	}

	now := s.now()
	var (
		subscription subscriptiondomain.Subscription
		planCode     string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.FindByID(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		if account == nil {
			return accountdomain.ErrAccountNotFound
		}

		plan, price, err := priceservice.ResolvePrice(ctx, tx, s.priceRepo, req.PlanCode, req.BillingPeriod)
		if err != nil {
			return err
		}
		planCode = plan.Code

		subscription = subscriptiondomain.Subscription{
			ID:                 s.genID.Generate(),
			AccountID:          account.ID,
			PlanID:             plan.ID,
			CurrentPeriodStart: now,
			BillingPeriod:      price.BillingPeriod,
			IntervalCount:      price.IntervalCount,
			DefaultCurrency:    s.currency(price.Currency),
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if plan.TrialDays > 0 {
			trialEnd := now.AddDate(0, 0, plan.TrialDays)
			subscription.Status = subscriptiondomain.SubscriptionStatusTrialing
			subscription.TrialEnd = &trialEnd
			subscription.CurrentPeriodEnd = trialEnd
		} else {
			end, err := period.NextPeriodEnd(now, price.BillingPeriod, price.IntervalCount)
			if err != nil {
				return err
			}
			subscription.Status = subscriptiondomain.SubscriptionStatusActive
			subscription.CurrentPeriodEnd = end
		}

		if err := s.repo.Insert(ctx, tx, &subscription); err != nil {
			return err
		}
		return s.repo.InsertItems(ctx, tx, []subscriptiondomain.SubscriptionItem{{
			ID:             s.genID.Generate(),
			SubscriptionID: subscription.ID,
			PriceID:        price.ID,
			Quantity:       1,
			CreatedAt:      now,
		}})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSubscriptionCreated(ctx, planCode, string(subscription.Status))
	s.log.Info("subscription created",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("account_id", subscription.AccountID.String()),
		zap.String("plan_code", planCode),
		zap.String("status", string(subscription.Status)),
		zap.Time("current_period_end", subscription.CurrentPeriodEnd),
	)
	return &subscription, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return s.GetTx(ctx, s.db, id)
}

func (s *Service) GetTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	if id == 0 {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	subscription, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return subscription, nil
}

func (s *Service) ListItems(ctx context.Context, tx *gorm.DB, id snowflake.ID) ([]subscriptiondomain.SubscriptionItem, error) {
	if tx == nil {
		tx = s.db
	}
	return s.repo.ListItems(ctx, tx, id)
}

// Status reports whether the subscription currently grants access and how
// many whole or partial days remain in the period.
func (s *Service) Status(ctx context.Context, id snowflake.ID) (*subscriptiondomain.StatusView, error) {
	subscription, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	view := &subscriptiondomain.StatusView{Subscription: *subscription}
	switch subscription.Status {
	case subscriptiondomain.SubscriptionStatusTrialing, subscriptiondomain.SubscriptionStatusActive:
		view.Valid = now.Before(subscription.CurrentPeriodEnd)
	}
	if view.Valid {
		remaining := subscription.CurrentPeriodEnd.Sub(now)
		view.DaysRemaining = int(math.Ceil(remaining.Hours() / 24))
	}
	return view, nil
}

func (s *Service) ListDue(ctx context.Context, now time.Time, afterID snowflake.ID, limit int) ([]subscriptiondomain.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListDue(ctx, s.db, subscriptiondomain.BillableStatuses(), now.UTC(), afterID, limit)
}

func (s *Service) ListByAccount(ctx context.Context, accountID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	if accountID == 0 {
		return nil, subscriptiondomain.ErrInvalidAccount
	}
	return s.repo.ListByAccount(ctx, s.db, accountID)
}

func (s *Service) AdvancePeriod(ctx context.Context, id snowflake.ID) (*subscriptiondomain.AdvanceResult, error) {
	var result *subscriptiondomain.AdvanceResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.AdvancePeriodTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AdvancePeriodTx rolls a due subscription into its next period inside tx.
// The update is a compare-and-swap on the stored period end, so of two
// concurrent callers exactly one advances and the other observes a no-op.
func (s *Service) AdvancePeriodTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*subscriptiondomain.AdvanceResult, error) {
	subscription, err := s.GetTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !subscription.Status.Billable() {
		return nil, subscriptiondomain.ErrInvalidTransition
	}

	now := s.now()
	if now.Before(subscription.CurrentPeriodEnd) {
		return &subscriptiondomain.AdvanceResult{Subscription: *subscription}, nil
	}

	start := subscription.CurrentPeriodEnd
	end, err := period.NextPeriodEnd(start, subscription.BillingPeriod, subscription.IntervalCount)
	if err != nil {
		return nil, err
	}
	status := nextStatus(subscription)
	if status != subscription.Status && !subscriptiondomain.CanTransition(subscription.Status, status) {
		return nil, subscriptiondomain.ErrInvalidTransition
	}

	rows, err := s.repo.AdvancePeriod(ctx, tx, subscriptiondomain.PeriodUpdate{
		ID:                subscription.ID,
		ExpectedPeriodEnd: subscription.CurrentPeriodEnd,
		ExpectedStatus:    subscription.Status,
		NewPeriodStart:    start,
		NewPeriodEnd:      end,
		NewStatus:         status,
		UpdatedAt:         now,
	})
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		s.log.Debug("period advance lost compare-and-swap", zap.String("subscription_id", id.String()))
		current, err := s.GetTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		return &subscriptiondomain.AdvanceResult{Subscription: *current}, nil
	}

	previous := subscription.Status
	subscription.CurrentPeriodStart = start
	subscription.CurrentPeriodEnd = end
	subscription.Status = status
	subscription.UpdatedAt = now

	s.log.Info("subscription period advanced",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("from_status", string(previous)),
		zap.String("to_status", string(status)),
		zap.Time("current_period_start", start),
		zap.Time("current_period_end", end),
	)
	return &subscriptiondomain.AdvanceResult{Subscription: *subscription, Advanced: true}, nil
}

// Cancel is immediate and leaves the period untouched. A repeat call returns
// the subscription together with ErrAlreadyCanceled.
func (s *Service) Cancel(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return s.mutate(ctx, id, func(subscription *subscriptiondomain.Subscription, now time.Time) (bool, error) {
		if subscription.Status == subscriptiondomain.SubscriptionStatusCanceled {
			return false, subscriptiondomain.ErrAlreadyCanceled
		}
		if !subscriptiondomain.CanTransition(subscription.Status, subscriptiondomain.SubscriptionStatusCanceled) {
			return false, subscriptiondomain.ErrInvalidTransition
		}
		subscription.Status = subscriptiondomain.SubscriptionStatusCanceled
		subscription.CanceledAt = &now
		return true, nil
	})
}

// RecordPaymentOutcome applies the payment collaborator's verdict for the
// latest invoice. The flag also decides the status of the next advance.
func (s *Service) RecordPaymentOutcome(ctx context.Context, id snowflake.ID, succeeded bool) (*subscriptiondomain.Subscription, error) {
	return s.mutate(ctx, id, func(subscription *subscriptiondomain.Subscription, _ time.Time) (bool, error) {
		changed := subscription.PaymentFailed == succeeded
		subscription.PaymentFailed = !succeeded

		var target subscriptiondomain.SubscriptionStatus
		switch {
		case succeeded && subscription.Status == subscriptiondomain.SubscriptionStatusPastDue:
			target = subscriptiondomain.SubscriptionStatusActive
		case !succeeded && subscription.Status == subscriptiondomain.SubscriptionStatusActive:
			target = subscriptiondomain.SubscriptionStatusPastDue
		default:
			return changed, nil
		}
		if !subscriptiondomain.CanTransition(subscription.Status, target) {
			return false, subscriptiondomain.ErrInvalidTransition
		}
		subscription.Status = target
		return true, nil
	})
}

func (s *Service) Resume(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return s.mutate(ctx, id, func(subscription *subscriptiondomain.Subscription, _ time.Time) (bool, error) {
		switch subscription.Status {
		case subscriptiondomain.SubscriptionStatusActive:
			return false, nil
		case subscriptiondomain.SubscriptionStatusPaused:
			subscription.Status = subscriptiondomain.SubscriptionStatusActive
			return true, nil
		default:
			return false, subscriptiondomain.ErrInvalidTransition
		}
	})
}

// mutate runs fn against the row-locked subscription and persists the
// lifecycle fields when fn reports a change.
func (s *Service) mutate(
	ctx context.Context,
	id snowflake.ID,
	fn func(subscription *subscriptiondomain.Subscription, now time.Time) (bool, error),
) (*subscriptiondomain.Subscription, error) {
	if id == 0 {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	var result subscriptiondomain.Subscription
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		now := s.now()
		previous := subscription.Status
		changed, err := fn(subscription, now)
		result = *subscription
		if err != nil {
			fnErr = err
			return nil
		}
		if !changed {
			return nil
		}

		subscription.UpdatedAt = now
		rows, err := s.repo.UpdateLifecycle(ctx, tx, subscription, previous)
		if err != nil {
			return err
		}
		if rows == 0 {
			return subscriptiondomain.ErrInvalidTransition
		}
		result = *subscription

		if previous != subscription.Status {
			s.log.Info("subscription status changed",
				zap.String("subscription_id", subscription.ID.String()),
				zap.String("from_status", string(previous)),
				zap.String("to_status", string(subscription.Status)),
			)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if fnErr != nil {
		return &result, fnErr
	}
	return &result, nil
}

func nextStatus(subscription *subscriptiondomain.Subscription) subscriptiondomain.SubscriptionStatus {
	switch subscription.Status {
	case subscriptiondomain.SubscriptionStatusTrialing, subscriptiondomain.SubscriptionStatusActive:
		if subscription.PaymentFailed {
			return subscriptiondomain.SubscriptionStatusPastDue
		}
		return subscriptiondomain.SubscriptionStatusActive
	default:
		return subscription.Status
	}
}

func (s *Service) currency(priceCurrency string) string {
	if c := strings.ToLower(strings.TrimSpace(priceCurrency)); c != "" {
		return c
	}
	return s.billingCfg.Get().DefaultCurrency
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}
