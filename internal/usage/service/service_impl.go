package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/internal/clock"
	obsmetrics "github.com/smallbiznis/meterly/internal/observability/metrics"
	"github.com/smallbiznis/meterly/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/meterly/internal/usage/domain"
	"github.com/smallbiznis/meterly/pkg/db/option"
	"github.com/smallbiznis/meterly/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	rateLimitEndpoint = "usage_ingest"
	defaultListLimit  = 100
	maxListLimit      = 1000
)

var meterCodePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,63}$`)

// IngestLimiter throttles usage ingestion per account.
type IngestLimiter interface {
	AllowAccount(ctx context.Context, accountID string) (ratelimit.Result, error)
}

type ServiceParam struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Repo             usagedomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	Limiter          IngestLimiter       `optional:"true"`
	Metrics          *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID            *snowflake.Node
	clock            clock.Clock
	repo             usagedomain.Repository
	subscriptionRepo subscriptiondomain.Repository
	eventStore       repository.Repository[usagedomain.UsageEvent]
	limiter          IngestLimiter
	metrics          *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:            p.GenID,
		clock:            p.Clock,
		repo:             p.Repo,
		subscriptionRepo: p.SubscriptionRepo,
		eventStore:       repository.ProvideStore[usagedomain.UsageEvent](p.DB),
		limiter:          p.Limiter,
		metrics:          p.Metrics,
	}
}

// LogUsage appends one usage event. Aggregates are not touched; callers roll
// the bucket up separately.
func (s *Service) LogUsage(ctx context.Context, req usagedomain.LogRequest) (*usagedomain.UsageEvent, error) {
	if req.Quantity <= 0 {
		return nil, usagedomain.ErrInvalidQuantity
	}
	meterCode := strings.TrimSpace(req.MeterCode)
	if !meterCodePattern.MatchString(meterCode) {
		return nil, usagedomain.ErrInvalidMeterCode
	}
	if req.AccountID == 0 {
		return nil, usagedomain.ErrInvalidAccount
	}
	if req.SubscriptionID == 0 {
		return nil, usagedomain.ErrSubscriptionNotFound
	}

	subscription, err := s.subscriptionRepo.FindByID(ctx, s.db, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if subscription == nil || subscription.AccountID != req.AccountID {
		return nil, usagedomain.ErrSubscriptionNotFound
	}

	if err := s.allow(ctx, req.AccountID); err != nil {
		return nil, err
	}

	now := s.now()
	occurredAt := now
	if !req.OccurredAt.IsZero() {
		occurredAt = req.OccurredAt.UTC().Truncate(time.Microsecond)
	}

	event := usagedomain.UsageEvent{
		ID:             s.genID.Generate(),
		AccountID:      req.AccountID,
		SubscriptionID: req.SubscriptionID,
		MeterCode:      meterCode,
		Quantity:       req.Quantity,
		OccurredAt:     occurredAt,
		CreatedAt:      now,
	}
	if err := s.repo.InsertEvent(ctx, s.db, &event); err != nil {
		return nil, err
	}

	s.metrics.RecordUsageIngest(ctx, meterCode, req.Quantity)
	return &event, nil
}

func (s *Service) ListEvents(ctx context.Context, req usagedomain.ListEventsRequest) ([]usagedomain.UsageEvent, error) {
	if req.SubscriptionID == 0 {
		return nil, usagedomain.ErrSubscriptionNotFound
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := s.eventStore.Find(ctx,
		&usagedomain.UsageEvent{
			SubscriptionID: req.SubscriptionID,
			MeterCode:      strings.TrimSpace(req.MeterCode),
		},
		option.WithOrder("occurred_at", true),
		option.WithOrder("id", true),
		option.WithLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	events := make([]usagedomain.UsageEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, *row)
	}
	return events, nil
}

// Rollup recomputes the bucket total from the raw events and replaces the
// stored aggregate. Repeating it without new events leaves the row unchanged.
func (s *Service) Rollup(ctx context.Context, subscriptionID snowflake.ID, meterCode string, day time.Time) (*usagedomain.UsageAggregate, error) {
	meterCode = strings.TrimSpace(meterCode)
	if !meterCodePattern.MatchString(meterCode) {
		return nil, usagedomain.ErrInvalidMeterCode
	}
	if subscriptionID == 0 {
		return nil, usagedomain.ErrSubscriptionNotFound
	}
	return s.rollup(ctx, usagedomain.BucketKey{SubscriptionID: subscriptionID, MeterCode: meterCode}, usagedomain.DayStart(day))
}

// RollupDay recomputes every bucket that has events on day and returns how
// many were written.
func (s *Service) RollupDay(ctx context.Context, day time.Time) (int, error) {
	from := usagedomain.DayStart(day)
	keys, err := s.repo.ListBucketKeys(ctx, s.db, from, from.AddDate(0, 0, 1))
	if err != nil {
		return 0, err
	}

	rolled := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return rolled, err
		}
		if _, err := s.rollup(ctx, key, from); err != nil {
			s.log.Warn("usage rollup failed",
				zap.String("subscription_id", key.SubscriptionID.String()),
				zap.String("meter_code", key.MeterCode),
				zap.Time("day", from),
				zap.Error(err),
			)
			return rolled, err
		}
		rolled++
	}
	return rolled, nil
}

func (s *Service) GetAggregate(ctx context.Context, subscriptionID snowflake.ID, meterCode string, day time.Time) (*usagedomain.UsageAggregate, error) {
	aggregate, err := s.repo.FindAggregate(ctx, s.db, subscriptionID, strings.TrimSpace(meterCode), usagedomain.DayStart(day))
	if err != nil {
		return nil, err
	}
	if aggregate == nil {
		return nil, usagedomain.ErrAggregateNotFound
	}
	return aggregate, nil
}

func (s *Service) rollup(ctx context.Context, key usagedomain.BucketKey, day time.Time) (*usagedomain.UsageAggregate, error) {
	var aggregate *usagedomain.UsageAggregate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		total, err := s.repo.SumBucket(ctx, tx, key.SubscriptionID, key.MeterCode, day, day.AddDate(0, 0, 1))
		if err != nil {
			return err
		}

		if err := s.repo.UpsertAggregate(ctx, tx, &usagedomain.UsageAggregate{
			ID:             s.genID.Generate(),
			SubscriptionID: key.SubscriptionID,
			MeterCode:      key.MeterCode,
			Day:            day,
			Quantity:       total,
			UpdatedAt:      s.now(),
		}); err != nil {
			return err
		}

		aggregate, err = s.repo.FindAggregate(ctx, tx, key.SubscriptionID, key.MeterCode, day)
		return err
	})
	if err != nil {
		return nil, err
	}
	if aggregate == nil {
		return nil, usagedomain.ErrAggregateNotFound
	}
	return aggregate, nil
}

// allow consults the ingest limiter. A limiter backend failure lets the
// event through.
func (s *Service) allow(ctx context.Context, accountID snowflake.ID) error {
	if s.limiter == nil {
		return nil
	}
	res, err := s.limiter.AllowAccount(ctx, accountID.String())
	if err != nil {
		s.log.Warn("usage ingest limiter unavailable", zap.String("account_id", accountID.String()), zap.Error(err))
		return nil
	}
	if !res.Allowed {
		s.metrics.RecordRateLimitDenied(ctx, rateLimitEndpoint, "token_bucket")
		return usagedomain.ErrRateLimited
	}
	s.metrics.RecordRateLimitAllowed(ctx, rateLimitEndpoint)
	return nil
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}
