package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/meterly/internal/clock"
	invoicedomain "github.com/smallbiznis/meterly/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/meterly/internal/observability/metrics"
	"github.com/smallbiznis/meterly/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/meterly/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	jobBillingCycle = "billing_cycle"
	jobUsageRollup  = "usage_rollup"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Result tallies one billing cycle run. Processed counts every due
// subscription picked up, including skipped ones.
type Result struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
}

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	Clock           clock.Clock
	SubscriptionSvc subscriptiondomain.Service
	InvoiceSvc      invoicedomain.Service
	UsageSvc        usagedomain.Service
	Limiter         *ratelimit.UsageIngestLimiter `optional:"true"`
	Metrics         *obsmetrics.SchedulerMetrics  `optional:"true"`
	Config          Config                        `optional:"true"`
}

type Scheduler struct {
	db              *gorm.DB
	log             *zap.Logger
	cfg             Config
	clock           clock.Clock
	subscriptionSvc subscriptiondomain.Service
	invoiceSvc      invoicedomain.Service
	usageSvc        usagedomain.Service
	limiter         *ratelimit.UsageIngestLimiter
	metrics         *obsmetrics.SchedulerMetrics
	cron            *cron.Cron
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.SubscriptionSvc == nil || p.InvoiceSvc == nil || p.UsageSvc == nil {
		return nil, ErrInvalidConfig
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Scheduler()
	}
	log := p.Log.Named("scheduler")
	cronLogger := cron.PrintfLogger(zap.NewStdLog(log.Named("cron")))
	return &Scheduler{
		db:              p.DB,
		log:             log,
		cfg:             p.Config.withDefaults(),
		clock:           p.Clock,
		subscriptionSvc: p.SubscriptionSvc,
		invoiceSvc:      p.InvoiceSvc,
		usageSvc:        p.UsageSvc,
		limiter:         p.Limiter,
		metrics:         metrics,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}, nil
}

// runJob wraps fn with a run ID, start/finish logs, metrics and a soft
// timeout: hitting the deadline is counted but not returned as an error.
func (s *Scheduler) runJob(parent context.Context, name string, batchSize int, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name, batchSize)
	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		s.metrics.IncJobTimeout(name)
		s.logger(ctx).Warn("job timed out", zap.String("job", name), zap.Duration("timeout", timeout), zap.Error(err))
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunBillingCycle advances every due subscription by one period and issues
// the invoice for the new period. Each subscription commits or rolls back on
// its own; a failure is counted and the run moves on.
func (s *Scheduler) RunBillingCycle(parent context.Context) (Result, error) {
	var result Result
	err := s.runJob(parent, jobBillingCycle, s.cfg.BatchSize, s.cfg.RunTimeout, func(ctx context.Context) error {
		var err error
		result, err = s.billingCycle(ctx)
		return err
	})
	return result, err
}

func (s *Scheduler) billingCycle(ctx context.Context) (Result, error) {
	now := s.clock.Now()
	run := jobRunFromContext(ctx)

	var (
		mu      sync.Mutex
		result  Result
		afterID snowflake.ID
	)
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		due, err := s.subscriptionSvc.ListDue(ctx, now, afterID, s.cfg.BatchSize)
		if err != nil {
			return result, err
		}
		if len(due) == 0 {
			return result, nil
		}
		afterID = due[len(due)-1].ID
		s.metrics.AddBatchProcessed(jobBillingCycle, "subscription", len(due))
		run.AddProcessed(len(due))

		var g errgroup.Group
		g.SetLimit(s.cfg.Concurrency)
		for _, sub := range due {
			id := sub.ID
			g.Go(func() error {
				outcome := s.billSubscription(ctx, id)
				s.metrics.IncItemOutcome(jobBillingCycle, outcome)

				mu.Lock()
				defer mu.Unlock()
				result.Processed++
				switch outcome {
				case obsmetrics.ItemOutcomeSucceeded:
					result.Succeeded++
				case obsmetrics.ItemOutcomeSkipped:
					result.Skipped++
				default:
					result.Failed++
				}
				return nil
			})
		}
		_ = g.Wait()

		if len(due) < s.cfg.BatchSize {
			return result, nil
		}
	}
}

func (s *Scheduler) billSubscription(ctx context.Context, id snowflake.ID) string {
	var (
		invoice *invoicedomain.Invoice
		skipped bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		advance, err := s.subscriptionSvc.AdvancePeriodTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !advance.Advanced {
			skipped = true
			return nil
		}
		invoice, err = s.invoiceSvc.IssueTx(ctx, tx, id)
		return err
	})

	switch {
	case errors.Is(err, subscriptiondomain.ErrInvalidTransition):
		// Left the billable set between listing and processing.
		s.logger(ctx).Debug("subscription no longer billable", zap.String("subscription_id", id.String()))
		return obsmetrics.ItemOutcomeSkipped
	case err != nil:
		s.metrics.IncJobError(jobBillingCycle, err)
		s.logItemError(ctx, "scheduler.subscription.failed", jobBillingCycle, id, err)
		return obsmetrics.ItemOutcomeFailed
	case skipped:
		return obsmetrics.ItemOutcomeSkipped
	}

	s.logger(ctx).Info("invoice.issued",
		zap.String("subscription_id", id.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("number", invoice.Number),
		zap.Int64("total", invoice.Total),
	)
	return obsmetrics.ItemOutcomeSucceeded
}

// RunForever runs the billing cycle immediately and then on every tick until
// ctx is done.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)

	for {
		if _, err := s.RunBillingCycle(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("billing cycle run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			if lag := tick.Sub(nextRun); lag > 0 {
				s.metrics.ObserveRunLoopLag(lag)
			}
			nextRun = tick.Add(s.cfg.RunInterval)
		}
	}
}

// RollupPreviousDay recomputes every usage bucket of the previous UTC day.
// Replicas share a Redis lease when rate limiting is enabled; without it the
// sweep still converges because rollups are recomputations.
func (s *Scheduler) RollupPreviousDay(parent context.Context) (int, error) {
	day := usagedomain.DayStart(s.clock.Now()).AddDate(0, 0, -1)

	token, ok, err := s.limiter.TryLockRollup(parent, day, s.cfg.UsageRollupTimeout)
	if err != nil {
		s.log.Warn("rollup lease unavailable", zap.Time("day", day), zap.Error(err))
	} else if !ok {
		s.log.Info("rollup sweep held by another replica", zap.Time("day", day))
		return 0, nil
	} else {
		defer func() {
			if err := s.limiter.ReleaseRollup(context.Background(), day, token); err != nil {
				s.log.Warn("rollup lease release failed", zap.Time("day", day), zap.Error(err))
			}
		}()
	}

	var rolled int
	err = s.runJob(parent, jobUsageRollup, 0, s.cfg.UsageRollupTimeout, func(ctx context.Context) error {
		var err error
		rolled, err = s.usageSvc.RollupDay(ctx, day)
		if run := jobRunFromContext(ctx); run != nil {
			run.AddProcessed(rolled)
		}
		return err
	})
	return rolled, err
}

// StartRollupSweep schedules the nightly rollup. An empty cron expression
// leaves the sweep off.
func (s *Scheduler) StartRollupSweep() error {
	if s.cfg.UsageRollupCron == "" {
		return nil
	}
	if _, err := s.cron.AddFunc(s.cfg.UsageRollupCron, func() {
		if _, err := s.RollupPreviousDay(context.Background()); err != nil {
			s.log.Warn("usage rollup sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("usage rollup cron %q: %w", s.cfg.UsageRollupCron, err)
	}
	s.cron.Start()
	s.log.Info("usage rollup sweep scheduled", zap.String("schedule", s.cfg.UsageRollupCron))
	return nil
}

func (s *Scheduler) StopRollupSweep(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
