package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/internal/clock"
	"github.com/smallbiznis/meterly/internal/config"
	invoicedomain "github.com/smallbiznis/meterly/internal/invoice/domain"
	"github.com/smallbiznis/meterly/internal/invoice/format"
	obsmetrics "github.com/smallbiznis/meterly/internal/observability/metrics"
	pricedomain "github.com/smallbiznis/meterly/internal/price/domain"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	"github.com/smallbiznis/meterly/pkg/db"
	"github.com/smallbiznis/meterly/pkg/db/option"
	"github.com/smallbiznis/meterly/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sourceOnDemand     = "on_demand"
	sourceBillingCycle = "billing_cycle"
)

type ServiceParam struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Repo             invoicedomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	PriceRepo        pricedomain.Repository
	BillingCfg       *config.BillingConfigHolder `optional:"true"`
	Metrics          *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID            *snowflake.Node
	clock            clock.Clock
	repo             invoicedomain.Repository
	invoicerepo      repository.Repository[invoicedomain.Invoice]
	subscriptionRepo subscriptiondomain.Repository
	priceRepo        pricedomain.Repository
	billingCfg       *config.BillingConfigHolder
	metrics          *obsmetrics.Metrics
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: p.Clock,

		repo:             p.Repo,
		invoicerepo:      repository.ProvideStore[invoicedomain.Invoice](p.DB),
		subscriptionRepo: p.SubscriptionRepo,
		priceRepo:        p.PriceRepo,
		billingCfg:       p.BillingCfg,
		metrics:          p.Metrics,
	}
}

// Issue bills the current period of a subscription in its own transaction.
func (s *Service) Issue(ctx context.Context, subscriptionID snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice *invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		invoice, err = s.issue(ctx, tx, subscriptionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordInvoiceIssued(ctx, invoice.Currency, sourceOnDemand, invoice.Total)
	return invoice, nil
}

// IssueTx bills the current period inside the caller's transaction, so the
// invoice commits or rolls back together with the caller's other writes.
func (s *Service) IssueTx(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.issue(ctx, tx, subscriptionID)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordInvoiceIssued(ctx, invoice.Currency, sourceBillingCycle, invoice.Total)
	return invoice, nil
}

func (s *Service) issue(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID) (*invoicedomain.Invoice, error) {
	if subscriptionID == 0 {
		return nil, invoicedomain.ErrSubscriptionNotFound
	}
	subscription, err := s.subscriptionRepo.FindByID(ctx, tx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, invoicedomain.ErrSubscriptionNotFound
	}
	if !subscription.Status.Billable() {
		return nil, invoicedomain.ErrSubscriptionNotBillable
	}

	cfg := s.billingCfg.Get()
	now := s.now()
	invoice := &invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		AccountID:      subscription.AccountID,
		SubscriptionID: subscription.ID,
		Status:         invoicedomain.InvoiceStatusOpen,
		Currency:       subscription.DefaultCurrency,
		PeriodStart:    subscription.CurrentPeriodStart,
		PeriodEnd:      subscription.CurrentPeriodEnd,
		IssuedAt:       now,
		DueAt:          now.AddDate(0, 0, cfg.InvoiceDueDays),
		NumberYear:     now.Year(),
		CreatedAt:      now,
	}
	if invoice.Currency == "" {
		invoice.Currency = cfg.DefaultCurrency
	}

	zeroTrial := subscription.Status == subscriptiondomain.SubscriptionStatusTrialing &&
		cfg.TrialInvoiceAmount == config.TrialInvoiceZero
	lines, err := s.buildLines(ctx, tx, subscription, invoice, zeroTrial)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		invoice.Subtotal += line.Amount
	}
	invoice.TaxAmount = 0
	invoice.Total = invoice.Subtotal + invoice.TaxAmount
	invoice.Lines = lines

	if err := s.persistNumbered(ctx, tx, invoice, cfg.InvoiceNumberMaxRetries); err != nil {
		return nil, err
	}

	s.log.Info("invoice issued",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("invoice_number", invoice.Number),
		zap.String("subscription_id", subscription.ID.String()),
		zap.Int64("total", invoice.Total),
		zap.String("currency", invoice.Currency),
	)
	return invoice, nil
}

// persistNumbered allocates the next number of the issue year and writes the
// invoice with its lines. Every attempt runs in a savepoint; a duplicate
// number rolls the attempt back, resynchronizes the counter with the stored
// numbers and tries again.
func (s *Service) persistNumbered(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, maxAttempts int) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := tx.Transaction(func(sp *gorm.DB) error {
			if attempt > 1 {
				if err := s.repo.SyncSequence(ctx, sp, invoice.NumberYear, invoice.CreatedAt); err != nil {
					return err
				}
			}
			seq, err := s.repo.NextSequence(ctx, sp, invoice.NumberYear, invoice.CreatedAt)
			if err != nil {
				return err
			}
			number, err := format.FormatInvoiceNumber(format.DefaultInvoiceNumberTemplate, invoice.IssuedAt, seq)
			if err != nil {
				return err
			}
			invoice.NumberSeq = seq
			invoice.Number = number

			if err := s.repo.Insert(ctx, sp, invoice); err != nil {
				if db.IsDuplicateKeyErr(err) {
					return invoicedomain.ErrNumberConflict
				}
				return err
			}
			return s.repo.InsertLines(ctx, sp, invoice.Lines)
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, invoicedomain.ErrNumberConflict) {
			return err
		}
		s.log.Warn("invoice number conflict",
			zap.String("invoice_number", invoice.Number),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
		)
	}

	invoice.Number = ""
	invoice.NumberSeq = 0
	return invoicedomain.ErrNumberConflict
}

func (s *Service) buildLines(
	ctx context.Context,
	tx *gorm.DB,
	subscription *subscriptiondomain.Subscription,
	invoice *invoicedomain.Invoice,
	zeroTrial bool,
) ([]invoicedomain.InvoiceLine, error) {
	items, err := s.subscriptionRepo.ListItems(ctx, tx, subscription.ID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, invoicedomain.ErrMissingItems
	}

	plan, err := s.priceRepo.FindPlanByID(ctx, tx, subscription.PlanID)
	if err != nil {
		return nil, err
	}
	planName := "Subscription"
	if plan != nil {
		planName = plan.Name
	}

	lines := make([]invoicedomain.InvoiceLine, 0, len(items))
	for _, item := range items {
		price, err := s.priceRepo.FindPriceByID(ctx, tx, item.PriceID)
		if err != nil {
			return nil, err
		}
		if price == nil {
			return nil, invoicedomain.ErrMissingPrice
		}

		description := fmt.Sprintf("%s (%s)", planName, price.BillingPeriod)
		unitAmount := price.UnitAmount
		if zeroTrial {
			description += " - trial"
			unitAmount = 0
		}
		lines = append(lines, invoicedomain.InvoiceLine{
			ID:                 s.genID.Generate(),
			InvoiceID:          invoice.ID,
			SubscriptionItemID: item.ID,
			Description:        description,
			Quantity:           item.Quantity,
			UnitAmount:         unitAmount,
			Amount:             unitAmount * item.Quantity,
			CreatedAt:          invoice.CreatedAt,
		})
	}
	return lines, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	if id == 0 {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	invoice, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	lines, err := s.repo.ListLines(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	invoice.Lines = lines
	return invoice, nil
}

func (s *Service) ListBySubscription(ctx context.Context, subscriptionID snowflake.ID) ([]invoicedomain.Invoice, error) {
	if subscriptionID == 0 {
		return nil, invoicedomain.ErrSubscriptionNotFound
	}
	return s.list(ctx, &invoicedomain.Invoice{SubscriptionID: subscriptionID})
}

// ListByAccount returns the billing history of an account, newest first.
func (s *Service) ListByAccount(ctx context.Context, accountID snowflake.ID) ([]invoicedomain.Invoice, error) {
	if accountID == 0 {
		return []invoicedomain.Invoice{}, nil
	}
	return s.list(ctx, &invoicedomain.Invoice{AccountID: accountID})
}

func (s *Service) list(ctx context.Context, filter *invoicedomain.Invoice) ([]invoicedomain.Invoice, error) {
	items, err := s.invoicerepo.Find(ctx, filter,
		option.WithOrder("issued_at", true),
		option.WithOrder("number_seq", true),
	)
	if err != nil {
		return nil, err
	}
	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		invoices = append(invoices, *item)
	}
	return invoices, nil
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}
