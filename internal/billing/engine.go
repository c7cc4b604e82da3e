// Package billing exposes the engine's boundary operations. IDs cross the
// boundary as decimal strings; errors are domain sentinels or
// db.ErrStorageUnavailable.
package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/smallbiznis/meterly/internal/entitlement/domain"
	invoicedomain "github.com/smallbiznis/meterly/internal/invoice/domain"
	"github.com/smallbiznis/meterly/internal/period"
	"github.com/smallbiznis/meterly/internal/scheduler"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/meterly/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Subscriptions subscriptiondomain.Service
	Invoices      invoicedomain.Service
	Usage         usagedomain.Service
	Entitlements  entitlementdomain.Service
	Scheduler     *scheduler.Scheduler `optional:"true"`
}

type Engine struct {
	log           *zap.Logger
	subscriptions subscriptiondomain.Service
	invoices      invoicedomain.Service
	usage         usagedomain.Service
	entitlements  entitlementdomain.Service
	scheduler     *scheduler.Scheduler
}

func NewEngine(p Params) *Engine {
	return &Engine{
		log:           p.Log.Named("billing.engine"),
		subscriptions: p.Subscriptions,
		invoices:      p.Invoices,
		usage:         p.Usage,
		entitlements:  p.Entitlements,
		scheduler:     p.Scheduler,
	}
}

type SubscriptionCreated struct {
	SubscriptionID   string                                `json:"subscription_id"`
	Status           subscriptiondomain.SubscriptionStatus `json:"status"`
	CurrentPeriodEnd time.Time                             `json:"current_period_end"`
}

type Ack struct {
	OK bool `json:"ok"`
}

type EntitlementValue struct {
	// Value is the raw JSON value, nil when not entitled.
	Value *string `json:"value"`
}

type InvoiceIssued struct {
	InvoiceID string `json:"invoice_id"`
	Number    string `json:"number"`
	Total     int64  `json:"total"`
}

type BillingCycleSummary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type SubscriptionStatus struct {
	SubscriptionID   string                                `json:"subscription_id"`
	Status           subscriptiondomain.SubscriptionStatus `json:"status"`
	Valid            bool                                  `json:"valid"`
	DaysRemaining    int                                   `json:"days_remaining"`
	CurrentPeriodEnd time.Time                             `json:"current_period_end"`
	PaymentFailed    bool                                  `json:"payment_failed"`
}

func (e *Engine) CreateSubscription(ctx context.Context, accountID, planCode, billingPeriod string) (*SubscriptionCreated, error) {
	account, err := parseID(accountID)
	if err != nil {
		return nil, err
	}
	p, err := period.ParseBillingPeriod(billingPeriod)
	if err != nil {
		return nil, err
	}

	sub, err := e.subscriptions.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		AccountID:     account,
		PlanCode:      planCode,
		BillingPeriod: p,
	})
	if err != nil {
		return nil, e.mapErr("create_subscription", err)
	}
	return &SubscriptionCreated{
		SubscriptionID:   sub.ID.String(),
		Status:           sub.Status,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
	}, nil
}

// CancelSubscription succeeds for a subscription that is already canceled.
func (e *Engine) CancelSubscription(ctx context.Context, subscriptionID string) (*Ack, error) {
	id, err := parseID(subscriptionID)
	if err != nil {
		return nil, err
	}
	if _, err := e.subscriptions.Cancel(ctx, id); err != nil && !errors.Is(err, subscriptiondomain.ErrAlreadyCanceled) {
		return nil, e.mapErr("cancel_subscription", err)
	}
	return &Ack{OK: true}, nil
}

// LogUsage records the event and refreshes the aggregate of the day it
// landed in. Once the event is stored the call succeeds: a failed refresh is
// logged and left to the nightly sweep, so a retry never appends the event
// twice.
func (e *Engine) LogUsage(ctx context.Context, accountID, subscriptionID, meterCode string, quantity int64) (*Ack, error) {
	account, err := parseID(accountID)
	if err != nil {
		return nil, err
	}
	sub, err := parseID(subscriptionID)
	if err != nil {
		return nil, err
	}

	event, err := e.usage.LogUsage(ctx, usagedomain.LogRequest{
		AccountID:      account,
		SubscriptionID: sub,
		MeterCode:      meterCode,
		Quantity:       quantity,
	})
	if err != nil {
		return nil, e.mapErr("log_usage", err)
	}
	if _, err := e.usage.Rollup(ctx, event.SubscriptionID, event.MeterCode, event.OccurredAt); err != nil {
		e.log.Warn("usage rollup deferred",
			zap.String("subscription_id", event.SubscriptionID.String()),
			zap.String("meter_code", event.MeterCode),
			zap.Time("day", event.OccurredAt),
			zap.Error(err),
		)
	}
	return &Ack{OK: true}, nil
}

func (e *Engine) GetEntitlement(ctx context.Context, subscriptionID, featureKey string) (*EntitlementValue, error) {
	id, err := parseID(subscriptionID)
	if err != nil {
		return nil, err
	}
	entitlement, err := e.entitlements.Evaluate(ctx, id, featureKey)
	if err != nil {
		return nil, e.mapErr("get_entitlement", err)
	}
	if entitlement == nil {
		return &EntitlementValue{}, nil
	}
	raw := entitlement.Raw()
	return &EntitlementValue{Value: &raw}, nil
}

func (e *Engine) IssueInvoiceNow(ctx context.Context, subscriptionID string) (*InvoiceIssued, error) {
	id, err := parseID(subscriptionID)
	if err != nil {
		return nil, err
	}
	invoice, err := e.invoices.Issue(ctx, id)
	if err != nil {
		return nil, e.mapErr("issue_invoice", err)
	}
	return &InvoiceIssued{
		InvoiceID: invoice.ID.String(),
		Number:    invoice.Number,
		Total:     invoice.Total,
	}, nil
}

func (e *Engine) RunBillingCycle(ctx context.Context) (*BillingCycleSummary, error) {
	if e.scheduler == nil {
		return nil, scheduler.ErrInvalidConfig
	}
	result, err := e.scheduler.RunBillingCycle(ctx)
	if err != nil {
		return nil, e.mapErr("run_billing_cycle", err)
	}
	return &BillingCycleSummary{
		Processed: result.Processed,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
	}, nil
}

func (e *Engine) SubscriptionStatus(ctx context.Context, subscriptionID string) (*SubscriptionStatus, error) {
	id, err := parseID(subscriptionID)
	if err != nil {
		return nil, err
	}
	view, err := e.subscriptions.Status(ctx, id)
	if err != nil {
		return nil, e.mapErr("subscription_status", err)
	}
	return statusFromView(view), nil
}

// BillingHistory lists an account's invoices, newest first.
func (e *Engine) BillingHistory(ctx context.Context, accountID string) ([]invoicedomain.Invoice, error) {
	id, err := parseID(accountID)
	if err != nil {
		return nil, err
	}
	invoices, err := e.invoices.ListByAccount(ctx, id)
	if err != nil {
		return nil, e.mapErr("billing_history", err)
	}
	return invoices, nil
}

// RecordPayment applies a payment outcome reported by an external gateway.
func (e *Engine) RecordPayment(ctx context.Context, subscriptionID string, succeeded bool) (*SubscriptionStatus, error) {
	id, err := parseID(subscriptionID)
	if err != nil {
		return nil, err
	}
	if _, err := e.subscriptions.RecordPaymentOutcome(ctx, id, succeeded); err != nil {
		return nil, e.mapErr("record_payment", err)
	}
	view, err := e.subscriptions.Status(ctx, id)
	if err != nil {
		return nil, e.mapErr("record_payment", err)
	}
	return statusFromView(view), nil
}

func statusFromView(view *subscriptiondomain.StatusView) *SubscriptionStatus {
	return &SubscriptionStatus{
		SubscriptionID:   view.Subscription.ID.String(),
		Status:           view.Subscription.Status,
		Valid:            view.Valid,
		DaysRemaining:    view.DaysRemaining,
		CurrentPeriodEnd: view.Subscription.CurrentPeriodEnd,
		PaymentFailed:    view.Subscription.PaymentFailed,
	}
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}
