package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/meterly/internal/account/domain"
	accountrepository "github.com/smallbiznis/meterly/internal/account/repository"
	"github.com/smallbiznis/meterly/internal/clock"
	"github.com/smallbiznis/meterly/internal/period"
	pricerepository "github.com/smallbiznis/meterly/internal/price/repository"
	"github.com/smallbiznis/meterly/internal/storetest"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	"github.com/smallbiznis/meterly/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	clock   *clock.FakeClock
	svc     subscriptiondomain.Service
	account accountdomain.Account
}

func newFixture(t *testing.T, start time.Time) *fixture {
	t.Helper()

	db := storetest.Open(t)
	node := storetest.Node(t)
	clk := clock.NewFakeClock(start)

	account := storetest.SeedAccount(t, db, node, "Acme Corp")
	trial := storetest.SeedPlan(t, db, node, "pro", 14)
	storetest.SeedPrice(t, db, node, trial.ID, period.Month, 2900)
	basic := storetest.SeedPlan(t, db, node, "basic", 0)
	storetest.SeedPrice(t, db, node, basic.ID, period.Month, 900)
	storetest.SeedPrice(t, db, node, basic.ID, period.Year, 9000)

	svc := NewService(ServiceParam{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Repo:        repository.Provide(),
		AccountRepo: accountrepository.Provide(),
		PriceRepo:   pricerepository.Provide(),
	})

	return &fixture{db: db, clock: clk, svc: svc, account: account}
}

func (f *fixture) create(t *testing.T, planCode string, billingPeriod period.BillingPeriod) *subscriptiondomain.Subscription {
	t.Helper()
	sub, err := f.svc.Create(context.Background(), subscriptiondomain.CreateSubscriptionRequest{
		AccountID:     f.account.ID,
		PlanCode:      planCode,
		BillingPeriod: billingPeriod,
	})
	require.NoError(t, err)
	return sub
}

func TestCreateWithTrialStartsTrialing(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, start)

	sub := f.create(t, "pro", period.Month)

	assert.Equal(t, subscriptiondomain.SubscriptionStatusTrialing, sub.Status)
	require.NotNil(t, sub.TrialEnd)
	assert.True(t, sub.TrialEnd.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)))
	assert.True(t, sub.CurrentPeriodEnd.Equal(*sub.TrialEnd))
	assert.Equal(t, "usd", sub.DefaultCurrency)

	items, err := f.svc.ListItems(context.Background(), nil, sub.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.EqualValues(t, 1, items[0].Quantity)
}

func TestCreateWithoutTrialStartsActive(t *testing.T) {
	start := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, start)

	sub := f.create(t, "basic", period.Month)

	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.Nil(t, sub.TrialEnd)
	assert.True(t, sub.CurrentPeriodEnd.Equal(time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)))
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		AccountID: f.account.ID, PlanCode: "pro", BillingPeriod: period.Year,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrPriceNotFound)

	_, err = f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		AccountID: f.account.ID, PlanCode: "enterprise", BillingPeriod: period.Month,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrPriceNotFound)

	_, err = f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		AccountID: f.account.ID, PlanCode: "pro", BillingPeriod: "fortnight",
	})
	assert.ErrorIs(t, err, period.ErrInvalidPeriod)

	_, err = f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		AccountID: snowflake.ID(42), PlanCode: "pro", BillingPeriod: period.Month,
	})
	assert.ErrorIs(t, err, accountdomain.ErrAccountNotFound)

	var count int64
	require.NoError(t, f.db.Model(&subscriptiondomain.Subscription{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateRollsBackWhenItemInsertFails(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	require.NoError(t, f.db.Exec(`CREATE TRIGGER reject_subscription_items BEFORE INSERT ON subscription_items
BEGIN
	SELECT RAISE(ABORT, 'subscription items rejected');
END`).Error)

	_, err := f.svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		AccountID: f.account.ID, PlanCode: "basic", BillingPeriod: period.Month,
	})
	require.Error(t, err)

	var subscriptions, items int64
	require.NoError(t, f.db.Model(&subscriptiondomain.Subscription{}).Count(&subscriptions).Error)
	require.NoError(t, f.db.Model(&subscriptiondomain.SubscriptionItem{}).Count(&items).Error)
	assert.Zero(t, subscriptions)
	assert.Zero(t, items)
}

func TestAdvancePeriodBeforeBoundaryIsNoop(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	sub := f.create(t, "pro", period.Month)

	f.clock.Advance(13 * 24 * time.Hour)
	result, err := f.svc.AdvancePeriod(context.Background(), sub.ID)
	require.NoError(t, err)

	assert.False(t, result.Advanced)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusTrialing, result.Subscription.Status)
	assert.True(t, result.Subscription.CurrentPeriodEnd.Equal(sub.CurrentPeriodEnd))
}

func TestAdvancePeriodEndsTrial(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	sub := f.create(t, "pro", period.Month)

	f.clock.Set(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	result, err := f.svc.AdvancePeriod(context.Background(), sub.ID)
	require.NoError(t, err)

	assert.True(t, result.Advanced)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, result.Subscription.Status)
	assert.True(t, result.Subscription.CurrentPeriodStart.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)))
	assert.True(t, result.Subscription.CurrentPeriodEnd.Equal(time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)))

	stored, err := f.svc.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, stored.Status)
	assert.True(t, stored.CurrentPeriodEnd.Equal(time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)))
}

func TestAdvancePeriodAfterFailedPaymentGoesPastDue(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	sub := f.create(t, "pro", period.Month)

	updated, err := f.svc.RecordPaymentOutcome(ctx, sub.ID, false)
	require.NoError(t, err)
	assert.True(t, updated.PaymentFailed)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusTrialing, updated.Status)

	f.clock.Set(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	result, err := f.svc.AdvancePeriod(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, result.Advanced)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, result.Subscription.Status)

	recovered, err := f.svc.RecordPaymentOutcome(ctx, sub.ID, true)
	require.NoError(t, err)
	assert.False(t, recovered.PaymentFailed)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, recovered.Status)
}

func TestConcurrentAdvanceAppliesOnce(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	sub := f.create(t, "basic", period.Month)
	f.clock.Set(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		advanced int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.AdvancePeriod(context.Background(), sub.ID)
			if !assert.NoError(t, err) {
				return
			}
			if result.Advanced {
				mu.Lock()
				advanced++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, advanced)
	stored, err := f.svc.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, stored.CurrentPeriodStart.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, stored.CurrentPeriodEnd.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
}

func TestStaleCompareAndSwapIsNoop(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	sub := f.create(t, "basic", period.Month)
	f.clock.Set(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	repo := repository.Provide()
	rows, err := repo.AdvancePeriod(ctx, f.db, subscriptiondomain.PeriodUpdate{
		ID:                sub.ID,
		ExpectedPeriodEnd: sub.CurrentPeriodEnd.Add(time.Hour),
		ExpectedStatus:    sub.Status,
		NewPeriodStart:    sub.CurrentPeriodEnd,
		NewPeriodEnd:      sub.CurrentPeriodEnd.AddDate(0, 1, 0),
		NewStatus:         subscriptiondomain.SubscriptionStatusActive,
		UpdatedAt:         f.clock.Now(),
	})
	require.NoError(t, err)
	assert.Zero(t, rows)

	rows, err = repo.AdvancePeriod(ctx, f.db, subscriptiondomain.PeriodUpdate{
		ID:                sub.ID,
		ExpectedPeriodEnd: sub.CurrentPeriodEnd,
		ExpectedStatus:    sub.Status,
		NewPeriodStart:    sub.CurrentPeriodEnd,
		NewPeriodEnd:      sub.CurrentPeriodEnd.AddDate(0, 1, 0),
		NewStatus:         subscriptiondomain.SubscriptionStatusActive,
		UpdatedAt:         f.clock.Now(),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, rows)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	sub := f.create(t, "basic", period.Month)

	canceled, err := f.svc.Cancel(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, canceled.Status)
	require.NotNil(t, canceled.CanceledAt)
	assert.True(t, canceled.CurrentPeriodEnd.Equal(sub.CurrentPeriodEnd))

	again, err := f.svc.Cancel(ctx, sub.ID)
	assert.ErrorIs(t, err, subscriptiondomain.ErrAlreadyCanceled)
	require.NotNil(t, again)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, again.Status)

	_, err = f.svc.Cancel(ctx, snowflake.ID(12345))
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)

	_, err = f.svc.Resume(ctx, sub.ID)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidTransition)

	f.clock.Set(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	_, err = f.svc.AdvancePeriod(ctx, sub.ID)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidTransition)
}

func TestResumePaused(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	sub := f.create(t, "basic", period.Month)
	require.NoError(t, f.db.Exec(`UPDATE subscriptions SET status = ? WHERE id = ?`,
		subscriptiondomain.SubscriptionStatusPaused, sub.ID).Error)

	resumed, err := f.svc.Resume(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, resumed.Status)
}

func TestStatusView(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	sub := f.create(t, "pro", period.Month)

	f.clock.Set(time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))
	view, err := f.svc.Status(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, view.Valid)
	assert.Equal(t, 5, view.DaysRemaining)

	f.clock.Set(time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC))
	view, err = f.svc.Status(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, view.Valid)
	assert.Zero(t, view.DaysRemaining)
}

func TestListDueSelectsBillableSubscriptions(t *testing.T) {
	f := newFixture(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	trialing := f.create(t, "pro", period.Month)
	yearly := f.create(t, "basic", period.Year)
	canceled := f.create(t, "basic", period.Month)
	_, err := f.svc.Cancel(ctx, canceled.ID)
	require.NoError(t, err)

	due, err := f.svc.ListDue(ctx, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), 0, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, trialing.ID, due[0].ID)

	next, err := f.svc.ListDue(ctx, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), trialing.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, next)

	byAccount, err := f.svc.ListByAccount(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Len(t, byAccount, 3)
	assert.NotEqual(t, yearly.ID, due[0].ID)
}
