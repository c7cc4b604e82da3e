package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/internal/clock"
	"github.com/smallbiznis/meterly/internal/ratelimit"
	"github.com/smallbiznis/meterly/internal/storetest"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/meterly/internal/subscription/repository"
	usagedomain "github.com/smallbiznis/meterly/internal/usage/domain"
	"github.com/smallbiznis/meterly/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type limiterMock struct {
	mock.Mock
}

func (m *limiterMock) AllowAccount(ctx context.Context, accountID string) (ratelimit.Result, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(ratelimit.Result), args.Error(1)
}

type fixture struct {
	db           *gorm.DB
	clock        *clock.FakeClock
	svc          usagedomain.Service
	accountID    snowflake.ID
	subscription subscriptiondomain.Subscription
}

var day = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, limiter IngestLimiter) *fixture {
	t.Helper()

	db := storetest.Open(t)
	node := storetest.Node(t)
	clk := clock.NewFakeClock(day.Add(10 * time.Hour))

	account := storetest.SeedAccount(t, db, node, "Acme Corp")
	plan := storetest.SeedPlan(t, db, node, "pro", 0)
	sub := storetest.SeedSubscription(t, db, node, account.ID, plan.ID, subscriptiondomain.SubscriptionStatusActive, day)

	svc := NewService(ServiceParam{
		DB:               db,
		Log:              zap.NewNop(),
		GenID:            node,
		Clock:            clk,
		Repo:             repository.Provide(),
		SubscriptionRepo: subscriptionrepository.Provide(),
		Limiter:          limiter,
	})

	return &fixture{db: db, clock: clk, svc: svc, accountID: account.ID, subscription: sub}
}

func (f *fixture) log(t *testing.T, meter string, quantity int64, at time.Time) {
	t.Helper()
	_, err := f.svc.LogUsage(context.Background(), usagedomain.LogRequest{
		AccountID:      f.accountID,
		SubscriptionID: f.subscription.ID,
		MeterCode:      meter,
		Quantity:       quantity,
		OccurredAt:     at,
	})
	require.NoError(t, err)
}

func TestLogUsageValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		req  usagedomain.LogRequest
		want error
	}{
		{
			name: "zero quantity",
			req:  usagedomain.LogRequest{AccountID: f.accountID, SubscriptionID: f.subscription.ID, MeterCode: "api_calls", Quantity: 0},
			want: usagedomain.ErrInvalidQuantity,
		},
		{
			name: "negative quantity",
			req:  usagedomain.LogRequest{AccountID: f.accountID, SubscriptionID: f.subscription.ID, MeterCode: "api_calls", Quantity: -3},
			want: usagedomain.ErrInvalidQuantity,
		},
		{
			name: "blank meter",
			req:  usagedomain.LogRequest{AccountID: f.accountID, SubscriptionID: f.subscription.ID, MeterCode: "  ", Quantity: 1},
			want: usagedomain.ErrInvalidMeterCode,
		},
		{
			name: "unknown subscription",
			req:  usagedomain.LogRequest{AccountID: f.accountID, SubscriptionID: 12345, MeterCode: "api_calls", Quantity: 1},
			want: usagedomain.ErrSubscriptionNotFound,
		},
		{
			name: "foreign account",
			req:  usagedomain.LogRequest{AccountID: f.accountID + 1, SubscriptionID: f.subscription.ID, MeterCode: "api_calls", Quantity: 1},
			want: usagedomain.ErrSubscriptionNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.LogUsage(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	var count int64
	require.NoError(t, f.db.Model(&usagedomain.UsageEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestLogUsageDefaultsOccurredAtToNow(t *testing.T) {
	f := newFixture(t, nil)

	event, err := f.svc.LogUsage(context.Background(), usagedomain.LogRequest{
		AccountID:      f.accountID,
		SubscriptionID: f.subscription.ID,
		MeterCode:      " api_calls ",
		Quantity:       5,
	})
	require.NoError(t, err)
	assert.Equal(t, "api_calls", event.MeterCode)
	assert.True(t, event.OccurredAt.Equal(f.clock.Now()))
}

func TestRollupSumsTheDay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.log(t, "api_calls", 37, day.Add(10*time.Hour))

	aggregate, err := f.svc.Rollup(ctx, f.subscription.ID, "api_calls", day.Add(15*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(37), aggregate.Quantity)
	assert.True(t, aggregate.Day.Equal(day))
}

func TestRollupIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.log(t, "api_calls", 10, day.Add(time.Hour))
	f.log(t, "api_calls", 20, day.Add(23*time.Hour+59*time.Minute))
	f.log(t, "api_calls", 99, day.AddDate(0, 0, 1))
	f.log(t, "api_calls", 99, day.Add(-time.Microsecond))
	f.log(t, "storage_gb", 4, day.Add(2*time.Hour))

	first, err := f.svc.Rollup(ctx, f.subscription.ID, "api_calls", day)
	require.NoError(t, err)
	second, err := f.svc.Rollup(ctx, f.subscription.ID, "api_calls", day)
	require.NoError(t, err)

	assert.Equal(t, int64(30), first.Quantity)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Quantity, second.Quantity)

	var rows int64
	require.NoError(t, f.db.Model(&usagedomain.UsageAggregate{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestRollupPicksUpBackdatedEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.log(t, "api_calls", 10, day.Add(time.Hour))
	_, err := f.svc.Rollup(ctx, f.subscription.ID, "api_calls", day)
	require.NoError(t, err)

	f.log(t, "api_calls", 5, day.Add(2*time.Hour))
	aggregate, err := f.svc.Rollup(ctx, f.subscription.ID, "api_calls", day)
	require.NoError(t, err)
	assert.Equal(t, int64(15), aggregate.Quantity)
}

func TestRollupEmptyBucketStoresZero(t *testing.T) {
	f := newFixture(t, nil)

	aggregate, err := f.svc.Rollup(context.Background(), f.subscription.ID, "api_calls", day)
	require.NoError(t, err)
	assert.Zero(t, aggregate.Quantity)

	got, err := f.svc.GetAggregate(context.Background(), f.subscription.ID, "api_calls", day)
	require.NoError(t, err)
	assert.Equal(t, aggregate.ID, got.ID)
}

func TestGetAggregateMissing(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.GetAggregate(context.Background(), f.subscription.ID, "api_calls", day)
	assert.ErrorIs(t, err, usagedomain.ErrAggregateNotFound)
}

func TestRollupDayCoversEveryKey(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.log(t, "api_calls", 3, day.Add(time.Hour))
	f.log(t, "api_calls", 4, day.Add(5*time.Hour))
	f.log(t, "storage_gb", 2, day.Add(2*time.Hour))
	f.log(t, "seats", 1, day.AddDate(0, 0, 1))

	rolled, err := f.svc.RollupDay(ctx, day.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, rolled)

	calls, err := f.svc.GetAggregate(ctx, f.subscription.ID, "api_calls", day)
	require.NoError(t, err)
	assert.Equal(t, int64(7), calls.Quantity)

	storage, err := f.svc.GetAggregate(ctx, f.subscription.ID, "storage_gb", day)
	require.NoError(t, err)
	assert.Equal(t, int64(2), storage.Quantity)

	_, err = f.svc.GetAggregate(ctx, f.subscription.ID, "seats", day)
	assert.ErrorIs(t, err, usagedomain.ErrAggregateNotFound)
}

func TestListEventsNewestFirst(t *testing.T) {
	f := newFixture(t, nil)

	f.log(t, "api_calls", 1, day.Add(time.Hour))
	f.log(t, "api_calls", 2, day.Add(3*time.Hour))
	f.log(t, "storage_gb", 9, day.Add(2*time.Hour))

	events, err := f.svc.ListEvents(context.Background(), usagedomain.ListEventsRequest{
		SubscriptionID: f.subscription.ID,
		MeterCode:      "api_calls",
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Quantity)
	assert.Equal(t, int64(1), events[1].Quantity)
}

func TestLogUsageRateLimited(t *testing.T) {
	limiter := &limiterMock{}
	f := newFixture(t, limiter)
	limiter.On("AllowAccount", mock.Anything, f.accountID.String()).
		Return(ratelimit.Result{Allowed: false, RetryAfter: time.Second}, nil).Once()

	_, err := f.svc.LogUsage(context.Background(), usagedomain.LogRequest{
		AccountID:      f.accountID,
		SubscriptionID: f.subscription.ID,
		MeterCode:      "api_calls",
		Quantity:       1,
	})
	assert.ErrorIs(t, err, usagedomain.ErrRateLimited)
	limiter.AssertExpectations(t)
}

func TestLogUsageFailsOpenWhenLimiterErrors(t *testing.T) {
	limiter := &limiterMock{}
	f := newFixture(t, limiter)
	limiter.On("AllowAccount", mock.Anything, f.accountID.String()).
		Return(ratelimit.Result{}, errors.New("dial tcp: connection refused")).Once()

	f.log(t, "api_calls", 1, time.Time{})
	limiter.AssertExpectations(t)
}
