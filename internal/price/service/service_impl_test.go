package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/meterly/internal/cache"
	"github.com/smallbiznis/meterly/internal/clock"
	"github.com/smallbiznis/meterly/internal/period"
	pricedomain "github.com/smallbiznis/meterly/internal/price/domain"
	"github.com/smallbiznis/meterly/internal/price/repository"
	"github.com/smallbiznis/meterly/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, features cache.PlanFeatureCache) pricedomain.Service {
	t.Helper()
	return New(Params{
		DB:    storetest.Open(t),
		Log:   zap.NewNop(),
		GenID: storetest.Node(t),
		Clock: clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
		Cache: features,
	})
}

func TestCreatePlanValidation(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		req  pricedomain.CreatePlanRequest
		want error
	}{
		{name: "empty code", req: pricedomain.CreatePlanRequest{Name: "Pro"}, want: pricedomain.ErrInvalidCode},
		{name: "empty name", req: pricedomain.CreatePlanRequest{Code: "pro"}, want: pricedomain.ErrInvalidName},
		{name: "negative trial", req: pricedomain.CreatePlanRequest{Code: "pro", Name: "Pro", TrialDays: -1}, want: pricedomain.ErrInvalidTrialDays},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreatePlan(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	plan, err := svc.CreatePlan(ctx, pricedomain.CreatePlanRequest{Code: " PRO ", Name: "Pro", TrialDays: 14})
	require.NoError(t, err)
	assert.Equal(t, "pro", plan.Code)

	_, err = svc.CreatePlan(ctx, pricedomain.CreatePlanRequest{Code: "pro", Name: "Pro again"})
	assert.ErrorIs(t, err, pricedomain.ErrPlanExists)
}

func TestCreatePriceAndResolve(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	_, err := svc.CreatePlan(ctx, pricedomain.CreatePlanRequest{Code: "pro", Name: "Pro"})
	require.NoError(t, err)

	_, err = svc.CreatePrice(ctx, pricedomain.CreatePriceRequest{PlanCode: "pro", BillingPeriod: "fortnight", UnitAmount: 100, Currency: "usd"})
	assert.ErrorIs(t, err, period.ErrInvalidPeriod)
	_, err = svc.CreatePrice(ctx, pricedomain.CreatePriceRequest{PlanCode: "pro", BillingPeriod: "month", UnitAmount: -1, Currency: "usd"})
	assert.ErrorIs(t, err, pricedomain.ErrInvalidAmount)
	_, err = svc.CreatePrice(ctx, pricedomain.CreatePriceRequest{PlanCode: "pro", BillingPeriod: "month", UnitAmount: 100, Currency: "dollars"})
	assert.ErrorIs(t, err, pricedomain.ErrInvalidCurrency)
	_, err = svc.CreatePrice(ctx, pricedomain.CreatePriceRequest{PlanCode: "ghost", BillingPeriod: "month", UnitAmount: 100, Currency: "usd"})
	assert.ErrorIs(t, err, pricedomain.ErrPlanNotFound)

	price, err := svc.CreatePrice(ctx, pricedomain.CreatePriceRequest{PlanCode: "pro", BillingPeriod: "Month", UnitAmount: 2900, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, 1, price.IntervalCount)
	assert.Equal(t, "usd", price.Currency)

	plan, resolved, err := svc.ResolvePrice(ctx, "pro", period.Month)
	require.NoError(t, err)
	assert.Equal(t, "pro", plan.Code)
	assert.Equal(t, price.ID, resolved.ID)

	_, _, err = svc.ResolvePrice(ctx, "pro", period.Year)
	assert.ErrorIs(t, err, pricedomain.ErrPriceNotFound)
	_, _, err = svc.ResolvePrice(ctx, "ghost", period.Month)
	assert.ErrorIs(t, err, pricedomain.ErrPriceNotFound)
}

func TestSetFeatureUpsertsAndInvalidates(t *testing.T) {
	features := cache.NewPlanFeatureCache(16, time.Minute)
	svc := newTestService(t, features)
	ctx := context.Background()
	plan, err := svc.CreatePlan(ctx, pricedomain.CreatePlanRequest{Code: "pro", Name: "Pro"})
	require.NoError(t, err)

	_, err = svc.SetFeature(ctx, pricedomain.SetFeatureRequest{PlanCode: "pro", FeatureKey: " ", Value: true})
	assert.ErrorIs(t, err, pricedomain.ErrInvalidFeatureKey)

	first, err := svc.SetFeature(ctx, pricedomain.SetFeatureRequest{PlanCode: "pro", FeatureKey: "seats", Value: 10})
	require.NoError(t, err)
	assert.JSONEq(t, `10`, string(first.Value))

	features.Set(plan.ID, "seats", first)
	second, err := svc.SetFeature(ctx, pricedomain.SetFeatureRequest{PlanCode: "pro", FeatureKey: "seats", Value: 25})
	require.NoError(t, err)
	assert.JSONEq(t, `25`, string(second.Value))

	_, cached := features.Get(plan.ID, "seats")
	assert.False(t, cached)

	_, err = svc.SetFeature(ctx, pricedomain.SetFeatureRequest{PlanCode: "pro", FeatureKey: "sso", Value: true})
	require.NoError(t, err)
	all, err := svc.ListFeatures(ctx, "pro")
	require.NoError(t, err)
	keys := make([]string, 0, len(all))
	for _, f := range all {
		keys = append(keys, f.FeatureKey)
	}
	assert.ElementsMatch(t, []string{"seats", "sso"}, keys)
}
