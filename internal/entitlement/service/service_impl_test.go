package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/internal/cache"
	"github.com/smallbiznis/meterly/internal/clock"
	entitlementdomain "github.com/smallbiznis/meterly/internal/entitlement/domain"
	pricedomain "github.com/smallbiznis/meterly/internal/price/domain"
	pricerepository "github.com/smallbiznis/meterly/internal/price/repository"
	priceservice "github.com/smallbiznis/meterly/internal/price/service"
	"github.com/smallbiznis/meterly/internal/storetest"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/meterly/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	svc     entitlementdomain.Service
	prices  pricedomain.Service
	account snowflake.ID
	plan    pricedomain.Plan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := storetest.Open(t)
	node := storetest.Node(t)
	account := storetest.SeedAccount(t, db, node, "Acme Corp")
	plan := storetest.SeedPlan(t, db, node, "pro", 0)
	storetest.SeedFeature(t, db, node, plan.ID, "seats", `25`)
	storetest.SeedFeature(t, db, node, plan.ID, "sso", `true`)

	features := cache.NewPlanFeatureCache(16, time.Minute)
	priceRepo := pricerepository.Provide()

	return &fixture{
		db:   db,
		node: node,
		svc: New(Params{
			DB:               db,
			Log:              zap.NewNop(),
			SubscriptionRepo: subscriptionrepository.Provide(),
			PriceRepo:        priceRepo,
			Cache:            features,
		}),
		prices: priceservice.New(priceservice.Params{
			DB:    db,
			Log:   zap.NewNop(),
			GenID: node,
			Clock: clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
			Repo:  priceRepo,
			Cache: features,
		}),
		account: account.ID,
		plan:    plan,
	}
}

func (f *fixture) subscription(t *testing.T, status subscriptiondomain.SubscriptionStatus) subscriptiondomain.Subscription {
	t.Helper()
	return storetest.SeedSubscription(t, f.db, f.node, f.account, f.plan.ID, status, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestEvaluateReturnsPlanValue(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, subscriptiondomain.SubscriptionStatusActive)

	got, err := f.svc.Evaluate(context.Background(), sub.ID, "seats")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "seats", got.FeatureKey)
	assert.Equal(t, "25", got.Raw())
}

func TestEvaluateTrialingAndPastDueStayEntitled(t *testing.T) {
	f := newFixture(t)
	for _, status := range []subscriptiondomain.SubscriptionStatus{
		subscriptiondomain.SubscriptionStatusTrialing,
		subscriptiondomain.SubscriptionStatusPastDue,
	} {
		sub := f.subscription(t, status)
		got, err := f.svc.Evaluate(context.Background(), sub.ID, "sso")
		require.NoError(t, err)
		require.NotNil(t, got, string(status))
		on, err := got.Bool()
		require.NoError(t, err)
		assert.True(t, on)
	}
}

func TestEvaluateCanceledIsNil(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, subscriptiondomain.SubscriptionStatusCanceled)

	got, err := f.svc.Evaluate(context.Background(), sub.ID, "seats")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEvaluateUnknownSubscriptionOrFeatureIsNil(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, subscriptiondomain.SubscriptionStatusActive)

	got, err := f.svc.Evaluate(context.Background(), f.node.Generate(), "seats")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = f.svc.Evaluate(context.Background(), sub.ID, "audit_log")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEvaluateSeesFeatureChangesThroughCache(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, subscriptiondomain.SubscriptionStatusActive)
	ctx := context.Background()

	got, err := f.svc.Evaluate(ctx, sub.ID, "audit_log")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = f.prices.SetFeature(ctx, pricedomain.SetFeatureRequest{PlanCode: "pro", FeatureKey: "audit_log", Value: true})
	require.NoError(t, err)

	got, err = f.svc.Evaluate(ctx, sub.ID, "audit_log")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "true", got.Raw())
}

func TestEvaluateReadsSubscriptionStateFresh(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, subscriptiondomain.SubscriptionStatusActive)
	ctx := context.Background()

	got, err := f.svc.Evaluate(ctx, sub.ID, "seats")
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, f.db.Exec(`UPDATE subscriptions SET status = ? WHERE id = ?`, subscriptiondomain.SubscriptionStatusCanceled, sub.ID).Error)

	got, err = f.svc.Evaluate(ctx, sub.ID, "seats")
	require.NoError(t, err)
	assert.Nil(t, got)
}
