// Package storetest opens throwaway SQLite databases carrying the production
// schema, plus seed helpers for reference data.
package storetest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/gosimple/slug"
	accountdomain "github.com/smallbiznis/meterly/internal/account/domain"
	"github.com/smallbiznis/meterly/internal/migration"
	"github.com/smallbiznis/meterly/internal/period"
	pricedomain "github.com/smallbiznis/meterly/internal/price/domain"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// Open returns an in-memory database private to the test. The pool holds a
// single connection, so concurrent callers queue on it the way writers queue
// on a row lock.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", name, dbSeq.Add(1))

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.ApplySQLiteSchema(conn); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return conn
}

func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func SeedAccount(t testing.TB, conn *gorm.DB, node *snowflake.Node, name string) accountdomain.Account {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	account := accountdomain.Account{
		ID:        node.Generate(),
		Name:      name,
		Slug:      slug.Make(name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := conn.Create(&account).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return account
}

func SeedPlan(t testing.TB, conn *gorm.DB, node *snowflake.Node, code string, trialDays int) pricedomain.Plan {
	t.Helper()
	plan := pricedomain.Plan{
		ID:        node.Generate(),
		Code:      code,
		Name:      strings.ToUpper(code[:1]) + code[1:],
		TrialDays: trialDays,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := conn.Create(&plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	return plan
}

func SeedPrice(t testing.TB, conn *gorm.DB, node *snowflake.Node, planID snowflake.ID, billingPeriod period.BillingPeriod, unitAmount int64) pricedomain.Price {
	t.Helper()
	price := pricedomain.Price{
		ID:            node.Generate(),
		PlanID:        planID,
		BillingPeriod: billingPeriod,
		IntervalCount: 1,
		UnitAmount:    unitAmount,
		Currency:      "usd",
		Active:        true,
		CreatedAt:     time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := conn.Create(&price).Error; err != nil {
		t.Fatalf("seed price: %v", err)
	}
	return price
}

// SeedFeature stores rawJSON verbatim as the plan's value for key.
func SeedFeature(t testing.TB, conn *gorm.DB, node *snowflake.Node, planID snowflake.ID, key, rawJSON string) pricedomain.PlanFeature {
	t.Helper()
	feature := pricedomain.PlanFeature{
		ID:         node.Generate(),
		PlanID:     planID,
		FeatureKey: key,
		Value:      datatypes.JSON(rawJSON),
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := conn.Create(&feature).Error; err != nil {
		t.Fatalf("seed feature: %v", err)
	}
	return feature
}

// SeedSubscription stores a monthly subscription in the given status whose
// current period is [start, start+1 month).
func SeedSubscription(t testing.TB, conn *gorm.DB, node *snowflake.Node, accountID, planID snowflake.ID, status subscriptiondomain.SubscriptionStatus, start time.Time) subscriptiondomain.Subscription {
	t.Helper()
	start = start.UTC().Truncate(time.Microsecond)
	subscription := subscriptiondomain.Subscription{
		ID:                 node.Generate(),
		AccountID:          accountID,
		PlanID:             planID,
		Status:             status,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   start.AddDate(0, 1, 0),
		BillingPeriod:      period.Month,
		IntervalCount:      1,
		DefaultCurrency:    "usd",
		CreatedAt:          start,
		UpdatedAt:          start,
	}
	if status == subscriptiondomain.SubscriptionStatusCanceled {
		subscription.CanceledAt = &start
	}
	if err := conn.Create(&subscription).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return subscription
}
