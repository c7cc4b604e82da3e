package cache

import (
	"testing"
	"time"

	pricedomain "github.com/smallbiznis/meterly/internal/price/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestPlanFeatureCacheHitMissAndInvalidate(t *testing.T) {
	c := NewPlanFeatureCache(8, time.Minute)

	_, ok := c.Get(1, "seats")
	assert.False(t, ok)

	c.Set(1, "seats", &pricedomain.PlanFeature{ID: 10, PlanID: 1, FeatureKey: "seats", Value: datatypes.JSON(`5`)})
	got, ok := c.Get(1, "seats")
	require.True(t, ok)
	require.NotNil(t, got)
	assert.Equal(t, "5", string(got.Value))

	c.Set(1, "sso", nil)
	got, ok = c.Get(1, "sso")
	assert.True(t, ok)
	assert.Nil(t, got)

	c.Invalidate(1, "seats")
	_, ok = c.Get(1, "seats")
	assert.False(t, ok)
}

func TestPlanFeatureCacheReturnsCopies(t *testing.T) {
	c := NewPlanFeatureCache(8, time.Minute)
	source := &pricedomain.PlanFeature{ID: 20, FeatureKey: "seats", Value: datatypes.JSON(`10`)}
	c.Set(2, "seats", source)
	source.FeatureKey = "changed"
	source.Value[0] = '9'

	first, ok := c.Get(2, "seats")
	require.True(t, ok)
	assert.Equal(t, "seats", first.FeatureKey)
	assert.Equal(t, "10", string(first.Value))

	first.FeatureKey = "mutated"
	first.Value[1] = '5'

	second, ok := c.Get(2, "seats")
	require.True(t, ok)
	assert.Equal(t, "seats", second.FeatureKey)
	assert.Equal(t, "10", string(second.Value))
}

func TestPlanFeatureCacheExpires(t *testing.T) {
	c := NewPlanFeatureCache(8, 20*time.Millisecond)
	c.Set(3, "seats", &pricedomain.PlanFeature{ID: 30})

	assert.Eventually(t, func() bool {
		_, ok := c.Get(3, "seats")
		return !ok
	}, time.Second, 10*time.Millisecond)
}
