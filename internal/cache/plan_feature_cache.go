package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	pricedomain "github.com/smallbiznis/meterly/internal/price/domain"
	"gorm.io/datatypes"
)

const (
	defaultPlanFeatureEntries = 4096
	defaultPlanFeatureTTL     = time.Minute
)

// PlanFeatureCache holds plan feature lookups, including misses, for a
// bounded time. Subscription state is never cached here.
type PlanFeatureCache interface {
	Get(planID snowflake.ID, featureKey string) (*pricedomain.PlanFeature, bool)
	Set(planID snowflake.ID, featureKey string, feature *pricedomain.PlanFeature)
	Invalidate(planID snowflake.ID, featureKey string)
}

type planFeatureEntry struct {
	feature *pricedomain.PlanFeature
}

type planFeatureCache struct {
	entries *lru.LRU[string, planFeatureEntry]
}

func NewPlanFeatureCache(size int, ttl time.Duration) PlanFeatureCache {
	if size <= 0 {
		size = defaultPlanFeatureEntries
	}
	if ttl <= 0 {
		ttl = defaultPlanFeatureTTL
	}
	return &planFeatureCache{
		entries: lru.NewLRU[string, planFeatureEntry](size, nil, ttl),
	}
}

func NewDefaultPlanFeatureCache() PlanFeatureCache {
	return NewPlanFeatureCache(defaultPlanFeatureEntries, defaultPlanFeatureTTL)
}

// Get reports a cached feature; a nil feature with ok=true is a cached miss.
func (c *planFeatureCache) Get(planID snowflake.ID, featureKey string) (*pricedomain.PlanFeature, bool) {
	entry, ok := c.entries.Get(cacheKey(planID, featureKey))
	if !ok {
		return nil, false
	}
	return cloneFeature(entry.feature), true
}

func (c *planFeatureCache) Set(planID snowflake.ID, featureKey string, feature *pricedomain.PlanFeature) {
	c.entries.Add(cacheKey(planID, featureKey), planFeatureEntry{feature: cloneFeature(feature)})
}

func (c *planFeatureCache) Invalidate(planID snowflake.ID, featureKey string) {
	c.entries.Remove(cacheKey(planID, featureKey))
}

// cloneFeature copies the feature together with its JSON value so neither
// side can mutate the other's bytes.
func cloneFeature(feature *pricedomain.PlanFeature) *pricedomain.PlanFeature {
	if feature == nil {
		return nil
	}
	copied := *feature
	if feature.Value != nil {
		copied.Value = append(datatypes.JSON(nil), feature.Value...)
	}
	return &copied
}

func cacheKey(planID snowflake.ID, featureKey string) string {
	return fmt.Sprintf("%d:%s", planID, strings.TrimSpace(featureKey))
}
