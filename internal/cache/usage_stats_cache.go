package cache

import (
	"strconv"
	"strings"
	"time"

	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
)

const (
	defaultStatsTTL    = 30 * time.Second
	defaultTopUsersTTL = 30 * time.Second
	defaultModelsTTL   = time.Minute
)

// UsageStatsCache stores admin dashboard aggregates. Reads may lag the
// ledger by up to the entry TTL; quota decisions never go through it.
type UsageStatsCache interface {
	GetStats(period usagedomain.Period) (usagedomain.PeriodStats, bool)
	SetStats(period usagedomain.Period, stats usagedomain.PeriodStats)
	GetTopUsers(period usagedomain.Period, limit int) ([]usagedomain.UserUsage, bool)
	SetTopUsers(period usagedomain.Period, limit int, users []usagedomain.UserUsage)
	GetCostByModel(period usagedomain.Period) ([]usagedomain.ModelUsage, bool)
	SetCostByModel(period usagedomain.Period, models []usagedomain.ModelUsage)
}

type usageStatsCache struct {
	stats       Cache[string, usagedomain.PeriodStats]
	topUsers    Cache[string, []usagedomain.UserUsage]
	models      Cache[string, []usagedomain.ModelUsage]
	statsTTL    time.Duration
	topUsersTTL time.Duration
	modelsTTL   time.Duration
}

func NewUsageStatsCache() UsageStatsCache {
	return newUsageStatsCache(time.Now)
}

func newUsageStatsCache(now func() time.Time) *usageStatsCache {
	return &usageStatsCache{
		stats:       newTTLCacheWithClock[string, usagedomain.PeriodStats](now),
		topUsers:    newTTLCacheWithClock[string, []usagedomain.UserUsage](now),
		models:      newTTLCacheWithClock[string, []usagedomain.ModelUsage](now),
		statsTTL:    defaultStatsTTL,
		topUsersTTL: defaultTopUsersTTL,
		modelsTTL:   defaultModelsTTL,
	}
}

func (c *usageStatsCache) GetStats(period usagedomain.Period) (usagedomain.PeriodStats, bool) {
	return c.stats.Get(cacheKey(string(period)))
}

func (c *usageStatsCache) SetStats(period usagedomain.Period, stats usagedomain.PeriodStats) {
	c.stats.Set(cacheKey(string(period)), stats, c.statsTTL)
}

func (c *usageStatsCache) GetTopUsers(period usagedomain.Period, limit int) ([]usagedomain.UserUsage, bool) {
	return c.topUsers.Get(cacheKey(string(period), strconv.Itoa(limit)))
}

func (c *usageStatsCache) SetTopUsers(period usagedomain.Period, limit int, users []usagedomain.UserUsage) {
	if users == nil {
		return
	}
	c.topUsers.Set(cacheKey(string(period), strconv.Itoa(limit)), users, c.topUsersTTL)
}

func (c *usageStatsCache) GetCostByModel(period usagedomain.Period) ([]usagedomain.ModelUsage, bool) {
	return c.models.Get(cacheKey(string(period)))
}

func (c *usageStatsCache) SetCostByModel(period usagedomain.Period, models []usagedomain.ModelUsage) {
	if models == nil {
		return
	}
	c.models.Set(cacheKey(string(period)), models, c.modelsTTL)
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
