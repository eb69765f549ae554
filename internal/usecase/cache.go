package usecase

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"RiskScanner/internal/domain"
)

const defaultCacheEntries = 1024

// AssessmentCache keeps finished assessments for a short TTL so repeated
// queries for the same company, window length and source set skip the fan-out.
type AssessmentCache struct {
	cache *ristretto.Cache[string, Assessment]
	ttl   time.Duration
}

// NewAssessmentCache returns nil when ttl is not positive, which disables caching.
func NewAssessmentCache(ttl time.Duration, maxEntries int64) (*AssessmentCache, error) {
	if ttl <= 0 {
		return nil, nil
	}
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	// Every entry costs 1, so MaxCost is an entry count.
	cache, err := ristretto.NewCache(&ristretto.Config[string, Assessment]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("assessment cache: %w", err)
	}
	return &AssessmentCache{cache: cache, ttl: ttl}, nil
}

func (c *AssessmentCache) get(key string) (Assessment, bool) {
	if c == nil {
		return Assessment{}, false
	}
	return c.cache.Get(key)
}

func (c *AssessmentCache) put(key string, a Assessment) {
	if c == nil {
		return
	}
	c.cache.SetWithTTL(key, a, 1, c.ttl)
	c.cache.Wait()
}

// Close stops the cache's background goroutines.
func (c *AssessmentCache) Close() {
	if c != nil {
		c.cache.Close()
	}
}

// cacheKey ignores the order sources were requested in.
func cacheKey(companyID string, daysBack int, kinds []domain.SourceKind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	slices.Sort(names)
	return fmt.Sprintf("%s|%d|%s", companyID, daysBack, strings.Join(names, ","))
}
