package data

import (
	"time"

	"GradeLane/internal/model"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	rubricCacheSize = 256
	rubricCacheTTL  = 10 * time.Minute
)

// RubricCache memoizes parsed rubric criteria. Rubrics change rarely but
// are re-read on every task, so decoding the JSON column once per TTL
// keeps the hot path off encoding/json.
type RubricCache struct {
	lru *expirable.LRU[string, []model.Criterion]
}

// NewRubricCache creates the cache.
func NewRubricCache() *RubricCache {
	return &RubricCache{
		lru: expirable.NewLRU[string, []model.Criterion](rubricCacheSize, nil, rubricCacheTTL),
	}
}

// Criteria returns the parsed criteria for a rubric row, from cache when
// the row's UpdatedAt still matches the cached entry.
func (c *RubricCache) Criteria(row *RubricRow) ([]model.Criterion, error) {
	key := cacheKey(row)
	if criteria, ok := c.lru.Get(key); ok {
		return criteria, nil
	}

	criteria, err := model.ParseCriteria(row.Criteria)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, criteria)
	return criteria, nil
}

// Invalidate drops every cached version of one rubric. Versioned keys age
// out on their own; this is for tests and admin edits.
func (c *RubricCache) Invalidate(rubricID string) {
	for _, key := range c.lru.Keys() {
		if len(key) >= len(rubricID) && key[:len(rubricID)] == rubricID {
			c.lru.Remove(key)
		}
	}
}

// cacheKey versions the cache entry by the row's update time, so an edited
// rubric is re-parsed without explicit invalidation.
func cacheKey(row *RubricRow) string {
	return row.ID + "@" + row.UpdatedAt.UTC().Format(time.RFC3339Nano)
}
