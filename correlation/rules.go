package correlation

import (
	"context"
	"sync"
	"time"

	"watchtower/core"
	"watchtower/metrics"
	"watchtower/storage"

	"go.uber.org/zap"
)

// RuleCache holds the enabled rule set. It reloads when the store
// revision moves, when invalidated, or when older than maxAge.
type RuleCache struct {
	store  storage.RuleStore
	maxAge time.Duration
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	rules    []core.CorrelationRule
	revision int64
	loadedAt time.Time
	loaded   bool
}

// NewRuleCache creates an empty cache; the first Active call loads it.
// A non-positive maxAge disables age-based reloads.
func NewRuleCache(store storage.RuleStore, maxAge time.Duration, logger *zap.SugaredLogger) *RuleCache {
	return &RuleCache{store: store, maxAge: maxAge, logger: logger}
}

// Invalidate forces a reload on the next evaluation
func (c *RuleCache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}

// Active returns the enabled rules, reloading them if they are stale.
// The returned slice must not be modified.
func (c *RuleCache) Active(ctx context.Context) ([]core.CorrelationRule, error) {
	rev, err := c.store.Revision(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	fresh := c.loaded && c.revision == rev && (c.maxAge <= 0 || time.Since(c.loadedAt) < c.maxAge)
	rules := c.rules
	c.mu.RUnlock()
	if fresh {
		return rules, nil
	}

	return c.reload(ctx, rev)
}

func (c *RuleCache) reload(ctx context.Context, rev int64) ([]core.CorrelationRule, error) {
	rules, err := c.store.ListRules(ctx, true)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = rules
	c.revision = rev
	c.loadedAt = time.Now()
	c.loaded = true
	metrics.RulesLoaded.Set(float64(len(rules)))
	c.logger.Debugw("Correlation rules reloaded", "count", len(rules), "revision", rev)
	return rules, nil
}
