package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/eladsnd/sunday/domain"
)

type ruleBackend interface {
	InsertRule(ctx context.Context, r domain.AutomationRule) error
	ListRules(ctx context.Context, boardID string) ([]domain.AutomationRule, error)
	GetRule(ctx context.Context, id string) (domain.AutomationRule, error)
	DeleteRule(ctx context.Context, id string) (domain.AutomationRule, error)
}

// RuleCache wraps a rule store with a Redis read-through cache of each
// board's rule list. Writes go to the backing store first and then evict.
type RuleCache struct {
	base  ruleBackend
	redis *redis.Client
	ttl   time.Duration
	group singleflight.Group
}

// NewRuleCache creates a caching wrapper using the provided Redis client and TTL.
func NewRuleCache(base ruleBackend, client *redis.Client, ttl time.Duration) *RuleCache {
	if base == nil {
		panic("storage.NewRuleCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RuleCache{base: base, redis: client, ttl: ttl}
}

func (c *RuleCache) ListRules(ctx context.Context, boardID string) ([]domain.AutomationRule, error) {
	if rules, ok := c.load(ctx, boardID); ok {
		return rules, nil
	}
	// Concurrent misses for one board share a single database read.
	v, err, _ := c.group.Do(boardID, func() (any, error) {
		rules, err := c.base.ListRules(ctx, boardID)
		if err != nil {
			return nil, err
		}
		c.store(ctx, boardID, rules)
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.AutomationRule), nil
}

func (c *RuleCache) GetRule(ctx context.Context, id string) (domain.AutomationRule, error) {
	return c.base.GetRule(ctx, id)
}

func (c *RuleCache) InsertRule(ctx context.Context, r domain.AutomationRule) error {
	if err := c.base.InsertRule(ctx, r); err != nil {
		return err
	}
	c.EvictBoard(ctx, r.BoardID)
	return nil
}

func (c *RuleCache) DeleteRule(ctx context.Context, id string) (domain.AutomationRule, error) {
	removed, err := c.base.DeleteRule(ctx, id)
	if err != nil {
		return removed, err
	}
	c.EvictBoard(ctx, removed.BoardID)
	return removed, nil
}

// EvictBoard drops the cached rule list of a board.
func (c *RuleCache) EvictBoard(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, rulesCacheKey(boardID)).Err()
}

func (c *RuleCache) load(ctx context.Context, boardID string) ([]domain.AutomationRule, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, rulesCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, rulesCacheKey(boardID)).Err()
		}
		return nil, false
	}
	var rules []domain.AutomationRule
	if err := sonic.Unmarshal(data, &rules); err != nil {
		_ = c.redis.Del(ctx, rulesCacheKey(boardID)).Err()
		return nil, false
	}
	return rules, true
}

func (c *RuleCache) store(ctx context.Context, boardID string, rules []domain.AutomationRule) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(rules)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, rulesCacheKey(boardID), data, c.ttl).Err()
}

func rulesCacheKey(boardID string) string {
	return "rules:" + boardID
}
