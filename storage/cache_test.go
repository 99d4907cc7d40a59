package storage

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/eladsnd/sunday/domain"
)

type stubRules struct {
	insertFn func(ctx context.Context, r domain.AutomationRule) error
	listFn   func(ctx context.Context, boardID string) ([]domain.AutomationRule, error)
	deleteFn func(ctx context.Context, id string) (domain.AutomationRule, error)
}

func (s *stubRules) InsertRule(ctx context.Context, r domain.AutomationRule) error {
	if s.insertFn == nil {
		return errors.New("unexpected InsertRule call")
	}
	return s.insertFn(ctx, r)
}

func (s *stubRules) ListRules(ctx context.Context, boardID string) ([]domain.AutomationRule, error) {
	if s.listFn == nil {
		return nil, errors.New("unexpected ListRules call")
	}
	return s.listFn(ctx, boardID)
}

func (s *stubRules) GetRule(ctx context.Context, id string) (domain.AutomationRule, error) {
	return domain.AutomationRule{}, errors.New("unexpected GetRule call")
}

func (s *stubRules) DeleteRule(ctx context.Context, id string) (domain.AutomationRule, error) {
	if s.deleteFn == nil {
		return domain.AutomationRule{}, errors.New("unexpected DeleteRule call")
	}
	return s.deleteFn(ctx, id)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func sampleRule(id string) domain.AutomationRule {
	return domain.AutomationRule{
		ID:            id,
		BoardID:       "b1",
		TriggerType:   domain.TriggerStatusChange,
		TriggerConfig: domain.TriggerConfig{ColumnID: "status", Value: "Done"},
		ActionType:    domain.ActionMoveToGroup,
		ActionConfig:  domain.ActionConfig{GroupID: "done"},
		CreatedAt:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRuleCacheMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	expected := []domain.AutomationRule{sampleRule("r1")}

	var calls int
	cache := NewRuleCache(&stubRules{
		listFn: func(ctx context.Context, boardID string) ([]domain.AutomationRule, error) {
			calls++
			if boardID != "b1" {
				t.Fatalf("unexpected board id: %s", boardID)
			}
			return append([]domain.AutomationRule(nil), expected...), nil
		},
	}, client, time.Minute)

	rules, err := cache.ListRules(ctx, "b1")
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if !reflect.DeepEqual(rules, expected) {
		t.Fatalf("unexpected rules: %#v", rules)
	}
	if ttl := mr.TTL(rulesCacheKey("b1")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	rules, err = cache.ListRules(ctx, "b1")
	if err != nil {
		t.Fatalf("second list: %v", err)
	}
	if !reflect.DeepEqual(rules, expected) {
		t.Fatalf("unexpected cached rules: %#v", rules)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call to backend, got %d", calls)
	}
}

func TestRuleCacheEvictsOnWrites(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	cache := NewRuleCache(&stubRules{
		listFn: func(ctx context.Context, boardID string) ([]domain.AutomationRule, error) {
			return []domain.AutomationRule{sampleRule("r1")}, nil
		},
		insertFn: func(ctx context.Context, r domain.AutomationRule) error { return nil },
		deleteFn: func(ctx context.Context, id string) (domain.AutomationRule, error) {
			return domain.AutomationRule{ID: id, BoardID: "b1"}, nil
		},
	}, client, time.Minute)

	if _, err := cache.ListRules(ctx, "b1"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !mr.Exists(rulesCacheKey("b1")) {
		t.Fatalf("expected cache entry")
	}
	if err := cache.InsertRule(ctx, sampleRule("r2")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if mr.Exists(rulesCacheKey("b1")) {
		t.Fatalf("expected insert to evict")
	}

	if _, err := cache.ListRules(ctx, "b1"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := cache.DeleteRule(ctx, "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists(rulesCacheKey("b1")) {
		t.Fatalf("expected delete to evict")
	}
}

func TestRuleCacheFailedWriteKeepsEntry(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	boom := errors.New("boom")

	cache := NewRuleCache(&stubRules{
		listFn: func(ctx context.Context, boardID string) ([]domain.AutomationRule, error) {
			return []domain.AutomationRule{}, nil
		},
		insertFn: func(ctx context.Context, r domain.AutomationRule) error { return boom },
	}, client, time.Minute)

	if _, err := cache.ListRules(ctx, "b1"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := cache.InsertRule(ctx, sampleRule("r2")); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if !mr.Exists(rulesCacheKey("b1")) {
		t.Fatalf("failed insert should not evict")
	}
}

func TestRuleCacheCorruptEntryFallsBack(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	if err := mr.Set(rulesCacheKey("b1"), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var calls int
	cache := NewRuleCache(&stubRules{
		listFn: func(ctx context.Context, boardID string) ([]domain.AutomationRule, error) {
			calls++
			return []domain.AutomationRule{sampleRule("r1")}, nil
		},
	}, client, time.Minute)

	rules, err := cache.ListRules(ctx, "b1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rules) != 1 || calls != 1 {
		t.Fatalf("expected fallback to backend, rules=%v calls=%d", rules, calls)
	}
}

func TestRuleCacheCollapsesConcurrentMisses(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	cache := NewRuleCache(&stubRules{
		listFn: func(ctx context.Context, boardID string) ([]domain.AutomationRule, error) {
			atomic.AddInt32(&calls, 1)
			<-release
			return []domain.AutomationRule{sampleRule("r1")}, nil
		},
	}, nil, 0)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.ListRules(context.Background(), "b1"); err != nil {
				t.Errorf("list: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected a single backend read, got %d", n)
	}
}
