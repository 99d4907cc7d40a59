package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/eladsnd/sunday/domain"
)

type stubRuleStore struct {
	insertFn func(ctx context.Context, r domain.AutomationRule) error
	listFn   func(ctx context.Context, boardID string) ([]domain.AutomationRule, error)
	deleteFn func(ctx context.Context, id string) (domain.AutomationRule, error)
}

func (s *stubRuleStore) InsertRule(ctx context.Context, r domain.AutomationRule) error {
	if s.insertFn == nil {
		return errors.New("unexpected InsertRule call")
	}
	return s.insertFn(ctx, r)
}

func (s *stubRuleStore) ListRules(ctx context.Context, boardID string) ([]domain.AutomationRule, error) {
	if s.listFn == nil {
		return nil, errors.New("unexpected ListRules call")
	}
	return s.listFn(ctx, boardID)
}

func (s *stubRuleStore) GetRule(ctx context.Context, id string) (domain.AutomationRule, error) {
	return domain.AutomationRule{}, domain.NotFoundf("automation %s", id)
}

func (s *stubRuleStore) DeleteRule(ctx context.Context, id string) (domain.AutomationRule, error) {
	if s.deleteFn == nil {
		return domain.AutomationRule{}, errors.New("unexpected DeleteRule call")
	}
	return s.deleteFn(ctx, id)
}

type stubBoards map[string]domain.Board

func (s stubBoards) GetBoard(_ context.Context, id string) (domain.Board, error) {
	b, ok := s[id]
	if !ok {
		return domain.Board{}, domain.NotFoundf("board %s", id)
	}
	return b, nil
}

func newRule() domain.NewRule {
	return domain.NewRule{
		BoardID:       "b1",
		TriggerType:   domain.TriggerStatusChange,
		TriggerConfig: domain.TriggerConfig{ColumnID: "status", Value: "Done"},
		ActionType:    domain.ActionMoveToGroup,
		ActionConfig:  domain.ActionConfig{GroupID: "done"},
	}
}

func TestRulesCreate(t *testing.T) {
	logger, _ := test.NewNullLogger()
	var stored domain.AutomationRule
	rules := NewRules(&stubRuleStore{
		insertFn: func(ctx context.Context, r domain.AutomationRule) error {
			stored = r
			return nil
		},
	}, stubBoards{"b1": {ID: "b1"}}, logger)
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rules.now = func() time.Time { return fixed }

	got, err := rules.Create(context.Background(), newRule())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := uuid.Parse(got.ID); err != nil {
		t.Fatalf("expected uuid id, got %q", got.ID)
	}
	if !got.CreatedAt.Equal(fixed) {
		t.Fatalf("created at = %v", got.CreatedAt)
	}
	if stored.ID != got.ID || stored.ActionConfig.GroupID != "done" || stored.TriggerConfig.Value != "Done" {
		t.Fatalf("unexpected stored rule: %+v", stored)
	}
}

func TestRulesCreateRejects(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rules := NewRules(&stubRuleStore{}, stubBoards{"b1": {ID: "b1"}}, logger)

	bad := newRule()
	bad.TriggerConfig.Value = ""
	if _, err := rules.Create(context.Background(), bad); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}

	unknown := newRule()
	unknown.BoardID = "nope"
	if _, err := rules.Create(context.Background(), unknown); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRulesListByTriggerKeepsOrder(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rules := NewRules(&stubRuleStore{
		listFn: func(ctx context.Context, boardID string) ([]domain.AutomationRule, error) {
			return []domain.AutomationRule{
				{ID: "r1", TriggerType: domain.TriggerStatusChange},
				{ID: "r2", TriggerType: "date_arrived"},
				{ID: "r3", TriggerType: domain.TriggerStatusChange},
			}, nil
		},
	}, stubBoards{}, logger)

	got, err := rules.ListByTrigger(context.Background(), "b1", domain.TriggerStatusChange)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r1" || got[1].ID != "r3" {
		t.Fatalf("unexpected rules: %+v", got)
	}
}

func TestRulesDelete(t *testing.T) {
	logger, hook := test.NewNullLogger()
	rules := NewRules(&stubRuleStore{
		deleteFn: func(ctx context.Context, id string) (domain.AutomationRule, error) {
			if id != "r1" {
				return domain.AutomationRule{}, domain.NotFoundf("automation %s", id)
			}
			return domain.AutomationRule{ID: id, BoardID: "b1"}, nil
		},
	}, stubBoards{}, logger)

	if err := rules.Delete(context.Background(), "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Data["board"] != "b1" {
		t.Fatalf("expected delete to be logged with board, got %v", entry)
	}
	if err := rules.Delete(context.Background(), "r9"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
