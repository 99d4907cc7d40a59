// Package automation stores board automation rules and evaluates them when
// a cell value changes.
package automation

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/eladsnd/sunday/domain"
)

// RuleStore persists rules.
type RuleStore interface {
	InsertRule(ctx context.Context, r domain.AutomationRule) error
	ListRules(ctx context.Context, boardID string) ([]domain.AutomationRule, error)
	GetRule(ctx context.Context, id string) (domain.AutomationRule, error)
	DeleteRule(ctx context.Context, id string) (domain.AutomationRule, error)
}

// BoardLookup resolves boards.
type BoardLookup interface {
	GetBoard(ctx context.Context, id string) (domain.Board, error)
}

// Rules creates, lists and deletes automation rules.
type Rules struct {
	store  RuleStore
	boards BoardLookup
	logger *log.Logger
	now    func() time.Time
}

func NewRules(store RuleStore, boards BoardLookup, logger *log.Logger) *Rules {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Rules{store: store, boards: boards, logger: logger, now: time.Now}
}

// Create validates and stores a new rule for an existing board.
func (r *Rules) Create(ctx context.Context, in domain.NewRule) (domain.AutomationRule, error) {
	if err := in.Validate(); err != nil {
		return domain.AutomationRule{}, err
	}
	if _, err := r.boards.GetBoard(ctx, in.BoardID); err != nil {
		return domain.AutomationRule{}, err
	}
	rule := domain.AutomationRule{
		ID:            uuid.NewString(),
		BoardID:       in.BoardID,
		TriggerType:   in.TriggerType,
		TriggerConfig: in.TriggerConfig,
		ActionType:    in.ActionType,
		ActionConfig:  in.ActionConfig,
		CreatedAt:     r.now().UTC(),
	}
	if err := r.store.InsertRule(ctx, rule); err != nil {
		return domain.AutomationRule{}, err
	}
	r.logger.WithFields(log.Fields{"board": rule.BoardID, "rule": rule.ID, "trigger": rule.TriggerType, "action": rule.ActionType}).Info("automation created")
	return rule, nil
}

// List returns every rule of a board in creation order.
func (r *Rules) List(ctx context.Context, boardID string) ([]domain.AutomationRule, error) {
	return r.store.ListRules(ctx, boardID)
}

// ListByTrigger returns the board's rules with the given trigger type, in
// creation order.
func (r *Rules) ListByTrigger(ctx context.Context, boardID string, trigger domain.TriggerType) ([]domain.AutomationRule, error) {
	all, err := r.store.ListRules(ctx, boardID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AutomationRule, 0, len(all))
	for _, rule := range all {
		if rule.TriggerType == trigger {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *Rules) Get(ctx context.Context, id string) (domain.AutomationRule, error) {
	return r.store.GetRule(ctx, id)
}

// Delete removes a rule. Unknown ids are domain.ErrNotFound.
func (r *Rules) Delete(ctx context.Context, id string) error {
	removed, err := r.store.DeleteRule(ctx, id)
	if err != nil {
		return err
	}
	r.logger.WithFields(log.Fields{"board": removed.BoardID, "rule": id}).Info("automation deleted")
	return nil
}
