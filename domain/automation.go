package domain

import (
	"fmt"
	"strings"
	"time"
)

// TriggerType names the event an automation rule listens for.
type TriggerType string

// ActionType names the effect an automation rule performs.
type ActionType string

const (
	TriggerStatusChange TriggerType = "status_change"
	ActionMoveToGroup   ActionType  = "move_to_group"
)

// TriggerConfig selects the cell change a status_change rule reacts to.
type TriggerConfig struct {
	ColumnID string `json:"columnId"`
	Value    string `json:"value"`
}

// ActionConfig parameterises a move_to_group action.
type ActionConfig struct {
	GroupID string `json:"groupId"`
}

// AutomationRule is a board-scoped trigger/action pair. Rules are never
// updated; they are created and deleted.
type AutomationRule struct {
	ID            string        `json:"id"`
	BoardID       string        `json:"boardId"`
	TriggerType   TriggerType   `json:"triggerType"`
	TriggerConfig TriggerConfig `json:"triggerConfig"`
	ActionType    ActionType    `json:"actionType"`
	ActionConfig  ActionConfig  `json:"actionConfig"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// NewRule carries the fields a caller supplies when creating a rule.
type NewRule struct {
	BoardID       string        `json:"boardId"`
	TriggerType   TriggerType   `json:"triggerType"`
	TriggerConfig TriggerConfig `json:"triggerConfig"`
	ActionType    ActionType    `json:"actionType"`
	ActionConfig  ActionConfig  `json:"actionConfig"`
}

// Validate checks the rule shape. It does not check that the referenced
// column or group exist; a dangling reference fails when the action runs.
func (r NewRule) Validate() error {
	if strings.TrimSpace(r.BoardID) == "" {
		return fmt.Errorf("%w: boardId is required", ErrInvalidArgument)
	}
	switch r.TriggerType {
	case TriggerStatusChange:
		if r.TriggerConfig.ColumnID == "" {
			return fmt.Errorf("%w: triggerConfig.columnId is required", ErrInvalidArgument)
		}
		if r.TriggerConfig.Value == "" {
			return fmt.Errorf("%w: triggerConfig.value is required", ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unsupported trigger type %q", ErrInvalidArgument, r.TriggerType)
	}
	switch r.ActionType {
	case ActionMoveToGroup:
		if r.ActionConfig.GroupID == "" {
			return fmt.Errorf("%w: actionConfig.groupId is required", ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unsupported action type %q", ErrInvalidArgument, r.ActionType)
	}
	return nil
}

// ChangeEvent describes one committed cell-value write. Value is already
// coerced to a scalar by the cell boundary.
type ChangeEvent struct {
	BoardID  string `json:"boardId"`
	ColumnID string `json:"columnId"`
	Value    string `json:"value"`
	ItemID   string `json:"itemId"`
}

// Matches reports whether the rule's trigger fires for ev. Comparison is
// exact and case-sensitive.
func (r AutomationRule) Matches(ev ChangeEvent) bool {
	if r.BoardID != ev.BoardID {
		return false
	}
	switch r.TriggerType {
	case TriggerStatusChange:
		return r.TriggerConfig.ColumnID == ev.ColumnID && r.TriggerConfig.Value == ev.Value
	}
	return false
}

// AutomationFailure is the persisted record of an ActionExecutionError.
type AutomationFailure struct {
	BoardID    string     `json:"boardId"`
	RuleID     string     `json:"ruleId,omitempty"`
	ItemID     string     `json:"itemId"`
	ActionType ActionType `json:"actionType,omitempty"`
	Error      string     `json:"error"`
	OccurredAt time.Time  `json:"occurredAt"`
}
