package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates that a referenced board, group, item, column or
	// rule does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument indicates a malformed request, such as a negative
	// position or an incomplete rule config. Nothing was mutated.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConcurrencyConflict indicates that a mutation could not be
	// serialized against a concurrent mutation of the same scope.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrForbidden indicates the caller does not own the board.
	ErrForbidden = errors.New("forbidden")
)

// NotFoundf wraps ErrNotFound with a formatted detail.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Invalidf wraps ErrInvalidArgument with a formatted detail.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// ActionExecutionError reports an automation action that failed after its
// triggering cell update had already committed.
type ActionExecutionError struct {
	RuleID     string
	BoardID    string
	ItemID     string
	ActionType ActionType
	Err        error
}

func (e *ActionExecutionError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("automation on board %s for item %s: %v", e.BoardID, e.ItemID, e.Err)
	}
	return fmt.Sprintf("automation %s (%s) on board %s for item %s: %v", e.RuleID, e.ActionType, e.BoardID, e.ItemID, e.Err)
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }

// Failure converts the error into its persisted form.
func (e *ActionExecutionError) Failure(at time.Time) AutomationFailure {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return AutomationFailure{
		BoardID:    e.BoardID,
		RuleID:     e.RuleID,
		ItemID:     e.ItemID,
		ActionType: e.ActionType,
		Error:      msg,
		OccurredAt: at,
	}
}
