package ordering

import (
	"context"
	"fmt"
)

// DenseError describes the first violation CheckDense found.
type DenseError struct {
	Kind     Kind
	ScopeKey string
	Index    int
	Entry    Entry
}

func (e *DenseError) Error() string {
	return fmt.Sprintf("%s scope %s: entry %s at index %d has position %d", e.Kind, e.ScopeKey, e.Entry.ID, e.Index, e.Entry.Position)
}

// CheckDense verifies that a snapshot, ordered by position, holds exactly
// the positions 0..n-1.
func CheckDense(kind Kind, scopeKey string, entries []Entry) error {
	for i, ent := range entries {
		if ent.Position != i {
			return &DenseError{Kind: kind, ScopeKey: scopeKey, Index: i, Entry: ent}
		}
	}
	return nil
}

// Verify loads the scope and runs CheckDense on it.
func (e *Engine) Verify(ctx context.Context, kind Kind, scopeKey string) error {
	entries, err := e.Snapshot(ctx, kind, scopeKey)
	if err != nil {
		return err
	}
	return CheckDense(kind, scopeKey, entries)
}
