// Package ordering keeps groups, items and columns in a dense zero-based
// order inside their scope. A scope is the parent key: the board for groups
// and columns, the group for items. For every scope holding n entities the
// positions are exactly 0..n-1 whenever a transaction commits.
package ordering

import (
	"context"
	"math"
)

// Kind names an ordered entity type.
type Kind string

const (
	KindGroup  Kind = "group"
	KindItem   Kind = "item"
	KindColumn Kind = "column"
)

// Open is used as the upper bound of a shift that runs to the end of a scope.
const Open = math.MaxInt32

// Entry is the ordering view of an entity.
type Entry struct {
	ID       string `json:"id"`
	ScopeKey string `json:"scopeKey"`
	Position int    `json:"position"`
}

// Tx is the store as seen from inside one transaction. Implementations must
// make every call of one Tx commit together or not at all.
type Tx interface {
	// Get returns the entity or an error wrapping domain.ErrNotFound.
	Get(ctx context.Context, kind Kind, id string) (Entry, error)
	// ScopeExists reports whether the parent record of scopeKey exists.
	ScopeExists(ctx context.Context, kind Kind, scopeKey string) (bool, error)
	// ScopeRoot returns the board that owns scopeKey. Entities never move
	// between scopes with different roots.
	ScopeRoot(ctx context.Context, kind Kind, scopeKey string) (string, error)
	// Count returns the number of entities in the scope.
	Count(ctx context.Context, kind Kind, scopeKey string) (int, error)
	// MaxPosition returns the largest position in the scope, or -1 when empty.
	MaxPosition(ctx context.Context, kind Kind, scopeKey string) (int, error)
	// Shift adds delta to the position of every entity in the scope whose
	// position lies in [from, to].
	Shift(ctx context.Context, kind Kind, scopeKey string, from, to, delta int) error
	// Place sets the scope and position of an existing entity.
	Place(ctx context.Context, kind Kind, id, scopeKey string, position int) error
	// Insert stores a new entity. payload is the kind specific record.
	Insert(ctx context.Context, kind Kind, id, scopeKey string, position int, payload any) error
	// Delete removes the entity.
	Delete(ctx context.Context, kind Kind, id string) error
	// List returns the scope ordered by position.
	List(ctx context.Context, kind Kind, scopeKey string) ([]Entry, error)
}

// Store runs position mutations transactionally. An error returned by fn,
// or by the commit, must leave the store exactly as it was before InTx.
// Implementations report write contention as domain.ErrConcurrencyConflict.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Lookup reads an entity outside of a transaction.
	Lookup(ctx context.Context, kind Kind, id string) (Entry, error)
}

func lockKey(kind Kind, scopeKey string) string {
	return string(kind) + ":" + scopeKey
}
