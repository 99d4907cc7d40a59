package ordering

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/eladsnd/sunday/domain"
)

// Positioner is the narrow surface shared by the board services and the
// automation engine, so both reuse the same ordering logic.
type Positioner interface {
	AppendToScope(ctx context.Context, kind Kind, scopeKey string) (int, error)
	Append(ctx context.Context, kind Kind, scopeKey, id string, payload any) (int, error)
	MoveWithinScope(ctx context.Context, kind Kind, id string, newPosition int) (Entry, error)
	MoveAcrossScope(ctx context.Context, kind Kind, id, newScopeKey string, newPosition int) (Entry, error)
	RemoveFromScope(ctx context.Context, kind Kind, id string) (Entry, error)
	Snapshot(ctx context.Context, kind Kind, scopeKey string) ([]Entry, error)
}

// Engine implements Positioner on top of a transactional Store. Writers of
// the same scope are serialized through the Locker; a conflicting attempt is
// retried once with fresh reads before the conflict is returned.
type Engine struct {
	store  Store
	locker Locker
	logger *log.Logger
}

var _ Positioner = (*Engine)(nil)

// NewEngine creates an Engine. A nil locker falls back to a LocalLocker.
func NewEngine(store Store, locker Locker, logger *log.Logger) *Engine {
	if store == nil {
		panic("ordering.NewEngine: store is nil")
	}
	if locker == nil {
		locker = NewLocalLocker(0)
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Engine{store: store, locker: locker, logger: logger}
}

// AppendToScope returns max(position)+1 for the scope, or 0 when it is empty.
// It only reads; creation goes through Append, which inserts under the lock.
func (e *Engine) AppendToScope(ctx context.Context, kind Kind, scopeKey string) (int, error) {
	pos := 0
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		max, err := tx.MaxPosition(ctx, kind, scopeKey)
		if err != nil {
			return err
		}
		pos = max + 1
		return nil
	})
	if err != nil {
		return 0, err
	}
	return pos, nil
}

// Append inserts a new entity at the end of the scope. The position is
// computed and the record inserted under the scope lock in one transaction.
func (e *Engine) Append(ctx context.Context, kind Kind, scopeKey, id string, payload any) (int, error) {
	if scopeKey == "" || id == "" {
		return 0, domain.Invalidf("%s append requires an id and a scope", kind)
	}
	pos := 0
	err := e.withRetry(ctx, "append", kind, id, func() error {
		unlock, err := e.locker.Lock(ctx, []string{lockKey(kind, scopeKey)})
		if err != nil {
			return err
		}
		defer unlock()

		return e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			ok, err := tx.ScopeExists(ctx, kind, scopeKey)
			if err != nil {
				return err
			}
			if !ok {
				return domain.NotFoundf("scope %s of %s", scopeKey, kind)
			}
			max, err := tx.MaxPosition(ctx, kind, scopeKey)
			if err != nil {
				return err
			}
			pos = max + 1
			return tx.Insert(ctx, kind, id, scopeKey, pos, payload)
		})
	})
	if err != nil {
		return 0, err
	}
	e.logger.WithFields(log.Fields{"kind": kind, "id": id, "scope": scopeKey, "position": pos}).Debug("ordering.append")
	return pos, nil
}

// MoveWithinScope moves an entity to newPosition inside its current scope.
// Positions past the end are clamped to the last slot.
func (e *Engine) MoveWithinScope(ctx context.Context, kind Kind, id string, newPosition int) (Entry, error) {
	if newPosition < 0 {
		return Entry{}, domain.Invalidf("position %d is negative", newPosition)
	}
	var out Entry
	err := e.withRetry(ctx, "move", kind, id, func() error {
		cur, err := e.store.Lookup(ctx, kind, id)
		if err != nil {
			return err
		}
		out, err = e.moveWithin(ctx, kind, cur, newPosition)
		return err
	})
	return out, err
}

func (e *Engine) moveWithin(ctx context.Context, kind Kind, cur Entry, newPosition int) (Entry, error) {
	unlock, err := e.locker.Lock(ctx, []string{lockKey(kind, cur.ScopeKey)})
	if err != nil {
		return Entry{}, err
	}
	defer unlock()

	var out Entry
	err = e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ent, err := tx.Get(ctx, kind, cur.ID)
		if err != nil {
			return err
		}
		if ent.ScopeKey != cur.ScopeKey {
			return fmt.Errorf("%w: %s %s left scope %s", domain.ErrConcurrencyConflict, kind, cur.ID, cur.ScopeKey)
		}
		n, err := tx.Count(ctx, kind, ent.ScopeKey)
		if err != nil {
			return err
		}
		target := newPosition
		if target > n-1 {
			target = n - 1
		}
		out = Entry{ID: ent.ID, ScopeKey: ent.ScopeKey, Position: target}
		if target == ent.Position {
			return nil
		}
		if target > ent.Position {
			err = tx.Shift(ctx, kind, ent.ScopeKey, ent.Position+1, target, -1)
		} else {
			err = tx.Shift(ctx, kind, ent.ScopeKey, target, ent.Position-1, 1)
		}
		if err != nil {
			return err
		}
		return tx.Place(ctx, kind, ent.ID, ent.ScopeKey, target)
	})
	if err != nil {
		return Entry{}, err
	}
	e.logger.WithFields(log.Fields{"kind": kind, "id": out.ID, "scope": out.ScopeKey, "from": cur.Position, "to": out.Position}).Debug("ordering.move")
	return out, nil
}

// MoveAcrossScope moves an entity into newScopeKey at newPosition, closing
// the gap it leaves behind. Both scopes are locked in a fixed order and
// both halves commit together. Positions past the end of the destination
// are clamped to its length.
func (e *Engine) MoveAcrossScope(ctx context.Context, kind Kind, id, newScopeKey string, newPosition int) (Entry, error) {
	if newPosition < 0 {
		return Entry{}, domain.Invalidf("position %d is negative", newPosition)
	}
	if newScopeKey == "" {
		return Entry{}, domain.Invalidf("destination scope is required")
	}
	var out Entry
	err := e.withRetry(ctx, "move_across", kind, id, func() error {
		cur, err := e.store.Lookup(ctx, kind, id)
		if err != nil {
			return err
		}
		if cur.ScopeKey == newScopeKey {
			out, err = e.moveWithin(ctx, kind, cur, newPosition)
			return err
		}
		out, err = e.moveAcross(ctx, kind, cur, newScopeKey, newPosition)
		return err
	})
	return out, err
}

func (e *Engine) moveAcross(ctx context.Context, kind Kind, cur Entry, newScopeKey string, newPosition int) (Entry, error) {
	unlock, err := e.locker.Lock(ctx, []string{lockKey(kind, cur.ScopeKey), lockKey(kind, newScopeKey)})
	if err != nil {
		return Entry{}, err
	}
	defer unlock()

	var out Entry
	err = e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ent, err := tx.Get(ctx, kind, cur.ID)
		if err != nil {
			return err
		}
		if ent.ScopeKey != cur.ScopeKey {
			return fmt.Errorf("%w: %s %s left scope %s", domain.ErrConcurrencyConflict, kind, cur.ID, cur.ScopeKey)
		}
		ok, err := tx.ScopeExists(ctx, kind, newScopeKey)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundf("scope %s of %s", newScopeKey, kind)
		}
		from, err := tx.ScopeRoot(ctx, kind, ent.ScopeKey)
		if err != nil {
			return err
		}
		to, err := tx.ScopeRoot(ctx, kind, newScopeKey)
		if err != nil {
			return err
		}
		if from != to {
			return domain.Invalidf("%s %s cannot move from board %s to scope %s of board %s", kind, ent.ID, from, newScopeKey, to)
		}
		if err := tx.Shift(ctx, kind, ent.ScopeKey, ent.Position+1, Open, -1); err != nil {
			return err
		}
		n, err := tx.Count(ctx, kind, newScopeKey)
		if err != nil {
			return err
		}
		target := newPosition
		if target > n {
			target = n
		}
		if err := tx.Shift(ctx, kind, newScopeKey, target, Open, 1); err != nil {
			return err
		}
		if err := tx.Place(ctx, kind, ent.ID, newScopeKey, target); err != nil {
			return err
		}
		out = Entry{ID: ent.ID, ScopeKey: newScopeKey, Position: target}
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	e.logger.WithFields(log.Fields{"kind": kind, "id": out.ID, "from_scope": cur.ScopeKey, "scope": out.ScopeKey, "to": out.Position}).Debug("ordering.move_across")
	return out, nil
}

// RemoveFromScope deletes the entity and closes the gap it leaves. The
// removed entry is returned.
func (e *Engine) RemoveFromScope(ctx context.Context, kind Kind, id string) (Entry, error) {
	var out Entry
	err := e.withRetry(ctx, "remove", kind, id, func() error {
		cur, err := e.store.Lookup(ctx, kind, id)
		if err != nil {
			return err
		}
		unlock, err := e.locker.Lock(ctx, []string{lockKey(kind, cur.ScopeKey)})
		if err != nil {
			return err
		}
		defer unlock()

		return e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			ent, err := tx.Get(ctx, kind, id)
			if err != nil {
				return err
			}
			if ent.ScopeKey != cur.ScopeKey {
				return fmt.Errorf("%w: %s %s left scope %s", domain.ErrConcurrencyConflict, kind, id, cur.ScopeKey)
			}
			if err := tx.Delete(ctx, kind, id); err != nil {
				return err
			}
			out = ent
			return tx.Shift(ctx, kind, ent.ScopeKey, ent.Position+1, Open, -1)
		})
	})
	if err != nil {
		return Entry{}, err
	}
	e.logger.WithFields(log.Fields{"kind": kind, "id": id, "scope": out.ScopeKey, "position": out.Position}).Debug("ordering.remove")
	return out, nil
}

// Snapshot returns the scope ordered by position.
func (e *Engine) Snapshot(ctx context.Context, kind Kind, scopeKey string) ([]Entry, error) {
	var out []Entry
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.List(ctx, kind, scopeKey)
		return err
	})
	return out, err
}

// withRetry runs fn and, when it reports a concurrency conflict, runs it one
// more time. fn must re-read everything it depends on.
func (e *Engine) withRetry(ctx context.Context, op string, kind Kind, id string, fn func() error) error {
	err := fn()
	if err == nil || !errors.Is(err, domain.ErrConcurrencyConflict) {
		return err
	}
	e.logger.WithFields(log.Fields{"op": op, "kind": kind, "id": id}).WithError(err).Warn("ordering conflict, retrying")
	if ctx.Err() != nil {
		return err
	}
	return fn()
}
