package ordering

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/eladsnd/sunday/domain"
)

// memStore is a copy-on-write Store used by the engine tests. Each InTx runs
// against a clone that replaces the committed state only when fn succeeds.
type memStore struct {
	mu      sync.Mutex
	entries map[Kind]map[string]Entry
	scopes  map[Kind]map[string]bool
	roots   map[string]string

	conflicts int
	failPlace error
	txCalls   int
}

func newMemStore() *memStore {
	return &memStore{
		entries: map[Kind]map[string]Entry{},
		scopes:  map[Kind]map[string]bool{},
		roots:   map[string]string{},
	}
}

func (m *memStore) addScope(kind Kind, scope string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scopes[kind] == nil {
		m.scopes[kind] = map[string]bool{}
	}
	m.scopes[kind][scope] = true
}

// setRoot assigns scope to a board. Scopes without one share the empty root.
func (m *memStore) setRoot(scope, root string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roots[scope] = root
}

func (m *memStore) Lookup(_ context.Context, kind Kind, id string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.entries[kind][id]
	if !ok {
		return Entry{}, domain.NotFoundf("%s %s", kind, id)
	}
	return ent, nil
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCalls++
	if m.conflicts > 0 {
		m.conflicts--
		return fmt.Errorf("%w: injected", domain.ErrConcurrencyConflict)
	}
	tx := &memTx{entries: map[Kind]map[string]Entry{}, scopes: m.scopes, roots: m.roots, failPlace: m.failPlace}
	for k, byID := range m.entries {
		tx.entries[k] = make(map[string]Entry, len(byID))
		for id, e := range byID {
			tx.entries[k][id] = e
		}
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.entries = tx.entries
	return nil
}

type memTx struct {
	entries   map[Kind]map[string]Entry
	scopes    map[Kind]map[string]bool
	roots     map[string]string
	failPlace error
}

func (t *memTx) Get(_ context.Context, kind Kind, id string) (Entry, error) {
	ent, ok := t.entries[kind][id]
	if !ok {
		return Entry{}, domain.NotFoundf("%s %s", kind, id)
	}
	return ent, nil
}

func (t *memTx) ScopeExists(_ context.Context, kind Kind, scope string) (bool, error) {
	return t.scopes[kind][scope], nil
}

func (t *memTx) ScopeRoot(_ context.Context, _ Kind, scope string) (string, error) {
	return t.roots[scope], nil
}

func (t *memTx) Count(_ context.Context, kind Kind, scope string) (int, error) {
	n := 0
	for _, e := range t.entries[kind] {
		if e.ScopeKey == scope {
			n++
		}
	}
	return n, nil
}

func (t *memTx) MaxPosition(_ context.Context, kind Kind, scope string) (int, error) {
	max := -1
	for _, e := range t.entries[kind] {
		if e.ScopeKey == scope && e.Position > max {
			max = e.Position
		}
	}
	return max, nil
}

func (t *memTx) Shift(_ context.Context, kind Kind, scope string, from, to, delta int) error {
	for id, e := range t.entries[kind] {
		if e.ScopeKey == scope && e.Position >= from && e.Position <= to {
			e.Position += delta
			t.entries[kind][id] = e
		}
	}
	return nil
}

func (t *memTx) Place(_ context.Context, kind Kind, id, scope string, pos int) error {
	if t.failPlace != nil {
		return t.failPlace
	}
	e := t.entries[kind][id]
	e.ScopeKey = scope
	e.Position = pos
	t.entries[kind][id] = e
	return nil
}

func (t *memTx) Insert(_ context.Context, kind Kind, id, scope string, pos int, _ any) error {
	if t.entries[kind] == nil {
		t.entries[kind] = map[string]Entry{}
	}
	t.entries[kind][id] = Entry{ID: id, ScopeKey: scope, Position: pos}
	return nil
}

func (t *memTx) Delete(_ context.Context, kind Kind, id string) error {
	delete(t.entries[kind], id)
	return nil
}

func (t *memTx) List(_ context.Context, kind Kind, scope string) ([]Entry, error) {
	var out []Entry
	for _, e := range t.entries[kind] {
		if e.ScopeKey == scope {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}
