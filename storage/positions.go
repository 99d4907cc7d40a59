package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eladsnd/sunday/domain"
	"github.com/eladsnd/sunday/ordering"
)

type scopeTable struct {
	table  string
	scope  string
	parent string
}

var scopeTables = map[ordering.Kind]scopeTable{
	ordering.KindGroup:  {table: "board_groups", scope: "board_id", parent: "boards"},
	ordering.KindItem:   {table: "board_items", scope: "group_id", parent: "board_groups"},
	ordering.KindColumn: {table: "board_columns", scope: "board_id", parent: "boards"},
}

func tableFor(kind ordering.Kind) (scopeTable, error) {
	t, ok := scopeTables[kind]
	if !ok {
		return scopeTable{}, domain.Invalidf("unknown kind %q", kind)
	}
	return t, nil
}

var _ ordering.Store = (*DB)(nil)

// InTx runs fn inside a write transaction.
func (d *DB) InTx(ctx context.Context, fn func(ctx context.Context, tx ordering.Tx) error) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		return fn(ctx, &scopeTx{tx: tx})
	})
}

// Lookup reads the scope and position of an entity.
func (d *DB) Lookup(ctx context.Context, kind ordering.Kind, id string) (ordering.Entry, error) {
	return getEntry(ctx, d.DB, kind, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getEntry(ctx context.Context, q queryer, kind ordering.Kind, id string) (ordering.Entry, error) {
	t, err := tableFor(kind)
	if err != nil {
		return ordering.Entry{}, err
	}
	ent := ordering.Entry{ID: id}
	err = q.QueryRowContext(ctx, "SELECT "+t.scope+", position FROM "+t.table+" WHERE id = ?", id).
		Scan(&ent.ScopeKey, &ent.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return ordering.Entry{}, domain.NotFoundf("%s %s", kind, id)
	}
	if err != nil {
		return ordering.Entry{}, mapErr(err)
	}
	return ent, nil
}

// scopeTx implements ordering.Tx over one SQLite transaction.
type scopeTx struct {
	tx *sql.Tx
}

func (s *scopeTx) Get(ctx context.Context, kind ordering.Kind, id string) (ordering.Entry, error) {
	return getEntry(ctx, s.tx, kind, id)
}

func (s *scopeTx) ScopeExists(ctx context.Context, kind ordering.Kind, scopeKey string) (bool, error) {
	t, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	var n int
	if err := s.tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM "+t.parent+" WHERE id = ?", scopeKey).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *scopeTx) ScopeRoot(ctx context.Context, kind ordering.Kind, scopeKey string) (string, error) {
	if kind != ordering.KindItem {
		return scopeKey, nil
	}
	var board string
	err := s.tx.QueryRowContext(ctx, "SELECT board_id FROM board_groups WHERE id = ?", scopeKey).Scan(&board)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.NotFoundf("group %s", scopeKey)
	}
	if err != nil {
		return "", mapErr(err)
	}
	return board, nil
}

func (s *scopeTx) Count(ctx context.Context, kind ordering.Kind, scopeKey string) (int, error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM "+t.table+" WHERE "+t.scope+" = ?", scopeKey).Scan(&n)
	return n, err
}

func (s *scopeTx) MaxPosition(ctx context.Context, kind ordering.Kind, scopeKey string) (int, error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	var max int
	err = s.tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(position), -1) FROM "+t.table+" WHERE "+t.scope+" = ?", scopeKey).Scan(&max)
	return max, err
}

func (s *scopeTx) Shift(ctx context.Context, kind ordering.Kind, scopeKey string, from, to, delta int) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}
	_, err = s.tx.ExecContext(ctx,
		"UPDATE "+t.table+" SET position = position + ? WHERE "+t.scope+" = ? AND position BETWEEN ? AND ?",
		delta, scopeKey, from, to)
	return err
}

func (s *scopeTx) Place(ctx context.Context, kind ordering.Kind, id, scopeKey string, position int) error {
	var res sql.Result
	var err error
	switch kind {
	default:
		t, terr := tableFor(kind)
		if terr != nil {
			return terr
		}
		res, err = s.tx.ExecContext(ctx,
			"UPDATE "+t.table+" SET "+t.scope+" = ?, position = ? WHERE id = ?", scopeKey, position, id)
	}
	if err != nil {
		return err
	}
	return expectRow(res, kind, id)
}

func (s *scopeTx) Insert(ctx context.Context, kind ordering.Kind, id, scopeKey string, position int, payload any) error {
	switch rec := payload.(type) {
	case domain.Group:
		if kind != ordering.KindGroup {
			break
		}
		_, err := s.tx.ExecContext(ctx,
			"INSERT INTO board_groups (id, board_id, name, color, position) VALUES (?, ?, ?, ?, ?)",
			id, scopeKey, rec.Name, rec.Color, position)
		return err
	case domain.Item:
		if kind != ordering.KindItem {
			break
		}
		created := rec.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		res, err := s.tx.ExecContext(ctx,
			`INSERT INTO board_items (id, board_id, group_id, name, position, created_at)
			 SELECT ?, board_id, id, ?, ?, ? FROM board_groups WHERE id = ?`,
			id, rec.Name, position, created.UnixMilli(), scopeKey)
		if err != nil {
			return err
		}
		return expectRow(res, ordering.KindGroup, scopeKey)
	case domain.Column:
		if kind != ordering.KindColumn {
			break
		}
		var settings any
		if len(rec.Settings) > 0 {
			settings = string(rec.Settings)
		}
		_, err := s.tx.ExecContext(ctx,
			"INSERT INTO board_columns (id, board_id, label, type, position, settings) VALUES (?, ?, ?, ?, ?, ?)",
			id, scopeKey, rec.Label, string(rec.Type), position, settings)
		return err
	}
	return fmt.Errorf("insert %s: unsupported payload %T", kind, payload)
}

func (s *scopeTx) Delete(ctx context.Context, kind ordering.Kind, id string) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}
	res, err := s.tx.ExecContext(ctx, "DELETE FROM "+t.table+" WHERE id = ?", id)
	if err != nil {
		return err
	}
	return expectRow(res, kind, id)
}

func (s *scopeTx) List(ctx context.Context, kind ordering.Kind, scopeKey string) ([]ordering.Entry, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.tx.QueryContext(ctx,
		"SELECT id, position FROM "+t.table+" WHERE "+t.scope+" = ? ORDER BY position, id", scopeKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ordering.Entry
	for rows.Next() {
		ent := ordering.Entry{ScopeKey: scopeKey}
		if err := rows.Scan(&ent.ID, &ent.Position); err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, rows.Err()
}

func expectRow(res sql.Result, kind ordering.Kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFoundf("%s %s", kind, id)
	}
	return nil
}
