package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bytedance/sonic"

	"github.com/eladsnd/sunday/domain"
)

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// CreateBoard inserts a board.
func (d *DB) CreateBoard(ctx context.Context, b domain.Board) error {
	_, err := d.ExecContext(ctx,
		"INSERT INTO boards (id, name, description, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		b.ID, b.Name, b.Description, b.OwnerID, b.CreatedAt.UnixMilli(), b.UpdatedAt.UnixMilli())
	return mapErr(err)
}

// GetBoard returns a board or domain.ErrNotFound.
func (d *DB) GetBoard(ctx context.Context, id string) (domain.Board, error) {
	var b domain.Board
	var created, updated int64
	err := d.QueryRowContext(ctx,
		"SELECT id, name, description, owner_id, created_at, updated_at FROM boards WHERE id = ?", id).
		Scan(&b.ID, &b.Name, &b.Description, &b.OwnerID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Board{}, domain.NotFoundf("board %s", id)
	}
	if err != nil {
		return domain.Board{}, mapErr(err)
	}
	b.CreatedAt, b.UpdatedAt = fromMillis(created), fromMillis(updated)
	return b, nil
}

// DeleteBoard removes a board; groups, items, columns, cells and rules
// go with it through the foreign key cascades.
func (d *DB) DeleteBoard(ctx context.Context, id string) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM boards WHERE id = ?", id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.NotFoundf("board %s", id)
		}
		return nil
	})
}

// TouchBoard bumps updated_at.
func (d *DB) TouchBoard(ctx context.Context, id string, at time.Time) error {
	_, err := d.ExecContext(ctx, "UPDATE boards SET updated_at = ? WHERE id = ?", at.UnixMilli(), id)
	return mapErr(err)
}

// GetGroup returns a group or domain.ErrNotFound.
func (d *DB) GetGroup(ctx context.Context, id string) (domain.Group, error) {
	var g domain.Group
	err := d.QueryRowContext(ctx,
		"SELECT id, board_id, name, color, position FROM board_groups WHERE id = ?", id).
		Scan(&g.ID, &g.BoardID, &g.Name, &g.Color, &g.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Group{}, domain.NotFoundf("group %s", id)
	}
	return g, mapErr(err)
}

// ListGroups returns the board's groups by position.
func (d *DB) ListGroups(ctx context.Context, boardID string) ([]domain.Group, error) {
	rows, err := d.QueryContext(ctx,
		"SELECT id, board_id, name, color, position FROM board_groups WHERE board_id = ? ORDER BY position", boardID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := []domain.Group{}
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.BoardID, &g.Name, &g.Color, &g.Position); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

const itemColumns = "id, board_id, group_id, name, position, created_at"

func scanItem(scan func(dest ...any) error) (domain.Item, error) {
	var it domain.Item
	var created int64
	if err := scan(&it.ID, &it.BoardID, &it.GroupID, &it.Name, &it.Position, &created); err != nil {
		return domain.Item{}, err
	}
	it.CreatedAt = fromMillis(created)
	return it, nil
}

// GetItem returns an item or domain.ErrNotFound.
func (d *DB) GetItem(ctx context.Context, id string) (domain.Item, error) {
	it, err := scanItem(d.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM board_items WHERE id = ?", id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, domain.NotFoundf("item %s", id)
	}
	return it, mapErr(err)
}

// ListItems returns the items of a group by position.
func (d *DB) ListItems(ctx context.Context, groupID string) ([]domain.Item, error) {
	return d.queryItems(ctx, "SELECT "+itemColumns+" FROM board_items WHERE group_id = ? ORDER BY position", groupID)
}

// ListBoardItems returns every item of a board ordered by group id and position.
func (d *DB) ListBoardItems(ctx context.Context, boardID string) ([]domain.Item, error) {
	return d.queryItems(ctx, "SELECT "+itemColumns+" FROM board_items WHERE board_id = ? ORDER BY group_id, position", boardID)
}

func (d *DB) queryItems(ctx context.Context, query string, args ...any) ([]domain.Item, error) {
	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := []domain.Item{}
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

const columnColumns = "id, board_id, label, type, position, settings"

func scanColumn(scan func(dest ...any) error) (domain.Column, error) {
	var c domain.Column
	var typ string
	var settings sql.NullString
	if err := scan(&c.ID, &c.BoardID, &c.Label, &typ, &c.Position, &settings); err != nil {
		return domain.Column{}, err
	}
	c.Type = domain.ColumnType(typ)
	if settings.Valid && settings.String != "" {
		c.Settings = sonic.NoCopyRawMessage(settings.String)
	}
	return c, nil
}

// GetColumn returns a column or domain.ErrNotFound.
func (d *DB) GetColumn(ctx context.Context, id string) (domain.Column, error) {
	c, err := scanColumn(d.QueryRowContext(ctx, "SELECT "+columnColumns+" FROM board_columns WHERE id = ?", id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Column{}, domain.NotFoundf("column %s", id)
	}
	return c, mapErr(err)
}

// ListColumns returns the board's columns by position.
func (d *DB) ListColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	rows, err := d.QueryContext(ctx,
		"SELECT "+columnColumns+" FROM board_columns WHERE board_id = ? ORDER BY position", boardID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := []domain.Column{}
	for rows.Next() {
		c, err := scanColumn(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertCell writes the value of (item, column), replacing any previous
// value. The stored row is returned.
func (d *DB) UpsertCell(ctx context.Context, cell domain.CellValue) (domain.CellValue, error) {
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`INSERT INTO cell_values (id, item_id, column_id, value, updated_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(item_id, column_id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
			 RETURNING id`,
			cell.ID, cell.ItemID, cell.ColumnID, string(cell.Value), cell.UpdatedAt.UnixMilli()).Scan(&cell.ID)
	})
	if err != nil {
		return domain.CellValue{}, err
	}
	return cell, nil
}

// ListCells returns the cell values of an item.
func (d *DB) ListCells(ctx context.Context, itemID string) ([]domain.CellValue, error) {
	return d.queryCells(ctx,
		"SELECT id, item_id, column_id, value, updated_at FROM cell_values WHERE item_id = ? ORDER BY column_id", itemID)
}

// ListBoardCells returns every cell value of a board.
func (d *DB) ListBoardCells(ctx context.Context, boardID string) ([]domain.CellValue, error) {
	return d.queryCells(ctx,
		`SELECT c.id, c.item_id, c.column_id, c.value, c.updated_at
		 FROM cell_values c JOIN board_items i ON i.id = c.item_id
		 WHERE i.board_id = ? ORDER BY c.item_id, c.column_id`, boardID)
}

func (d *DB) queryCells(ctx context.Context, query string, args ...any) ([]domain.CellValue, error) {
	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := []domain.CellValue{}
	for rows.Next() {
		var c domain.CellValue
		var value string
		var updated int64
		if err := rows.Scan(&c.ID, &c.ItemID, &c.ColumnID, &value, &updated); err != nil {
			return nil, err
		}
		c.Value = sonic.NoCopyRawMessage(value)
		c.UpdatedAt = fromMillis(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}
