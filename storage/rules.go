package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/eladsnd/sunday/domain"
)

// InsertRule stores a rule. The board must exist.
func (d *DB) InsertRule(ctx context.Context, r domain.AutomationRule) error {
	trig, err := sonic.Marshal(r.TriggerConfig)
	if err != nil {
		return fmt.Errorf("encode trigger config: %w", err)
	}
	act, err := sonic.Marshal(r.ActionConfig)
	if err != nil {
		return fmt.Errorf("encode action config: %w", err)
	}
	_, err = d.ExecContext(ctx,
		`INSERT INTO automations (id, board_id, trigger_type, trigger_config, action_type, action_config, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.BoardID, string(r.TriggerType), string(trig), string(r.ActionType), string(act), r.CreatedAt.UnixMilli())
	return mapErr(err)
}

// ListRules returns the board's rules in creation order.
func (d *DB) ListRules(ctx context.Context, boardID string) ([]domain.AutomationRule, error) {
	return d.queryRules(ctx,
		`SELECT id, board_id, trigger_type, trigger_config, action_type, action_config, created_at
		 FROM automations WHERE board_id = ? ORDER BY created_at, rowid`, boardID)
}

// GetRule returns a rule or domain.ErrNotFound.
func (d *DB) GetRule(ctx context.Context, id string) (domain.AutomationRule, error) {
	rules, err := d.queryRules(ctx,
		`SELECT id, board_id, trigger_type, trigger_config, action_type, action_config, created_at
		 FROM automations WHERE id = ?`, id)
	if err != nil {
		return domain.AutomationRule{}, err
	}
	if len(rules) == 0 {
		return domain.AutomationRule{}, domain.NotFoundf("automation %s", id)
	}
	return rules[0], nil
}

// DeleteRule removes a rule and returns it.
func (d *DB) DeleteRule(ctx context.Context, id string) (domain.AutomationRule, error) {
	var removed domain.AutomationRule
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var boardID string
		if err := tx.QueryRowContext(ctx, "SELECT board_id FROM automations WHERE id = ?", id).Scan(&boardID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.NotFoundf("automation %s", id)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM automations WHERE id = ?", id); err != nil {
			return err
		}
		removed = domain.AutomationRule{ID: id, BoardID: boardID}
		return nil
	})
	return removed, err
}

func (d *DB) queryRules(ctx context.Context, query string, args ...any) ([]domain.AutomationRule, error) {
	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := []domain.AutomationRule{}
	for rows.Next() {
		var r domain.AutomationRule
		var trigType, actType, trig, act string
		var created int64
		if err := rows.Scan(&r.ID, &r.BoardID, &trigType, &trig, &actType, &act, &created); err != nil {
			return nil, err
		}
		r.TriggerType = domain.TriggerType(trigType)
		r.ActionType = domain.ActionType(actType)
		if err := sonic.UnmarshalString(trig, &r.TriggerConfig); err != nil {
			return nil, fmt.Errorf("decode trigger config of %s: %w", r.ID, err)
		}
		if err := sonic.UnmarshalString(act, &r.ActionConfig); err != nil {
			return nil, fmt.Errorf("decode action config of %s: %w", r.ID, err)
		}
		r.CreatedAt = fromMillis(created)
		out = append(out, r)
	}
	return out, rows.Err()
}
