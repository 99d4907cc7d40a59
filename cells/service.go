// Package cells is the boundary where cell values are written and where
// committed writes are handed to the automation engine.
package cells

import (
	"bytes"
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/eladsnd/sunday/automation"
	"github.com/eladsnd/sunday/domain"
)

// Store reads items and columns and writes cell values.
type Store interface {
	GetItem(ctx context.Context, id string) (domain.Item, error)
	GetColumn(ctx context.Context, id string) (domain.Column, error)
	UpsertCell(ctx context.Context, cell domain.CellValue) (domain.CellValue, error)
	ListCells(ctx context.Context, itemID string) ([]domain.CellValue, error)
}

// Evaluator runs automation rules for a committed change.
type Evaluator interface {
	Handle(ctx context.Context, ev domain.ChangeEvent) automation.Outcome
}

// ChangePublisher announces committed board changes.
type ChangePublisher interface {
	Publish(ctx context.Context, ch domain.BoardChange)
}

// Update is the result of a cell write.
type Update struct {
	Cell       domain.CellValue   `json:"cell"`
	Automation automation.Outcome `json:"automation"`
}

type Service struct {
	store     Store
	engine    Evaluator
	publisher ChangePublisher
	logger    *log.Logger
	now       func() time.Time
}

// NewService creates the cell service. publisher may be nil.
func NewService(store Store, engine Evaluator, publisher ChangePublisher, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{store: store, engine: engine, publisher: publisher, logger: logger, now: time.Now}
}

// UpdateCellValue stores the value of (item, column) and, once the write has
// committed, notifies the automation engine. Automation failures are part of
// the returned Update and never turn into an error here.
func (s *Service) UpdateCellValue(ctx context.Context, itemID, columnID string, raw []byte) (Update, error) {
	if isNull(raw) {
		return Update{}, domain.Invalidf("value is required")
	}
	if !sonic.Valid(bytes.TrimSpace(raw)) {
		return Update{}, domain.Invalidf("value is not valid JSON")
	}
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return Update{}, err
	}
	col, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return Update{}, err
	}
	if col.BoardID != item.BoardID {
		return Update{}, domain.Invalidf("column %s does not belong to board %s", columnID, item.BoardID)
	}

	now := s.now().UTC()
	cell, err := s.store.UpsertCell(ctx, domain.CellValue{
		ID:        uuid.NewString(),
		ItemID:    itemID,
		ColumnID:  columnID,
		Value:     sonic.NoCopyRawMessage(bytes.TrimSpace(raw)),
		UpdatedAt: now,
	})
	if err != nil {
		return Update{}, err
	}
	s.publish(ctx, domain.BoardChange{BoardID: item.BoardID, Entity: "cell", EntityID: cell.ID, Operation: domain.OpUpdate, Time: now.UnixMilli()})

	out := s.NotifyCellChanged(ctx, item.BoardID, columnID, cell.Value, itemID)
	return Update{Cell: cell, Automation: out}, nil
}

// NotifyCellChanged coerces the value to a scalar and hands the change to
// the automation engine. It must only be called after the write committed.
func (s *Service) NotifyCellChanged(ctx context.Context, boardID, columnID string, raw []byte, itemID string) automation.Outcome {
	value, err := ScalarValue(raw)
	if err != nil {
		s.logger.WithFields(log.Fields{"board": boardID, "item": itemID, "column": columnID}).WithError(err).Warn("cell value not evaluable")
		return automation.Outcome{}
	}
	if s.engine == nil {
		return automation.Outcome{}
	}
	out := s.engine.Handle(ctx, domain.ChangeEvent{BoardID: boardID, ColumnID: columnID, Value: value, ItemID: itemID})
	for _, m := range out.Moves {
		s.publish(ctx, domain.BoardChange{BoardID: boardID, Entity: "item", EntityID: m.ItemID, Operation: domain.OpMove, Time: s.now().UnixMilli()})
	}
	return out
}

// GetCells returns the stored values of an item.
func (s *Service) GetCells(ctx context.Context, itemID string) ([]domain.CellValue, error) {
	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.store.ListCells(ctx, itemID)
}

func (s *Service) publish(ctx context.Context, ch domain.BoardChange) {
	if s.publisher != nil {
		s.publisher.Publish(ctx, ch)
	}
}
