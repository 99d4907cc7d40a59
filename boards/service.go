// Package boards manages boards and their ordered groups, items and
// columns. Every position change goes through the ordering engine.
package boards

import (
	"context"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/eladsnd/sunday/domain"
	"github.com/eladsnd/sunday/ordering"
)

// Store reads and writes board entities. Ordered children are created and
// moved through ordering.Positioner, never directly.
type Store interface {
	CreateBoard(ctx context.Context, b domain.Board) error
	GetBoard(ctx context.Context, id string) (domain.Board, error)
	DeleteBoard(ctx context.Context, id string) error
	TouchBoard(ctx context.Context, id string, at time.Time) error
	GetGroup(ctx context.Context, id string) (domain.Group, error)
	ListGroups(ctx context.Context, boardID string) ([]domain.Group, error)
	GetItem(ctx context.Context, id string) (domain.Item, error)
	ListBoardItems(ctx context.Context, boardID string) ([]domain.Item, error)
	GetColumn(ctx context.Context, id string) (domain.Column, error)
	ListColumns(ctx context.Context, boardID string) ([]domain.Column, error)
	ListBoardCells(ctx context.Context, boardID string) ([]domain.CellValue, error)
}

// ChangePublisher announces committed board changes.
type ChangePublisher interface {
	Publish(ctx context.Context, ch domain.BoardChange)
}

// RuleEvictor drops cached automation rules of a board.
type RuleEvictor interface {
	EvictBoard(ctx context.Context, boardID string)
}

type Service struct {
	store     Store
	positions ordering.Positioner
	publisher ChangePublisher
	rules     RuleEvictor
	logger    *log.Logger
	now       func() time.Time
}

// NewService creates the board service. publisher and rules may be nil.
func NewService(store Store, positions ordering.Positioner, publisher ChangePublisher, rules RuleEvictor, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{store: store, positions: positions, publisher: publisher, rules: rules, logger: logger, now: time.Now}
}

type NewBoard struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type NewGroup struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type NewItem struct {
	Name string `json:"name"`
}

type NewColumn struct {
	Label    string                 `json:"label"`
	Type     domain.ColumnType      `json:"type"`
	Settings sonic.NoCopyRawMessage `json:"settings"`
}

// GroupView is a group with its items in position order.
type GroupView struct {
	domain.Group
	Items []domain.Item `json:"items"`
}

// Snapshot is the full state of a board.
type Snapshot struct {
	domain.Board
	Groups  []GroupView        `json:"groups"`
	Columns []domain.Column    `json:"columns"`
	Cells   []domain.CellValue `json:"cells"`
}

func (s *Service) CreateBoard(ctx context.Context, ownerID string, in NewBoard) (domain.Board, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Board{}, domain.Invalidf("board name is required")
	}
	now := s.now().UTC()
	b := domain.Board{
		ID:          uuid.NewString(),
		Name:        name,
		Description: in.Description,
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateBoard(ctx, b); err != nil {
		return domain.Board{}, err
	}
	s.logger.WithFields(log.Fields{"board": b.ID, "owner": ownerID}).Info("board created")
	s.publish(ctx, b.ID, "board", b.ID, domain.OpCreate)
	return b, nil
}

// GetBoard returns the board with its groups, items and columns ordered by
// position.
func (s *Service) GetBoard(ctx context.Context, id string) (Snapshot, error) {
	b, err := s.store.GetBoard(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	groups, err := s.store.ListGroups(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	items, err := s.store.ListBoardItems(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	columns, err := s.store.ListColumns(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	cells, err := s.store.ListBoardCells(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}

	byGroup := make(map[string][]domain.Item, len(groups))
	for _, it := range items {
		byGroup[it.GroupID] = append(byGroup[it.GroupID], it)
	}
	snap := Snapshot{Board: b, Groups: make([]GroupView, 0, len(groups)), Columns: columns, Cells: cells}
	for _, g := range groups {
		gi := byGroup[g.ID]
		if gi == nil {
			gi = []domain.Item{}
		}
		snap.Groups = append(snap.Groups, GroupView{Group: g, Items: gi})
	}
	return snap, nil
}

// RequireOwner returns the board when userID owns it and
// domain.ErrForbidden otherwise.
func (s *Service) RequireOwner(ctx context.Context, boardID, userID string) (domain.Board, error) {
	b, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return domain.Board{}, err
	}
	if b.OwnerID != userID {
		return domain.Board{}, domain.ErrForbidden
	}
	return b, nil
}

// DeleteBoard removes the board and everything it owns.
func (s *Service) DeleteBoard(ctx context.Context, id string) error {
	if err := s.store.DeleteBoard(ctx, id); err != nil {
		return err
	}
	if s.rules != nil {
		s.rules.EvictBoard(ctx, id)
	}
	s.logger.WithField("board", id).Info("board deleted")
	s.publish(ctx, id, "board", id, domain.OpDelete)
	return nil
}

func (s *Service) CreateGroup(ctx context.Context, boardID string, in NewGroup) (domain.Group, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Group{}, domain.Invalidf("group name is required")
	}
	color := in.Color
	if color == "" {
		color = domain.DefaultGroupColor
	}
	g := domain.Group{ID: uuid.NewString(), BoardID: boardID, Name: name, Color: color}
	pos, err := s.positions.Append(ctx, ordering.KindGroup, boardID, g.ID, g)
	if err != nil {
		return domain.Group{}, err
	}
	g.Position = pos
	s.changed(ctx, boardID, string(ordering.KindGroup), g.ID, domain.OpCreate)
	return g, nil
}

func (s *Service) MoveGroup(ctx context.Context, id string, position int) (domain.Group, error) {
	ent, err := s.positions.MoveWithinScope(ctx, ordering.KindGroup, id, position)
	if err != nil {
		return domain.Group{}, err
	}
	g, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return domain.Group{}, err
	}
	s.changed(ctx, ent.ScopeKey, string(ordering.KindGroup), id, domain.OpMove)
	return g, nil
}

// DeleteGroup removes a group together with its items.
func (s *Service) DeleteGroup(ctx context.Context, id string) error {
	ent, err := s.positions.RemoveFromScope(ctx, ordering.KindGroup, id)
	if err != nil {
		return err
	}
	s.changed(ctx, ent.ScopeKey, string(ordering.KindGroup), id, domain.OpDelete)
	return nil
}

func (s *Service) CreateItem(ctx context.Context, groupID string, in NewItem) (domain.Item, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Item{}, domain.Invalidf("item name is required")
	}
	id := uuid.NewString()
	if _, err := s.positions.Append(ctx, ordering.KindItem, groupID, id, domain.Item{Name: name, CreatedAt: s.now().UTC()}); err != nil {
		return domain.Item{}, err
	}
	it, err := s.store.GetItem(ctx, id)
	if err != nil {
		return domain.Item{}, err
	}
	s.changed(ctx, it.BoardID, string(ordering.KindItem), id, domain.OpCreate)
	return it, nil
}

// MoveItem moves an item within its group, or into groupID when it is set.
func (s *Service) MoveItem(ctx context.Context, id string, position int, groupID string) (domain.Item, error) {
	var err error
	if groupID == "" {
		_, err = s.positions.MoveWithinScope(ctx, ordering.KindItem, id, position)
	} else {
		_, err = s.positions.MoveAcrossScope(ctx, ordering.KindItem, id, groupID, position)
	}
	if err != nil {
		return domain.Item{}, err
	}
	it, err := s.store.GetItem(ctx, id)
	if err != nil {
		return domain.Item{}, err
	}
	s.changed(ctx, it.BoardID, string(ordering.KindItem), id, domain.OpMove)
	return it, nil
}

func (s *Service) DeleteItem(ctx context.Context, id string) error {
	it, err := s.store.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.positions.RemoveFromScope(ctx, ordering.KindItem, id); err != nil {
		return err
	}
	s.changed(ctx, it.BoardID, string(ordering.KindItem), id, domain.OpDelete)
	return nil
}

func (s *Service) CreateColumn(ctx context.Context, boardID string, in NewColumn) (domain.Column, error) {
	label := strings.TrimSpace(in.Label)
	if label == "" {
		return domain.Column{}, domain.Invalidf("column label is required")
	}
	if !in.Type.Valid() {
		return domain.Column{}, domain.Invalidf("unknown column type %q", in.Type)
	}
	if len(in.Settings) > 0 && !sonic.Valid(in.Settings) {
		return domain.Column{}, domain.Invalidf("column settings are not valid JSON")
	}
	c := domain.Column{ID: uuid.NewString(), BoardID: boardID, Label: label, Type: in.Type, Settings: in.Settings}
	pos, err := s.positions.Append(ctx, ordering.KindColumn, boardID, c.ID, c)
	if err != nil {
		return domain.Column{}, err
	}
	c.Position = pos
	s.changed(ctx, boardID, string(ordering.KindColumn), c.ID, domain.OpCreate)
	return c, nil
}

func (s *Service) MoveColumn(ctx context.Context, id string, position int) (domain.Column, error) {
	ent, err := s.positions.MoveWithinScope(ctx, ordering.KindColumn, id, position)
	if err != nil {
		return domain.Column{}, err
	}
	c, err := s.store.GetColumn(ctx, id)
	if err != nil {
		return domain.Column{}, err
	}
	s.changed(ctx, ent.ScopeKey, string(ordering.KindColumn), id, domain.OpMove)
	return c, nil
}

// DeleteColumn removes a column and its cell values.
func (s *Service) DeleteColumn(ctx context.Context, id string) error {
	ent, err := s.positions.RemoveFromScope(ctx, ordering.KindColumn, id)
	if err != nil {
		return err
	}
	s.changed(ctx, ent.ScopeKey, string(ordering.KindColumn), id, domain.OpDelete)
	return nil
}

// changed runs after a mutation committed: it bumps the board's updated_at
// and publishes the change. Neither step can fail the mutation.
func (s *Service) changed(ctx context.Context, boardID, entity, id string, op domain.ChangeOperation) {
	if err := s.store.TouchBoard(ctx, boardID, s.now().UTC()); err != nil {
		s.logger.WithFields(log.Fields{"board": boardID, "entity": entity, "id": id}).WithError(err).Warn("touch board failed")
	}
	s.publish(ctx, boardID, entity, id, op)
}

func (s *Service) publish(ctx context.Context, boardID, entity, id string, op domain.ChangeOperation) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, domain.BoardChange{BoardID: boardID, Entity: entity, EntityID: id, Operation: op, Time: s.now().UnixMilli()})
}
