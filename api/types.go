package api

import (
	"context"

	"github.com/eladsnd/sunday/boards"
	"github.com/eladsnd/sunday/cells"
	"github.com/eladsnd/sunday/domain"
)

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents the same mutation from being applied twice.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the mutation fails.
	Remove(ctx context.Context, userID, key string) error
}

// Boards manages boards and their ordered children.
type Boards interface {
	CreateBoard(ctx context.Context, ownerID string, in boards.NewBoard) (domain.Board, error)
	GetBoard(ctx context.Context, id string) (boards.Snapshot, error)
	RequireOwner(ctx context.Context, boardID, userID string) (domain.Board, error)
	DeleteBoard(ctx context.Context, id string) error
	CreateGroup(ctx context.Context, boardID string, in boards.NewGroup) (domain.Group, error)
	MoveGroup(ctx context.Context, id string, position int) (domain.Group, error)
	DeleteGroup(ctx context.Context, id string) error
	CreateItem(ctx context.Context, groupID string, in boards.NewItem) (domain.Item, error)
	MoveItem(ctx context.Context, id string, position int, groupID string) (domain.Item, error)
	DeleteItem(ctx context.Context, id string) error
	CreateColumn(ctx context.Context, boardID string, in boards.NewColumn) (domain.Column, error)
	MoveColumn(ctx context.Context, id string, position int) (domain.Column, error)
	DeleteColumn(ctx context.Context, id string) error
}

// Cells writes cell values.
type Cells interface {
	UpdateCellValue(ctx context.Context, itemID, columnID string, raw []byte) (cells.Update, error)
}

// Rules manages automation rules.
type Rules interface {
	Create(ctx context.Context, in domain.NewRule) (domain.AutomationRule, error)
	List(ctx context.Context, boardID string) ([]domain.AutomationRule, error)
	Get(ctx context.Context, id string) (domain.AutomationRule, error)
	Delete(ctx context.Context, id string) error
}

// Failures lists recorded automation failures of a board, newest first.
type Failures interface {
	List(ctx context.Context, boardID string, limit int) ([]domain.AutomationFailure, error)
}

// Changes streams committed changes of a board.
type Changes interface {
	Subscribe(ctx context.Context, boardID string) (<-chan domain.BoardChange, error)
}

// Deps are the services behind the HTTP surface. Deduper, Failures and
// Changes are optional.
type Deps struct {
	Boards   Boards
	Cells    Cells
	Rules    Rules
	Failures Failures
	Changes  Changes
	Auth     Authenticator
	Deduper  Deduper
}
