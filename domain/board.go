package domain

import (
	"time"

	"github.com/bytedance/sonic"
)

// DefaultGroupColor is assigned to groups created without a color.
const DefaultGroupColor = "#3b9eff"

// Board owns groups, columns and automation rules.
type Board struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"ownerId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Group is an ordered section of a board. Its scope is the board.
type Group struct {
	ID       string `json:"id"`
	BoardID  string `json:"boardId"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Position int    `json:"position"`
}

// Item is an ordered row of a group. Its scope is the group; BoardID
// always follows the owning group.
type Item struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	GroupID   string    `json:"groupId"`
	Name      string    `json:"name"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
}

// ColumnType enumerates the cell editors a column can carry.
type ColumnType string

const (
	ColumnText     ColumnType = "text"
	ColumnStatus   ColumnType = "status"
	ColumnDate     ColumnType = "date"
	ColumnTimeline ColumnType = "timeline"
	ColumnPerson   ColumnType = "person"
	ColumnLink     ColumnType = "link"
	ColumnNumber   ColumnType = "number"
	ColumnPriority ColumnType = "priority"
	ColumnFiles    ColumnType = "files"
)

// Valid reports whether t is a known column type.
func (t ColumnType) Valid() bool {
	switch t {
	case ColumnText, ColumnStatus, ColumnDate, ColumnTimeline, ColumnPerson,
		ColumnLink, ColumnNumber, ColumnPriority, ColumnFiles:
		return true
	}
	return false
}

// Column is a typed, ordered board column. Its scope is the board.
type Column struct {
	ID       string                 `json:"id"`
	BoardID  string                 `json:"boardId"`
	Label    string                 `json:"label"`
	Type     ColumnType             `json:"type"`
	Position int                    `json:"position"`
	Settings sonic.NoCopyRawMessage `json:"settings,omitempty"`
}

// CellValue is the value of one column for one item. Value is kept as the
// raw JSON envelope the client sent; status cells carry {"text": "..."}.
type CellValue struct {
	ID        string                 `json:"id"`
	ItemID    string                 `json:"itemId"`
	ColumnID  string                 `json:"columnId"`
	Value     sonic.NoCopyRawMessage `json:"value"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// ChangeOperation describes what happened to a board entity.
type ChangeOperation string

const (
	OpCreate ChangeOperation = "create"
	OpMove   ChangeOperation = "move"
	OpUpdate ChangeOperation = "update"
	OpDelete ChangeOperation = "delete"
)

// BoardChange is published after a board mutation has committed.
type BoardChange struct {
	BoardID   string          `json:"boardId"`
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entityId"`
	Operation ChangeOperation `json:"operation"`
	Time      int64           `json:"time"`
}
