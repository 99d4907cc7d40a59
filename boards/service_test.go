package boards

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/eladsnd/sunday/domain"
	"github.com/eladsnd/sunday/ordering"
	"github.com/eladsnd/sunday/storage"
)

type recordingPublisher struct {
	changes []domain.BoardChange
}

func (p *recordingPublisher) Publish(_ context.Context, ch domain.BoardChange) {
	p.changes = append(p.changes, ch)
}

func (p *recordingPublisher) last() domain.BoardChange {
	if len(p.changes) == 0 {
		return domain.BoardChange{}
	}
	return p.changes[len(p.changes)-1]
}

type recordingEvictor struct {
	evicted []string
}

func (r *recordingEvictor) EvictBoard(_ context.Context, boardID string) {
	r.evicted = append(r.evicted, boardID)
}

func newTestService(t *testing.T) (*Service, *recordingPublisher, *recordingEvictor) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	db, err := storage.Open(filepath.Join(t.TempDir(), "board.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	pub := &recordingPublisher{}
	ev := &recordingEvictor{}
	order := ordering.NewEngine(db, ordering.NewLocalLocker(5*time.Second), logger)
	return NewService(db, order, pub, ev, logger), pub, ev
}

func itemIDs(items []domain.Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

func TestBoardLifecycle(t *testing.T) {
	svc, pub, ev := newTestService(t)
	ctx := context.Background()

	b, err := svc.CreateBoard(ctx, "user-1", NewBoard{Name: "  Roadmap "})
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	if b.Name != "Roadmap" || b.OwnerID != "user-1" {
		t.Fatalf("unexpected board: %+v", b)
	}

	todo, err := svc.CreateGroup(ctx, b.ID, NewGroup{Name: "Todo"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	done, err := svc.CreateGroup(ctx, b.ID, NewGroup{Name: "Done", Color: "#00c875"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if todo.Position != 0 || done.Position != 1 || todo.Color != domain.DefaultGroupColor {
		t.Fatalf("unexpected groups: %+v %+v", todo, done)
	}
	if last := pub.last(); last.Entity != "group" || last.EntityID != done.ID || last.Operation != domain.OpCreate {
		t.Fatalf("unexpected change: %+v", last)
	}

	var items []domain.Item
	for _, name := range []string{"a", "b", "c"} {
		it, err := svc.CreateItem(ctx, todo.ID, NewItem{Name: name})
		if err != nil {
			t.Fatalf("create item: %v", err)
		}
		items = append(items, it)
	}
	if items[2].Position != 2 || items[2].BoardID != b.ID {
		t.Fatalf("unexpected item: %+v", items[2])
	}

	moved, err := svc.MoveItem(ctx, items[2].ID, 0, "")
	if err != nil {
		t.Fatalf("move item: %v", err)
	}
	if moved.Position != 0 || moved.GroupID != todo.ID {
		t.Fatalf("unexpected moved item: %+v", moved)
	}
	crossed, err := svc.MoveItem(ctx, items[0].ID, 99, done.ID)
	if err != nil {
		t.Fatalf("move across: %v", err)
	}
	if crossed.GroupID != done.ID || crossed.Position != 0 {
		t.Fatalf("unexpected crossed item: %+v", crossed)
	}

	status, err := svc.CreateColumn(ctx, b.ID, NewColumn{Label: "Status", Type: domain.ColumnStatus, Settings: []byte(`{"labels":["Done"]}`)})
	if err != nil {
		t.Fatalf("create column: %v", err)
	}
	if _, err := svc.CreateColumn(ctx, b.ID, NewColumn{Label: "Owner", Type: domain.ColumnPerson}); err != nil {
		t.Fatalf("create column: %v", err)
	}
	if c, err := svc.MoveColumn(ctx, status.ID, 5); err != nil || c.Position != 1 {
		t.Fatalf("move column: %+v, %v", c, err)
	}
	if g, err := svc.MoveGroup(ctx, done.ID, 0); err != nil || g.Position != 0 {
		t.Fatalf("move group: %+v, %v", g, err)
	}

	snap, err := svc.GetBoard(ctx, b.ID)
	if err != nil {
		t.Fatalf("get board: %v", err)
	}
	if len(snap.Groups) != 2 || snap.Groups[0].ID != done.ID || snap.Groups[1].ID != todo.ID {
		t.Fatalf("unexpected group order: %+v", snap.Groups)
	}
	if got := itemIDs(snap.Groups[1].Items); len(got) != 2 || got[0] != items[2].ID || got[1] != items[1].ID {
		t.Fatalf("unexpected todo items: %v", got)
	}
	if len(snap.Columns) != 2 || snap.Columns[1].ID != status.ID || string(snap.Columns[1].Settings) != `{"labels":["Done"]}` {
		t.Fatalf("unexpected columns: %+v", snap.Columns)
	}

	if err := svc.DeleteItem(ctx, items[2].ID); err != nil {
		t.Fatalf("delete item: %v", err)
	}
	if err := svc.DeleteColumn(ctx, status.ID); err != nil {
		t.Fatalf("delete column: %v", err)
	}
	if err := svc.DeleteGroup(ctx, done.ID); err != nil {
		t.Fatalf("delete group: %v", err)
	}
	snap, err = svc.GetBoard(ctx, b.ID)
	if err != nil {
		t.Fatalf("get board: %v", err)
	}
	if len(snap.Groups) != 1 || snap.Groups[0].Position != 0 || len(snap.Groups[0].Items) != 1 || snap.Groups[0].Items[0].Position != 0 {
		t.Fatalf("board not dense after deletes: %+v", snap.Groups)
	}
	if len(snap.Columns) != 1 || snap.Columns[0].Position != 0 {
		t.Fatalf("columns not dense after delete: %+v", snap.Columns)
	}

	if err := svc.DeleteBoard(ctx, b.ID); err != nil {
		t.Fatalf("delete board: %v", err)
	}
	if len(ev.evicted) != 1 || ev.evicted[0] != b.ID {
		t.Fatalf("expected rule cache eviction, got %v", ev.evicted)
	}
	if _, err := svc.GetBoard(ctx, b.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if last := pub.last(); last.Entity != "board" || last.Operation != domain.OpDelete {
		t.Fatalf("unexpected last change: %+v", last)
	}
}

func TestServiceRejects(t *testing.T) {
	svc, pub, _ := newTestService(t)
	ctx := context.Background()
	b, err := svc.CreateBoard(ctx, "user-1", NewBoard{Name: "b"})
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	g, err := svc.CreateGroup(ctx, b.ID, NewGroup{Name: "g"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	it, err := svc.CreateItem(ctx, g.ID, NewItem{Name: "i"})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	foreign, err := svc.CreateBoard(ctx, "user-2", NewBoard{Name: "foreign"})
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	foreignGroup, err := svc.CreateGroup(ctx, foreign.ID, NewGroup{Name: "theirs"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	published := len(pub.changes)

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"empty board name", func() error { _, err := svc.CreateBoard(ctx, "u", NewBoard{Name: " "}); return err }, domain.ErrInvalidArgument},
		{"empty group name", func() error { _, err := svc.CreateGroup(ctx, b.ID, NewGroup{}); return err }, domain.ErrInvalidArgument},
		{"group on unknown board", func() error { _, err := svc.CreateGroup(ctx, "nope", NewGroup{Name: "x"}); return err }, domain.ErrNotFound},
		{"item in unknown group", func() error { _, err := svc.CreateItem(ctx, "nope", NewItem{Name: "x"}); return err }, domain.ErrNotFound},
		{"unknown column type", func() error {
			_, err := svc.CreateColumn(ctx, b.ID, NewColumn{Label: "x", Type: "formula"})
			return err
		}, domain.ErrInvalidArgument},
		{"invalid settings", func() error {
			_, err := svc.CreateColumn(ctx, b.ID, NewColumn{Label: "x", Type: domain.ColumnText, Settings: []byte("{")})
			return err
		}, domain.ErrInvalidArgument},
		{"negative position", func() error { _, err := svc.MoveItem(ctx, it.ID, -1, ""); return err }, domain.ErrInvalidArgument},
		{"move to unknown group", func() error { _, err := svc.MoveItem(ctx, it.ID, 0, "nope"); return err }, domain.ErrNotFound},
		{"move to group of another board", func() error { _, err := svc.MoveItem(ctx, it.ID, 0, foreignGroup.ID); return err }, domain.ErrInvalidArgument},
		{"delete unknown item", func() error { return svc.DeleteItem(ctx, "nope") }, domain.ErrNotFound},
		{"delete unknown board", func() error { return svc.DeleteBoard(ctx, "nope") }, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if len(pub.changes) != published {
		t.Fatalf("failed mutations must not publish, got %+v", pub.changes[published:])
	}
}

func TestRequireOwner(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	b, err := svc.CreateBoard(ctx, "user-1", NewBoard{Name: "b"})
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	if _, err := svc.RequireOwner(ctx, b.ID, "user-1"); err != nil {
		t.Fatalf("owner rejected: %v", err)
	}
	if _, err := svc.RequireOwner(ctx, b.ID, "user-2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.RequireOwner(ctx, "nope", "user-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
