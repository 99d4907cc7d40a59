package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eladsnd/sunday/domain"
)

type stubChanges struct {
	ch      chan domain.BoardChange
	boardID string
}

func (s *stubChanges) Subscribe(_ context.Context, boardID string) (<-chan domain.BoardChange, error) {
	s.boardID = boardID
	return s.ch, nil
}

func TestStreamBoardRelaysChanges(t *testing.T) {
	changes := &stubChanges{ch: make(chan domain.BoardChange, 1)}
	ts := newTestServer(t, func(d *Deps) { d.Changes = changes })
	srv := httptest.NewServer(ts.e)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/boards/b1/stream?token=bob", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected response: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	changes.ch <- domain.BoardChange{BoardID: "b1", Entity: "item", EntityID: "i1", Operation: domain.OpMove}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, `"entityId":"i1"`) || !strings.Contains(line, `"operation":"move"`) {
				t.Fatalf("unexpected event: %s", line)
			}
			break
		}
	}
	if changes.boardID != "b1" {
		t.Fatalf("subscribed to %q", changes.boardID)
	}
}

func TestStreamBoardRejects(t *testing.T) {
	ts := newTestServer(t, nil)
	if rec := ts.do(http.MethodGet, "/api/boards/b1/stream", "bob", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a change feed, got %d", rec.Code)
	}

	ts = newTestServer(t, func(d *Deps) { d.Changes = &stubChanges{ch: make(chan domain.BoardChange)} })
	if rec := ts.do(http.MethodGet, "/api/boards/nope/stream", "bob", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown board, got %d", rec.Code)
	}
	if rec := ts.do(http.MethodGet, "/api/boards/b1/stream", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
