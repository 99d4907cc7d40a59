package api

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"github.com/eladsnd/sunday/domain"
)

var streamHeartbeat = 15 * time.Second

// streamBoard relays committed changes of one board as server-sent events
// until the client goes away.
func (s *server) streamBoard(c echo.Context, _ request) error {
	if s.Changes == nil {
		return domain.NotFoundf("board stream is not configured")
	}
	ctx := c.Request().Context()
	boardID := c.Param("boardId")
	if _, err := s.Boards.GetBoard(ctx, boardID); err != nil {
		return err
	}
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return domain.Invalidf("stream unsupported")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	changes, err := s.Changes.Subscribe(ctx, boardID)
	if err != nil {
		return err
	}

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	if _, err := c.Response().Write([]byte(": connected\n\n")); err != nil {
		return nil
	}
	flusher.Flush()

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Response().Write([]byte(": ping\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		case ch, ok := <-changes:
			if !ok {
				return nil
			}
			data, err := sonic.Marshal(ch)
			if err != nil {
				s.logger.WithField("board", boardID).WithError(err).Error("encode board change")
				continue
			}
			if _, err := c.Response().Write([]byte("event: change\ndata: ")); err != nil {
				return nil
			}
			if _, err := c.Response().Write(data); err != nil {
				return nil
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}
