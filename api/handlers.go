package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/eladsnd/sunday/automation"
	"github.com/eladsnd/sunday/boards"
	"github.com/eladsnd/sunday/domain"
)

const defaultFailureLimit = 50

type server struct {
	Deps
	logger *log.Logger
}

// request is what an authenticated handler knows about its caller.
type request struct {
	userID  string
	metrics *requestMetrics
}

type handlerFunc func(c echo.Context, r request) error

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, deps Deps, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &server{Deps: deps, logger: logger}
	e.JSONSerializer = sonicSerializer{}

	e.POST("/api/boards", s.route("/api/boards", true, s.createBoard))
	e.GET("/api/boards/:boardId", s.route("/api/boards/:boardId", false, s.getBoard))
	e.DELETE("/api/boards/:boardId", s.route("/api/boards/:boardId", true, s.deleteBoard))

	e.POST("/api/boards/:boardId/groups", s.route("/api/boards/:boardId/groups", true, s.createGroup))
	e.PUT("/api/groups/:groupId/position", s.route("/api/groups/:groupId/position", true, s.moveGroup))
	e.DELETE("/api/groups/:groupId", s.route("/api/groups/:groupId", true, s.deleteGroup))

	e.POST("/api/groups/:groupId/items", s.route("/api/groups/:groupId/items", true, s.createItem))
	e.PUT("/api/items/:itemId/position", s.route("/api/items/:itemId/position", true, s.moveItem))
	e.DELETE("/api/items/:itemId", s.route("/api/items/:itemId", true, s.deleteItem))

	e.POST("/api/boards/:boardId/columns", s.route("/api/boards/:boardId/columns", true, s.createColumn))
	e.PUT("/api/columns/:columnId/position", s.route("/api/columns/:columnId/position", true, s.moveColumn))
	e.DELETE("/api/columns/:columnId", s.route("/api/columns/:columnId", true, s.deleteColumn))

	e.PUT("/api/items/:itemId/cells/:columnId", s.route("/api/items/:itemId/cells/:columnId", true, s.updateCell))

	e.GET("/api/boards/:boardId/automations", s.route("/api/boards/:boardId/automations", false, s.listAutomations))
	e.POST("/api/boards/:boardId/automations", s.route("/api/boards/:boardId/automations", true, s.createAutomation))
	e.DELETE("/api/automations/:automationId", s.route("/api/automations/:automationId", true, s.deleteAutomation))
	e.GET("/api/boards/:boardId/automation-failures", s.route("/api/boards/:boardId/automation-failures", false, s.listFailures))

	e.GET("/api/boards/:boardId/stream", s.route("/api/boards/:boardId/stream", false, s.streamBoard))
	e.GET("/healthz", healthz)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// route authenticates the caller, applies the Idempotency-Key of mutating
// requests and records request metrics around h.
func (s *server) route(route string, mutating bool, h handlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics, ctx := newRequestMetrics(c.Request().Context(), s.logger, c.Request().Method, route)
		c.SetRequest(c.Request().WithContext(ctx))
		var herr error
		defer func() {
			metrics.Log(c.Response().Status, herr)
		}()

		authStart := time.Now()
		userID, authErr := s.Auth.UserIDFromAuthHeader(authHeader(c))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			herr = unauthorizedError{authErr}
			return s.fail(c, metrics, route, herr)
		}
		metrics.SetUser(userID)

		if key := strings.TrimSpace(c.Request().Header.Get(IdempotencyHeader)); mutating && key != "" && s.Deduper != nil {
			added, err := s.Deduper.Add(ctx, userID, key)
			switch {
			case err != nil:
				s.logger.WithFields(log.Fields{"route": route, "user": userID}).WithError(err).Warn("idempotency check unavailable")
			case !added:
				herr = errDuplicateRequest
				return s.fail(c, metrics, route, herr)
			default:
				defer func() {
					if herr == nil {
						return
					}
					if err := s.Deduper.Remove(ctx, userID, key); err != nil {
						s.logger.WithFields(log.Fields{"route": route, "user": userID}).WithError(err).Warn("release idempotency key")
					}
				}()
			}
		}

		start := time.Now()
		herr = h(c, request{userID: userID, metrics: metrics})
		metrics.ObserveHandle(time.Since(start))
		if herr != nil {
			return s.fail(c, metrics, route, herr)
		}
		return nil
	}
}

func (s *server) fail(c echo.Context, metrics *requestMetrics, route string, err error) error {
	status := statusFor(err)
	metrics.SetErrorStage(errorStage(status))
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.WithField("route", route).WithError(err).Error("request failed")
		msg = "internal error"
	}
	if c.Response().Committed {
		return nil
	}
	return c.JSON(status, errorResponse{Error: msg})
}

type positionRequest struct {
	Position *int   `json:"position"`
	GroupID  string `json:"groupId"`
}

func decodePosition(c echo.Context, allowGroup bool) (positionRequest, error) {
	var in positionRequest
	if err := decodeBody(c, &in); err != nil {
		return in, err
	}
	if in.Position == nil {
		return in, domain.Invalidf("position is required")
	}
	if in.GroupID != "" && !allowGroup {
		return in, domain.Invalidf("groupId is only accepted for items")
	}
	return in, nil
}

func (s *server) createBoard(c echo.Context, r request) error {
	var in boards.NewBoard
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	b, err := s.Boards.CreateBoard(c.Request().Context(), r.userID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

func (s *server) getBoard(c echo.Context, _ request) error {
	snap, err := s.Boards.GetBoard(c.Request().Context(), c.Param("boardId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *server) deleteBoard(c echo.Context, r request) error {
	ctx := c.Request().Context()
	id := c.Param("boardId")
	if _, err := s.Boards.RequireOwner(ctx, id, r.userID); err != nil {
		return err
	}
	if err := s.Boards.DeleteBoard(ctx, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *server) createGroup(c echo.Context, _ request) error {
	var in boards.NewGroup
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	g, err := s.Boards.CreateGroup(c.Request().Context(), c.Param("boardId"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, g)
}

func (s *server) moveGroup(c echo.Context, _ request) error {
	in, err := decodePosition(c, false)
	if err != nil {
		return err
	}
	g, err := s.Boards.MoveGroup(c.Request().Context(), c.Param("groupId"), *in.Position)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, g)
}

func (s *server) deleteGroup(c echo.Context, _ request) error {
	if err := s.Boards.DeleteGroup(c.Request().Context(), c.Param("groupId")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *server) createItem(c echo.Context, _ request) error {
	var in boards.NewItem
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	it, err := s.Boards.CreateItem(c.Request().Context(), c.Param("groupId"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, it)
}

func (s *server) moveItem(c echo.Context, _ request) error {
	in, err := decodePosition(c, true)
	if err != nil {
		return err
	}
	it, err := s.Boards.MoveItem(c.Request().Context(), c.Param("itemId"), *in.Position, in.GroupID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, it)
}

func (s *server) deleteItem(c echo.Context, _ request) error {
	if err := s.Boards.DeleteItem(c.Request().Context(), c.Param("itemId")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *server) createColumn(c echo.Context, _ request) error {
	var in boards.NewColumn
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	col, err := s.Boards.CreateColumn(c.Request().Context(), c.Param("boardId"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, col)
}

func (s *server) moveColumn(c echo.Context, _ request) error {
	in, err := decodePosition(c, false)
	if err != nil {
		return err
	}
	col, err := s.Boards.MoveColumn(c.Request().Context(), c.Param("columnId"), *in.Position)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, col)
}

func (s *server) deleteColumn(c echo.Context, _ request) error {
	if err := s.Boards.DeleteColumn(c.Request().Context(), c.Param("columnId")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type cellRequest struct {
	Value sonic.NoCopyRawMessage `json:"value"`
}

type cellResponse struct {
	Cell             domain.CellValue   `json:"cell"`
	Automation       automation.Outcome `json:"automation"`
	AutomationErrors []string           `json:"automationErrors,omitempty"`
}

// updateCell succeeds whenever the value is stored; failed automation
// actions are reported in the body.
func (s *server) updateCell(c echo.Context, r request) error {
	var in cellRequest
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	upd, err := s.Cells.UpdateCellValue(c.Request().Context(), c.Param("itemId"), c.Param("columnId"), in.Value)
	if err != nil {
		return err
	}
	r.metrics.SetAutomationFailures(len(upd.Automation.Failures))
	return c.JSON(http.StatusOK, cellResponse{Cell: upd.Cell, Automation: upd.Automation, AutomationErrors: upd.Automation.Errors()})
}

func (s *server) listAutomations(c echo.Context, _ request) error {
	rules, err := s.Rules.List(c.Request().Context(), c.Param("boardId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"automations": rules})
}

func (s *server) createAutomation(c echo.Context, r request) error {
	ctx := c.Request().Context()
	boardID := c.Param("boardId")
	if _, err := s.Boards.RequireOwner(ctx, boardID, r.userID); err != nil {
		return err
	}
	var in domain.NewRule
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	if in.BoardID != "" && in.BoardID != boardID {
		return domain.Invalidf("boardId %s does not match the path", in.BoardID)
	}
	in.BoardID = boardID
	rule, err := s.Rules.Create(ctx, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rule)
}

func (s *server) deleteAutomation(c echo.Context, r request) error {
	ctx := c.Request().Context()
	rule, err := s.Rules.Get(ctx, c.Param("automationId"))
	if err != nil {
		return err
	}
	if _, err := s.Boards.RequireOwner(ctx, rule.BoardID, r.userID); err != nil {
		return err
	}
	if err := s.Rules.Delete(ctx, rule.ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *server) listFailures(c echo.Context, r request) error {
	if s.Failures == nil {
		return errLedgerDisabled
	}
	ctx := c.Request().Context()
	boardID := c.Param("boardId")
	if _, err := s.Boards.RequireOwner(ctx, boardID, r.userID); err != nil {
		return err
	}
	limit := defaultFailureLimit
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return domain.Invalidf("invalid limit")
		}
		limit = n
	}
	failures, err := s.Failures.List(ctx, boardID, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"failures": failures})
}
