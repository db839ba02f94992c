package server

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/thesisgrey/internal/sessions"
	"github.com/mohammad-safakhou/thesisgrey/internal/store"
	"github.com/mohammad-safakhou/thesisgrey/internal/validate"
)

const (
	maxTitleLength  = 200
	recentSessions  = 5
	maxActivityPage = 500
)

// SessionsHandler serves the review session lifecycle.
type SessionsHandler struct {
	Store *store.Store
}

func (h *SessionsHandler) Register(g *echo.Group) {
	g.GET("/dashboard", h.dashboard)
	g.GET("/sessions", h.list)
	g.POST("/sessions", h.create)
	g.GET("/sessions/:id", h.get)
	g.PUT("/sessions/:id", h.update)
	g.DELETE("/sessions/:id", h.delete)
	g.POST("/sessions/:id/status", h.status)
	g.GET("/sessions/:id/activities", h.activities)
}

func (r *SessionRequest) normalize() error {
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.Notes = strings.TrimSpace(r.Notes)
	errs := validate.Errors{}
	switch {
	case r.Title == "":
		errs.Add("title", "required")
	case utf8.RuneCountInString(r.Title) > maxTitleLength:
		errs.Add("title", "must be at most 200 characters")
	}
	return errs.Err()
}

func (h *SessionsHandler) list(c echo.Context) error {
	var status sessions.Status
	if raw := c.QueryParam("status"); raw != "" {
		st, err := sessions.Parse(raw)
		if err != nil {
			return err
		}
		status = st
	}
	items, err := h.Store.ListSessions(c.Request().Context(), userID(c), status)
	if err != nil {
		return err
	}
	out := make([]SessionResponse, 0, len(items))
	for _, s := range items {
		out = append(out, toSessionResponse(s))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *SessionsHandler) create(c echo.Context) error {
	var req SessionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := req.normalize(); err != nil {
		return err
	}
	sess, err := h.Store.CreateSession(c.Request().Context(), userID(c), req.Title, req.Description)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toSessionResponse(sess))
}

func (h *SessionsHandler) get(c echo.Context) error {
	sess, err := ownedSession(c, h.Store, "id")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toSessionResponse(sess))
}

func (h *SessionsHandler) update(c echo.Context) error {
	var req SessionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := req.normalize(); err != nil {
		return err
	}
	sess, err := h.Store.UpdateSessionDetails(c.Request().Context(), c.Param("id"), userID(c), req.Title, req.Description, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toSessionResponse(sess))
}

func (h *SessionsHandler) delete(c echo.Context) error {
	sess, err := ownedSession(c, h.Store, "id")
	if err != nil {
		return err
	}
	if !sess.Status.Deletable() {
		return echo.NewHTTPError(http.StatusConflict, "only draft sessions can be deleted")
	}
	if err := h.Store.DeleteSession(c.Request().Context(), sess.ID, userID(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// status moves a session by hand. executing and processing are entered only
// through a search run.
func (h *SessionsHandler) status(c echo.Context) error {
	var req StatusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	to, err := sessions.Parse(req.Status)
	if err != nil {
		return err
	}
	if to == sessions.StatusExecuting || to == sessions.StatusProcessing {
		return echo.NewHTTPError(http.StatusBadRequest, "status "+string(to)+" is set by search execution")
	}
	sess, err := ownedSession(c, h.Store, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := h.Store.TransitionSession(ctx, sess.ID, userID(c), to, strings.TrimSpace(req.Reason)); err != nil {
		return err
	}
	updated, err := h.Store.GetSession(ctx, sess.ID, userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toSessionResponse(updated))
}

func (h *SessionsHandler) activities(c echo.Context) error {
	sess, err := ownedSession(c, h.Store, "id")
	if err != nil {
		return err
	}
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxActivityPage {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
		}
		limit = n
	}
	items, err := h.Store.ListActivities(c.Request().Context(), sess.ID, limit)
	if err != nil {
		return err
	}
	out := make([]ActivityResponse, 0, len(items))
	for _, a := range items {
		out = append(out, ActivityResponse{ID: a.ID, UserID: a.UserID, Type: a.Type, Description: a.Description, Metadata: a.Metadata, CreatedAt: a.CreatedAt})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *SessionsHandler) dashboard(c echo.Context) error {
	ctx := c.Request().Context()
	stats, err := h.Store.DashboardStats(ctx, userID(c))
	if err != nil {
		return err
	}
	recent, err := h.Store.ListSessions(ctx, userID(c), "")
	if err != nil {
		return err
	}
	if len(recent) > recentSessions {
		recent = recent[:recentSessions]
	}
	out := DashboardResponse{
		ByStatus:        map[sessions.Status]int{},
		TotalSessions:   stats.TotalSessions,
		TotalResults:    stats.TotalResults,
		ReviewedResults: stats.ReviewedResults,
		IncludedResults: stats.IncludedResults,
		Recent:          make([]SessionResponse, 0, len(recent)),
	}
	for _, sc := range stats.ByStatus {
		out.ByStatus[sc.Status] = sc.Count
	}
	for _, s := range recent {
		out.Recent = append(out.Recent, toSessionResponse(s))
	}
	return c.JSON(http.StatusOK, out)
}
