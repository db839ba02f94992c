package server

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/thesisgrey/internal/sessions"
	"github.com/mohammad-safakhou/thesisgrey/internal/store"
	"github.com/mohammad-safakhou/thesisgrey/internal/strategy"
	"github.com/mohammad-safakhou/thesisgrey/internal/validate"
)

// StrategyHandler edits the PIC search strategy of a session.
type StrategyHandler struct {
	Store    *store.Store
	Settings Settings
}

func (h *StrategyHandler) Register(g *echo.Group) {
	g.GET("/sessions/:id/strategy", h.get)
	g.PUT("/sessions/:id/strategy", h.put)
	g.POST("/sessions/:id/strategy/preview", h.preview)
}

func strategyEditable(s sessions.Status) bool {
	switch s {
	case sessions.StatusDraft, sessions.StatusStrategyReady, sessions.StatusFailed, sessions.StatusReadyForReview:
		return true
	}
	return false
}

func (h *StrategyHandler) get(c echo.Context) error {
	sess, err := ownedSession(c, h.Store, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	rec, ok, err := h.Store.GetStrategy(ctx, sess.ID)
	if err != nil {
		return err
	}
	st := rec.Strategy
	if !ok {
		_ = st.Normalize()
	}
	queries, err := h.Store.ListQueries(ctx, sess.ID, false)
	if err != nil {
		return err
	}
	resp := strategyResponse(st, toQueries(queries))
	if ok {
		resp.UpdatedAt = &rec.UpdatedAt
	}
	return c.JSON(http.StatusOK, resp)
}

// put saves the strategy, regenerates the queries and keeps the session in
// step: a complete strategy readies a draft, an incomplete one sends a ready
// session back to draft.
func (h *StrategyHandler) put(c echo.Context) error {
	sess, err := ownedSession(c, h.Store, "id")
	if err != nil {
		return err
	}
	if !strategyEditable(sess.Status) {
		return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("strategy cannot be edited while the session is %s", sess.Status))
	}
	st, queries, err := h.build(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	uid := userID(c)
	rec, err := h.Store.SaveStrategy(ctx, sess.ID, uid, st, queries)
	if err != nil {
		return err
	}

	var to sessions.Status
	switch {
	case rec.IsComplete && (sess.Status == sessions.StatusDraft || sess.Status == sessions.StatusFailed):
		to = sessions.StatusStrategyReady
	case !rec.IsComplete && (sess.Status == sessions.StatusStrategyReady || sess.Status == sessions.StatusFailed):
		to = sessions.StatusDraft
	}
	if to != "" {
		if _, err := h.Store.TransitionSession(ctx, sess.ID, uid, to, "search strategy saved"); err != nil {
			return err
		}
	}
	updated, err := h.Store.GetSession(ctx, sess.ID, uid)
	if err != nil {
		return err
	}
	resp := strategyResponse(st, queries)
	resp.UpdatedAt = &rec.UpdatedAt
	sr := toSessionResponse(updated)
	resp.Session = &sr
	return c.JSON(http.StatusOK, resp)
}

func (h *StrategyHandler) preview(c echo.Context) error {
	if _, err := ownedSession(c, h.Store, "id"); err != nil {
		return err
	}
	st, queries, err := h.build(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, strategyResponse(st, queries))
}

// build binds and normalises the request and generates its queries. An
// incomplete strategy has no queries.
func (h *StrategyHandler) build(c echo.Context) (strategy.Strategy, []strategy.Query, error) {
	var st strategy.Strategy
	if err := bind(c, &st); err != nil {
		return st, nil, err
	}
	if err := st.Normalize(); err != nil {
		return st, nil, err
	}
	if !st.IsComplete() {
		return st, nil, nil
	}
	cfg, err := h.Settings.Get(c.Request().Context())
	if err != nil {
		return st, nil, err
	}
	queries, err := st.Queries(cfg.MaxQueriesPerSession)
	if err != nil {
		return st, nil, validate.Errors{"queries": err.Error()}
	}
	return st, queries, nil
}

func strategyResponse(st strategy.Strategy, queries []strategy.Query) StrategyResponse {
	if queries == nil {
		queries = []strategy.Query{}
	}
	return StrategyResponse{
		Strategy:     st,
		IsComplete:   st.IsComplete(),
		MissingParts: st.MissingParts(),
		BaseQuery:    st.BaseQuery(),
		Queries:      queries,
	}
}

func toQueries(records []store.QueryRecord) []strategy.Query {
	out := make([]strategy.Query, 0, len(records))
	for _, q := range records {
		out = append(out, strategy.Query{
			Text:           q.Text,
			Type:           q.Type,
			TargetDomain:   q.TargetDomain,
			FileTypes:      q.FileTypes,
			ExecutionOrder: q.ExecutionOrder,
		})
	}
	return out
}
