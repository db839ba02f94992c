package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/thesisgrey/internal/execution"
	"github.com/mohammad-safakhou/thesisgrey/internal/sessions"
	"github.com/mohammad-safakhou/thesisgrey/internal/store"
)

// ExecutionsHandler starts search runs and reports on them.
type ExecutionsHandler struct {
	Store  *store.Store
	Runner Runner
	Jobs   *Jobs
}

func (h *ExecutionsHandler) Register(g *echo.Group) {
	g.POST("/sessions/:id/execute", h.execute)
	g.GET("/sessions/:id/executions", h.list)
	g.GET("/sessions/:id/executions/stats", h.stats)
	g.GET("/executions/:id", h.get)
	g.POST("/executions/:id/retry", h.retry)
}

// execute prepares the run in the request and performs it in the background.
func (h *ExecutionsHandler) execute(c echo.Context) error {
	sess, err := ownedSession(c, h.Store, "id")
	if err != nil {
		return err
	}
	run, err := h.Runner.Prepare(c.Request().Context(), sess.ID, userID(c))
	if err != nil {
		return err
	}
	h.start(run)
	return c.JSON(http.StatusAccepted, executeResponse(run))
}

func (h *ExecutionsHandler) retry(c echo.Context) error {
	run, err := h.Runner.PrepareRetry(c.Request().Context(), c.Param("id"), userID(c))
	if err != nil {
		return err
	}
	h.start(run)
	return c.JSON(http.StatusAccepted, executeResponse(run))
}

func (h *ExecutionsHandler) start(run *execution.Run) {
	h.Jobs.Go(fmt.Sprintf("execute session %s", run.SessionID), func(ctx context.Context) error {
		_, err := h.Runner.Execute(ctx, run)
		return err
	})
}

func executeResponse(run *execution.Run) ExecuteResponse {
	out := ExecuteResponse{SessionID: run.SessionID, Status: sessions.StatusExecuting, Executions: make([]ExecutionResponse, 0, len(run.Executions))}
	for _, e := range run.Executions {
		out.Executions = append(out.Executions, toExecutionResponse(e))
	}
	return out
}

func (h *ExecutionsHandler) list(c echo.Context) error {
	sess, err := ownedSession(c, h.Store, "id")
	if err != nil {
		return err
	}
	items, err := h.Store.ListExecutions(c.Request().Context(), sess.ID)
	if err != nil {
		return err
	}
	out := make([]ExecutionResponse, 0, len(items))
	for _, e := range items {
		out = append(out, toExecutionResponse(e))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ExecutionsHandler) get(c echo.Context) error {
	e, err := h.Store.GetExecution(c.Request().Context(), c.Param("id"), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toExecutionResponse(e))
}

func (h *ExecutionsHandler) stats(c echo.Context) error {
	sess, err := ownedSession(c, h.Store, "id")
	if err != nil {
		return err
	}
	st, err := h.Store.ExecutionStats(c.Request().Context(), sess.ID)
	if err != nil {
		return err
	}
	out := ExecutionStatsResponse{
		Total:           st.Total,
		Completed:       st.Completed,
		Failed:          st.Failed,
		Pending:         st.Pending,
		TotalResults:    st.TotalResults,
		TotalCredits:    st.TotalCredits,
		TotalCost:       st.TotalCost,
		TotalDurationMS: st.TotalDurationMS,
	}
	if finished := st.Completed + st.Failed; finished > 0 {
		out.SuccessRate = float64(st.Completed) / float64(finished) * 100
	}
	return c.JSON(http.StatusOK, out)
}
