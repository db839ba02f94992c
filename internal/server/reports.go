package server

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/thesisgrey/internal/reporting"
	"github.com/mohammad-safakhou/thesisgrey/internal/store"
)

// ReportsHandler serves PRISMA numbers, the narrative summary and exports.
type ReportsHandler struct {
	Store    *store.Store
	Reports  *reporting.Service
	Settings Settings
}

func (h *ReportsHandler) Register(g *echo.Group) {
	g.GET("/sessions/:id/reports/prisma", h.prisma)
	g.GET("/sessions/:id/reports/summary", h.summary)
	g.POST("/sessions/:id/exports", h.createExport)
	g.GET("/sessions/:id/exports", h.listExports)
	g.GET("/exports/:id/download", h.download)
}

func (h *ReportsHandler) prisma(c echo.Context) error {
	sess, err := ownedSession(c, h.Store, "id")
	if err != nil {
		return err
	}
	flow, err := h.Reports.Flow(c.Request().Context(), sess.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, flow)
}

func (h *ReportsHandler) summary(c echo.Context) error {
	sess, err := ownedSession(c, h.Store, "id")
	if err != nil {
		return err
	}
	report, err := h.Reports.Build(c.Request().Context(), sess)
	if err != nil {
		return err
	}
	return c.String(http.StatusOK, reporting.RenderSummary(report))
}

func (h *ReportsHandler) createExport(c echo.Context) error {
	var req ExportRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	sess, err := ownedSession(c, h.Store, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	cfg, err := h.Settings.Get(ctx)
	if err != nil {
		return err
	}
	rec, err := h.Reports.Export(ctx, sess, userID(c),
		strings.ToLower(strings.TrimSpace(req.ReportType)), strings.ToLower(strings.TrimSpace(req.Format)), cfg.ExportRetention)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toExportResponse(rec))
}

func (h *ReportsHandler) listExports(c echo.Context) error {
	sess, err := ownedSession(c, h.Store, "id")
	if err != nil {
		return err
	}
	items, err := h.Store.ListExportReports(c.Request().Context(), sess.ID)
	if err != nil {
		return err
	}
	out := make([]ExportResponse, 0, len(items))
	for _, r := range items {
		out = append(out, toExportResponse(r))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ReportsHandler) download(c echo.Context) error {
	rec, err := h.Store.GetExportReport(c.Request().Context(), c.Param("id"), userID(c))
	if err != nil {
		return err
	}
	if _, err := os.Stat(rec.FilePath); errors.Is(err, fs.ErrNotExist) {
		return echo.NewHTTPError(http.StatusGone, "export file is no longer available")
	} else if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentType, reporting.ContentType(rec.Format))
	return c.Attachment(rec.FilePath, fmt.Sprintf("%s-%s.%s", rec.ReportType, rec.SessionID, rec.Format))
}
