package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/thesisgrey/internal/store"
	"github.com/mohammad-safakhou/thesisgrey/internal/sysconfig"
)

// ConfigHandler exposes the runtime configuration table to administrators.
type ConfigHandler struct {
	Config *sysconfig.Provider
	Store  *store.Store
}

func (h *ConfigHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.PUT("/:key", h.put)
}

func toConfigResponse(cfg store.Configuration) ConfigResponse {
	return ConfigResponse{Key: cfg.Key, Value: cfg.Value, Description: cfg.Description, UpdatedBy: cfg.UpdatedBy, UpdatedAt: cfg.UpdatedAt}
}

// list returns the stored overrides next to the effective values.
func (h *ConfigHandler) list(c echo.Context) error {
	ctx := c.Request().Context()
	rows, err := h.Store.ListConfigurations(ctx)
	if err != nil {
		return err
	}
	effective, err := h.Config.Get(ctx)
	if err != nil {
		return err
	}
	overrides := make([]ConfigResponse, 0, len(rows))
	for _, r := range rows {
		overrides = append(overrides, toConfigResponse(r))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"overrides": overrides,
		"effective": effective,
		"keys":      sysconfig.Keys(),
	})
}

func (h *ConfigHandler) put(c echo.Context) error {
	var req ConfigRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	key := strings.TrimSpace(c.Param("key"))
	if key == "" || len(req.Value) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "key and value are required")
	}
	row, err := h.Config.Set(c.Request().Context(), key, req.Value, strings.TrimSpace(req.Description), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toConfigResponse(row))
}
