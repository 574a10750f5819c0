package handover

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/wardops/wardops/internal/platform/apperr"
	"github.com/wardops/wardops/internal/platform/auth"
)

// StaleHeader tells clients the report was built from fallback data.
const StaleHeader = "X-Snapshot-Stale"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole("admin", "physician", "nurse")

	g := api.Group("/handover", role)
	g.GET("", h.GetReport)
	g.POST("/acknowledge", h.Acknowledge)
}

func (h *Handler) GetReport(c echo.Context) error {
	ctx := c.Request().Context()
	owner, err := auth.ResolveOwner(ctx, c.QueryParam("owner"))
	if err != nil {
		return err
	}
	r, err := h.svc.Compile(ctx, owner)
	if err != nil {
		return apperr.HTTPError(apperr.Unavailable("compile handover", err))
	}
	c.Response().Header().Set(StaleHeader, strconv.FormatBool(r.Stale))
	return c.String(http.StatusOK, r.Text)
}

func (h *Handler) Acknowledge(c echo.Context) error {
	ctx := c.Request().Context()
	owner, err := auth.ResolveOwner(ctx, c.QueryParam("owner"))
	if err != nil {
		return err
	}
	moved, err := h.svc.Acknowledge(ctx, owner)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"handed_over": len(moved),
		"jobs":        moved,
	})
}
