package reconcile

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/wardops/wardops/internal/domain/escalation"
	"github.com/wardops/wardops/internal/domain/roster"
	"github.com/wardops/wardops/internal/platform/apperr"
	"github.com/wardops/wardops/internal/platform/auth"
)

// Handler serves the reconciled escalation list.
type Handler struct {
	list   *escalation.Store
	roster *roster.Cache
}

func NewHandler(list *escalation.Store, rc *roster.Cache) *Handler {
	return &Handler{list: list, roster: rc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/list", h.ListView, auth.RequireRole("admin", "physician", "nurse"))
}

type listView struct {
	Scope             string    `json:"scope"`
	Seq               uint64    `json:"seq"`
	Items             []Item    `json:"items"`
	Stale             bool      `json:"stale"`
	RosterUnavailable bool      `json:"roster_unavailable,omitempty"`
	TakenAt           time.Time `json:"taken_at"`
}

func (h *Handler) ListView(c echo.Context) error {
	ctx := c.Request().Context()
	owner, err := auth.ResolveOwner(ctx, c.QueryParam("owner"))
	if err != nil {
		return err
	}
	snap, err := h.list.List(ctx, owner)
	if err != nil {
		return apperr.HTTPError(err)
	}
	idx, rosterStale, rosterErr := h.roster.Index(ctx)
	return c.JSON(http.StatusOK, listView{
		Scope:             owner,
		Seq:               snap.Seq,
		Items:             View(snap.Items, idx),
		Stale:             snap.Stale || rosterStale,
		RosterUnavailable: rosterErr != nil,
		TakenAt:           snap.TakenAt,
	})
}
