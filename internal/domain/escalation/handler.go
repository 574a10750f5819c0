package escalation

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/wardops/wardops/internal/platform/apperr"
	"github.com/wardops/wardops/internal/platform/auth"
	"github.com/wardops/wardops/pkg/pagination"
)

var validate = validator.New()

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts the list mutation and history routes. The reconciled
// read view at GET /list is mounted by the reconcile package.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole("admin", "physician", "nurse")

	g := api.Group("/list", role)
	g.POST("", h.AddEntry)
	g.GET("/history", h.History)
	g.GET("/:id", h.GetEntry)
	g.PATCH("/:id", h.UpdateEntry)
	g.DELETE("/:id", h.RemoveEntry)
}

type addEntryRequest struct {
	PatientID            string   `json:"patient_id" validate:"max=100"`
	Priority             string   `json:"priority" validate:"required,oneof=low medium high critical"`
	IsTemporary          bool     `json:"is_temporary"`
	TemporaryPatientName *string  `json:"temporary_patient_name" validate:"omitempty,max=200"`
	TemporaryWard        *string  `json:"temporary_ward" validate:"omitempty,max=50"`
	TemporaryBed         *string  `json:"temporary_bed" validate:"omitempty,max=20"`
	Notes                *string  `json:"notes" validate:"omitempty,max=4000"`
	PresentingComplaint  *string  `json:"presenting_complaint" validate:"omitempty,max=2000"`
	WorkingDiagnosis     *string  `json:"working_diagnosis" validate:"omitempty,max=2000"`
	EscalationFlags      []string `json:"escalation_flags" validate:"max=20,dive,max=50"`
	ClerkingNoteID       *string  `json:"clerking_note_id" validate:"omitempty,max=100"`
}

type patchRequest struct {
	Notes               *string   `json:"notes" validate:"omitempty,max=4000"`
	PresentingComplaint *string   `json:"presenting_complaint" validate:"omitempty,max=2000"`
	WorkingDiagnosis    *string   `json:"working_diagnosis" validate:"omitempty,max=2000"`
	EscalationFlags     *[]string `json:"escalation_flags" validate:"omitempty,max=20,dive,max=50"`
	ClerkingNoteID      *string   `json:"clerking_note_id" validate:"omitempty,max=100"`
	Priority            *string   `json:"priority"`
	ExpectedVersion     *int      `json:"expected_version" validate:"omitempty,min=1"`
}

func bindAndValidate(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(v); err != nil {
		return apperr.HTTPError(apperr.FromValidator(err))
	}
	return nil
}

func (h *Handler) AddEntry(c echo.Context) error {
	ctx := c.Request().Context()
	owner, err := auth.ResolveOwner(ctx, c.QueryParam("owner"))
	if err != nil {
		return err
	}
	var req addEntryRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	e, err := h.store.Add(ctx, owner, NewEntry{
		PatientID:            req.PatientID,
		Priority:             req.Priority,
		IsTemporary:          req.IsTemporary,
		TemporaryPatientName: req.TemporaryPatientName,
		TemporaryWard:        req.TemporaryWard,
		TemporaryBed:         req.TemporaryBed,
		Notes:                req.Notes,
		PresentingComplaint:  req.PresentingComplaint,
		WorkingDiagnosis:     req.WorkingDiagnosis,
		EscalationFlags:      req.EscalationFlags,
		ClerkingNoteID:       req.ClerkingNoteID,
		AddedBy:              auth.UserIDFromContext(ctx),
	})
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetEntry(c echo.Context) error {
	e, err := h.ownedEntry(c)
	if err != nil {
		return err
	}
	if e == nil {
		return apperr.HTTPError(apperr.NotFound("list entry", c.Param("id")))
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) UpdateEntry(c echo.Context) error {
	e, err := h.ownedEntry(c)
	if err != nil {
		return err
	}
	if e == nil {
		return apperr.HTTPError(apperr.NotFound("list entry", c.Param("id")))
	}
	var req patchRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if req.Priority != nil {
		return apperr.HTTPError(apperr.Invalid("priority", "cannot be changed; remove and re-add the entry"))
	}
	updated, err := h.store.Update(c.Request().Context(), e.ID, Patch{
		Notes:               req.Notes,
		PresentingComplaint: req.PresentingComplaint,
		WorkingDiagnosis:    req.WorkingDiagnosis,
		EscalationFlags:     req.EscalationFlags,
		ClerkingNoteID:      req.ClerkingNoteID,
		ExpectedVersion:     req.ExpectedVersion,
	})
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) RemoveEntry(c echo.Context) error {
	e, err := h.ownedEntry(c)
	if err != nil {
		return err
	}
	if e != nil {
		if err := h.store.Remove(c.Request().Context(), e.ID); err != nil {
			return apperr.HTTPError(err)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) History(c echo.Context) error {
	ctx := c.Request().Context()
	owner, err := auth.ResolveOwner(ctx, c.QueryParam("owner"))
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.store.History(ctx, owner, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL))
}

// ownedEntry loads the :id entry. It returns nil without error when the entry
// does not exist or belongs to a scope the caller cannot see.
func (h *Handler) ownedEntry(c echo.Context) (*Entry, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	e, err := h.store.Get(ctx, id)
	if err != nil {
		if apperr.HTTPStatus(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, apperr.HTTPError(err)
	}
	if _, err := auth.ResolveOwner(ctx, e.OwnerID); err != nil {
		return nil, nil
	}
	return e, nil
}
