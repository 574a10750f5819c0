package jobs

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/wardops/wardops/internal/platform/apperr"
	"github.com/wardops/wardops/internal/platform/auth"
)

var validate = validator.New()

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole("admin", "physician", "nurse")

	g := api.Group("/jobs", role)
	g.GET("", h.ListJobs)
	g.POST("", h.AddJob)
	g.GET("/:id", h.GetJob)
	g.POST("/:id/status", h.SetStatus)
	g.PUT("/:id/note", h.SaveNote)
}

type addJobRequest struct {
	PatientName string  `json:"patient_name" validate:"required,max=200"`
	Ward        string  `json:"ward" validate:"required,max=50"`
	Bed         *string `json:"bed" validate:"omitempty,max=20"`
	CalledBy    *string `json:"called_by" validate:"omitempty,max=200"`
	Reason      string  `json:"reason" validate:"required,max=2000"`
	Priority    string  `json:"priority" validate:"required,oneof=critical urgent routine"`
}

type statusRequest struct {
	Status          string  `json:"status" validate:"required,oneof=pending in_progress done handed_over"`
	Note            *string `json:"note" validate:"omitempty,max=4000"`
	ExpectedVersion *int    `json:"expected_version" validate:"omitempty,min=1"`
}

type noteRequest struct {
	Note            string `json:"note" validate:"max=4000"`
	ExpectedVersion *int   `json:"expected_version" validate:"omitempty,min=1"`
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

func (h *Handler) AddJob(c echo.Context) error {
	owner, err := auth.ResolveOwner(c.Request().Context(), c.QueryParam("owner"))
	if err != nil {
		return err
	}
	var req addJobRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	j, err := h.store.AddJob(c.Request().Context(), owner, NewJob{
		PatientName: req.PatientName,
		Ward:        req.Ward,
		Bed:         req.Bed,
		CalledBy:    req.CalledBy,
		Reason:      req.Reason,
		Priority:    req.Priority,
	})
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, j)
}

func (h *Handler) ListJobs(c echo.Context) error {
	owner, err := auth.ResolveOwner(c.Request().Context(), c.QueryParam("owner"))
	if err != nil {
		return err
	}
	snap, err := h.store.List(c.Request().Context(), owner)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) GetJob(c echo.Context) error {
	j, err := h.ownedJob(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, j)
}

func (h *Handler) SetStatus(c echo.Context) error {
	j, err := h.ownedJob(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	updated, err := h.store.SetStatus(c.Request().Context(), j.ID, StatusChange{
		Status:          Status(req.Status),
		Note:            req.Note,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) SaveNote(c echo.Context) error {
	j, err := h.ownedJob(c)
	if err != nil {
		return err
	}
	var req noteRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	updated, err := h.store.SaveNote(c.Request().Context(), j.ID, NoteChange{
		Note:            req.Note,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// ownedJob loads the :id job and checks the caller may act on its scope.
func (h *Handler) ownedJob(c echo.Context) (*Job, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	j, err := h.store.Get(ctx, id)
	if err != nil {
		return nil, apperr.HTTPError(err)
	}
	if _, err := auth.ResolveOwner(ctx, j.OwnerID); err != nil {
		return nil, apperr.HTTPError(apperr.NotFound("job", id.String()))
	}
	return j, nil
}
