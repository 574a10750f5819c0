package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardops/wardops/internal/platform/auth"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	s, _, _ := newTestStore(t)
	return NewHandler(s), echo.New()
}

func asUser(req *http.Request, uid string, roles ...string) *http.Request {
	ctx := context.WithValue(req.Context(), auth.UserIDKey, uid)
	ctx = context.WithValue(ctx, auth.UserRolesKey, roles)
	return req.WithContext(ctx)
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return asUser(req, owner, "nurse")
}

func httpCode(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return 0
}

func withID(c echo.Context, id string) echo.Context {
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c
}

func TestHandler_AddJob(t *testing.T) {
	h, e := newTestHandler(t)
	body := `{"patient_name":"J. Doe","ward":"4A","bed":"12","reason":"Temp 38.9","priority":"urgent"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, body), rec)

	require.NoError(t, h.AddJob(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var j Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &j))
	assert.Equal(t, StatusPending, j.Status)
	assert.Equal(t, owner, j.OwnerID)
}

func TestHandler_AddJob_Invalid(t *testing.T) {
	h, e := newTestHandler(t)
	body := `{"patient_name":"J. Doe","ward":"4A","reason":"Temp","priority":"whenever"}`
	c := e.NewContext(jsonRequest(http.MethodPost, body), httptest.NewRecorder())
	assert.Equal(t, http.StatusBadRequest, httpCode(h.AddJob(c)))
}

func TestHandler_SetStatus_InvalidTransition(t *testing.T) {
	h, e := newTestHandler(t)
	j, err := h.store.AddJob(context.Background(), owner, NewJob{PatientName: "A", Ward: "1", Reason: "r", Priority: "urgent"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	c := withID(e.NewContext(jsonRequest(http.MethodPost, `{"status":"done","note":"Paracetamol given"}`), rec), j.ID.String())
	require.NoError(t, h.SetStatus(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	c = withID(e.NewContext(jsonRequest(http.MethodPost, `{"status":"pending"}`), httptest.NewRecorder()), j.ID.String())
	assert.Equal(t, http.StatusConflict, httpCode(h.SetStatus(c)))
}

func TestHandler_SaveNote_Conflict(t *testing.T) {
	h, e := newTestHandler(t)
	j, err := h.store.AddJob(context.Background(), owner, NewJob{PatientName: "A", Ward: "1", Reason: "r", Priority: "urgent"})
	require.NoError(t, err)

	c := withID(e.NewContext(jsonRequest(http.MethodPut, `{"note":"x","expected_version":4}`), httptest.NewRecorder()), j.ID.String())
	assert.Equal(t, http.StatusConflict, httpCode(h.SaveNote(c)))
}

func TestHandler_OtherUsersJobIsHidden(t *testing.T) {
	h, e := newTestHandler(t)
	j, err := h.store.AddJob(context.Background(), "dr-day", NewJob{PatientName: "A", Ward: "1", Reason: "r", Priority: "urgent"})
	require.NoError(t, err)

	c := withID(e.NewContext(jsonRequest(http.MethodGet, ""), httptest.NewRecorder()), j.ID.String())
	assert.Equal(t, http.StatusNotFound, httpCode(h.GetJob(c)))

	req := asUser(httptest.NewRequest(http.MethodGet, "/", nil), "ops", "admin")
	c = withID(e.NewContext(req, httptest.NewRecorder()), j.ID.String())
	assert.NoError(t, h.GetJob(c), "admin should see any scope")
}

func TestHandler_ListJobs(t *testing.T) {
	h, e := newTestHandler(t)
	ctx := context.Background()
	_, err := h.store.AddJob(ctx, owner, NewJob{PatientName: "Routine", Ward: "1", Reason: "r", Priority: "routine"})
	require.NoError(t, err)
	_, err = h.store.AddJob(ctx, owner, NewJob{PatientName: "Crit", Ward: "1", Reason: "r", Priority: "critical"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, h.ListJobs(e.NewContext(jsonRequest(http.MethodGet, ""), rec)))

	var body struct {
		Items []Job `json:"items"`
		Stale bool  `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 2)
	assert.Equal(t, "Crit", body.Items[0].PatientName)
	assert.False(t, body.Stale)
}

func TestHandler_ListJobs_ForeignScopeForbidden(t *testing.T) {
	h, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/?owner=dr-day", nil)
	c := e.NewContext(asUser(req, owner, "nurse"), httptest.NewRecorder())
	assert.Equal(t, http.StatusForbidden, httpCode(h.ListJobs(c)))
}
