package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardops/wardops/internal/domain/escalation"
	"github.com/wardops/wardops/internal/domain/roster"
	"github.com/wardops/wardops/internal/platform/auth"
)

func strPtr(s string) *string { return &s }

var idx = roster.NewIndex([]roster.Patient{
	{ID: "p1", Name: "Jane Doe", Ward: "4A", Bed: strPtr("12"), Diagnosis: strPtr("CAP"), Active: true},
	{ID: "p2", Name: "Discharged", Ward: "5B", Active: false},
})

func TestClassify_TemporaryScenario(t *testing.T) {
	e := escalation.Entry{
		PatientID:            "temp:123:john",
		IsTemporary:          true,
		TemporaryPatientName: strPtr("John (ED referral)"),
		Priority:             "high",
	}
	r := Classify(e, idx)
	assert.Equal(t, Temporary, r.Kind)
	assert.Equal(t, "John (ED referral)", r.Name)
	assert.True(t, r.ShowBadges())
	assert.Equal(t, []Action{ActionUpdate, ActionRemove}, r.Actions())
}

func TestClassify_LinkedIgnoresTemporaryFields(t *testing.T) {
	e := escalation.Entry{PatientID: "p1", TemporaryPatientName: strPtr("Someone else"), TemporaryWard: strPtr("ED")}
	r := Classify(e, idx)
	assert.Equal(t, Linked, r.Kind)
	assert.Equal(t, "Jane Doe", r.Name)
	assert.Equal(t, "4A bed 12", r.Location())
	assert.Equal(t, "CAP", *r.Diagnosis)
}

func TestClassify_Stale(t *testing.T) {
	for _, e := range []escalation.Entry{
		{PatientID: "p2"},
		{PatientID: "p404"},
		{PatientID: "temp:1:x", IsTemporary: true},
		{PatientID: "temp:1:x", IsTemporary: true, TemporaryPatientName: strPtr("")},
	} {
		r := Classify(e, idx)
		assert.Equal(t, Stale, r.Kind, e.PatientID)
		assert.False(t, r.ShowBadges())
		assert.Equal(t, []Action{ActionRemove}, r.Actions())
	}
}

func TestClassify_UnknownRoster(t *testing.T) {
	var unknown roster.Index
	r := Classify(escalation.Entry{PatientID: "p1", Priority: "high", EscalationFlags: []string{"AKI"}}, unknown)
	assert.Equal(t, Unresolved, r.Kind)
	assert.True(t, r.ShowBadges())
	assert.Equal(t, []Action{ActionUpdate, ActionRemove}, r.Actions())

	temp := escalation.Entry{PatientID: "temp:1:x", IsTemporary: true, TemporaryPatientName: strPtr("X")}
	assert.Equal(t, Temporary, Classify(temp, unknown).Kind)
	assert.Equal(t, Stale, Classify(escalation.Entry{PatientID: "temp:1:x", IsTemporary: true}, unknown).Kind,
		"a temporary case without a name never needs the roster")

	assert.Equal(t, Stale, Classify(escalation.Entry{PatientID: "p1"}, roster.NewIndex(nil)).Kind,
		"an empty but loaded roster still marks missing patients stale")
}

func TestClassify_IsPure(t *testing.T) {
	e := escalation.Entry{PatientID: "p1", EscalationFlags: []string{"sepsis"}}
	before := e
	a := Classify(e, idx)
	b := Classify(e, idx)
	assert.Equal(t, a, b)
	assert.Equal(t, before, e)
}

func TestView_PreservesOrder(t *testing.T) {
	items := View([]escalation.Entry{{PatientID: "p404"}, {PatientID: "p1"}}, idx)
	require.Len(t, items, 2)
	assert.Equal(t, Stale, items[0].Resolution.Kind)
	assert.Equal(t, Linked, items[1].Resolution.Kind)
}

func TestHandler_ListView(t *testing.T) {
	ctx := context.Background()
	rs := roster.NewStatic(roster.Patient{ID: "p1", Name: "Jane Doe", Ward: "4A", Active: true})
	store := escalation.NewStore(escalation.NewRepoMemory(), zerolog.Nop())
	store.SetRoster(rs)
	defer store.Close()

	_, err := store.Add(ctx, "dr-night", escalation.NewEntry{PatientID: "p1", Priority: "low"})
	require.NoError(t, err)
	_, err = store.Add(ctx, "dr-night", escalation.NewEntry{IsTemporary: true, TemporaryPatientName: strPtr("John"), Priority: "critical"})
	require.NoError(t, err)
	rs.Discharge("p1")

	h := NewHandler(store, roster.NewCache(rs, zerolog.Nop()))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	reqCtx := context.WithValue(req.Context(), auth.UserIDKey, "dr-night")
	reqCtx = context.WithValue(reqCtx, auth.UserRolesKey, []string{"nurse"})
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req.WithContext(reqCtx), rec)

	require.NoError(t, h.ListView(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body listView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 2)
	assert.Equal(t, Temporary, body.Items[0].Resolution.Kind)
	assert.Equal(t, Stale, body.Items[1].Resolution.Kind, "discharged patient reconciles as stale")
	assert.False(t, body.Stale)
}

type downRoster struct{}

func (downRoster) GetPatient(context.Context, string) (*roster.Patient, error) {
	return nil, errors.New("roster service unreachable")
}

func (downRoster) ListPatients(context.Context) ([]roster.Patient, error) {
	return nil, errors.New("roster service unreachable")
}

func TestHandler_ListViewRosterNeverLoaded(t *testing.T) {
	ctx := context.Background()
	store := escalation.NewStore(escalation.NewRepoMemory(), zerolog.Nop())
	store.SetRoster(downRoster{})
	defer store.Close()

	_, err := store.Add(ctx, "dr-night", escalation.NewEntry{PatientID: "p1", Priority: "high"})
	require.NoError(t, err)

	h := NewHandler(store, roster.NewCache(downRoster{}, zerolog.Nop()))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	reqCtx := context.WithValue(req.Context(), auth.UserIDKey, "dr-night")
	reqCtx = context.WithValue(reqCtx, auth.UserRolesKey, []string{"nurse"})
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req.WithContext(reqCtx), rec)

	require.NoError(t, h.ListView(c))

	var body listView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, Unresolved, body.Items[0].Resolution.Kind)
	assert.Equal(t, []Action{ActionUpdate, ActionRemove}, body.Items[0].Actions)
	assert.True(t, body.Stale)
	assert.True(t, body.RosterUnavailable)
}
