package handover

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardops/wardops/internal/domain/escalation"
	"github.com/wardops/wardops/internal/domain/jobs"
	"github.com/wardops/wardops/internal/domain/roster"
	"github.com/wardops/wardops/internal/platform/apperr"
	"github.com/wardops/wardops/internal/platform/auth"
	"github.com/wardops/wardops/internal/platform/clock"
	"github.com/wardops/wardops/internal/platform/snapshot"
)

var at = time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func id(n byte) uuid.UUID {
	var u uuid.UUID
	u[15] = n
	return u
}

func fullSnapshot() Snapshot {
	return Snapshot{
		Owner:   "dr-night",
		TakenAt: at,
		Jobs: []jobs.Job{
			{ID: id(1), PatientName: "A. Smith", Ward: "3B", Reason: "Fluids review", Priority: "routine",
				Status: jobs.StatusPending, ReceivedAt: at.Add(-3 * time.Hour)},
			{ID: id(2), PatientName: "J. Doe", Ward: "4A", Bed: strPtr("12"), Reason: "Temp 38.9", Priority: "urgent",
				Status: jobs.StatusDone, ActionNote: strPtr("Paracetamol given"), ReceivedAt: at.Add(-2 * time.Hour)},
			{ID: id(3), PatientName: "K. Lee", Ward: "5C", Reason: "Chest pain.", Priority: "critical",
				Status: jobs.StatusInProgress, ActionNote: strPtr("ECG done"), ReceivedAt: at.Add(-time.Hour)},
		},
		Entries: []escalation.Entry{
			{ID: id(4), PatientID: "p1", Priority: "high", IsActive: true,
				EscalationFlags: []string{"AKI", "sepsis"}, PresentingComplaint: strPtr("SOB"),
				WorkingDiagnosis: strPtr("CAP"), Notes: strPtr("ignored when PC/WD present"), CreatedAt: at.Add(-4 * time.Hour)},
			{ID: id(5), PatientID: "temp:123:john", IsTemporary: true, TemporaryPatientName: strPtr("John (ED referral)"),
				TemporaryWard: strPtr("ED"), Priority: "critical", IsActive: true, Notes: strPtr("Awaiting CT"),
				CreatedAt: at.Add(-30 * time.Minute)},
			{ID: id(6), PatientID: "p404", Priority: "medium", IsActive: true,
				EscalationFlags: []string{"falls"}, CreatedAt: at.Add(-20 * time.Minute)},
			{ID: id(7), PatientID: "p1", Priority: "critical", IsActive: false, CreatedAt: at.Add(-5 * time.Hour)},
		},
		Roster: roster.NewIndex([]roster.Patient{
			{ID: "p1", Name: "Jane Doe", Ward: "4A", Bed: strPtr("7"), Active: true},
		}),
	}
}

func TestCompile_Full(t *testing.T) {
	want := `On-call handover
Generated: 2026-02-03T08:00:00Z

Jobs completed
- [URGENT] J. Doe, 4A bed 12: Temp 38.9. Action: Paracetamol given

Outstanding jobs
- [CRITICAL] (in progress) K. Lee, 5C: Chest pain. Action so far: ECG done
- [ROUTINE] A. Smith, 3B: Fluids review

On-call patients
- [CRITICAL] John (ED referral), ED. Notes: Awaiting CT
- [HIGH] Jane Doe, 4A bed 7. Flags: AKI, sepsis. PC: SOB. WD: CAP
- [STALE] (patient record not found: p404)
`
	r := Compile(fullSnapshot())
	assert.Equal(t, want, r.Text)
	assert.False(t, r.Stale)
}

func TestCompile_Idempotent(t *testing.T) {
	snap := fullSnapshot()
	first := Compile(snap)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first.Text, Compile(snap).Text)
	}
	assert.Equal(t, fullSnapshot(), snap, "compile must not reorder the snapshot")
}

func TestCompile_EmptySectionsPrintNone(t *testing.T) {
	snap := Snapshot{TakenAt: at, Jobs: []jobs.Job{{ID: id(1), PatientName: "A", Ward: "1", Reason: "r",
		Priority: "urgent", Status: jobs.StatusPending, ReceivedAt: at}}}
	r := Compile(snap)
	assert.Contains(t, r.Text, "Jobs completed\n- None\n")
	assert.Contains(t, r.Text, "On-call patients\n- None\n")
	assert.Contains(t, r.Text, "- [URGENT] A, 1: r\n")
}

func TestCompile_Empty(t *testing.T) {
	r := Compile(Snapshot{TakenAt: at})
	assert.Equal(t, "On-call handover\nGenerated: 2026-02-03T08:00:00Z\n\nNothing to hand over.\n", r.Text)

	inactiveOnly := Snapshot{TakenAt: at, Entries: []escalation.Entry{{PatientID: "p1", Priority: "low"}}}
	assert.Contains(t, Compile(inactiveOnly).Text, "Nothing to hand over.")
}

func TestCompile_StaleEmptyIsNotNothing(t *testing.T) {
	r := Compile(Snapshot{TakenAt: at, Stale: true})
	assert.True(t, r.Stale)
	assert.NotContains(t, r.Text, "Nothing to hand over.")
	assert.Contains(t, r.Text, "WARNING: snapshot is stale (backend unavailable); items may be missing.\n")
	assert.Contains(t, r.Text, "Handover data unavailable; do not treat as nothing outstanding.\n")
}

func TestCompile_RosterDiagnosisFallback(t *testing.T) {
	snap := Snapshot{
		TakenAt: at,
		Entries: []escalation.Entry{
			{ID: id(1), PatientID: "p1", Priority: "high", IsActive: true, CreatedAt: at},
			{ID: id(2), PatientID: "p2", Priority: "low", IsActive: true, WorkingDiagnosis: strPtr("PE"), CreatedAt: at},
		},
		Roster: roster.NewIndex([]roster.Patient{
			{ID: "p1", Name: "Jane Doe", Ward: "4A", Diagnosis: strPtr("Pneumonia."), Active: true},
			{ID: "p2", Name: "Sam Roe", Ward: "4A", Diagnosis: strPtr("Chest pain"), Active: true},
		}),
	}
	text := Compile(snap).Text
	assert.Contains(t, text, "- [HIGH] Jane Doe, 4A. Dx: Pneumonia\n")
	assert.Contains(t, text, "- [LOW] Sam Roe, 4A. WD: PE\n", "the working diagnosis wins over the roster")
}

func TestCompile_RosterNeverLoaded(t *testing.T) {
	snap := Snapshot{
		TakenAt: at,
		Stale:   true,
		Entries: []escalation.Entry{{ID: id(1), PatientID: "p1", Priority: "high", IsActive: true,
			EscalationFlags: []string{"sepsis"}, CreatedAt: at}},
	}
	text := Compile(snap).Text
	assert.Contains(t, text, "- [HIGH] p1 (roster unavailable). Flags: sepsis\n")
	assert.NotContains(t, text, "STALE")
	assert.NotContains(t, text, "record not found")
}

type jobSnap = snapshot.Snapshot[jobs.Job]

type failingJobs struct{}

func (failingJobs) List(context.Context, string) (jobSnap, error) {
	return jobSnap{}, apperr.Unavailable("list jobs", errors.New("down"))
}

func (failingJobs) HandOverDone(context.Context, string) ([]*jobs.Job, error) {
	return nil, apperr.Unavailable("list jobs", errors.New("down"))
}

type testEnv struct {
	jobs    *jobs.Store
	entries *escalation.Store
	roster  *roster.Static
	svc     *Service
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := clock.NewManual(at)
	js := jobs.NewStore(jobs.NewRepoMemory(), zerolog.Nop())
	js.SetClock(clk)
	es := escalation.NewStore(escalation.NewRepoMemory(), zerolog.Nop())
	es.SetClock(clk)
	rs := roster.NewStatic(roster.Patient{ID: "p1", Name: "Jane Doe", Ward: "4A", Active: true})
	es.SetRoster(rs)
	t.Cleanup(js.Close)
	t.Cleanup(es.Close)
	svc := NewService(js, es, roster.NewCache(rs, zerolog.Nop()), zerolog.Nop())
	svc.SetClock(clk)
	return &testEnv{jobs: js, entries: es, roster: rs, svc: svc}
}

func TestService_CompileAndAcknowledge(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	j, err := env.jobs.AddJob(ctx, "dr-night", jobs.NewJob{PatientName: "J. Doe", Ward: "4A", Reason: "Temp 38.9", Priority: "urgent"})
	require.NoError(t, err)
	_, err = env.jobs.SetStatus(ctx, j.ID, jobs.StatusChange{Status: jobs.StatusDone, Note: strPtr("Paracetamol given")})
	require.NoError(t, err)
	_, err = env.entries.Add(ctx, "dr-night", escalation.NewEntry{PatientID: "p1", Priority: "high"})
	require.NoError(t, err)

	r, err := env.svc.Compile(ctx, "dr-night")
	require.NoError(t, err)
	assert.False(t, r.Stale)
	assert.Contains(t, r.Text, "- [URGENT] J. Doe, 4A: Temp 38.9. Action: Paracetamol given\n")
	assert.Contains(t, r.Text, "- [HIGH] Jane Doe, 4A\n")

	moved, err := env.svc.Acknowledge(ctx, "dr-night")
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, jobs.StatusHandedOver, moved[0].Status)

	r2, err := env.svc.Compile(ctx, "dr-night")
	require.NoError(t, err)
	assert.Contains(t, r2.Text, "- [URGENT] J. Doe", "handed over jobs stay in the completed section")
}

func TestService_JobOutageMarksStale(t *testing.T) {
	env := newEnv(t)
	svc := NewService(failingJobs{}, env.entries, roster.NewCache(env.roster, zerolog.Nop()), zerolog.Nop())
	svc.SetClock(clock.NewManual(at))

	r, err := svc.Compile(context.Background(), "dr-night")
	require.NoError(t, err)
	assert.True(t, r.Stale)
	assert.Contains(t, r.Text, "Handover data unavailable")
}

type downRoster struct{}

func (downRoster) GetPatient(context.Context, string) (*roster.Patient, error) {
	return nil, errors.New("roster service unreachable")
}

func (downRoster) ListPatients(context.Context) ([]roster.Patient, error) {
	return nil, errors.New("roster service unreachable")
}

func TestService_RosterOutageKeepsEntries(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	_, err := env.entries.Add(ctx, "dr-night", escalation.NewEntry{PatientID: "p1", Priority: "high"})
	require.NoError(t, err)

	svc := NewService(env.jobs, env.entries, roster.NewCache(downRoster{}, zerolog.Nop()), zerolog.Nop())
	svc.SetClock(clock.NewManual(at))

	r, err := svc.Compile(ctx, "dr-night")
	require.NoError(t, err)
	assert.True(t, r.Stale)
	assert.Contains(t, r.Text, "On-call patients\n- [HIGH] p1 (roster unavailable)\n")
}

func TestService_Cancelled(t *testing.T) {
	env := newEnv(t)
	svc := NewService(failingJobs{}, env.entries, roster.NewCache(env.roster, zerolog.Nop()), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Snapshot(ctx, "dr-night")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandler_GetReport(t *testing.T) {
	env := newEnv(t)
	h := NewHandler(env.svc)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "dr-night")
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{"physician"})
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req.WithContext(ctx), rec)

	require.NoError(t, h.GetReport(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "false", rec.Header().Get(StaleHeader))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/plain")
	assert.Contains(t, rec.Body.String(), "Nothing to hand over.")
}
