package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardops/wardops/internal/domain/roster"
	"github.com/wardops/wardops/internal/platform/apperr"
	"github.com/wardops/wardops/internal/platform/clock"
	"github.com/wardops/wardops/internal/platform/snapshot"
)

var shiftStart = time.Date(2026, 2, 2, 20, 0, 0, 0, time.UTC)

const owner = "dr-night"

type countingRepo struct {
	Repository
	mu       sync.Mutex
	updates  int
	failList bool
}

func (c *countingRepo) Update(ctx context.Context, e *Entry) error {
	c.mu.Lock()
	c.updates++
	c.mu.Unlock()
	return c.Repository.Update(ctx, e)
}

func (c *countingRepo) ListActiveByOwner(ctx context.Context, ownerID string) ([]*Entry, error) {
	c.mu.Lock()
	fail := c.failList
	c.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset")
	}
	return c.Repository.ListActiveByOwner(ctx, ownerID)
}

type outageRoster struct{}

func (outageRoster) GetPatient(context.Context, string) (*roster.Patient, error) {
	return nil, apperr.Unavailable("get roster patient", errors.New("timeout"))
}

func (outageRoster) ListPatients(context.Context) ([]roster.Patient, error) {
	return nil, apperr.Unavailable("list roster", errors.New("timeout"))
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func newTestStore(t *testing.T) (*Store, *countingRepo, *clock.Manual) {
	t.Helper()
	repo := &countingRepo{Repository: NewRepoMemory()}
	clk := clock.NewManual(shiftStart)
	s := NewStore(repo, zerolog.Nop())
	s.SetClock(clk)
	s.SetIDGenerator(clock.Sequential())
	s.SetRoster(roster.NewStatic(
		roster.Patient{ID: "p1", Name: "Jane Doe", Ward: "4A", Active: true},
		roster.Patient{ID: "p2", Name: "Sam Poe", Ward: "5B", Active: true},
		roster.Patient{ID: "p3", Name: "Ann Roe", Ward: "6C", Active: true},
	))
	t.Cleanup(s.Close)
	return s, repo, clk
}

func next(t *testing.T, sub *snapshot.Subscription[Entry]) snapshot.Snapshot[Entry] {
	t.Helper()
	select {
	case s, ok := <-sub.C():
		require.True(t, ok)
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return snapshot.Snapshot[Entry]{}
}

func quiet(t *testing.T, sub *snapshot.Subscription[Entry]) {
	t.Helper()
	select {
	case s := <-sub.C():
		t.Fatalf("unexpected snapshot seq %d", s.Seq)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStore_PriorityOrderScenario(t *testing.T) {
	s, _, clk := newTestStore(t)
	ctx := context.Background()
	for i, p := range []struct{ id, priority string }{{"p1", "low"}, {"p2", "critical"}, {"p3", "high"}} {
		clk.Advance(time.Duration(i+1) * time.Minute)
		_, err := s.Add(ctx, owner, NewEntry{PatientID: p.id, Priority: p.priority})
		require.NoError(t, err)
	}

	snap, err := s.List(ctx, owner)
	require.NoError(t, err)
	require.Len(t, snap.Items, 3)
	var got []string
	for _, e := range snap.Items {
		got = append(got, e.Priority)
	}
	assert.Equal(t, []string{"critical", "high", "low"}, got)
}

func TestStore_AddValidation(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	cases := []struct {
		name  string
		in    NewEntry
		field string
	}{
		{"nothing", NewEntry{Priority: "high"}, "patient_id"},
		{"temporary without name", NewEntry{IsTemporary: true, Priority: "high"}, "temporary_patient_name"},
		{"temp id without name", NewEntry{PatientID: "temp:1:x", Priority: "high"}, "temporary_patient_name"},
		{"bad priority", NewEntry{PatientID: "p1", Priority: "urgent"}, "priority"},
		{"unknown roster patient", NewEntry{PatientID: "p404", Priority: "high"}, "patient_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Add(ctx, owner, tc.in)
			var ve *apperr.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestStore_AddTemporaryGeneratesID(t *testing.T) {
	s, _, _ := newTestStore(t)
	e, err := s.Add(context.Background(), owner, NewEntry{
		IsTemporary:          true,
		TemporaryPatientName: strPtr("John (ED referral)"),
		TemporaryWard:        strPtr("ED"),
		Priority:             "medium",
		EscalationFlags:      []string{" sepsis ", "NEWS 7", "sepsis", ""},
	})
	require.NoError(t, err)
	assert.Equal(t, "temp:1770062400000:john-ed-referral", e.PatientID)
	assert.True(t, e.IsTemporary)
	assert.Equal(t, []string{"NEWS 7", "sepsis"}, e.EscalationFlags)
	assert.Equal(t, owner, e.AddedBy)
}

func TestStore_AddTempIDNormalisesFlag(t *testing.T) {
	s, _, _ := newTestStore(t)
	e, err := s.Add(context.Background(), owner, NewEntry{
		PatientID:            "temp:123:john",
		TemporaryPatientName: strPtr("John"),
		Priority:             "low",
	})
	require.NoError(t, err)
	assert.True(t, e.IsTemporary)
	assert.Equal(t, "temp:123:john", e.PatientID)
}

func TestStore_AddRejectsDuplicateActivePatient(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	first, err := s.Add(ctx, owner, NewEntry{PatientID: "p1", Priority: "high"})
	require.NoError(t, err)

	_, err = s.Add(ctx, owner, NewEntry{PatientID: "p1", Priority: "critical"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = s.Add(ctx, "dr-day", NewEntry{PatientID: "p1", Priority: "critical"})
	assert.NoError(t, err, "other scopes may list the same patient")

	require.NoError(t, s.Remove(ctx, first.ID))
	_, err = s.Add(ctx, owner, NewEntry{PatientID: "p1", Priority: "critical"})
	assert.NoError(t, err, "re-adding after removal changes priority")
}

func TestStore_RosterOutageDoesNotBlockAdd(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.SetRoster(outageRoster{})
	_, err := s.Add(context.Background(), owner, NewEntry{PatientID: "p9", Priority: "high"})
	assert.NoError(t, err)
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	s, repo, _ := newTestStore(t)
	ctx := context.Background()
	e, err := s.Add(ctx, owner, NewEntry{PatientID: "p1", Priority: "high"})
	require.NoError(t, err)

	sub := s.Subscribe(ctx, owner)
	defer sub.Unsubscribe()
	next(t, sub)

	require.NoError(t, s.Remove(ctx, e.ID))
	snap := next(t, sub)
	assert.Empty(t, snap.Items)
	assert.Equal(t, 1, repo.updates)

	require.NoError(t, s.Remove(ctx, e.ID))
	assert.Equal(t, 1, repo.updates, "second remove writes nothing")
	quiet(t, sub)

	require.NoError(t, s.Remove(ctx, uuid.New()), "unknown id is a no-op")
	quiet(t, sub)

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive, "entries are deactivated, not deleted")
}

func TestStore_Update(t *testing.T) {
	s, _, clk := newTestStore(t)
	ctx := context.Background()
	e, err := s.Add(ctx, owner, NewEntry{PatientID: "p1", Priority: "high", Notes: strPtr("obs 2-hourly")})
	require.NoError(t, err)

	clk.Advance(time.Minute)
	flags := []string{"sepsis", "AKI"}
	got, err := s.Update(ctx, e.ID, Patch{
		PresentingComplaint: strPtr("SOB"),
		WorkingDiagnosis:    strPtr("CAP"),
		EscalationFlags:     &flags,
		Notes:               strPtr(""),
	})
	require.NoError(t, err)
	assert.Equal(t, "SOB", *got.PresentingComplaint)
	assert.Equal(t, "CAP", *got.WorkingDiagnosis)
	assert.Equal(t, []string{"AKI", "sepsis"}, got.EscalationFlags)
	assert.Nil(t, got.Notes)
	assert.Equal(t, "high", got.Priority)
	assert.Equal(t, 2, got.Version)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	_, err = s.Update(ctx, e.ID, Patch{Notes: strPtr("x"), ExpectedVersion: intPtr(1)})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestStore_UpdateUnknownOrInactive(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Update(ctx, uuid.New(), Patch{Notes: strPtr("x")})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	e, err := s.Add(ctx, owner, NewEntry{PatientID: "p1", Priority: "high"})
	require.NoError(t, err)
	require.NoError(t, s.Remove(ctx, e.ID))
	_, err = s.Update(ctx, e.ID, Patch{Notes: strPtr("x")})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStore_History(t *testing.T) {
	s, _, clk := newTestStore(t)
	ctx := context.Background()
	a, err := s.Add(ctx, owner, NewEntry{PatientID: "p1", Priority: "high"})
	require.NoError(t, err)
	clk.Advance(time.Minute)
	b, err := s.Add(ctx, owner, NewEntry{PatientID: "p2", Priority: "low"})
	require.NoError(t, err)
	require.NoError(t, s.Remove(ctx, a.ID))

	items, total, err := s.History(ctx, owner, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 2)
	assert.Equal(t, b.ID, items[0].ID, "newest first")
	assert.False(t, items[1].IsActive)

	items, total, err = s.History(ctx, owner, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 1)
	assert.Equal(t, a.ID, items[0].ID)
}

func TestStore_StaleSnapshotOnReloadFailure(t *testing.T) {
	s, repo, _ := newTestStore(t)
	ctx := context.Background()
	e, err := s.Add(ctx, owner, NewEntry{PatientID: "p1", Priority: "high"})
	require.NoError(t, err)

	repo.mu.Lock()
	repo.failList = true
	repo.mu.Unlock()

	_, err = s.Update(ctx, e.ID, Patch{Notes: strPtr("x")})
	require.NoError(t, err)
	last, ok := s.LastKnown(owner)
	require.True(t, ok)
	assert.True(t, last.Stale)
	require.Len(t, last.Items, 1)

	listed, err := s.List(ctx, owner)
	require.NoError(t, err)
	assert.True(t, listed.Stale)
}

func TestTemporaryPatientID(t *testing.T) {
	at := time.UnixMilli(123)
	assert.Equal(t, "temp:123:john", NewTemporaryPatientID(at, "John"))
	assert.Equal(t, "temp:123:case", NewTemporaryPatientID(at, "!!!"))
	assert.True(t, IsTemporaryPatientID("temp:123:john"))
	assert.False(t, IsTemporaryPatientID("p1"))
}
