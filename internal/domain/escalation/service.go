package escalation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wardops/wardops/internal/domain/roster"
	"github.com/wardops/wardops/internal/domain/triage"
	"github.com/wardops/wardops/internal/platform/apperr"
	"github.com/wardops/wardops/internal/platform/clock"
	"github.com/wardops/wardops/internal/platform/fanout"
	"github.com/wardops/wardops/internal/platform/snapshot"
)

const casAttempts = 3

func errDuplicateActive(patientID string) error {
	return apperr.Invalid("patient_id", "patient "+patientID+" already has an active entry")
}

// Store owns the escalation list. Every committed mutation is followed by a
// fresh snapshot of the owner's active entries.
type Store struct {
	repo     Repository
	roster   roster.Provider
	clock    clock.Clock
	newID    clock.IDGenerator
	notifier fanout.Notifier
	bc       *snapshot.Broadcaster[Entry]
	locks    snapshot.ScopeLocks
	logger   zerolog.Logger
}

func NewStore(repo Repository, logger zerolog.Logger) *Store {
	return &Store{
		repo:     repo,
		clock:    clock.System{},
		newID:    clock.NewID,
		notifier: fanout.Noop{},
		bc:       snapshot.NewBroadcaster[Entry](),
		logger:   logger.With().Str("component", "escalation").Logger(),
	}
}

// SetRoster enables the roster existence check on Add.
func (s *Store) SetRoster(p roster.Provider) { s.roster = p }

// SetClock replaces the time source.
func (s *Store) SetClock(c clock.Clock) { s.clock = c }

// SetIDGenerator replaces the id source.
func (s *Store) SetIDGenerator(g clock.IDGenerator) { s.newID = g }

// SetNotifier attaches a cross-instance change notifier.
func (s *Store) SetNotifier(n fanout.Notifier) { s.notifier = n }

// Broadcaster exposes the snapshot broadcaster so push sinks can attach.
func (s *Store) Broadcaster() *snapshot.Broadcaster[Entry] { return s.bc }

// Add puts a patient on owner's list. The entry must reference a roster
// patient or be a temporary case with a name.
func (s *Store) Add(ctx context.Context, owner string, in NewEntry) (*Entry, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, apperr.Required("owner_id")
	}
	now := s.clock.Now()
	e, err := s.build(owner, in, now)
	if err != nil {
		return nil, err
	}
	if !e.IsTemporary && s.roster != nil {
		_, err := s.roster.GetPatient(ctx, e.PatientID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			return nil, apperr.Invalid("patient_id", "no roster patient "+e.PatientID)
		case err != nil:
			s.logger.Warn().Err(err).Str("patient_id", e.PatientID).Msg("roster check skipped")
		}
	}

	unlock := s.locks.Lock(owner)
	defer unlock()
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, apperr.Unavailable("create list entry", err)
	}
	s.logger.Debug().Str("owner", owner).Str("entry_id", e.ID.String()).Str("priority", e.Priority).
		Bool("temporary", e.IsTemporary).Msg("list entry added")
	s.committed(ctx, owner)
	return e.clone(), nil
}

func (s *Store) build(owner string, in NewEntry, now time.Time) (*Entry, error) {
	patientID := strings.TrimSpace(in.PatientID)
	name := trimmed(in.TemporaryPatientName)
	temporary := in.IsTemporary || IsTemporaryPatientID(patientID)
	priority := strings.ToLower(strings.TrimSpace(in.Priority))

	switch {
	case priority == "":
		return nil, apperr.Required("priority")
	case !triage.EntryRanks.Valid(priority):
		return nil, apperr.Invalid("priority", "must be one of: "+strings.Join(triage.EntryRanks.Levels(), ", "))
	case temporary && name == nil:
		return nil, apperr.Required("temporary_patient_name")
	case !temporary && patientID == "":
		return nil, apperr.Invalid("patient_id", "a roster patient or a temporary case is required")
	}
	if temporary && patientID == "" {
		patientID = NewTemporaryPatientID(now, *name)
	}
	addedBy := strings.TrimSpace(in.AddedBy)
	if addedBy == "" {
		addedBy = owner
	}
	e := &Entry{
		ID:                  s.newID(),
		OwnerID:             owner,
		PatientID:           patientID,
		Priority:            priority,
		IsActive:            true,
		IsTemporary:         temporary,
		Notes:               trimmed(in.Notes),
		PresentingComplaint: trimmed(in.PresentingComplaint),
		WorkingDiagnosis:    trimmed(in.WorkingDiagnosis),
		EscalationFlags:     NormalizeFlags(in.EscalationFlags),
		ClerkingNoteID:      trimmed(in.ClerkingNoteID),
		AddedBy:             addedBy,
		CreatedAt:           now,
		UpdatedAt:           now,
		Version:             1,
	}
	if temporary {
		e.TemporaryPatientName = name
		e.TemporaryWard = trimmed(in.TemporaryWard)
		e.TemporaryBed = trimmed(in.TemporaryBed)
	}
	return e, nil
}

// Remove deactivates an entry. Removing an unknown or already inactive entry
// is a no-op: nothing is written and nothing is broadcast.
func (s *Store) Remove(ctx context.Context, id uuid.UUID) error {
	cur, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperr.Unavailable("get list entry", err)
	}
	if !cur.IsActive {
		return nil
	}
	owner := cur.OwnerID
	unlock := s.locks.Lock(owner)
	defer unlock()

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			if cur, err = s.repo.GetByID(ctx, id); err != nil {
				return apperr.Unavailable("get list entry", err)
			}
			if !cur.IsActive {
				return nil
			}
		}
		next := cur.clone()
		next.IsActive = false
		next.UpdatedAt = s.clock.Now()
		next.Version = cur.Version + 1
		err = s.repo.Update(ctx, next)
		if err == nil {
			s.logger.Debug().Str("owner", owner).Str("entry_id", id.String()).Msg("list entry removed")
			s.committed(ctx, owner)
			return nil
		}
		if !errors.Is(err, apperr.ErrConflict) || attempt >= casAttempts {
			return apperr.Unavailable("remove list entry", err)
		}
	}
}

// Update applies a workup patch to an active entry.
func (s *Store) Update(ctx context.Context, id uuid.UUID, p Patch) (*Entry, error) {
	cur, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Unavailable("get list entry", err)
	}
	if !cur.IsActive {
		return nil, apperr.NotFound("list entry", id.String())
	}
	if p.empty() {
		if p.ExpectedVersion != nil && *p.ExpectedVersion != cur.Version {
			return nil, apperr.Conflict("list entry", id.String(), *p.ExpectedVersion, cur.Version)
		}
		return cur, nil
	}
	owner := cur.OwnerID
	unlock := s.locks.Lock(owner)
	defer unlock()

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			if cur, err = s.repo.GetByID(ctx, id); err != nil {
				return nil, apperr.Unavailable("get list entry", err)
			}
			if !cur.IsActive {
				return nil, apperr.NotFound("list entry", id.String())
			}
		}
		if p.ExpectedVersion != nil && *p.ExpectedVersion != cur.Version {
			return nil, apperr.Conflict("list entry", id.String(), *p.ExpectedVersion, cur.Version)
		}
		next := cur.clone()
		applyPatch(next, p)
		next.UpdatedAt = s.clock.Now()
		next.Version = cur.Version + 1

		err = s.repo.Update(ctx, next)
		if err == nil {
			s.logger.Debug().Str("owner", owner).Str("entry_id", id.String()).Msg("list entry updated")
			s.committed(ctx, owner)
			return next, nil
		}
		if !errors.Is(err, apperr.ErrConflict) || p.ExpectedVersion != nil || attempt >= casAttempts {
			return nil, apperr.Unavailable("update list entry", err)
		}
	}
}

func applyPatch(e *Entry, p Patch) {
	if p.Notes != nil {
		e.Notes = trimmed(p.Notes)
	}
	if p.PresentingComplaint != nil {
		e.PresentingComplaint = trimmed(p.PresentingComplaint)
	}
	if p.WorkingDiagnosis != nil {
		e.WorkingDiagnosis = trimmed(p.WorkingDiagnosis)
	}
	if p.EscalationFlags != nil {
		e.EscalationFlags = NormalizeFlags(*p.EscalationFlags)
	}
	if p.ClerkingNoteID != nil {
		e.ClerkingNoteID = trimmed(p.ClerkingNoteID)
	}
}

// Get returns one entry, active or not.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Unavailable("get list entry", err)
	}
	return e, nil
}

// List reads owner's active entries in triage order, falling back to the
// last published snapshot marked stale when the backend fails.
func (s *Store) List(ctx context.Context, owner string) (snapshot.Snapshot[Entry], error) {
	items, err := s.load(ctx, owner)
	if err != nil {
		if last, ok := s.bc.Last(owner); ok {
			s.logger.Warn().Err(err).Str("owner", owner).Msg("serving last-known list")
			last.Stale = true
			return last, nil
		}
		return snapshot.Snapshot[Entry]{}, err
	}
	snap := snapshot.Snapshot[Entry]{Scope: owner, Items: items, TakenAt: s.clock.Now()}
	if last, ok := s.bc.Last(owner); ok {
		snap.Seq = last.Seq
	}
	return snap, nil
}

// History returns active and inactive entries, newest first, and the total.
func (s *Store) History(ctx context.Context, owner string, limit, offset int) ([]*Entry, int, error) {
	items, total, err := s.repo.ListHistory(ctx, owner, limit, offset)
	if err != nil {
		return nil, 0, apperr.Unavailable("list history", err)
	}
	return items, total, nil
}

// LastKnown returns the last snapshot published for owner.
func (s *Store) LastKnown(owner string) (snapshot.Snapshot[Entry], bool) {
	return s.bc.Last(owner)
}

// Subscribe opens a snapshot stream for owner, loading the current state
// first if nothing has been published for the scope.
func (s *Store) Subscribe(ctx context.Context, owner string) *snapshot.Subscription[Entry] {
	sub := s.bc.Subscribe(owner)
	if _, ok := s.bc.Last(owner); !ok {
		s.Refresh(ctx, owner)
	}
	return sub
}

// Refresh re-reads owner's list and publishes it without announcing a change.
func (s *Store) Refresh(ctx context.Context, owner string) snapshot.Snapshot[Entry] {
	unlock := s.locks.Lock(owner)
	defer unlock()
	return s.publish(ctx, owner)
}

// Close ends every subscription.
func (s *Store) Close() { s.bc.Close() }

func (s *Store) committed(ctx context.Context, owner string) {
	s.publish(ctx, owner)
	if err := s.notifier.Notify(ctx, fanout.Change{Collection: fanout.CollectionEscalation, Scope: owner}); err != nil {
		s.logger.Warn().Err(err).Str("owner", owner).Msg("change notification failed")
	}
}

func (s *Store) publish(ctx context.Context, owner string) snapshot.Snapshot[Entry] {
	now := s.clock.Now()
	items, err := s.load(ctx, owner)
	if err != nil {
		s.logger.Warn().Err(err).Str("owner", owner).Msg("list snapshot reload failed")
		if stale, ok := s.bc.MarkStale(ctx, owner, now); ok {
			return stale
		}
		return s.bc.Publish(ctx, snapshot.Snapshot[Entry]{Scope: owner, Items: []Entry{}, Stale: true, TakenAt: now})
	}
	return s.bc.Publish(ctx, snapshot.Snapshot[Entry]{Scope: owner, Items: items, TakenAt: now})
}

func (s *Store) load(ctx context.Context, owner string) ([]Entry, error) {
	list, err := s.repo.ListActiveByOwner(ctx, owner)
	if err != nil {
		return nil, apperr.Unavailable("list entries", err)
	}
	items := make([]Entry, 0, len(list))
	for _, e := range list {
		items = append(items, *e)
	}
	return Ordered(items), nil
}
