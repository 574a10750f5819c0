package jobs

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wardops/wardops/internal/domain/triage"
	"github.com/wardops/wardops/internal/platform/apperr"
	"github.com/wardops/wardops/internal/platform/clock"
	"github.com/wardops/wardops/internal/platform/fanout"
	"github.com/wardops/wardops/internal/platform/snapshot"
)

// casAttempts bounds the retries of an unversioned write that lost a race.
const casAttempts = 3

// Store owns the on-call job collection. Every committed mutation is
// followed by a fresh full-collection snapshot for the job's owner.
type Store struct {
	repo     Repository
	clock    clock.Clock
	newID    clock.IDGenerator
	notifier fanout.Notifier
	bc       *snapshot.Broadcaster[Job]
	locks    snapshot.ScopeLocks
	logger   zerolog.Logger
}

func NewStore(repo Repository, logger zerolog.Logger) *Store {
	return &Store{
		repo:     repo,
		clock:    clock.System{},
		newID:    clock.NewID,
		notifier: fanout.Noop{},
		bc:       snapshot.NewBroadcaster[Job](),
		logger:   logger.With().Str("component", "jobs").Logger(),
	}
}

// SetClock replaces the time source.
func (s *Store) SetClock(c clock.Clock) { s.clock = c }

// SetIDGenerator replaces the id source.
func (s *Store) SetIDGenerator(g clock.IDGenerator) { s.newID = g }

// SetNotifier attaches a cross-instance change notifier.
func (s *Store) SetNotifier(n fanout.Notifier) { s.notifier = n }

// Broadcaster exposes the snapshot broadcaster so push sinks can attach.
func (s *Store) Broadcaster() *snapshot.Broadcaster[Job] { return s.bc }

// AddJob creates a pending job in owner's scope.
func (s *Store) AddJob(ctx context.Context, owner string, in NewJob) (*Job, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, apperr.Required("owner_id")
	}
	if err := validateNewJob(&in); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	j := &Job{
		ID:          s.newID(),
		OwnerID:     owner,
		PatientName: in.PatientName,
		Ward:        in.Ward,
		Bed:         trimmed(in.Bed),
		CalledBy:    trimmed(in.CalledBy),
		Reason:      in.Reason,
		Priority:    in.Priority,
		Status:      StatusPending,
		ReceivedAt:  now,
		UpdatedAt:   now,
		Version:     1,
	}

	unlock := s.locks.Lock(owner)
	defer unlock()
	if err := s.repo.Create(ctx, j); err != nil {
		return nil, apperr.Unavailable("create job", err)
	}
	s.logger.Debug().Str("owner", owner).Str("job_id", j.ID.String()).Str("priority", j.Priority).Msg("job added")
	s.committed(ctx, owner)
	return j.clone(), nil
}

func validateNewJob(in *NewJob) error {
	in.PatientName = strings.TrimSpace(in.PatientName)
	in.Ward = strings.TrimSpace(in.Ward)
	in.Reason = strings.TrimSpace(in.Reason)
	in.Priority = strings.TrimSpace(strings.ToLower(in.Priority))
	switch {
	case in.PatientName == "":
		return apperr.Required("patient_name")
	case in.Ward == "":
		return apperr.Required("ward")
	case in.Reason == "":
		return apperr.Required("reason")
	case in.Priority == "":
		return apperr.Required("priority")
	case !triage.JobRanks.Valid(in.Priority):
		return apperr.Invalid("priority", "must be one of: "+strings.Join(triage.JobRanks.Levels(), ", "))
	}
	return nil
}

// SetStatus moves a job along its lifecycle. A note, when given, is written in
// the same update.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, ch StatusChange) (*Job, error) {
	if !validStatuses[ch.Status] {
		return nil, apperr.Invalid("status", "unknown status "+string(ch.Status))
	}
	j, err := s.mutate(ctx, id, ch.ExpectedVersion, func(j *Job) error {
		if !CanTransition(j.Status, ch.Status) {
			return &apperr.TransitionError{From: string(j.Status), To: string(ch.Status)}
		}
		j.Status = ch.Status
		if ch.Note != nil {
			j.ActionNote = trimmed(ch.Note)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("owner", j.OwnerID).Str("job_id", id.String()).Str("status", string(j.Status)).Msg("job status changed")
	return j, nil
}

// SaveNote replaces the action note. Allowed at every status.
func (s *Store) SaveNote(ctx context.Context, id uuid.UUID, ch NoteChange) (*Job, error) {
	j, err := s.mutate(ctx, id, ch.ExpectedVersion, func(j *Job) error {
		j.ActionNote = trimmed(&ch.Note)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("owner", j.OwnerID).Str("job_id", id.String()).Msg("job note saved")
	return j, nil
}

// mutate applies fn to the current state of job id and commits it with a
// version check. Callers that pass expected get Conflict on mismatch; the
// rest retry against the fresh state.
func (s *Store) mutate(ctx context.Context, id uuid.UUID, expected *int, fn func(*Job) error) (*Job, error) {
	cur, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Unavailable("get job", err)
	}
	owner := cur.OwnerID

	unlock := s.locks.Lock(owner)
	defer unlock()

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			if cur, err = s.repo.GetByID(ctx, id); err != nil {
				return nil, apperr.Unavailable("get job", err)
			}
		}
		if expected != nil && *expected != cur.Version {
			return nil, apperr.Conflict("job", id.String(), *expected, cur.Version)
		}
		next := cur.clone()
		if err := fn(next); err != nil {
			return nil, err
		}
		next.UpdatedAt = s.clock.Now()
		next.Version = cur.Version + 1

		err = s.repo.Update(ctx, next)
		if err == nil {
			s.committed(ctx, owner)
			return next, nil
		}
		if !errors.Is(err, apperr.ErrConflict) || expected != nil || attempt >= casAttempts {
			return nil, apperr.Unavailable("update job", err)
		}
		s.logger.Debug().Str("job_id", id.String()).Int("attempt", attempt).Msg("job write raced, retrying")
	}
}

// HandOverDone moves every done job in owner's scope to handed_over and
// publishes a single snapshot afterwards.
func (s *Store) HandOverDone(ctx context.Context, owner string) ([]*Job, error) {
	unlock := s.locks.Lock(owner)
	defer unlock()

	list, err := s.repo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, apperr.Unavailable("list jobs", err)
	}
	var moved []*Job
	for _, j := range list {
		if j.Status != StatusDone {
			continue
		}
		next, err := s.handOver(ctx, j)
		if err != nil {
			if len(moved) > 0 {
				s.committed(ctx, owner)
			}
			return moved, err
		}
		if next != nil {
			moved = append(moved, next)
		}
	}
	if len(moved) > 0 {
		s.logger.Info().Str("owner", owner).Int("count", len(moved)).Msg("jobs handed over")
		s.committed(ctx, owner)
	}
	return moved, nil
}

// handOver writes j as handed_over. It returns nil when a racing writer
// already moved the job on.
func (s *Store) handOver(ctx context.Context, j *Job) (*Job, error) {
	for attempt := 1; ; attempt++ {
		if j.Status != StatusDone {
			return nil, nil
		}
		next := j.clone()
		next.Status = StatusHandedOver
		next.UpdatedAt = s.clock.Now()
		next.Version = j.Version + 1
		err := s.repo.Update(ctx, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, apperr.ErrConflict) || attempt >= casAttempts {
			return nil, apperr.Unavailable("hand over job", err)
		}
		if j, err = s.repo.GetByID(ctx, j.ID); err != nil {
			return nil, apperr.Unavailable("get job", err)
		}
	}
}

// Get returns one job.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	j, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Unavailable("get job", err)
	}
	return j, nil
}

// List reads owner's jobs in triage order. When the backend fails and a
// snapshot was published earlier, that snapshot is returned marked stale.
func (s *Store) List(ctx context.Context, owner string) (snapshot.Snapshot[Job], error) {
	items, err := s.load(ctx, owner)
	if err != nil {
		if last, ok := s.bc.Last(owner); ok {
			s.logger.Warn().Err(err).Str("owner", owner).Msg("serving last-known jobs")
			last.Stale = true
			return last, nil
		}
		return snapshot.Snapshot[Job]{}, err
	}
	snap := snapshot.Snapshot[Job]{Scope: owner, Items: items, TakenAt: s.clock.Now()}
	if last, ok := s.bc.Last(owner); ok {
		snap.Seq = last.Seq
	}
	return snap, nil
}

// LastKnown returns the last snapshot published for owner.
func (s *Store) LastKnown(owner string) (snapshot.Snapshot[Job], bool) {
	return s.bc.Last(owner)
}

// Subscribe opens a snapshot stream for owner. If nothing has been published
// for the scope yet, the current state is loaded and published first.
func (s *Store) Subscribe(ctx context.Context, owner string) *snapshot.Subscription[Job] {
	sub := s.bc.Subscribe(owner)
	if _, ok := s.bc.Last(owner); !ok {
		s.Refresh(ctx, owner)
	}
	return sub
}

// Refresh re-reads owner's jobs and publishes them without announcing a
// change to other instances. Used when another instance committed.
func (s *Store) Refresh(ctx context.Context, owner string) snapshot.Snapshot[Job] {
	unlock := s.locks.Lock(owner)
	defer unlock()
	return s.publish(ctx, owner)
}

// Close ends every subscription.
func (s *Store) Close() { s.bc.Close() }

func (s *Store) committed(ctx context.Context, owner string) {
	s.publish(ctx, owner)
	if err := s.notifier.Notify(ctx, fanout.Change{Collection: fanout.CollectionJobs, Scope: owner}); err != nil {
		s.logger.Warn().Err(err).Str("owner", owner).Msg("change notification failed")
	}
}

func (s *Store) publish(ctx context.Context, owner string) snapshot.Snapshot[Job] {
	now := s.clock.Now()
	items, err := s.load(ctx, owner)
	if err != nil {
		s.logger.Warn().Err(err).Str("owner", owner).Msg("job snapshot reload failed")
		if stale, ok := s.bc.MarkStale(ctx, owner, now); ok {
			return stale
		}
		return s.bc.Publish(ctx, snapshot.Snapshot[Job]{Scope: owner, Items: []Job{}, Stale: true, TakenAt: now})
	}
	return s.bc.Publish(ctx, snapshot.Snapshot[Job]{Scope: owner, Items: items, TakenAt: now})
}

func (s *Store) load(ctx context.Context, owner string) ([]Job, error) {
	list, err := s.repo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, apperr.Unavailable("list jobs", err)
	}
	items := make([]Job, 0, len(list))
	for _, j := range list {
		items = append(items, *j)
	}
	return Ordered(items), nil
}
