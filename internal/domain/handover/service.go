package handover

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wardops/wardops/internal/domain/escalation"
	"github.com/wardops/wardops/internal/domain/jobs"
	"github.com/wardops/wardops/internal/domain/roster"
	"github.com/wardops/wardops/internal/platform/clock"
	"github.com/wardops/wardops/internal/platform/snapshot"
)

// JobSource is the slice of the job store the handover needs.
type JobSource interface {
	List(ctx context.Context, owner string) (snapshot.Snapshot[jobs.Job], error)
	HandOverDone(ctx context.Context, owner string) ([]*jobs.Job, error)
}

// EntrySource is the slice of the escalation store the handover needs.
type EntrySource interface {
	List(ctx context.Context, owner string) (snapshot.Snapshot[escalation.Entry], error)
}

// Service assembles snapshots and compiles reports.
type Service struct {
	jobs    JobSource
	entries EntrySource
	roster  *roster.Cache
	clock   clock.Clock
	logger  zerolog.Logger
}

func NewService(j JobSource, e EntrySource, rc *roster.Cache, logger zerolog.Logger) *Service {
	return &Service{
		jobs:    j,
		entries: e,
		roster:  rc,
		clock:   clock.System{},
		logger:  logger.With().Str("component", "handover").Logger(),
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(c clock.Clock) { s.clock = c }

// Snapshot loads jobs, the list and the roster concurrently. A source that
// fails contributes its fallback (or nothing) and marks the snapshot stale;
// only cancellation of ctx is returned as an error.
func (s *Service) Snapshot(ctx context.Context, owner string) (Snapshot, error) {
	snap := Snapshot{Owner: owner, TakenAt: s.clock.Now()}
	var jobsStale, entriesStale, rosterStale bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		js, err := s.jobs.List(gctx, owner)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn().Err(err).Str("owner", owner).Msg("jobs unavailable for handover")
			jobsStale = true
			return nil
		}
		snap.Jobs, jobsStale = js.Items, js.Stale
		return nil
	})
	g.Go(func() error {
		es, err := s.entries.List(gctx, owner)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn().Err(err).Str("owner", owner).Msg("list unavailable for handover")
			entriesStale = true
			return nil
		}
		snap.Entries, entriesStale = es.Items, es.Stale
		return nil
	})
	g.Go(func() error {
		idx, stale, err := s.roster.Index(gctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn().Err(err).Str("owner", owner).Msg("roster unavailable for handover")
		}
		snap.Roster, rosterStale = idx, stale
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	snap.Stale = jobsStale || entriesStale || rosterStale
	return snap, nil
}

// Compile builds the current report for owner.
func (s *Service) Compile(ctx context.Context, owner string) (Report, error) {
	snap, err := s.Snapshot(ctx, owner)
	if err != nil {
		return Report{}, err
	}
	r := Compile(snap)
	s.logger.Debug().Str("owner", owner).Bool("stale", r.Stale).Int("jobs", len(snap.Jobs)).
		Int("entries", len(snap.Entries)).Msg("handover compiled")
	return r, nil
}

// Acknowledge marks every done job in owner's scope as handed over.
func (s *Service) Acknowledge(ctx context.Context, owner string) ([]*jobs.Job, error) {
	return s.jobs.HandOverDone(ctx, owner)
}
