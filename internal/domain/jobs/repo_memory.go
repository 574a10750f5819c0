package jobs

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/wardops/wardops/internal/platform/apperr"
)

type jobRepoMemory struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job
}

// NewRepoMemory returns a process-local repository.
func NewRepoMemory() Repository {
	return &jobRepoMemory{jobs: make(map[uuid.UUID]*Job)}
}

func (r *jobRepoMemory) Create(_ context.Context, j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[j.ID]; ok {
		return apperr.Conflict("job", j.ID.String(), 0, r.jobs[j.ID].Version)
	}
	r.jobs[j.ID] = j.clone()
	return nil
}

func (r *jobRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, apperr.NotFound("job", id.String())
	}
	return j.clone(), nil
}

func (r *jobRepoMemory) Update(_ context.Context, j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.jobs[j.ID]
	if !ok {
		return apperr.NotFound("job", j.ID.String())
	}
	if cur.Version != j.Version-1 {
		return apperr.Conflict("job", j.ID.String(), j.Version-1, cur.Version)
	}
	r.jobs[j.ID] = j.clone()
	return nil
}

func (r *jobRepoMemory) ListByOwner(_ context.Context, ownerID string) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Job
	for _, j := range r.jobs {
		if j.OwnerID == ownerID {
			out = append(out, j.clone())
		}
	}
	return out, nil
}
