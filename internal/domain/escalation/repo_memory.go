package escalation

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/wardops/wardops/internal/platform/apperr"
)

type entryRepoMemory struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
}

// NewRepoMemory returns a process-local repository.
func NewRepoMemory() Repository {
	return &entryRepoMemory{entries: make(map[uuid.UUID]*Entry)}
}

func (r *entryRepoMemory) Create(_ context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[e.ID]; ok {
		return apperr.Conflict("list entry", e.ID.String(), 0, cur.Version)
	}
	if !e.Temporary() {
		for _, other := range r.entries {
			if other.IsActive && other.OwnerID == e.OwnerID && other.PatientID == e.PatientID {
				return errDuplicateActive(e.PatientID)
			}
		}
	}
	r.entries[e.ID] = e.clone()
	return nil
}

func (r *entryRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, apperr.NotFound("list entry", id.String())
	}
	return e.clone(), nil
}

func (r *entryRepoMemory) Update(_ context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[e.ID]
	if !ok {
		return apperr.NotFound("list entry", e.ID.String())
	}
	if cur.Version != e.Version-1 {
		return apperr.Conflict("list entry", e.ID.String(), e.Version-1, cur.Version)
	}
	r.entries[e.ID] = e.clone()
	return nil
}

func (r *entryRepoMemory) ListActiveByOwner(_ context.Context, ownerID string) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Entry
	for _, e := range r.entries {
		if e.IsActive && e.OwnerID == ownerID {
			out = append(out, e.clone())
		}
	}
	return out, nil
}

func (r *entryRepoMemory) ListHistory(_ context.Context, ownerID string, limit, offset int) ([]*Entry, int, error) {
	r.mu.RLock()
	var all []*Entry
	for _, e := range r.entries {
		if e.OwnerID == ownerID {
			all = append(all, e.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	total := len(all)
	if offset >= total {
		return []*Entry{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}
