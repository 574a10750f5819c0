package jobs

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists jobs. Update is a compare-and-swap: it writes j only if
// the stored version is j.Version-1, and otherwise fails with an error
// matching apperr.ErrConflict.
type Repository interface {
	Create(ctx context.Context, j *Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)
	Update(ctx context.Context, j *Job) error
	ListByOwner(ctx context.Context, ownerID string) ([]*Job, error)
}
