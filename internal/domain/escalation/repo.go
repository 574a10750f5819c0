package escalation

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists list entries. Update is a compare-and-swap on version
// and fails with an error matching apperr.ErrConflict when it loses.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	Update(ctx context.Context, e *Entry) error
	ListActiveByOwner(ctx context.Context, ownerID string) ([]*Entry, error)
	ListHistory(ctx context.Context, ownerID string, limit, offset int) ([]*Entry, int, error)
}
