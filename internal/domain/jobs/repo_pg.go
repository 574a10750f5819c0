package jobs

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardops/wardops/internal/platform/apperr"
	"github.com/wardops/wardops/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type jobRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG stores jobs in the oncall_job table.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &jobRepoPG{pool: pool}
}

func (r *jobRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const jobCols = `id, owner_id, patient_name, ward, bed, called_by, reason, priority, status,
	action_note, received_at, updated_at, version`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.OwnerID, &j.PatientName, &j.Ward, &j.Bed, &j.CalledBy,
		&j.Reason, &j.Priority, &j.Status, &j.ActionNote, &j.ReceivedAt, &j.UpdatedAt, &j.Version)
	if err != nil {
		return nil, err
	}
	j.ReceivedAt = j.ReceivedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return &j, nil
}

func (r *jobRepoPG) Create(ctx context.Context, j *Job) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO oncall_job (`+jobCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		j.ID, j.OwnerID, j.PatientName, j.Ward, j.Bed, j.CalledBy, j.Reason, j.Priority,
		j.Status, j.ActionNote, j.ReceivedAt, j.UpdatedAt, j.Version)
	if err != nil {
		return apperr.Unavailable("insert job", err)
	}
	return nil
}

func (r *jobRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Job, error) {
	j, err := scanJob(r.conn(ctx).QueryRow(ctx, `SELECT `+jobCols+` FROM oncall_job WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("job", id.String())
	}
	if err != nil {
		return nil, apperr.Unavailable("get job", err)
	}
	return j, nil
}

func (r *jobRepoPG) Update(ctx context.Context, j *Job) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE oncall_job SET status = $2, action_note = $3, updated_at = $4, version = $5
		WHERE id = $1 AND version = $6`,
		j.ID, j.Status, j.ActionNote, j.UpdatedAt, j.Version, j.Version-1)
	if err != nil {
		return apperr.Unavailable("update job", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var current int
	err = r.conn(ctx).QueryRow(ctx, `SELECT version FROM oncall_job WHERE id = $1`, j.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("job", j.ID.String())
	}
	if err != nil {
		return apperr.Unavailable("update job", err)
	}
	return apperr.Conflict("job", j.ID.String(), j.Version-1, current)
}

func (r *jobRepoPG) ListByOwner(ctx context.Context, ownerID string) ([]*Job, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+jobCols+` FROM oncall_job WHERE owner_id = $1`, ownerID)
	if err != nil {
		return nil, apperr.Unavailable("list jobs", err)
	}
	defer rows.Close()
	var items []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, apperr.Unavailable("scan job", err)
		}
		items = append(items, j)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("list jobs", err)
	}
	return items, nil
}
