package escalation

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

type entryRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG stores entries in the oncall_list_entry table.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &entryRepoPG{pool: pool}
}

func (r *entryRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `id, owner_id, patient_id, priority, is_active, is_temporary,
	temporary_patient_name, temporary_ward, temporary_bed, notes, presenting_complaint,
	working_diagnosis, escalation_flags, clerking_note_id, added_by, created_at, updated_at, version`

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.OwnerID, &e.PatientID, &e.Priority, &e.IsActive, &e.IsTemporary,
		&e.TemporaryPatientName, &e.TemporaryWard, &e.TemporaryBed, &e.Notes, &e.PresentingComplaint,
		&e.WorkingDiagnosis, &e.EscalationFlags, &e.ClerkingNoteID, &e.AddedBy,
		&e.CreatedAt, &e.UpdatedAt, &e.Version)
	if err != nil {
		return nil, err
	}
	if e.EscalationFlags == nil {
		e.EscalationFlags = []string{}
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

func (r *entryRepoPG) Create(ctx context.Context, e *Entry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO oncall_list_entry (`+entryCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		e.ID, e.OwnerID, e.PatientID, e.Priority, e.IsActive, e.IsTemporary,
		e.TemporaryPatientName, e.TemporaryWard, e.TemporaryBed, e.Notes, e.PresentingComplaint,
		e.WorkingDiagnosis, e.EscalationFlags, e.ClerkingNoteID, e.AddedBy,
		e.CreatedAt, e.UpdatedAt, e.Version)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errDuplicateActive(e.PatientID)
	}
	if err != nil {
		return apperr.Unavailable("insert list entry", err)
	}
	return nil
}

func (r *entryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM oncall_list_entry WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("list entry", id.String())
	}
	if err != nil {
		return nil, apperr.Unavailable("get list entry", err)
	}
	return e, nil
}

func (r *entryRepoPG) Update(ctx context.Context, e *Entry) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE oncall_list_entry SET is_active = $2, notes = $3, presenting_complaint = $4,
			working_diagnosis = $5, escalation_flags = $6, clerking_note_id = $7,
			updated_at = $8, version = $9
		WHERE id = $1 AND version = $10`,
		e.ID, e.IsActive, e.Notes, e.PresentingComplaint, e.WorkingDiagnosis, e.EscalationFlags,
		e.ClerkingNoteID, e.UpdatedAt, e.Version, e.Version-1)
	if err != nil {
		return apperr.Unavailable("update list entry", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var current int
	err = r.conn(ctx).QueryRow(ctx, `SELECT version FROM oncall_list_entry WHERE id = $1`, e.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("list entry", e.ID.String())
	}
	if err != nil {
		return apperr.Unavailable("update list entry", err)
	}
	return apperr.Conflict("list entry", e.ID.String(), e.Version-1, current)
}

func (r *entryRepoPG) ListActiveByOwner(ctx context.Context, ownerID string) ([]*Entry, error) {
	return r.query(ctx, `SELECT `+entryCols+` FROM oncall_list_entry WHERE owner_id = $1 AND is_active`, ownerID)
}

func (r *entryRepoPG) ListHistory(ctx context.Context, ownerID string, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM oncall_list_entry WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, apperr.Unavailable("count list history", err)
	}
	items, err := r.query(ctx, `SELECT `+entryCols+` FROM oncall_list_entry WHERE owner_id = $1
		ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *entryRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Unavailable("list entries", err)
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, apperr.Unavailable("scan list entry", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("list entries", err)
	}
	return items, nil
}
