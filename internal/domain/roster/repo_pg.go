package roster

import (
	"context"
	"errors"

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

type rosterRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG reads the roster_patient table.
func NewRepoPG(pool *pgxpool.Pool) Provider {
	return &rosterRepoPG{pool: pool}
}

func (r *rosterRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `id::text, name, ward, bed, diagnosis, active`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Ward, &p.Bed, &p.Diagnosis, &p.Active)
	return &p, err
}

func (r *rosterRepoPG) GetPatient(ctx context.Context, id string) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM roster_patient WHERE id::text = $1 AND active`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient", id)
	}
	if err != nil {
		return nil, apperr.Unavailable("get roster patient", err)
	}
	return p, nil
}

func (r *rosterRepoPG) ListPatients(ctx context.Context) ([]Patient, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM roster_patient WHERE active ORDER BY ward, bed NULLS LAST, name`)
	if err != nil {
		return nil, apperr.Unavailable("list roster", err)
	}
	defer rows.Close()
	var items []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, apperr.Unavailable("scan roster patient", err)
		}
		items = append(items, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("list roster", err)
	}
	return items, nil
}
