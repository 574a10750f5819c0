package roster

import (
	"context"
	"sort"
	"strings"
)

// Patient is a ward roster patient as seen by the on-call coordinator. The
// roster is owned elsewhere; this package only reads it.
type Patient struct {
	ID        string  `db:"id" json:"id"`
	Name      string  `db:"name" json:"name"`
	Ward      string  `db:"ward" json:"ward"`
	Bed       *string `db:"bed" json:"bed,omitempty"`
	Diagnosis *string `db:"diagnosis" json:"diagnosis,omitempty"`
	Active    bool    `db:"active" json:"active"`
}

// Location renders ward and bed as "4A bed 12", or just the ward.
func (p *Patient) Location() string {
	return FormatLocation(p.Ward, p.Bed)
}

// FormatLocation joins a ward and optional bed for display.
func FormatLocation(ward string, bed *string) string {
	ward = strings.TrimSpace(ward)
	if bed == nil || strings.TrimSpace(*bed) == "" {
		return ward
	}
	if ward == "" {
		return "bed " + strings.TrimSpace(*bed)
	}
	return ward + " bed " + strings.TrimSpace(*bed)
}

// Provider looks up roster patients. GetPatient returns an error matching
// apperr.ErrNotFound when the id does not resolve.
type Provider interface {
	GetPatient(ctx context.Context, id string) (*Patient, error)
	ListPatients(ctx context.Context) ([]Patient, error)
}

// Index is an immutable point-in-time view of the roster keyed by id. The
// zero Index is an unknown roster: nothing was ever read, so a miss says
// nothing about whether the patient exists.
type Index struct {
	byID   map[string]Patient
	loaded bool
}

// NewIndex builds an Index from patients. Inactive (discharged) patients are
// left out so that entries referencing them reconcile as stale.
func NewIndex(patients []Patient) Index {
	idx := Index{byID: make(map[string]Patient, len(patients)), loaded: true}
	for _, p := range patients {
		if !p.Active {
			continue
		}
		idx.byID[p.ID] = p
	}
	return idx
}

// Lookup returns the patient with id, if present.
func (x Index) Lookup(id string) (Patient, bool) {
	p, ok := x.byID[id]
	return p, ok
}

// Loaded reports whether the index came from a successful roster read.
func (x Index) Loaded() bool { return x.loaded }

// Len returns the number of patients in the index.
func (x Index) Len() int { return len(x.byID) }

// Patients returns the indexed patients sorted by id.
func (x Index) Patients() []Patient {
	out := make([]Patient, 0, len(x.byID))
	for _, p := range x.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
