package escalation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wardops/wardops/internal/domain/triage"
	"github.com/wardops/wardops/internal/platform/clock"
)

// TemporaryPrefix marks synthetic patient ids for cases with no roster record.
const TemporaryPrefix = "temp:"

// Entry is a patient flagged for on-call review. Entries are deactivated,
// never deleted.
type Entry struct {
	ID                   uuid.UUID `db:"id" json:"id"`
	OwnerID              string    `db:"owner_id" json:"owner_id"`
	PatientID            string    `db:"patient_id" json:"patient_id"`
	Priority             string    `db:"priority" json:"priority"`
	IsActive             bool      `db:"is_active" json:"is_active"`
	IsTemporary          bool      `db:"is_temporary" json:"is_temporary"`
	TemporaryPatientName *string   `db:"temporary_patient_name" json:"temporary_patient_name,omitempty"`
	TemporaryWard        *string   `db:"temporary_ward" json:"temporary_ward,omitempty"`
	TemporaryBed         *string   `db:"temporary_bed" json:"temporary_bed,omitempty"`
	Notes                *string   `db:"notes" json:"notes,omitempty"`
	PresentingComplaint  *string   `db:"presenting_complaint" json:"presenting_complaint,omitempty"`
	WorkingDiagnosis     *string   `db:"working_diagnosis" json:"working_diagnosis,omitempty"`
	EscalationFlags      []string  `db:"escalation_flags" json:"escalation_flags"`
	ClerkingNoteID       *string   `db:"clerking_note_id" json:"clerking_note_id,omitempty"`
	AddedBy              string    `db:"added_by" json:"added_by"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
	Version              int       `db:"version" json:"version"`
}

// Temporary reports whether the entry describes an ad-hoc case.
func (e *Entry) Temporary() bool {
	return e.IsTemporary || IsTemporaryPatientID(e.PatientID)
}

func (e *Entry) clone() *Entry {
	c := *e
	c.TemporaryPatientName = copyStr(e.TemporaryPatientName)
	c.TemporaryWard = copyStr(e.TemporaryWard)
	c.TemporaryBed = copyStr(e.TemporaryBed)
	c.Notes = copyStr(e.Notes)
	c.PresentingComplaint = copyStr(e.PresentingComplaint)
	c.WorkingDiagnosis = copyStr(e.WorkingDiagnosis)
	c.ClerkingNoteID = copyStr(e.ClerkingNoteID)
	c.EscalationFlags = append([]string{}, e.EscalationFlags...)
	return &c
}

// NewEntry is the input to Add.
type NewEntry struct {
	PatientID            string
	Priority             string
	IsTemporary          bool
	TemporaryPatientName *string
	TemporaryWard        *string
	TemporaryBed         *string
	Notes                *string
	PresentingComplaint  *string
	WorkingDiagnosis     *string
	EscalationFlags      []string
	ClerkingNoteID       *string
	AddedBy              string
}

// Patch updates workup fields. Nil fields are left as they are; an empty
// string clears the field. Priority cannot be patched.
type Patch struct {
	Notes               *string
	PresentingComplaint *string
	WorkingDiagnosis    *string
	EscalationFlags     *[]string
	ClerkingNoteID      *string
	ExpectedVersion     *int
}

func (p Patch) empty() bool {
	return p.Notes == nil && p.PresentingComplaint == nil && p.WorkingDiagnosis == nil &&
		p.EscalationFlags == nil && p.ClerkingNoteID == nil
}

// NewTemporaryPatientID builds "temp:<unix-millis>:<slug>" for an ad-hoc case.
func NewTemporaryPatientID(at time.Time, name string) string {
	slug := clock.Slug(name)
	if slug == "" {
		slug = "case"
	}
	return fmt.Sprintf("%s%d:%s", TemporaryPrefix, at.UnixMilli(), slug)
}

// IsTemporaryPatientID reports whether id uses the temporary convention.
func IsTemporaryPatientID(id string) bool {
	return strings.HasPrefix(id, TemporaryPrefix)
}

// NormalizeFlags trims, de-duplicates and sorts escalation flags.
func NormalizeFlags(flags []string) []string {
	seen := make(map[string]bool, len(flags))
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

var orderKey = triage.Key[Entry]{
	Priority: func(e Entry) string { return e.Priority },
	At:       func(e Entry) time.Time { return e.CreatedAt },
	ID:       func(e Entry) string { return e.ID.String() },
}

// Ordered returns entries in triage order: most urgent first, then oldest.
func Ordered(entries []Entry) []Entry {
	return triage.Order(entries, triage.EntryRanks, orderKey)
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
