// Package reconcile classifies escalation list entries against a roster
// snapshot. Classification is recomputed on every read and never stored.
package reconcile

import (
	"github.com/wardops/wardops/internal/domain/escalation"
	"github.com/wardops/wardops/internal/domain/roster"
)

// Kind is how an entry resolved against the roster.
type Kind string

const (
	// Linked entries reference a patient present in the roster.
	Linked Kind = "linked"
	// Temporary entries describe an ad-hoc case with no roster record.
	Temporary Kind = "temporary"
	// Stale entries reference a patient the roster no longer knows.
	Stale Kind = "stale"
	// Unresolved entries reference a patient while the roster has never
	// been read, so their status is unknown rather than stale.
	Unresolved Kind = "unresolved"
)

// Action is a user action offered for an entry.
type Action string

const (
	ActionUpdate Action = "update"
	ActionRemove Action = "remove"
)

// Resolution is the display form of an entry.
type Resolution struct {
	Kind      Kind    `json:"kind"`
	Name      string  `json:"name,omitempty"`
	Ward      string  `json:"ward,omitempty"`
	Bed       *string `json:"bed,omitempty"`
	Diagnosis *string `json:"diagnosis,omitempty"`
}

// Location renders ward and bed for display.
func (r Resolution) Location() string {
	return roster.FormatLocation(r.Ward, r.Bed)
}

// ShowBadges reports whether priority and flags should be displayed.
func (r Resolution) ShowBadges() bool { return r.Kind != Stale }

// Actions lists what the user may do with the entry. Stale entries can only
// be removed.
func (r Resolution) Actions() []Action {
	if r.Kind == Stale {
		return []Action{ActionRemove}
	}
	return []Action{ActionUpdate, ActionRemove}
}

// Classify resolves e against idx. A roster match wins over temporary
// fields; a temporary case needs a name to render. A roster-backed entry is
// only stale when a loaded roster lacks its patient.
func Classify(e escalation.Entry, idx roster.Index) Resolution {
	if p, ok := idx.Lookup(e.PatientID); ok {
		return Resolution{
			Kind:      Linked,
			Name:      p.Name,
			Ward:      p.Ward,
			Bed:       p.Bed,
			Diagnosis: p.Diagnosis,
		}
	}
	if e.Temporary() && e.TemporaryPatientName != nil && *e.TemporaryPatientName != "" {
		r := Resolution{
			Kind: Temporary,
			Name: *e.TemporaryPatientName,
			Bed:  e.TemporaryBed,
		}
		if e.TemporaryWard != nil {
			r.Ward = *e.TemporaryWard
		}
		return r
	}
	if !idx.Loaded() && !e.Temporary() {
		return Resolution{Kind: Unresolved}
	}
	return Resolution{Kind: Stale}
}

// Item pairs an entry with its resolution.
type Item struct {
	Entry      escalation.Entry `json:"entry"`
	Resolution Resolution       `json:"resolution"`
	Actions    []Action         `json:"actions"`
}

// View classifies entries in the order given.
func View(entries []escalation.Entry, idx roster.Index) []Item {
	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		r := Classify(e, idx)
		items = append(items, Item{Entry: e, Resolution: r, Actions: r.Actions()})
	}
	return items
}
