// Package handover compiles the end-of-shift handover document from a
// point-in-time snapshot of jobs, list entries and the roster.
package handover

import (
	"strings"
	"time"

	"github.com/wardops/wardops/internal/domain/escalation"
	"github.com/wardops/wardops/internal/domain/jobs"
	"github.com/wardops/wardops/internal/domain/reconcile"
	"github.com/wardops/wardops/internal/domain/roster"
)

// Snapshot is everything the report is built from.
type Snapshot struct {
	Owner   string
	TakenAt time.Time
	Jobs    []jobs.Job
	Entries []escalation.Entry
	Roster  roster.Index
	// Stale is set when any part of the snapshot came from a fallback.
	Stale bool
}

// Report is the compiled handover.
type Report struct {
	Text  string `json:"text"`
	Stale bool   `json:"stale"`
}

const (
	title        = "On-call handover"
	staleWarning = "WARNING: snapshot is stale (backend unavailable); items may be missing."
	nothingToDo  = "Nothing to hand over."
	nothingStale = "Handover data unavailable; do not treat as nothing outstanding."
	noneLine     = "- None"
	rosterDown   = "(roster unavailable)"
	sectionDone  = "Jobs completed"
	sectionOpen  = "Outstanding jobs"
	sectionList  = "On-call patients"
)

// Compile renders the report. It is pure: the same snapshot always yields
// byte-identical text.
func Compile(s Snapshot) Report {
	var b strings.Builder
	b.WriteString(title + "\n")
	b.WriteString("Generated: " + s.TakenAt.UTC().Format(time.RFC3339) + "\n")
	if s.Stale {
		b.WriteString(staleWarning + "\n")
	}

	var done, open []jobs.Job
	for _, j := range jobs.Ordered(s.Jobs) {
		switch {
		case j.Completed():
			done = append(done, j)
		case j.Outstanding():
			open = append(open, j)
		}
	}
	var active []escalation.Entry
	for _, e := range escalation.Ordered(s.Entries) {
		if e.IsActive {
			active = append(active, e)
		}
	}

	b.WriteString("\n")
	if len(done) == 0 && len(open) == 0 && len(active) == 0 {
		if s.Stale {
			b.WriteString(nothingStale + "\n")
		} else {
			b.WriteString(nothingToDo + "\n")
		}
		return Report{Text: b.String(), Stale: s.Stale}
	}

	section(&b, sectionDone, len(done), func(i int) string { return jobLine(done[i], "Action") })
	b.WriteString("\n")
	section(&b, sectionOpen, len(open), func(i int) string { return jobLine(open[i], "Action so far") })
	b.WriteString("\n")
	section(&b, sectionList, len(active), func(i int) string { return entryLine(active[i], s.Roster) })
	return Report{Text: b.String(), Stale: s.Stale}
}

func section(b *strings.Builder, heading string, n int, line func(int) string) {
	b.WriteString(heading + "\n")
	if n == 0 {
		b.WriteString(noneLine + "\n")
		return
	}
	for i := 0; i < n; i++ {
		b.WriteString(line(i) + "\n")
	}
}

func badge(priority string) string {
	return "[" + strings.ToUpper(priority) + "]"
}

func jobLine(j jobs.Job, noteLabel string) string {
	var b strings.Builder
	b.WriteString("- " + badge(j.Priority))
	if j.Status == jobs.StatusInProgress {
		b.WriteString(" (in progress)")
	}
	b.WriteString(" " + j.PatientName)
	if loc := roster.FormatLocation(j.Ward, j.Bed); loc != "" {
		b.WriteString(", " + loc)
	}
	b.WriteString(": " + sentence(j.Reason))
	if j.ActionNote != nil && *j.ActionNote != "" {
		b.WriteString(". " + noteLabel + ": " + sentence(*j.ActionNote))
	}
	return b.String()
}

func entryLine(e escalation.Entry, idx roster.Index) string {
	r := reconcile.Classify(e, idx)
	var parts []string
	switch r.Kind {
	case reconcile.Stale:
		parts = append(parts, "- [STALE] (patient record not found: "+e.PatientID+")")
	default:
		head := "- " + badge(e.Priority) + " " + r.Name
		if r.Kind == reconcile.Unresolved {
			head += e.PatientID + " " + rosterDown
		}
		if loc := r.Location(); loc != "" {
			head += ", " + loc
		}
		parts = append(parts, head)
		if len(e.EscalationFlags) > 0 {
			parts = append(parts, "Flags: "+strings.Join(e.EscalationFlags, ", "))
		}
		if empty(e.WorkingDiagnosis) && !empty(r.Diagnosis) {
			parts = append(parts, "Dx: "+sentence(*r.Diagnosis))
		}
	}
	parts = append(parts, workup(e)...)
	return strings.Join(parts, ". ")
}

func empty(s *string) bool { return s == nil || *s == "" }

// workup returns PC and WD when either is present, else the free notes.
func workup(e escalation.Entry) []string {
	var out []string
	if e.PresentingComplaint != nil && *e.PresentingComplaint != "" {
		out = append(out, "PC: "+sentence(*e.PresentingComplaint))
	}
	if e.WorkingDiagnosis != nil && *e.WorkingDiagnosis != "" {
		out = append(out, "WD: "+sentence(*e.WorkingDiagnosis))
	}
	if len(out) == 0 && e.Notes != nil && *e.Notes != "" {
		out = append(out, "Notes: "+sentence(*e.Notes))
	}
	return out
}

// sentence flattens s onto one line and drops a trailing full stop so that
// joined fragments do not double up punctuation.
func sentence(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSuffix(s, ".")
}
