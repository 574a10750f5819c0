package jobs

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wardops/wardops/internal/domain/triage"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusHandedOver Status = "handed_over"
)

// Job is one outstanding on-call task. PatientName is free text and is not a
// reference into the roster.
type Job struct {
	ID          uuid.UUID `db:"id" json:"id"`
	OwnerID     string    `db:"owner_id" json:"owner_id"`
	PatientName string    `db:"patient_name" json:"patient_name"`
	Ward        string    `db:"ward" json:"ward"`
	Bed         *string   `db:"bed" json:"bed,omitempty"`
	CalledBy    *string   `db:"called_by" json:"called_by,omitempty"`
	Reason      string    `db:"reason" json:"reason"`
	Priority    string    `db:"priority" json:"priority"`
	Status      Status    `db:"status" json:"status"`
	ActionNote  *string   `db:"action_note" json:"action_note,omitempty"`
	ReceivedAt  time.Time `db:"received_at" json:"received_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
	Version     int       `db:"version" json:"version"`
}

// Outstanding reports whether the job still needs work.
func (j *Job) Outstanding() bool {
	return j.Status == StatusPending || j.Status == StatusInProgress
}

// Completed reports whether the job is done or already handed over.
func (j *Job) Completed() bool {
	return j.Status == StatusDone || j.Status == StatusHandedOver
}

func (j *Job) clone() *Job {
	c := *j
	c.Bed = copyStr(j.Bed)
	c.CalledBy = copyStr(j.CalledBy)
	c.ActionNote = copyStr(j.ActionNote)
	return &c
}

// NewJob is the input to AddJob.
type NewJob struct {
	PatientName string
	Ward        string
	Bed         *string
	CalledBy    *string
	Reason      string
	Priority    string
}

// StatusChange requests a lifecycle transition, optionally recording a note
// in the same write. ExpectedVersion, when set, must match the stored version.
type StatusChange struct {
	Status          Status
	Note            *string
	ExpectedVersion *int
}

// NoteChange replaces the action note.
type NoteChange struct {
	Note            string
	ExpectedVersion *int
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusDone},
	StatusInProgress: {StatusDone},
	StatusDone:       {StatusHandedOver},
}

var validStatuses = map[Status]bool{
	StatusPending:    true,
	StatusInProgress: true,
	StatusDone:       true,
	StatusHandedOver: true,
}

// CanTransition reports whether from may move to to. Same-state requests are
// not transitions.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var orderKey = triage.Key[Job]{
	Priority: func(j Job) string { return j.Priority },
	At:       func(j Job) time.Time { return j.ReceivedAt },
	ID:       func(j Job) string { return j.ID.String() },
}

// Ordered returns jobs in triage order: most urgent first, then oldest.
func Ordered(jobs []Job) []Job {
	return triage.Order(jobs, triage.JobRanks, orderKey)
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// trimmed returns nil for a nil or blank string, else the trimmed value.
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
