// Package triage is the priority ordering engine shared by every view of the
// on-call jobs and escalation list. Ordering is total and deterministic: rank
// ascending, then oldest first, then id.
package triage

import (
	"sort"
	"time"
)

// Table maps a priority level to its rank. Lower ranks are more urgent.
type Table map[string]int

// JobRanks ranks on-call job priorities.
var JobRanks = Table{
	"critical": 0,
	"urgent":   1,
	"routine":  2,
}

// EntryRanks ranks escalation list priorities.
var EntryRanks = Table{
	"critical": 0,
	"high":     1,
	"medium":   2,
	"low":      3,
}

// Rank returns the rank of level. Unknown levels rank after every known one.
func (t Table) Rank(level string) int {
	if r, ok := t[level]; ok {
		return r
	}
	return len(t)
}

// Valid reports whether level appears in the table.
func (t Table) Valid(level string) bool {
	_, ok := t[level]
	return ok
}

// Levels returns the table's levels from most to least urgent.
func (t Table) Levels() []string {
	out := make([]string, 0, len(t))
	for l := range t {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return t[out[i]] < t[out[j]] })
	return out
}

// Key extracts the ordering fields from an item.
type Key[T any] struct {
	Priority func(T) string
	At       func(T) time.Time
	ID       func(T) string
}

// Order returns a new slice holding items sorted by (rank, At, ID). The input
// slice is not modified.
func Order[T any](items []T, table Table, key Key[T]) []T {
	out := make([]T, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return Less(out[i], out[j], table, key)
	})
	return out
}

// Less reports whether a sorts before b.
func Less[T any](a, b T, table Table, key Key[T]) bool {
	ra, rb := table.Rank(key.Priority(a)), table.Rank(key.Priority(b))
	if ra != rb {
		return ra < rb
	}
	ta, tb := key.At(a), key.At(b)
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return key.ID(a) < key.ID(b)
}
