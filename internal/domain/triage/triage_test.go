package triage

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	id       string
	priority string
	at       time.Time
}

var itemKey = Key[item]{
	Priority: func(i item) string { return i.priority },
	At:       func(i item) time.Time { return i.at },
	ID:       func(i item) string { return i.id },
}

func ids(items []item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out
}

func TestOrder_EntryPrioritiesAddedLowCriticalHigh(t *testing.T) {
	base := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	in := []item{
		{id: "a", priority: "low", at: base},
		{id: "b", priority: "critical", at: base.Add(time.Minute)},
		{id: "c", priority: "high", at: base.Add(2 * time.Minute)},
	}
	got := Order(in, EntryRanks, itemKey)
	assert.Equal(t, []string{"b", "c", "a"}, ids(got))
}

func TestOrder_DoesNotMutateInput(t *testing.T) {
	base := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	in := []item{
		{id: "a", priority: "routine", at: base},
		{id: "b", priority: "critical", at: base},
	}
	_ = Order(in, JobRanks, itemKey)
	assert.Equal(t, []string{"a", "b"}, ids(in))
}

func TestOrder_TieBreakOldestFirstThenID(t *testing.T) {
	base := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	in := []item{
		{id: "z", priority: "urgent", at: base.Add(time.Hour)},
		{id: "y", priority: "urgent", at: base},
		{id: "x", priority: "urgent", at: base.Add(time.Hour)},
	}
	got := Order(in, JobRanks, itemKey)
	assert.Equal(t, []string{"y", "x", "z"}, ids(got))
}

func TestOrder_UnknownPriorityLast(t *testing.T) {
	base := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	in := []item{
		{id: "a", priority: "whenever", at: base},
		{id: "b", priority: "routine", at: base.Add(time.Hour)},
	}
	got := Order(in, JobRanks, itemKey)
	assert.Equal(t, []string{"b", "a"}, ids(got))
}

func TestOrder_TotalOrderProperty(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	levels := EntryRanks.Levels()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	var in []item
	for i := 0; i < 200; i++ {
		in = append(in, item{
			id:       string(rune('a'+i%26)) + string(rune('a'+i/26)),
			priority: levels[r.Intn(len(levels))],
			at:       base.Add(time.Duration(r.Intn(30)) * time.Minute),
		})
	}
	got := Order(in, EntryRanks, itemKey)
	require.Len(t, got, len(in))

	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		rp, rc := EntryRanks.Rank(prev.priority), EntryRanks.Rank(cur.priority)
		require.LessOrEqual(t, rp, rc, "rank order violated at %d", i)
		if rp == rc {
			require.False(t, cur.at.Before(prev.at), "equal ranks must be oldest first at %d", i)
		}
	}

	again := Order(got, EntryRanks, itemKey)
	assert.Equal(t, ids(got), ids(again), "ordering an ordered slice must be a no-op")
}

func TestTable_Levels(t *testing.T) {
	assert.Equal(t, []string{"critical", "urgent", "routine"}, JobRanks.Levels())
	assert.Equal(t, []string{"critical", "high", "medium", "low"}, EntryRanks.Levels())
	assert.True(t, EntryRanks.Valid("medium"))
	assert.False(t, JobRanks.Valid("medium"))
}
