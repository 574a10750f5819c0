// Package clock provides the time source and identifier generation shared by
// the on-call stores. Timestamps are normalised to UTC with millisecond
// precision so a value written to Postgres reads back identical.
package clock

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Precision is the resolution every stored timestamp is truncated to.
const Precision = time.Millisecond

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

func (System) Now() time.Time { return Normalize(time.Now()) }

// Normalize converts t to UTC and truncates it to Precision.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(Precision)
}

// Manual is a settable clock for tests.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: Normalize(t)}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = Normalize(t)
	m.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = Normalize(m.now.Add(d))
	return m.now
}

// IDGenerator produces record identifiers.
type IDGenerator func() uuid.UUID

// NewID returns a random v4 uuid.
func NewID() uuid.UUID { return uuid.New() }

// Sequential returns a generator yielding deterministic uuids whose last bytes
// count up from 1. Only meant for tests.
func Sequential() IDGenerator {
	var mu sync.Mutex
	var n uint64
	return func() uuid.UUID {
		mu.Lock()
		defer mu.Unlock()
		n++
		var id uuid.UUID
		for i := 0; i < 8; i++ {
			id[15-i] = byte(n >> (8 * i))
		}
		return id
	}
}

// Slug lowercases s and collapses every run of non-alphanumeric characters
// into a single hyphen. The result never starts or ends with a hyphen.
func Slug(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}
