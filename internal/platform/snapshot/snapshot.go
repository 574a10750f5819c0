// Package snapshot delivers whole-collection snapshots to subscribers, one
// stream per scope. Subscribers always receive the complete current state,
// never a delta, so derived views can be recomputed from a consistent set.
package snapshot

import (
	"context"
	"sync"
	"time"
)

// Snapshot is the full state of one collection scope at a commit.
type Snapshot[T any] struct {
	Scope   string    `json:"scope"`
	Seq     uint64    `json:"seq"`
	Items   []T       `json:"items"`
	Stale   bool      `json:"stale"`
	TakenAt time.Time `json:"taken_at"`
}

// Sink receives every published snapshot. Implementations must not block.
type Sink[T any] interface {
	Publish(ctx context.Context, snap Snapshot[T])
}

// Broadcaster fans snapshots out to per-scope subscribers. Each subscriber
// holds at most one undelivered snapshot; a newer one replaces it.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	seq    map[string]uint64
	last   map[string]Snapshot[T]
	subs   map[string]map[*Subscription[T]]struct{}
	sinks  []Sink[T]
	closed bool
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{
		seq:  make(map[string]uint64),
		last: make(map[string]Snapshot[T]),
		subs: make(map[string]map[*Subscription[T]]struct{}),
	}
}

// AddSink registers an additional receiver for every published snapshot.
func (b *Broadcaster[T]) AddSink(s Sink[T]) {
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// Publish stamps snap with the next sequence number for its scope, records it
// as the last-known state and delivers it. The stamped snapshot is returned.
func (b *Broadcaster[T]) Publish(ctx context.Context, snap Snapshot[T]) Snapshot[T] {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return snap
	}
	b.seq[snap.Scope]++
	snap.Seq = b.seq[snap.Scope]
	b.last[snap.Scope] = snap
	targets := make([]*Subscription[T], 0, len(b.subs[snap.Scope]))
	for s := range b.subs[snap.Scope] {
		targets = append(targets, s)
	}
	sinks := append([]Sink[T](nil), b.sinks...)
	b.mu.Unlock()

	for _, s := range targets {
		s.deliver(snap)
	}
	for _, sink := range sinks {
		sink.Publish(ctx, snap)
	}
	return snap
}

// MarkStale republishes the last-known snapshot for scope flagged as stale.
// It reports false when nothing has been published for the scope yet.
func (b *Broadcaster[T]) MarkStale(ctx context.Context, scope string, at time.Time) (Snapshot[T], bool) {
	last, ok := b.Last(scope)
	if !ok {
		return Snapshot[T]{}, false
	}
	last.Stale = true
	last.TakenAt = at
	return b.Publish(ctx, last), true
}

// Last returns the last snapshot published for scope.
func (b *Broadcaster[T]) Last(scope string) (Snapshot[T], bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.last[scope]
	return s, ok
}

// Subscribe opens a stream for scope. If a snapshot was already published for
// the scope it is delivered immediately.
func (b *Broadcaster[T]) Subscribe(scope string) *Subscription[T] {
	sub := &Subscription[T]{
		scope: scope,
		ch:    make(chan Snapshot[T], 1),
		b:     b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.once.Do(sub.shut)
		return sub
	}
	if b.subs[scope] == nil {
		b.subs[scope] = make(map[*Subscription[T]]struct{})
	}
	b.subs[scope][sub] = struct{}{}
	last, ok := b.last[scope]
	b.mu.Unlock()

	if ok {
		sub.deliver(last)
	}
	return sub
}

// SubscriberCount returns the number of open subscriptions for scope.
func (b *Broadcaster[T]) SubscriberCount(scope string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[scope])
}

// Close ends every subscription. Later publishes are dropped.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription[T]
	for _, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	b.subs = make(map[string]map[*Subscription[T]]struct{})
	b.mu.Unlock()

	for _, s := range all {
		s.once.Do(s.shut)
	}
}

func (b *Broadcaster[T]) remove(s *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[s.scope]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.scope)
		}
	}
}

// Subscription is one subscriber's stream of snapshots.
type Subscription[T any] struct {
	scope string
	ch    chan Snapshot[T]
	b     *Broadcaster[T]

	once    sync.Once
	mu      sync.Mutex
	done    bool
	lastSeq uint64
}

// C returns the delivery channel. It is closed after Unsubscribe.
func (s *Subscription[T]) C() <-chan Snapshot[T] { return s.ch }

// Scope returns the scope the subscription listens to.
func (s *Subscription[T]) Scope() string { return s.scope }

// Unsubscribe ends the subscription. Safe to call repeatedly.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		s.b.remove(s)
		s.shut()
	})
}

func (s *Subscription[T]) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	close(s.ch)
}

func (s *Subscription[T]) deliver(snap Snapshot[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || snap.Seq <= s.lastSeq {
		return
	}
	s.lastSeq = snap.Seq
	select {
	case s.ch <- snap:
		return
	default:
	}
	// Replace the undelivered snapshot with the newer one.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}
