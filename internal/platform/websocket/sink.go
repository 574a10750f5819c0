package websocket

import (
	"context"
	"encoding/json"

	"github.com/wardops/wardops/internal/platform/snapshot"
)

// SnapshotSink forwards every snapshot a broadcaster publishes to the hub
// topic of its scope.
type SnapshotSink[T any] struct {
	hub        *Hub
	collection string
	bc         *snapshot.Broadcaster[T]
}

// Bind attaches a sink for collection to bc and registers it as the hub's
// replayer for that collection.
func Bind[T any](hub *Hub, collection string, bc *snapshot.Broadcaster[T]) *SnapshotSink[T] {
	s := &SnapshotSink[T]{hub: hub, collection: collection, bc: bc}
	bc.AddSink(s)
	hub.AddReplayer(collection, s)
	return s
}

// Publish implements snapshot.Sink.
func (s *SnapshotSink[T]) Publish(_ context.Context, snap snapshot.Snapshot[T]) {
	ev, err := s.event(snap)
	if err != nil {
		s.hub.logger.Error().Err(err).Str("collection", s.collection).Msg("failed to encode snapshot")
		return
	}
	s.hub.Broadcast(ev.Topic, ev)
}

// Replay implements Replayer.
func (s *SnapshotSink[T]) Replay(scope string) (Event, bool) {
	snap, ok := s.bc.Last(scope)
	if !ok {
		return Event{}, false
	}
	ev, err := s.event(snap)
	if err != nil {
		return Event{}, false
	}
	return ev, true
}

func (s *SnapshotSink[T]) event(snap snapshot.Snapshot[T]) (Event, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:      EventSnapshot,
		Topic:     Topic(s.collection, snap.Scope),
		Timestamp: snap.TakenAt,
		Data:      data,
	}, nil
}
