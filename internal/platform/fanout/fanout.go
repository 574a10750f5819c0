// Package fanout tells other server instances that a collection scope has
// changed so they can re-read it and push fresh snapshots to their own
// subscribers. Messages carry no record data, only what to refresh.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Collections announced over the channel.
const (
	CollectionJobs       = "jobs"
	CollectionEscalation = "escalation"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "wardops:changes"

// Change names a collection scope that was committed to.
type Change struct {
	Collection string `json:"collection"`
	Scope      string `json:"scope"`
	Origin     string `json:"origin,omitempty"`
}

// Notifier announces committed changes.
type Notifier interface {
	Notify(ctx context.Context, c Change) error
}

// Noop discards every change. Used for single-instance deployments.
type Noop struct{}

func (Noop) Notify(context.Context, Change) error { return nil }

// Handler reacts to a change published by another instance.
type Handler func(ctx context.Context, c Change)

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Redis publishes and receives changes over a Redis pub/sub channel. Each
// instance tags its messages with a random origin and ignores its own.
type Redis struct {
	client  *redis.Client
	channel string
	origin  string
	logger  zerolog.Logger
}

// NewRedis returns a Redis notifier on channel.
func NewRedis(client *redis.Client, channel string, logger zerolog.Logger) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	origin := uuid.NewString()
	return &Redis{
		client:  client,
		channel: channel,
		origin:  origin,
		logger:  logger.With().Str("component", "fanout").Str("origin", origin).Logger(),
	}
}

// Origin returns this instance's origin tag.
func (r *Redis) Origin() string { return r.origin }

func (r *Redis) Notify(ctx context.Context, c Change) error {
	c.Origin = r.origin
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Listener is an open subscription to the change channel.
type Listener struct {
	r   *Redis
	sub *redis.PubSub
}

// Subscribe opens the channel subscription. It returns once Redis has
// confirmed it, so changes published afterwards are not missed.
func (r *Redis) Subscribe(ctx context.Context) (*Listener, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	return &Listener{r: r, sub: sub}, nil
}

// Run dispatches changes from other instances to the handler registered for
// their collection until ctx is cancelled or the subscription closes.
func (l *Listener) Run(ctx context.Context, handlers map[string]Handler) error {
	defer l.sub.Close()
	msgs := l.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				l.r.logger.Warn().Err(err).Msg("discarding malformed change")
				continue
			}
			if c.Origin == l.r.origin {
				continue
			}
			h, ok := handlers[c.Collection]
			if !ok {
				l.r.logger.Debug().Str("collection", c.Collection).Msg("no handler for collection")
				continue
			}
			h(ctx, c)
		}
	}
}

// Close ends the subscription.
func (l *Listener) Close() error { return l.sub.Close() }
