package roster

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Cache remembers the last roster it read successfully so views can keep
// rendering during a roster outage.
type Cache struct {
	p      Provider
	logger zerolog.Logger

	mu     sync.RWMutex
	last   Index
	loaded bool
	at     time.Time
}

// NewCache wraps p.
func NewCache(p Provider, logger zerolog.Logger) *Cache {
	return &Cache{p: p, logger: logger.With().Str("component", "roster_cache").Logger()}
}

// Provider returns the wrapped provider.
func (c *Cache) Provider() Provider { return c.p }

// Index reads the roster. On failure it returns the last good index with
// stale set, or an unknown (zero) Index and the error when nothing was
// ever loaded.
func (c *Cache) Index(ctx context.Context) (idx Index, stale bool, err error) {
	patients, err := c.p.ListPatients(ctx)
	if err == nil {
		idx = NewIndex(patients)
		c.mu.Lock()
		c.last, c.loaded, c.at = idx, true, time.Now()
		c.mu.Unlock()
		return idx, false, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return Index{}, true, err
	}
	c.logger.Warn().Err(err).Time("cached_at", c.at).Msg("using cached roster")
	return c.last, true, nil
}
