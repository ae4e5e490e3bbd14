// Package featured serves featured entities one at a time, cycling through the
// resolved window of a feed and refetching it after each full pass.
package featured

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/lysyi3m/scrollfeed/app/entities"
	"github.com/lysyi3m/scrollfeed/app/feeds"
)

const (
	DefaultEndpoint = "api/v2/boost/feed"
	DefaultLimit    = 12
)

type Option func(*Cycler)

func WithEndpoint(endpoint string) Option {
	return func(c *Cycler) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

func WithLimit(limit int) Option {
	return func(c *Cycler) {
		if limit > 0 {
			c.limit = limit
		}
	}
}

type Cycler struct {
	feed     *feeds.Aggregator
	endpoint string
	limit    int

	mu            sync.Mutex
	offset        int
	maximumOffset atomic.Int64
	cancel        func()
}

func NewCycler(feed *feeds.Aggregator, opts ...Option) *Cycler {
	c := &Cycler{
		feed:     feed,
		endpoint: DefaultEndpoint,
		limit:    DefaultLimit,
		offset:   -1,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.cancel = feed.ResolvedFeed().Subscribe(func(resolved []*entities.CachedEntity) {
		c.maximumOffset.Store(int64(len(resolved) - 1))
	})
	return c
}

// Start configures the underlying feed and loads its first page.
func (c *Cycler) Start(ctx context.Context) error {
	c.feed.SetLimit(c.limit).SetOffset(0).SetEndpoint(c.endpoint)
	return c.feed.Fetch(ctx)
}

// Next returns the entity at the next cursor position. Passing the end of the
// window rewinds to the first position and refetches the feed unless a page
// request is already in flight. It reports false when there is nothing at the position.
func (c *Cycler) Next(ctx context.Context) (entities.Entity, bool) {
	c.mu.Lock()
	wrapped := int64(c.offset) >= c.maximumOffset.Load()
	c.offset++
	if wrapped {
		c.offset = 0
	}
	position := c.offset
	c.mu.Unlock()

	if wrapped {
		c.refetch(ctx)
	}

	resolved := c.feed.ResolvedFeed().Get()
	if position >= len(resolved) {
		return nil, false
	}

	entity, err := resolved[position].Get(ctx)
	if err != nil {
		slog.Debug("Featured entity unavailable", "urn", resolved[position].URN(), "error", err)
		return nil, false
	}
	return entity, true
}

// Offset returns the current cursor position.
func (c *Cycler) Offset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

func (c *Cycler) Close() {
	c.cancel()
}

func (c *Cycler) refetch(ctx context.Context) {
	if c.feed.Fetching() {
		return
	}

	c.feed.Clear()
	if err := c.feed.Fetch(ctx); err != nil {
		slog.Warn("Failed to refetch featured feed", "feed", c.feed.Name(), "error", err)
	}
}
