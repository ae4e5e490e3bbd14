package api

import (
	"context"

	"github.com/lysyi3m/scrollfeed/app/entities"
	"github.com/lysyi3m/scrollfeed/app/feeds"
	"github.com/lysyi3m/scrollfeed/app/tasks"
)

type GeneratorInterface interface {
	Run(channel feeds.Channel, items []entities.Entity) (string, error)
}

var _ GeneratorInterface = (*feeds.Generator)(nil)

// FeedLookup finds live aggregators by feed name.
type FeedLookup interface {
	Get(name string) (*feeds.Aggregator, bool)
	Names() []string
}

// BlockList is the block filter as the API drives it.
type BlockList interface {
	CurrentBlocked(ctx context.Context) ([]string, error)
	Replace(ctx context.Context, guids []string) error
	Block(ctx context.Context, guid string) error
	Unblock(ctx context.Context, guid string) error
	Len() int
}

// FeaturedSource hands out featured entities one at a time.
type FeaturedSource interface {
	Next(ctx context.Context) (entities.Entity, bool)
}

type Handler struct {
	feeds     FeedLookup
	blocks    BlockList
	featured  FeaturedSource
	scheduler tasks.TaskSchedulerInterface
	cursors   tasks.CursorStore
	generator GeneratorInterface
	baseURL   string
	version   string
}

type blockedRequest struct {
	Guids []string `json:"guids" binding:"required"`
}
