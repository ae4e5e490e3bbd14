package tasks

import (
	"context"

	"github.com/lysyi3m/scrollfeed/app/feeds"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the main application and the API to run background work.
//
//	scheduler := NewScheduler(filter, cursorRepo, jobs, settings)
//	if err := scheduler.Start(); err != nil { ... }
//	defer scheduler.Stop()
//	scheduler.EnqueueTask(NewRefreshFeedTask(feed, cursorRepo))
type TaskSchedulerInterface interface {
	Start() error
	Stop()
	EnqueueTask(task TaskInterface) error
}

// BlockList is the part of the block filter the block-list tasks drive.
type BlockList interface {
	Sync(ctx context.Context) error
	Prune(ctx context.Context) error
	Len() int
}

// Refreshable is a feed that can be rewound and reloaded.
type Refreshable interface {
	Name() string
	Clear()
	Fetch(ctx context.Context) error
	Snapshot() feeds.State
}

// CursorStore records where a feed refresh stopped.
type CursorStore interface {
	SaveCursor(ctx context.Context, feedName, pagingToken string, items int) error
}
