package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RefreshFeedTask rewinds a feed and loads its first page. Network calls are
// not retried.
type RefreshFeedTask struct {
	Task
	feed    Refreshable
	cursors CursorStore
	timeout time.Duration
}

func NewRefreshFeedTask(feed Refreshable, cursors CursorStore) *RefreshFeedTask {
	task := NewTask(TaskTypeRefreshFeed, feed.Name())
	task.MaxRetries = 0

	return &RefreshFeedTask{
		Task:    task,
		feed:    feed,
		cursors: cursors,
	}
}

// WithTimeout bounds the page fetch of a single run.
func (t *RefreshFeedTask) WithTimeout(d time.Duration) *RefreshFeedTask {
	t.timeout = d
	return t
}

func (t *RefreshFeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	t.feed.Clear()
	if err := t.feed.Fetch(ctx); err != nil {
		return fmt.Errorf("failed to refresh feed: %w", err)
	}

	state := t.feed.Snapshot()
	if t.cursors != nil {
		if err := t.cursors.SaveCursor(ctx, state.Name, state.PagingToken, state.Buffered); err != nil {
			slog.Warn("Failed to save feed cursor", "feed", state.Name, "error", err)
		}
	}

	slog.Info("Task completed",
		"type", "RefreshFeed",
		"feed", state.Name,
		"duration", t.GetDuration(),
		"buffered", state.Buffered,
		"resolved", state.Resolved)

	return nil
}
