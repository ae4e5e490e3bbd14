package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CursorRepository stores the last refresh position of each feed.
type CursorRepository struct {
	db *DB
}

func NewCursorRepository(db *DB) *CursorRepository {
	return &CursorRepository{db: db}
}

func (r *CursorRepository) SaveCursor(ctx context.Context, feedName, pagingToken string, items int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO feed_cursors (feed_name, paging_token, items, refreshed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(feed_name) DO UPDATE SET
			paging_token = excluded.paging_token,
			items = excluded.items,
			refreshed_at = excluded.refreshed_at
	`, feedName, pagingToken, items, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save feed cursor: %w", err)
	}
	return nil
}

func (r *CursorRepository) GetCursor(ctx context.Context, feedName string) (*FeedCursor, error) {
	var cursor FeedCursor
	err := r.db.QueryRowContext(ctx, `
		SELECT feed_name, paging_token, items, refreshed_at
		FROM feed_cursors
		WHERE feed_name = ?
	`, feedName).Scan(&cursor.FeedName, &cursor.PagingToken, &cursor.Items, &cursor.RefreshedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed cursor %s: %w", feedName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed cursor: %w", err)
	}
	return &cursor, nil
}
