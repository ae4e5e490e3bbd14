package database

import (
	"context"
	"fmt"
)

// BlockListRepository persists the blocked author guids in insertion order.
type BlockListRepository struct {
	db *DB
}

func NewBlockListRepository(db *DB) *BlockListRepository {
	return &BlockListRepository{db: db}
}

func (r *BlockListRepository) ListBlocked(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT guid FROM blocked_authors ORDER BY position, guid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked authors: %w", err)
	}
	defer rows.Close()

	guids := []string{}
	for rows.Next() {
		var guid string
		if err := rows.Scan(&guid); err != nil {
			return nil, fmt.Errorf("failed to scan blocked author row: %w", err)
		}
		guids = append(guids, guid)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blocked author rows: %w", err)
	}

	return guids, nil
}

// ReplaceBlocked rewrites the whole table in one transaction.
func (r *BlockListRepository) ReplaceBlocked(ctx context.Context, guids []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM blocked_authors`); err != nil {
		return fmt.Errorf("failed to clear blocked authors: %w", err)
	}

	for i, guid := range guids {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO blocked_authors (guid, position) VALUES (?, ?)
			ON CONFLICT(guid) DO NOTHING
		`, guid, i)
		if err != nil {
			return fmt.Errorf("failed to insert blocked author %s: %w", guid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit blocked authors: %w", err)
	}
	return nil
}

// AddBlocked appends guid. Adding an existing guid is a no-op.
func (r *BlockListRepository) AddBlocked(ctx context.Context, guid string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blocked_authors (guid, position)
		VALUES (?, (SELECT COALESCE(MAX(position), -1) + 1 FROM blocked_authors))
		ON CONFLICT(guid) DO NOTHING
	`, guid)
	if err != nil {
		return fmt.Errorf("failed to add blocked author: %w", err)
	}
	return nil
}

func (r *BlockListRepository) RemoveBlocked(ctx context.Context, guid string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM blocked_authors WHERE guid = ?`, guid)
	if err != nil {
		return fmt.Errorf("failed to remove blocked author: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("blocked author %s: %w", guid, ErrNotFound)
	}
	return nil
}

func (r *BlockListRepository) CountBlocked(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocked_authors`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count blocked authors: %w", err)
	}
	return count, nil
}
