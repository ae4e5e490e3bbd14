package tasks

import (
	"context"
	"fmt"
	"log/slog"
)

const blockListTarget = "block_list"

type SyncBlockListTask struct {
	Task
	blocks BlockList
}

func NewSyncBlockListTask(blocks BlockList) *SyncBlockListTask {
	return &SyncBlockListTask{
		Task:   NewTask(TaskTypeSyncBlockList, blockListTarget),
		blocks: blocks,
	}
}

func (t *SyncBlockListTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := t.blocks.Sync(ctx); err != nil {
		return fmt.Errorf("failed to sync block list: %w", err)
	}

	slog.Info("Task completed",
		"type", "SyncBlockList",
		"duration", t.GetDuration(),
		"blocked", t.blocks.Len())

	return nil
}

type PruneBlockListTask struct {
	Task
	blocks BlockList
}

func NewPruneBlockListTask(blocks BlockList) *PruneBlockListTask {
	return &PruneBlockListTask{
		Task:   NewTask(TaskTypePruneBlockList, blockListTarget),
		blocks: blocks,
	}
}

func (t *PruneBlockListTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := t.blocks.Prune(ctx); err != nil {
		return fmt.Errorf("failed to prune block list: %w", err)
	}

	slog.Info("Task completed",
		"type", "PruneBlockList",
		"duration", t.GetDuration(),
		"blocked", t.blocks.Len())

	return nil
}
