package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

const (
	queueSize   = 300
	taskTimeout = 5 * time.Minute
	maxBackoff  = 30 * time.Second
)

// Settings controls the worker pool and the periodic jobs.
type Settings struct {
	WorkerCount   int
	SyncSchedule  string
	PruneSchedule string
	Location      *time.Location
}

// FeedJob is a feed refreshed on startup and, when Schedule is set, on a cron
// schedule.
type FeedJob struct {
	Feed     Refreshable
	Schedule string
	Timeout  time.Duration
}

func (j FeedJob) task(cursors CursorStore) *RefreshFeedTask {
	return NewRefreshFeedTask(j.Feed, cursors).WithTimeout(j.Timeout)
}

type Scheduler struct {
	blocks    BlockList
	cursors   CursorStore
	feeds     []FeedJob
	settings  Settings
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	taskQueue chan TaskInterface
}

func NewScheduler(blocks BlockList, cursors CursorStore, feeds []FeedJob, settings Settings) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if settings.WorkerCount <= 0 {
		settings.WorkerCount = 1
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}

	return &Scheduler{
		blocks:    blocks,
		cursors:   cursors,
		feeds:     feeds,
		settings:  settings,
		cron:      cron.New(cron.WithLocation(settings.Location)),
		ctx:       ctx,
		cancel:    cancel,
		taskQueue: make(chan TaskInterface, queueSize),
	}
}

func (s *Scheduler) Start() error {
	if err := s.registerJobs(); err != nil {
		return err
	}

	for i := 0; i < s.settings.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.enqueueStartupTasks()
	s.cron.Start()

	slog.Info("Scheduler started",
		"workers", s.settings.WorkerCount,
		"jobs", len(s.cron.Entries()))

	return nil
}

// Stop waits for running cron jobs and workers. Queued tasks are dropped.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
	s.wg.Wait()
	slog.Info("Scheduler stopped")
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	select {
	case s.taskQueue <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) registerJobs() error {
	if s.blocks != nil && s.settings.SyncSchedule != "" {
		if _, err := s.cron.AddFunc(s.settings.SyncSchedule, func() {
			s.enqueue(NewSyncBlockListTask(s.blocks))
		}); err != nil {
			return fmt.Errorf("failed to schedule block list sync: %w", err)
		}
	}

	if s.blocks != nil && s.settings.PruneSchedule != "" {
		if _, err := s.cron.AddFunc(s.settings.PruneSchedule, func() {
			s.enqueue(NewPruneBlockListTask(s.blocks))
		}); err != nil {
			return fmt.Errorf("failed to schedule block list prune: %w", err)
		}
	}

	for _, job := range s.feeds {
		if job.Schedule == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.Schedule, func() {
			s.enqueue(job.task(s.cursors))
		}); err != nil {
			return fmt.Errorf("failed to schedule refresh for feed %s: %w", job.Feed.Name(), err)
		}
	}

	return nil
}

func (s *Scheduler) enqueueStartupTasks() {
	if s.blocks != nil {
		s.enqueue(NewSyncBlockListTask(s.blocks))
	}

	slog.Debug("Enqueueing initial feed refreshes", "count", len(s.feeds))

	for _, job := range s.feeds {
		s.enqueue(job.task(s.cursors))
	}
}

func (s *Scheduler) enqueue(task TaskInterface) {
	if err := s.EnqueueTask(task); err != nil {
		slog.Warn("Failed to enqueue task", "type", string(task.GetType()), "target", task.GetTarget(), "error", err)
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, taskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "target", task.GetTarget(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() {
		if task.GetMaxRetries() > 0 {
			slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
		return
	}

	task.IncrementRetryCount()
	retryDelay := retryDelay(task.GetRetryCount())

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "target", task.GetTarget(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(retryDelay)
		defer timer.Stop()

		select {
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
		case <-timer.C:
			if retryErr := s.EnqueueTask(task); retryErr != nil {
				slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
			}
		}
	}()
}

// retryDelay doubles from one second per attempt, capped at maxBackoff.
func retryDelay(attempt int) time.Duration {
	delay := time.Duration(1<<uint(attempt-1)) * time.Second
	return min(delay, maxBackoff)
}
