package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/storage"
)

type PublisherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int

	// ProcessingLease is how long a claimed task may stay PROCESSING before
	// another poll treats its publisher as dead and claims it again.
	ProcessingLease time.Duration

	// Published tasks older than Retention are purged every CleanupInterval.
	// A negative Retention keeps them forever.
	Retention       time.Duration
	CleanupInterval time.Duration
}

const cleanupBatch = 500

// Publisher relays outbox tasks to the producer. Tasks are claimed in a short
// transaction (marked PROCESSING) and sent outside of it, so a slow broker
// never holds row locks.
type Publisher struct {
	db             db.DB
	repo           storage.OutboxTaskRepository
	producer       Producer
	config         PublisherConfig
	logger         *zap.Logger
	wg             sync.WaitGroup
	shutdownSignal chan struct{}
	stopOnce       sync.Once
	timeNow        func() time.Time
}

func NewPublisher(db db.DB, repo storage.OutboxTaskRepository, producer Producer, config PublisherConfig, logger *zap.Logger) *Publisher {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.ProcessingLease <= 0 {
		config.ProcessingLease = time.Minute
	}
	if config.Retention == 0 {
		config.Retention = 7 * 24 * time.Hour
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}
	return &Publisher{
		db:             db,
		repo:           repo,
		producer:       producer,
		config:         config,
		logger:         logger,
		shutdownSignal: make(chan struct{}),
		timeNow:        time.Now,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("Starting Outbox Publisher...")
	p.wg.Add(1)
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(p.config.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.processBatch(ctx); err != nil {
				p.logger.Error("Outbox Publisher failed to process batch", zap.Error(err))
			}
		case <-cleanup.C:
			if err := p.purgePublished(ctx); err != nil {
				p.logger.Error("Outbox Publisher failed to purge published tasks", zap.Error(err))
			}
		case <-p.shutdownSignal:
			p.logger.Info("Outbox Publisher received shutdown signal, stopping...")
			return
		case <-ctx.Done():
			p.logger.Info("Outbox Publisher context cancelled, stopping...")
			return
		}
	}
}

// Shutdown stops Run, waits for the in-flight batch and closes the producer.
func (p *Publisher) Shutdown() {
	p.stopOnce.Do(func() {
		p.logger.Info("Initiating Outbox Publisher shutdown...")
		close(p.shutdownSignal)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			p.logger.Info("Outbox Publisher shutdown complete.")
		case <-shutdownCtx.Done():
			p.logger.Warn("Outbox Publisher shutdown timed out.")
		}

		if err := p.producer.Close(); err != nil {
			p.logger.Error("Failed to close producer", zap.Error(err))
		}
	})
}

func (p *Publisher) processBatch(ctx context.Context) error {
	tasks, err := p.claimTasks(ctx)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	p.logger.Debug("Outbox Publisher fetched tasks", zap.Int("count", len(tasks)))

	for i, task := range tasks {
		select {
		case <-p.shutdownSignal:
			p.logger.Warn("Shutdown signal received during batch processing", zap.Stringer("task_id", task.ID))
			p.releaseTasks(ctx, tasks[i:])
			return errors.New("publisher shutdown during batch processing")
		case <-ctx.Done():
			p.logger.Warn("Context cancelled during batch processing", zap.Stringer("task_id", task.ID))
			p.releaseTasks(ctx, tasks[i:])
			return ctx.Err()
		default:
		}

		if err := p.processSingleTask(ctx, task); err != nil {
			p.logger.Error("Failed to process task", zap.Stringer("task_id", task.ID), zap.Error(err))
		}
	}

	return nil
}

// releaseTasks hands claimed but unsent tasks back to the queue. Their
// attempt count is left as it was because no send was tried.
func (p *Publisher) releaseTasks(ctx context.Context, tasks []*repository.OutboxTask) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	for _, task := range tasks {
		err := p.repo.UpdateTaskStatus(releaseCtx, p.db, task.ID, repository.TaskStatusCreated, task.Attempts, task.LastError, nil)
		if err != nil {
			p.logger.Error("Failed to release task, it will be reclaimed after the lease",
				zap.Stringer("task_id", task.ID), zap.Error(err))
		}
	}
}

func (p *Publisher) claimTasks(ctx context.Context) ([]*repository.OutboxTask, error) {
	tx, err := p.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction for fetching tasks: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.Background())
		}
	}()

	staleBefore := p.timeNow().UTC().Add(-p.config.ProcessingLease)
	tasks, err := p.repo.GetProcessableTasksTx(ctx, tx, p.config.BatchSize, p.config.MaxAttempts, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to get processable tasks: %w", err)
	}

	for _, task := range tasks {
		err := p.repo.UpdateTaskStatusTx(ctx, tx, task.ID, repository.TaskStatusProcessing, task.Attempts, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to mark task %s as PROCESSING: %w", task.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction after marking tasks as PROCESSING: %w", err)
	}
	committed = true
	return tasks, nil
}

func (p *Publisher) processSingleTask(ctx context.Context, task *repository.OutboxTask) error {
	logger := p.logger.With(zap.Stringer("task_id", task.ID), zap.Int("attempt", task.Attempts+1))

	err := p.producer.SendMessage(ctx, task.Topic, task.MessageKey(), task.Payload)
	if err != nil {
		metrics.OutboxTasksTotal.WithLabelValues("failed").Inc()
		newAttempts := task.Attempts + 1
		errMsg := err.Error()

		if task.Exhausted(p.config.MaxAttempts) {
			logger.Error("Task reached max attempts, giving up", zap.Int("max_attempts", p.config.MaxAttempts), zap.Error(err))
		} else {
			logger.Warn("Failed to send task, will retry", zap.Error(err))
		}

		updateErr := p.repo.UpdateTaskStatus(ctx, p.db, task.ID, repository.TaskStatusFailed, newAttempts, &errMsg, nil)
		if updateErr != nil {
			return fmt.Errorf("failed to update task status after send failure: %w (send error: %v)", updateErr, err)
		}
		return err
	}

	metrics.OutboxTasksTotal.WithLabelValues("sent").Inc()
	now := p.timeNow().UTC()
	updateErr := p.repo.UpdateTaskStatus(ctx, p.db, task.ID, repository.TaskStatusDone, task.Attempts+1, nil, &now)
	if updateErr != nil {
		return fmt.Errorf("failed to update task status after successful send: %w", updateErr)
	}
	logger.Debug("Task processed successfully")
	return nil
}

// purgePublished deletes DONE tasks past the retention window in batches.
func (p *Publisher) purgePublished(ctx context.Context) error {
	if p.config.Retention < 0 {
		return nil
	}
	before := p.timeNow().UTC().Add(-p.config.Retention)

	var total int64
	for {
		deleted, err := p.repo.DeleteDoneBefore(ctx, p.db, before, cleanupBatch)
		if err != nil {
			return err
		}
		total += deleted
		if deleted < cleanupBatch || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		p.logger.Info("Purged published outbox tasks", zap.Int64("deleted", total), zap.Time("before", before))
	}
	return nil
}
