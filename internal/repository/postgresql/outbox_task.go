package postgresql

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/storage"
)

type OutboxTaskRepo struct {
	now func() time.Time
}

func NewOutboxTaskRepo() storage.OutboxTaskRepository {
	return &OutboxTaskRepo{now: time.Now}
}

func (r *OutboxTaskRepo) CreateTx(ctx context.Context, tx db.Tx, task *repository.OutboxTask) error {
	query := `
        INSERT INTO outbox_tasks (id, status, key, payload, topic, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	now := r.now().UTC()
	task.Status = repository.TaskStatusCreated
	task.CreatedAt = now
	task.UpdatedAt = now
	_, err := tx.Exec(ctx, query,
		task.ID,
		task.Status,
		task.Key,
		task.Payload,
		task.Topic,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox task: %w", err)
	}
	return nil
}

// GetProcessableTasksTx locks up to limit new or retryable tasks. Rows locked by
// another publisher are skipped, so several instances can poll the same table.
// PROCESSING rows untouched since staleBefore belong to a publisher that died
// between claim and send and are picked up again.
func (r *OutboxTaskRepo) GetProcessableTasksTx(ctx context.Context, tx db.Tx, limit, maxAttempts int, staleBefore time.Time) ([]*repository.OutboxTask, error) {
	query := `
        SELECT id, status, key, payload, topic, attempts, last_error, created_at, updated_at, completed_at
        FROM outbox_tasks
        WHERE status = $1
           OR (status = $2 AND attempts < $3)
           OR (status = $4 AND updated_at < $5)
        ORDER BY updated_at ASC
        LIMIT $6
        FOR UPDATE SKIP LOCKED
    `

	var tasks []*repository.OutboxTask
	err := tx.Select(ctx, &tasks, query,
		repository.TaskStatusCreated,
		repository.TaskStatusFailed, maxAttempts,
		repository.TaskStatusProcessing, staleBefore,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get processable outbox tasks: %w", err)
	}
	return tasks, nil
}

func (r *OutboxTaskRepo) updateTaskStatus(ctx context.Context, exec executor, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error {
	query := `
        UPDATE outbox_tasks
        SET
            status = $2,
            attempts = $3,
            last_error = $4,
            completed_at = $5
            -- updated_at is handled by the trigger
        WHERE id = $1
    `

	cmdTag, err := exec.Exec(ctx, query, id, status, attempts, lastError, completedAt)
	if err != nil {
		return fmt.Errorf("failed to update outbox task status for id %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

func (r *OutboxTaskRepo) UpdateTaskStatusTx(ctx context.Context, tx db.Tx, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error {
	return r.updateTaskStatus(ctx, tx, id, status, attempts, lastError, completedAt)
}

func (r *OutboxTaskRepo) UpdateTaskStatus(ctx context.Context, conn db.DB, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error {
	return r.updateTaskStatus(ctx, conn, id, status, attempts, lastError, completedAt)
}

// DeleteDoneBefore removes up to limit published tasks completed before the
// given time and reports how many rows went away.
func (r *OutboxTaskRepo) DeleteDoneBefore(ctx context.Context, conn db.DB, before time.Time, limit int) (int64, error) {
	query := `
        DELETE FROM outbox_tasks
        WHERE id IN (
            SELECT id FROM outbox_tasks
            WHERE status = $1 AND completed_at < $2
            ORDER BY completed_at ASC
            LIMIT $3
        )
    `

	cmdTag, err := conn.Exec(ctx, query, repository.TaskStatusDone, before, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete published outbox tasks: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}
