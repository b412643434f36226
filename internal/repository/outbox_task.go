package repository

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusCreated    TaskStatus = "CREATED"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusDone       TaskStatus = "DONE"
)

// OutboxTask is one order event waiting to be published. It is written in
// the same transaction as the order change it describes.
type OutboxTask struct {
	ID          uuid.UUID       `db:"id"`
	Status      TaskStatus      `db:"status"`
	Key         string          `db:"key"`
	Payload     json.RawMessage `db:"payload"`
	Topic       string          `db:"topic"`
	Attempts    int             `db:"attempts"`
	LastError   *string         `db:"last_error"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
	CompletedAt *time.Time      `db:"completed_at"`
}

// MessageKey is the partition key. Order events are keyed by order id so that
// one order's events stay in order; tasks without a key fall back to their id.
func (t *OutboxTask) MessageKey() []byte {
	if t.Key == "" {
		return []byte(t.ID.String())
	}
	return []byte(t.Key)
}

// Exhausted reports whether the attempt about to be made is the last one.
func (t *OutboxTask) Exhausted(maxAttempts int) bool {
	return t.Attempts+1 >= maxAttempts
}
