package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/repository"
)

var eventJSON = jsoniter.ConfigCompatibleWithStandardLibrary

type EventType string

const (
	EventOrderCreated  EventType = "order.created"
	EventOrderUpdated  EventType = "order.updated"
	EventOrderApproved EventType = "order.approved"
	EventOrderDenied   EventType = "order.denied"
	EventOrderReturned EventType = "order.returned"
	EventOrderDeleted  EventType = "order.deleted"
)

// OrderEvent is the payload published to the orders topic.
type OrderEvent struct {
	Type       EventType `json:"type"`
	OrderID    int64     `json:"order_id"`
	BookID     int64     `json:"book_id"`
	UserID     int64     `json:"user_id"`
	Quantity   int       `json:"quantity"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

func EncodeOrderEvent(event OrderEvent) ([]byte, error) {
	return eventJSON.Marshal(event)
}

func DecodeOrderEvent(data []byte) (OrderEvent, error) {
	var event OrderEvent
	err := eventJSON.Unmarshal(data, &event)
	return event, err
}

// recordTx appends the history row and queues the order event inside tx.
func (s *LibraryStorage) recordTx(ctx context.Context, tx db.Tx, order *repository.Order, eventType EventType, status string) error {
	now := s.now()

	entry := &repository.HistoryEntry{
		OrderID:   order.ID,
		Status:    status,
		ChangedAt: now,
	}
	if err := s.history.CreateTx(ctx, tx, entry); err != nil {
		return fmt.Errorf("failed to add order history entry: %w", err)
	}

	payload, err := EncodeOrderEvent(OrderEvent{
		Type:       eventType,
		OrderID:    order.ID,
		BookID:     order.BookID,
		UserID:     order.UserID,
		Quantity:   order.Quantity,
		Status:     status,
		OccurredAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to encode order event: %w", err)
	}

	task := &repository.OutboxTask{
		Key:     strconv.FormatInt(order.ID, 10),
		Payload: payload,
		Topic:   s.cfg.OrdersTopic,
	}
	if err := s.outbox.CreateTx(ctx, tx, task); err != nil {
		return fmt.Errorf("failed to queue order event: %w", err)
	}
	return nil
}
