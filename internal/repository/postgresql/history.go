package postgresql

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/storage"
)

// HistoryRepo stores one row per status an order enters. Rows outlive the
// order, so the history of a deleted order can still be read.
type HistoryRepo struct {
	db db.DB
}

func NewHistoryRepo(db db.DB) storage.HistoryRepository {
	return &HistoryRepo{db: db}
}

func (r *HistoryRepo) CreateTx(ctx context.Context, tx db.Tx, entry *repository.HistoryEntry) error {
	err := tx.Get(ctx, &entry.ID, `
        INSERT INTO order_history (order_id, status, changed_at)
        VALUES ($1, $2, $3)
        RETURNING id
    `, entry.OrderID, entry.Status, entry.ChangedAt)
	if err != nil {
		return fmt.Errorf("failed to insert history for order %d: %w", entry.OrderID, err)
	}
	return nil
}

func BuildHistoryQuery(orderID int64) (string, []interface{}, error) {
	return dialect.From("order_history").
		Select("id", "order_id", "status", "changed_at").
		Where(goqu.C("order_id").Eq(orderID)).
		Order(goqu.C("changed_at").Asc(), goqu.C("id").Asc()).
		Prepared(true).
		ToSQL()
}

func (r *HistoryRepo) GetByOrderID(ctx context.Context, orderID int64) ([]*repository.HistoryEntry, error) {
	query, args, err := BuildHistoryQuery(orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to build history query: %w", err)
	}

	var entries []*repository.HistoryEntry
	if err := r.db.Select(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get history for order %d: %w", orderID, err)
	}
	return entries, nil
}
