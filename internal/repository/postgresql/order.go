package postgresql

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/storage"
)

const (
	orderColumns = "id, book_id, user_id, quantity, status, order_date, return_date, version, created_at, updated_at"

	activeStatuses = "('Pending', 'Approved')"
)

type OrderRepo struct {
	db db.DB
}

func NewOrderRepo(db db.DB) storage.OrderRepository {
	return &OrderRepo{db: db}
}

func (r *OrderRepo) CreateTx(ctx context.Context, tx db.Tx, order *repository.Order) error {
	order.Version = 1
	return tx.Get(ctx, &order.ID, `
        INSERT INTO orders (
            book_id, user_id, quantity, status, order_date, return_date, version, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id
    `, order.BookID, order.UserID, order.Quantity, order.Status, order.OrderDate, order.ReturnDate, order.Version, order.CreatedAt, order.UpdatedAt)
}

func (r *OrderRepo) GetByID(ctx context.Context, id int64) (*repository.Order, error) {
	return getOrder(ctx, r.db, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

// GetByIDTx reads the order and locks its row until the transaction ends.
func (r *OrderRepo) GetByIDTx(ctx context.Context, tx db.Tx, id int64) (*repository.Order, error) {
	return getOrder(ctx, tx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
}

func getOrder(ctx context.Context, exec executor, query string, id int64) (*repository.Order, error) {
	var order repository.Order
	err := exec.Get(ctx, &order, query, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &order, nil
}

// UpdateTx writes the order only if its version is still the one the caller
// read and bumps order.Version on success.
func (r *OrderRepo) UpdateTx(ctx context.Context, tx db.Tx, order *repository.Order) error {
	var version int64
	err := tx.Get(ctx, &version, `
        UPDATE orders
        SET
            quantity = $1,
            status = $2,
            order_date = $3,
            return_date = $4,
            updated_at = $5,
            version = version + 1
        WHERE id = $6 AND version = $7
        RETURNING version
    `, order.Quantity, order.Status, order.OrderDate, order.ReturnDate, order.UpdatedAt, order.ID, order.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrOptimisticLock
		}
		return err
	}
	order.Version = version
	return nil
}

func (r *OrderRepo) DeleteTx(ctx context.Context, tx db.Tx, id int64) error {
	tag, err := tx.Exec(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

func (r *OrderRepo) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.Get(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", id)
	return exists, err
}

func (r *OrderRepo) CountActiveByUserTx(ctx context.Context, tx db.Tx, userID int64) (int, error) {
	var count int
	err := tx.Get(ctx, &count, "SELECT COUNT(*) FROM orders WHERE user_id = $1 AND status IN "+activeStatuses, userID)
	return count, err
}

func (r *OrderRepo) CountActiveByBookTx(ctx context.Context, tx db.Tx, bookID int64) (int, error) {
	var count int
	err := tx.Get(ctx, &count, "SELECT COUNT(*) FROM orders WHERE book_id = $1 AND status IN "+activeStatuses, bookID)
	return count, err
}

func (r *OrderRepo) GetByUserID(ctx context.Context, userID int64) ([]*repository.Order, error) {
	var orders []*repository.Order
	err := r.db.Select(ctx, &orders, "SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY order_date DESC, id DESC", userID)
	return orders, err
}

// GetAll lists every order, newest first; a non-empty status narrows the list.
func (r *OrderRepo) GetAll(ctx context.Context, status string) ([]*repository.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders"
	var args []interface{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY order_date DESC, id DESC"

	var orders []*repository.Order
	err := r.db.Select(ctx, &orders, query, args...)
	return orders, err
}

func (r *OrderRepo) GetAllActiveOrders(ctx context.Context) ([]*repository.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE status IN " + activeStatuses + " ORDER BY created_at ASC"
	var orders []*repository.Order
	err := r.db.Select(ctx, &orders, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get all active orders: %w", err)
	}
	return orders, nil
}
