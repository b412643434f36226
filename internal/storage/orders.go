package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/repository"
)

// OrderUpdate carries an edit of an existing order. A zero OrderDate keeps the
// stored one, a zero ReturnDate is recomputed from the loan period and a zero
// Version skips the staleness check.
type OrderUpdate struct {
	ID         int64     `json:"-"`
	Quantity   int       `json:"quantity"`
	OrderDate  time.Time `json:"order_date"`
	ReturnDate time.Time `json:"return_date"`
	Version    int64     `json:"version"`
}

func (s *LibraryStorage) CreateOrder(ctx context.Context, bookID int64, quantity int, userID int64) (*Order, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidArgument)
	}
	if err := requireSelf(ctx, userID); err != nil {
		return nil, err
	}

	var created *repository.Order
	err := s.inTx(ctx, func(tx db.Tx) error {
		now := s.now()

		book, err := s.books.GetByIDTx(ctx, tx, bookID)
		if err != nil {
			if errors.Is(err, repository.ErrObjectNotFound) {
				return fmt.Errorf("%w: book %d", ErrNotFound, bookID)
			}
			return fmt.Errorf("failed to get book: %w", err)
		}
		if quantity > book.Quantity {
			return fmt.Errorf("%w: requested %d, available %d", ErrInsufficientStock, quantity, book.Quantity)
		}

		if s.cfg.CartLimit > 0 {
			active, err := s.orders.CountActiveByUserTx(ctx, tx, userID)
			if err != nil {
				return fmt.Errorf("failed to count active orders: %w", err)
			}
			if active >= s.cfg.CartLimit {
				return fmt.Errorf("%w: at most %d active orders allowed", ErrCartLimitExceeded, s.cfg.CartLimit)
			}
		}

		book.Quantity -= quantity
		book.UpdatedAt = now
		if err := s.books.UpdateTx(ctx, tx, book); err != nil {
			return fmt.Errorf("failed to reserve stock: %w", err)
		}

		order := &repository.Order{
			BookID:     bookID,
			UserID:     userID,
			Quantity:   quantity,
			Status:     string(StatusPending),
			OrderDate:  now,
			ReturnDate: now.Add(s.cfg.LoanPeriod),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.orders.CreateTx(ctx, tx, order); err != nil {
			if repository.IsForeignKeyViolation(err) {
				return fmt.Errorf("%w: user %d", ErrNotFound, userID)
			}
			return fmt.Errorf("failed to add order: %w", err)
		}

		if err := s.recordTx(ctx, tx, order, EventOrderCreated, order.Status); err != nil {
			return err
		}
		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Set(created)
	metrics.OrdersCreatedTotal.Inc()
	return orderFromRepo(created), nil
}

func (s *LibraryStorage) UpdateOrder(ctx context.Context, upd OrderUpdate) (*Order, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if upd.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidArgument)
	}

	var updated *repository.Order
	err := s.inTx(ctx, func(tx db.Tx) error {
		now := s.now()

		order, err := s.lockOrder(ctx, tx, upd.ID)
		if err != nil {
			return err
		}
		if upd.Version != 0 && upd.Version != order.Version {
			return fmt.Errorf("%w: order %d is at version %d", ErrConflict, order.ID, order.Version)
		}
		if !OrderStatus(order.Status).HoldsReservation() {
			return fmt.Errorf("%w: order %d is %s", ErrInvalidTransition, order.ID, order.Status)
		}

		orderDate := order.OrderDate
		if !upd.OrderDate.IsZero() {
			orderDate = upd.OrderDate.UTC()
		}
		returnDate := upd.ReturnDate.UTC()
		if upd.ReturnDate.IsZero() {
			returnDate = orderDate.Add(s.cfg.LoanPeriod)
		}
		if returnDate.Before(orderDate) {
			return fmt.Errorf("%w: return date is before order date", ErrInvalidArgument)
		}

		if delta := upd.Quantity - order.Quantity; delta != 0 {
			if err := s.adjustStock(ctx, tx, order.BookID, -delta, now); err != nil {
				return err
			}
		}

		order.Quantity = upd.Quantity
		order.OrderDate = orderDate
		order.ReturnDate = returnDate
		order.UpdatedAt = now
		if err := s.orders.UpdateTx(ctx, tx, order); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}

		if err := s.recordTx(ctx, tx, order, EventOrderUpdated, order.Status); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Set(updated)
	metrics.OrderTransitionsTotal.WithLabelValues(string(EventOrderUpdated)).Inc()
	return orderFromRepo(updated), nil
}

// DeleteOrder removes an order. A Pending order gives its quantity back to the
// book first; an Approved order has to be returned before it can go. Owners
// may only delete their Pending orders, finished ones are admin-only.
func (s *LibraryStorage) DeleteOrder(ctx context.Context, orderID int64) error {
	err := s.inTx(ctx, func(tx db.Tx) error {
		now := s.now()

		order, err := s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := requireSelf(ctx, order.UserID); err != nil {
			return err
		}
		if OrderStatus(order.Status) != StatusPending {
			if err := requireAdmin(ctx); err != nil {
				return err
			}
		}

		switch OrderStatus(order.Status) {
		case StatusPending:
			if err := s.adjustStock(ctx, tx, order.BookID, order.Quantity, now); err != nil {
				return err
			}
		case StatusApproved:
			return fmt.Errorf("%w: order %d is Approved and must be returned before deletion", ErrInvalidTransition, order.ID)
		}

		if err := s.orders.DeleteTx(ctx, tx, order.ID); err != nil {
			return fmt.Errorf("failed to delete order: %w", err)
		}
		return s.recordTx(ctx, tx, order, EventOrderDeleted, statusDeleted)
	})
	if err != nil {
		return err
	}

	s.cache.Delete(orderID)
	metrics.OrderTransitionsTotal.WithLabelValues(string(EventOrderDeleted)).Inc()
	return nil
}

func (s *LibraryStorage) ApproveOrder(ctx context.Context, orderID int64) (*Order, error) {
	return s.transition(ctx, orderID, StatusApproved, false, EventOrderApproved)
}

func (s *LibraryStorage) DenyOrder(ctx context.Context, orderID int64) (*Order, error) {
	return s.transition(ctx, orderID, StatusDenied, true, EventOrderDenied)
}

func (s *LibraryStorage) ReturnOrder(ctx context.Context, orderID int64) (*Order, error) {
	return s.transition(ctx, orderID, StatusReturned, true, EventOrderReturned)
}

func (s *LibraryStorage) transition(ctx context.Context, orderID int64, to OrderStatus, restock bool, eventType EventType) (*Order, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	var updated *repository.Order
	err := s.inTx(ctx, func(tx db.Tx) error {
		now := s.now()

		order, err := s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		from := OrderStatus(order.Status)
		if !from.CanTransitionTo(to) {
			return fmt.Errorf("%w: order %d cannot move from %s to %s", ErrInvalidTransition, order.ID, from, to)
		}

		if restock {
			if err := s.adjustStock(ctx, tx, order.BookID, order.Quantity, now); err != nil {
				return err
			}
		}

		order.Status = string(to)
		order.UpdatedAt = now
		if err := s.orders.UpdateTx(ctx, tx, order); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}

		if err := s.recordTx(ctx, tx, order, eventType, order.Status); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Set(updated)
	metrics.OrderTransitionsTotal.WithLabelValues(string(eventType)).Inc()
	return orderFromRepo(updated), nil
}

func (s *LibraryStorage) lockOrder(ctx context.Context, tx db.Tx, orderID int64) (*repository.Order, error) {
	order, err := s.orders.GetByIDTx(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// adjustStock adds delta to the book's quantity. A negative delta reserves
// stock and fails with ErrInsufficientStock instead of going below zero.
func (s *LibraryStorage) adjustStock(ctx context.Context, tx db.Tx, bookID int64, delta int, now time.Time) error {
	book, err := s.books.GetByIDTx(ctx, tx, bookID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return fmt.Errorf("%w: book %d", ErrNotFound, bookID)
		}
		return fmt.Errorf("failed to get book: %w", err)
	}
	if book.Quantity+delta < 0 {
		return fmt.Errorf("%w: requested %d more, available %d", ErrInsufficientStock, -delta, book.Quantity)
	}

	book.Quantity += delta
	book.UpdatedAt = now
	if err := s.books.UpdateTx(ctx, tx, book); err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	return nil
}

func (s *LibraryStorage) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	order, found := s.cache.Get(orderID)
	if !found {
		var err error
		order, err = s.orders.GetByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, repository.ErrObjectNotFound) {
				return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
			}
			return nil, fmt.Errorf("failed to get order: %w", err)
		}
	}
	if err := requireSelf(ctx, order.UserID); err != nil {
		return nil, err
	}
	return orderFromRepo(order), nil
}

func (s *LibraryStorage) OrderExists(ctx context.Context, orderID int64) (bool, error) {
	exists, err := s.orders.Exists(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to check order: %w", err)
	}
	return exists, nil
}

// ListOrders returns every order, optionally only those in one status.
func (s *LibraryStorage) ListOrders(ctx context.Context, status OrderStatus) ([]Order, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, status)
	}

	repoOrders, err := s.orders.GetAll(ctx, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", err)
	}
	return ordersFromRepo(repoOrders), nil
}

// ListUserOrders returns the user's cart: all of their orders, newest first.
func (s *LibraryStorage) ListUserOrders(ctx context.Context, userID int64) ([]Order, error) {
	if err := requireSelf(ctx, userID); err != nil {
		return nil, err
	}

	repoOrders, err := s.orders.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	return ordersFromRepo(repoOrders), nil
}

// GetOrderHistory lists the states an order went through. History outlives
// deleted orders; only admins can read it then.
func (s *LibraryStorage) GetOrderHistory(ctx context.Context, orderID int64) ([]HistoryEntry, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	switch {
	case err == nil:
		if err := requireSelf(ctx, order.UserID); err != nil {
			return nil, err
		}
	case errors.Is(err, repository.ErrObjectNotFound):
		if caller, ok := auth.FromContext(ctx); ok && !caller.IsAdmin() {
			return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
		}
	default:
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	repoEntries, err := s.history.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}
	if len(repoEntries) == 0 {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}

	entries := make([]HistoryEntry, len(repoEntries))
	for i, repoEntry := range repoEntries {
		entries[i] = HistoryEntry{
			Status:    repoEntry.Status,
			ChangedAt: repoEntry.ChangedAt,
		}
	}
	return entries, nil
}
