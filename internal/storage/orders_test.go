package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/cache"
)

var fixedTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestStorage(t *testing.T, cfg Config) (*LibraryStorage, *memStore) {
	t.Helper()
	mem := newMemStore()
	s := NewStorage(mem, mem.repos(), nil, cfg)
	s.timeNow = func() time.Time { return fixedTime }
	s.hashCost = bcrypt.MinCost
	return s, mem
}

func TestStorage_OrderLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("create approve return", func(t *testing.T) {
		s, mem := newTestStorage(t, Config{})
		bookID := mem.addBook("Dune", 5)

		order, err := s.CreateOrder(ctx, bookID, 3, 1)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, order.Status)
		assert.Equal(t, 2, mem.quantity(bookID))
		assert.Equal(t, fixedTime, order.OrderDate)
		assert.Equal(t, fixedTime.Add(21*24*time.Hour), order.ReturnDate)

		order, err = s.ApproveOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, order.Status)
		assert.Equal(t, 2, mem.quantity(bookID))

		order, err = s.ReturnOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusReturned, order.Status)
		assert.Equal(t, 5, mem.quantity(bookID))

		assert.Equal(t, []string{"Pending", "Approved", "Returned"}, mem.historyOf(order.ID))
		assert.Equal(t, 3, mem.outboxLen())
	})

	t.Run("insufficient stock leaves book untouched", func(t *testing.T) {
		s, mem := newTestStorage(t, Config{})
		bookID := mem.addBook("Dune", 2)

		_, err := s.CreateOrder(ctx, bookID, 3, 1)
		assert.ErrorIs(t, err, ErrInsufficientStock)
		assert.Equal(t, 2, mem.quantity(bookID))
		assert.Zero(t, mem.outboxLen())
	})

	t.Run("missing book", func(t *testing.T) {
		s, _ := newTestStorage(t, Config{})

		_, err := s.CreateOrder(ctx, 404, 1, 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("quantity must be positive", func(t *testing.T) {
		s, mem := newTestStorage(t, Config{})
		bookID := mem.addBook("Dune", 2)

		_, err := s.CreateOrder(ctx, bookID, 0, 1)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.Equal(t, 2, mem.quantity(bookID))
	})

	t.Run("deny restocks", func(t *testing.T) {
		s, mem := newTestStorage(t, Config{})
		bookID := mem.addBook("Dune", 5)

		order, err := s.CreateOrder(ctx, bookID, 4, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, mem.quantity(bookID))

		order, err = s.DenyOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusDenied, order.Status)
		assert.Equal(t, 5, mem.quantity(bookID))
	})
}

func TestStorage_InvalidTransitions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		prepare func(s *LibraryStorage, orderID int64)
		act     func(s *LibraryStorage, orderID int64) error
	}{
		{
			name: "return from pending",
			act: func(s *LibraryStorage, id int64) error {
				_, err := s.ReturnOrder(ctx, id)
				return err
			},
		},
		{
			name: "return from denied",
			prepare: func(s *LibraryStorage, id int64) {
				_, _ = s.DenyOrder(ctx, id)
			},
			act: func(s *LibraryStorage, id int64) error {
				_, err := s.ReturnOrder(ctx, id)
				return err
			},
		},
		{
			name: "approve twice",
			prepare: func(s *LibraryStorage, id int64) {
				_, _ = s.ApproveOrder(ctx, id)
			},
			act: func(s *LibraryStorage, id int64) error {
				_, err := s.ApproveOrder(ctx, id)
				return err
			},
		},
		{
			name: "deny approved",
			prepare: func(s *LibraryStorage, id int64) {
				_, _ = s.ApproveOrder(ctx, id)
			},
			act: func(s *LibraryStorage, id int64) error {
				_, err := s.DenyOrder(ctx, id)
				return err
			},
		},
		{
			name: "update returned",
			prepare: func(s *LibraryStorage, id int64) {
				_, _ = s.ApproveOrder(ctx, id)
				_, _ = s.ReturnOrder(ctx, id)
			},
			act: func(s *LibraryStorage, id int64) error {
				_, err := s.UpdateOrder(ctx, OrderUpdate{ID: id, Quantity: 1})
				return err
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, mem := newTestStorage(t, Config{})
			bookID := mem.addBook("Dune", 5)
			order, err := s.CreateOrder(ctx, bookID, 2, 1)
			require.NoError(t, err)
			if tc.prepare != nil {
				tc.prepare(s, order.ID)
			}

			before := mem.quantity(bookID)
			stored, _ := mem.order(order.ID)

			err = tc.act(s, order.ID)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, before, mem.quantity(bookID))

			after, _ := mem.order(order.ID)
			assert.Equal(t, stored, after)
		})
	}

	t.Run("unknown order", func(t *testing.T) {
		s, _ := newTestStorage(t, Config{})

		_, err := s.ApproveOrder(ctx, 99)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStorage_UpdateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("growing the order reserves the difference", func(t *testing.T) {
		s, mem := newTestStorage(t, Config{})
		bookID := mem.addBook("Dune", 5)
		order, err := s.CreateOrder(ctx, bookID, 2, 1)
		require.NoError(t, err)

		updated, err := s.UpdateOrder(ctx, OrderUpdate{ID: order.ID, Quantity: 4, Version: order.Version})
		require.NoError(t, err)
		assert.Equal(t, 4, updated.Quantity)
		assert.Equal(t, 1, mem.quantity(bookID))
		assert.Equal(t, order.OrderDate.Add(DefaultLoanPeriod), updated.ReturnDate)
	})

	t.Run("shrinking the order restocks", func(t *testing.T) {
		s, mem := newTestStorage(t, Config{})
		bookID := mem.addBook("Dune", 5)
		order, err := s.CreateOrder(ctx, bookID, 4, 1)
		require.NoError(t, err)

		_, err = s.UpdateOrder(ctx, OrderUpdate{ID: order.ID, Quantity: 1})
		require.NoError(t, err)
		assert.Equal(t, 4, mem.quantity(bookID))
	})

	t.Run("delta beyond stock", func(t *testing.T) {
		s, mem := newTestStorage(t, Config{})
		bookID := mem.addBook("Dune", 5)
		order, err := s.CreateOrder(ctx, bookID, 2, 1)
		require.NoError(t, err)

		_, err = s.UpdateOrder(ctx, OrderUpdate{ID: order.ID, Quantity: 6})
		assert.ErrorIs(t, err, ErrInsufficientStock)
		assert.Equal(t, 3, mem.quantity(bookID))
		stored, _ := mem.order(order.ID)
		assert.Equal(t, 2, stored.Quantity)
	})

	t.Run("stale version", func(t *testing.T) {
		s, mem := newTestStorage(t, Config{})
		bookID := mem.addBook("Dune", 5)
		order, err := s.CreateOrder(ctx, bookID, 2, 1)
		require.NoError(t, err)
		_, err = s.ApproveOrder(ctx, order.ID)
		require.NoError(t, err)

		_, err = s.UpdateOrder(ctx, OrderUpdate{ID: order.ID, Quantity: 3, Version: order.Version})
		assert.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, 3, mem.quantity(bookID))
	})

	t.Run("explicit dates", func(t *testing.T) {
		s, mem := newTestStorage(t, Config{})
		bookID := mem.addBook("Dune", 5)
		order, err := s.CreateOrder(ctx, bookID, 2, 1)
		require.NoError(t, err)

		orderDate := fixedTime.Add(24 * time.Hour)
		returnDate := fixedTime.Add(48 * time.Hour)
		updated, err := s.UpdateOrder(ctx, OrderUpdate{ID: order.ID, Quantity: 2, OrderDate: orderDate, ReturnDate: returnDate})
		require.NoError(t, err)
		assert.Equal(t, orderDate, updated.OrderDate)
		assert.Equal(t, returnDate, updated.ReturnDate)

		_, err = s.UpdateOrder(ctx, OrderUpdate{ID: order.ID, Quantity: 2, OrderDate: returnDate, ReturnDate: orderDate})
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("missing order", func(t *testing.T) {
		s, _ := newTestStorage(t, Config{})

		_, err := s.UpdateOrder(ctx, OrderUpdate{ID: 5, Quantity: 1})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStorage_DeleteOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("pending order restocks", func(t *testing.T) {
		s, mem := newTestStorage(t, Config{})
		bookID := mem.addBook("Dune", 5)
		order, err := s.CreateOrder(ctx, bookID, 3, 1)
		require.NoError(t, err)

		require.NoError(t, s.DeleteOrder(ctx, order.ID))
		assert.Equal(t, 5, mem.quantity(bookID))
		_, ok := mem.order(order.ID)
		assert.False(t, ok)
		assert.Equal(t, []string{"Pending", "Deleted"}, mem.historyOf(order.ID))
	})

	t.Run("approved order is refused", func(t *testing.T) {
		s, mem := newTestStorage(t, Config{})
		bookID := mem.addBook("Dune", 5)
		order, err := s.CreateOrder(ctx, bookID, 3, 1)
		require.NoError(t, err)
		_, err = s.ApproveOrder(ctx, order.ID)
		require.NoError(t, err)

		err = s.DeleteOrder(ctx, order.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, 2, mem.quantity(bookID))
		_, ok := mem.order(order.ID)
		assert.True(t, ok)
	})

	t.Run("denied order is removed without restock", func(t *testing.T) {
		s, mem := newTestStorage(t, Config{})
		bookID := mem.addBook("Dune", 5)
		order, err := s.CreateOrder(ctx, bookID, 3, 1)
		require.NoError(t, err)
		_, err = s.DenyOrder(ctx, order.ID)
		require.NoError(t, err)

		require.NoError(t, s.DeleteOrder(ctx, order.ID))
		assert.Equal(t, 5, mem.quantity(bookID))
	})

	t.Run("missing order", func(t *testing.T) {
		s, _ := newTestStorage(t, Config{})
		assert.ErrorIs(t, s.DeleteOrder(ctx, 1), ErrNotFound)
	})

	t.Run("someone else's order", func(t *testing.T) {
		s, mem := newTestStorage(t, Config{})
		bookID := mem.addBook("Dune", 5)
		order, err := s.CreateOrder(ctx, bookID, 1, 1)
		require.NoError(t, err)

		other := auth.WithCaller(ctx, auth.Caller{UserID: 2, Role: auth.RoleUser})
		assert.ErrorIs(t, s.DeleteOrder(other, order.ID), ErrForbidden)
		assert.Equal(t, 4, mem.quantity(bookID))

		owner := auth.WithCaller(ctx, auth.Caller{UserID: 1, Role: auth.RoleUser})
		assert.NoError(t, s.DeleteOrder(owner, order.ID))
	})

	t.Run("owner cannot delete a finished order", func(t *testing.T) {
		s, mem := newTestStorage(t, Config{})
		bookID := mem.addBook("Dune", 5)
		order, err := s.CreateOrder(ctx, bookID, 1, 1)
		require.NoError(t, err)
		_, err = s.DenyOrder(ctx, order.ID)
		require.NoError(t, err)

		owner := auth.WithCaller(ctx, auth.Caller{UserID: 1, Role: auth.RoleUser})
		assert.ErrorIs(t, s.DeleteOrder(owner, order.ID), ErrForbidden)
		_, ok := mem.order(order.ID)
		assert.True(t, ok)

		admin := auth.WithCaller(ctx, auth.Caller{UserID: 9, Role: auth.RoleAdmin})
		assert.NoError(t, s.DeleteOrder(admin, order.ID))
	})
}

func TestStorage_CartLimit(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStorage(t, Config{CartLimit: 2})
	bookID := mem.addBook("Dune", 10)

	first, err := s.CreateOrder(ctx, bookID, 1, 1)
	require.NoError(t, err)
	_, err = s.CreateOrder(ctx, bookID, 1, 1)
	require.NoError(t, err)

	_, err = s.CreateOrder(ctx, bookID, 1, 1)
	assert.ErrorIs(t, err, ErrCartLimitExceeded)
	assert.Equal(t, 8, mem.quantity(bookID))

	_, err = s.CreateOrder(ctx, bookID, 1, 2)
	assert.NoError(t, err)

	_, err = s.DenyOrder(ctx, first.ID)
	require.NoError(t, err)
	_, err = s.CreateOrder(ctx, bookID, 1, 1)
	assert.NoError(t, err)
}

func TestStorage_ConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStorage(t, Config{})
	bookID := mem.addBook("Dune", 20)

	const workers = 50
	var (
		wg           sync.WaitGroup
		successCount atomic.Int32
		stockErrors  atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := s.CreateOrder(ctx, bookID, 1, userID)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, ErrInsufficientStock):
				stockErrors.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, int32(20), successCount.Load())
	assert.Equal(t, int32(30), stockErrors.Load())
	assert.Equal(t, 0, mem.quantity(bookID))
	assert.Equal(t, 20, mem.reserved(bookID))
}

func TestStorage_RollbackOnOrderWriteFailure(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStorage(t, Config{})
	bookID := mem.addBook("Dune", 5)
	mem.failOrderCreate = errors.New("disk full")

	_, err := s.CreateOrder(ctx, bookID, 3, 1)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 5, mem.quantity(bookID))
	assert.Zero(t, mem.outboxLen())
}

func TestStorage_ReservationInvariant(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStorage(t, Config{})
	bookID := mem.addBook("Dune", 10)

	a, err := s.CreateOrder(ctx, bookID, 3, 1)
	require.NoError(t, err)
	b, err := s.CreateOrder(ctx, bookID, 2, 2)
	require.NoError(t, err)
	c, err := s.CreateOrder(ctx, bookID, 4, 3)
	require.NoError(t, err)

	_, _ = s.ApproveOrder(ctx, a.ID)
	_, _ = s.DenyOrder(ctx, b.ID)
	_, _ = s.UpdateOrder(ctx, OrderUpdate{ID: c.ID, Quantity: 5})
	_, _ = s.ReturnOrder(ctx, b.ID)
	_, _ = s.CreateOrder(ctx, bookID, 9, 4)
	_ = s.DeleteOrder(ctx, c.ID)
	_, _ = s.ReturnOrder(ctx, a.ID)

	assert.GreaterOrEqual(t, mem.quantity(bookID), 0)
	assert.Equal(t, 10, mem.quantity(bookID)+mem.reserved(bookID))
}

func TestStorage_ReadSide(t *testing.T) {
	ctx := context.Background()
	mem := newMemStore()
	orderCache := cache.NewOrderCache(mem.repos().Orders, nil)
	s := NewStorage(mem, mem.repos(), orderCache, Config{})
	s.timeNow = func() time.Time { return fixedTime }
	bookID := mem.addBook("Dune", 5)

	order, err := s.CreateOrder(ctx, bookID, 1, 1)
	require.NoError(t, err)

	t.Run("active order is served from cache", func(t *testing.T) {
		cached, ok := orderCache.Get(order.ID)
		require.True(t, ok)
		assert.Equal(t, string(StatusPending), cached.Status)

		got, err := s.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, order, got)
	})

	t.Run("other users cannot read it", func(t *testing.T) {
		other := auth.WithCaller(ctx, auth.Caller{UserID: 2, Role: auth.RoleUser})
		_, err := s.GetOrder(other, order.ID)
		assert.ErrorIs(t, err, ErrForbidden)

		_, err = s.ListUserOrders(other, 1)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("cart and admin listing", func(t *testing.T) {
		cart, err := s.ListUserOrders(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, cart, 1)

		pending, err := s.ListOrders(ctx, StatusPending)
		require.NoError(t, err)
		assert.Len(t, pending, 1)

		_, err = s.ListOrders(auth.WithCaller(ctx, auth.Caller{UserID: 1, Role: auth.RoleUser}), "")
		assert.ErrorIs(t, err, ErrForbidden)

		_, err = s.ListOrders(ctx, "Lost")
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("finished order leaves the cache", func(t *testing.T) {
		_, err := s.DenyOrder(ctx, order.ID)
		require.NoError(t, err)

		_, ok := orderCache.Get(order.ID)
		assert.False(t, ok)

		got, err := s.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusDenied, got.Status)
	})

	t.Run("history survives deletion", func(t *testing.T) {
		require.NoError(t, s.DeleteOrder(ctx, order.ID))

		exists, err := s.OrderExists(ctx, order.ID)
		require.NoError(t, err)
		assert.False(t, exists)

		history, err := s.GetOrderHistory(ctx, order.ID)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, "Deleted", history[2].Status)

		owner := auth.WithCaller(ctx, auth.Caller{UserID: 1, Role: auth.RoleUser})
		_, err = s.GetOrderHistory(owner, order.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown order history", func(t *testing.T) {
		_, err := s.GetOrderHistory(ctx, 777)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestOrderStatus(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusDenied, true},
		{StatusPending, StatusReturned, false},
		{StatusApproved, StatusReturned, true},
		{StatusApproved, StatusDenied, false},
		{StatusDenied, StatusReturned, false},
		{StatusReturned, StatusApproved, false},
	}
	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.from.CanTransitionTo(tc.to))
		})
	}

	assert.True(t, StatusApproved.HoldsReservation())
	assert.False(t, StatusDenied.HoldsReservation())
}
