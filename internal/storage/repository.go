//go:generate mockgen -source ./repository.go -destination=./mocks/repository.go -package=mock_storage
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/repository"
)

type Transactor interface {
	BeginTx(ctx context.Context) (db.Tx, error)
}

type BookRepository interface {
	GetByID(ctx context.Context, id int64) (*repository.Book, error)
	GetByIDTx(ctx context.Context, tx db.Tx, id int64) (*repository.Book, error)
	Create(ctx context.Context, book *repository.Book) error
	Update(ctx context.Context, book *repository.Book) error
	UpdateTx(ctx context.Context, tx db.Tx, book *repository.Book) error
	DeleteTx(ctx context.Context, tx db.Tx, id int64) error
	Exists(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context, filter repository.BookFilter) ([]*repository.Book, error)
	Count(ctx context.Context, filter repository.BookFilter) (int, error)
}

type CategoryRepository interface {
	List(ctx context.Context) ([]*repository.Category, error)
	GetByID(ctx context.Context, id int64) (*repository.Category, error)
	Create(ctx context.Context, category *repository.Category) error
	Update(ctx context.Context, category *repository.Category) error
	Delete(ctx context.Context, id int64) error
	Exists(ctx context.Context, id int64) (bool, error)
}

type UserRepository interface {
	Create(ctx context.Context, user *repository.User) error
	GetByID(ctx context.Context, id int64) (*repository.User, error)
	GetByLogin(ctx context.Context, login string) (*repository.User, error)
	Update(ctx context.Context, user *repository.User) error
}

type OrderRepository interface {
	CreateTx(ctx context.Context, tx db.Tx, order *repository.Order) error
	GetByID(ctx context.Context, id int64) (*repository.Order, error)
	GetByIDTx(ctx context.Context, tx db.Tx, id int64) (*repository.Order, error)
	UpdateTx(ctx context.Context, tx db.Tx, order *repository.Order) error
	DeleteTx(ctx context.Context, tx db.Tx, id int64) error
	Exists(ctx context.Context, id int64) (bool, error)
	CountActiveByUserTx(ctx context.Context, tx db.Tx, userID int64) (int, error)
	CountActiveByBookTx(ctx context.Context, tx db.Tx, bookID int64) (int, error)
	GetByUserID(ctx context.Context, userID int64) ([]*repository.Order, error)
	GetAll(ctx context.Context, status string) ([]*repository.Order, error)
	GetAllActiveOrders(ctx context.Context) ([]*repository.Order, error)
}

type HistoryRepository interface {
	CreateTx(ctx context.Context, tx db.Tx, entry *repository.HistoryEntry) error
	GetByOrderID(ctx context.Context, orderID int64) ([]*repository.HistoryEntry, error)
}

type OutboxTaskRepository interface {
	CreateTx(ctx context.Context, tx db.Tx, task *repository.OutboxTask) error
	GetProcessableTasksTx(ctx context.Context, tx db.Tx, limit, maxAttempts int, staleBefore time.Time) ([]*repository.OutboxTask, error)
	UpdateTaskStatusTx(ctx context.Context, tx db.Tx, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error
	UpdateTaskStatus(ctx context.Context, conn db.DB, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error
	DeleteDoneBefore(ctx context.Context, conn db.DB, before time.Time, limit int) (int64, error)
}

// OrderCache mirrors orders that still hold a reservation.
type OrderCache interface {
	Get(orderID int64) (*repository.Order, bool)
	Set(order *repository.Order)
	Delete(orderID int64)
}
