package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/repository"
)

const (
	DefaultCartLimit  = 5
	DefaultLoanPeriod = 21 * 24 * time.Hour
	DefaultTopic      = "library.orders"
)

type Config struct {
	CartLimit   int
	LoanPeriod  time.Duration
	OrdersTopic string
}

type Repositories struct {
	Books      BookRepository
	Categories CategoryRepository
	Users      UserRepository
	Orders     OrderRepository
	History    HistoryRepository
	Outbox     OutboxTaskRepository
}

// LibraryStorage runs every catalog, account and order operation. Each order
// operation is one database transaction that moves stock and order state
// together, records history and queues an order event.
type LibraryStorage struct {
	db         Transactor
	books      BookRepository
	categories CategoryRepository
	users      UserRepository
	orders     OrderRepository
	history    HistoryRepository
	outbox     OutboxTaskRepository
	cache      OrderCache
	cfg        Config
	timeNow    func() time.Time
	hashCost   int
}

func NewStorage(tx Transactor, repos Repositories, cache OrderCache, cfg Config) *LibraryStorage {
	if cfg.LoanPeriod <= 0 {
		cfg.LoanPeriod = DefaultLoanPeriod
	}
	if cfg.OrdersTopic == "" {
		cfg.OrdersTopic = DefaultTopic
	}
	if cache == nil {
		cache = noopCache{}
	}
	return &LibraryStorage{
		db:         tx,
		books:      repos.Books,
		categories: repos.Categories,
		users:      repos.Users,
		orders:     repos.Orders,
		history:    repos.History,
		outbox:     repos.Outbox,
		cache:      cache,
		cfg:        cfg,
		timeNow:    time.Now,
		hashCost:   bcrypt.DefaultCost,
	}
}

// inTx runs fn in a transaction, rolling back on any error. Version check
// failures and Postgres serialization aborts come back as ErrConflict.
func (s *LibraryStorage) inTx(ctx context.Context, fn func(tx db.Tx) error) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return asConflict(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return asConflict(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func asConflict(err error) error {
	if errors.Is(err, ErrConflict) || !repository.IsConflict(err) {
		return err
	}
	metrics.StockConflictsTotal.Inc()
	return &ConflictError{Cause: err}
}

func (s *LibraryStorage) now() time.Time {
	return s.timeNow().UTC()
}

// requireAdmin rejects authenticated non-admin callers. Contexts without a
// caller belong to internal jobs and pass.
func requireAdmin(ctx context.Context) error {
	caller, ok := auth.FromContext(ctx)
	if ok && !caller.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// requireSelf lets admins and the user identified by userID through.
func requireSelf(ctx context.Context, userID int64) error {
	caller, ok := auth.FromContext(ctx)
	if ok && !caller.IsAdmin() && caller.UserID != userID {
		return ErrForbidden
	}
	return nil
}

type noopCache struct{}

func (noopCache) Get(int64) (*repository.Order, bool) { return nil, false }
func (noopCache) Set(*repository.Order)               {}
func (noopCache) Delete(int64)                        {}
