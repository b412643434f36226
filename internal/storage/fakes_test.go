package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/repository"
)

// memStore is an in-memory stand-in for Postgres. Transactions are serialized
// by txLock, which is a coarse version of the row locks the real repositories
// take, and roll back by restoring a snapshot.
type memStore struct {
	txLock sync.Mutex

	mu         sync.Mutex
	books      map[int64]repository.Book
	categories map[int64]repository.Category
	users      map[int64]repository.User
	orders     map[int64]repository.Order
	history    []repository.HistoryEntry
	outbox     []repository.OutboxTask
	nextID     int64

	failOrderCreate error
}

func newMemStore() *memStore {
	return &memStore{
		books:      make(map[int64]repository.Book),
		categories: make(map[int64]repository.Category),
		users:      make(map[int64]repository.User),
		orders:     make(map[int64]repository.Order),
	}
}

func (m *memStore) repos() Repositories {
	return Repositories{
		Books:      memBooks{m},
		Categories: memCategories{m},
		Users:      memUsers{m},
		Orders:     memOrders{m},
		History:    memHistory{m},
		Outbox:     memOutbox{m},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) addCategory(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.categories[id] = repository.Category{ID: id, Name: name}
	return id
}

func (m *memStore) addBook(title string, quantity int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.books[id] = repository.Book{ID: id, Title: title, Author: "Author " + title, Quantity: quantity, Version: 1}
	return id
}

func (m *memStore) quantity(bookID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.books[bookID].Quantity
}

func (m *memStore) order(orderID int64) (repository.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	return o, ok
}

func (m *memStore) reserved(bookID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, o := range m.orders {
		if o.BookID == bookID && OrderStatus(o.Status).HoldsReservation() {
			total += o.Quantity
		}
	}
	return total
}

func (m *memStore) historyOf(orderID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var statuses []string
	for _, h := range m.history {
		if h.OrderID == orderID {
			statuses = append(statuses, h.Status)
		}
	}
	return statuses
}

func (m *memStore) outboxLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outbox)
}

type memSnapshot struct {
	books      map[int64]repository.Book
	categories map[int64]repository.Category
	users      map[int64]repository.User
	orders     map[int64]repository.Order
	history    []repository.HistoryEntry
	outbox     []repository.OutboxTask
	nextID     int64
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (m *memStore) BeginTx(ctx context.Context) (db.Tx, error) {
	m.txLock.Lock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return &memTx{store: m, snap: memSnapshot{
		books:      copyMap(m.books),
		categories: copyMap(m.categories),
		users:      copyMap(m.users),
		orders:     copyMap(m.orders),
		history:    append([]repository.HistoryEntry(nil), m.history...),
		outbox:     append([]repository.OutboxTask(nil), m.outbox...),
		nextID:     m.nextID,
	}}, nil
}

type memTx struct {
	store *memStore
	snap  memSnapshot
	done  bool
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("transaction already closed")
	}
	t.done = true
	t.store.txLock.Unlock()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	m := t.store
	m.mu.Lock()
	m.books, m.categories, m.users, m.orders = t.snap.books, t.snap.categories, t.snap.users, t.snap.orders
	m.history, m.outbox, m.nextID = t.snap.history, t.snap.outbox, t.snap.nextID
	m.mu.Unlock()
	m.txLock.Unlock()
	return nil
}

func (t *memTx) Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
	return nil, errors.New("memTx does not run SQL")
}

func (t *memTx) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return errors.New("memTx does not run SQL")
}

func (t *memTx) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return errors.New("memTx does not run SQL")
}

type memBooks struct{ m *memStore }

func (r memBooks) GetByID(ctx context.Context, id int64) (*repository.Book, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	b, ok := r.m.books[id]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	if c, ok := r.m.categories[b.CategoryID]; ok {
		b.CategoryName = c.Name
	}
	return &b, nil
}

func (r memBooks) GetByIDTx(ctx context.Context, tx db.Tx, id int64) (*repository.Book, error) {
	return r.GetByID(ctx, id)
}

func (r memBooks) Create(ctx context.Context, book *repository.Book) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	book.ID = r.m.id()
	book.Version = 1
	r.m.books[book.ID] = *book
	return nil
}

func (r memBooks) Update(ctx context.Context, book *repository.Book) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.books[book.ID]
	if !ok || stored.Version != book.Version {
		return repository.ErrOptimisticLock
	}
	if book.Quantity < 0 {
		return &pgconn.PgError{Code: "23514"}
	}
	book.Version++
	book.CategoryName = ""
	r.m.books[book.ID] = *book
	return nil
}

func (r memBooks) UpdateTx(ctx context.Context, tx db.Tx, book *repository.Book) error {
	return r.Update(ctx, book)
}

func (r memBooks) DeleteTx(ctx context.Context, tx db.Tx, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.books[id]; !ok {
		return repository.ErrObjectNotFound
	}
	delete(r.m.books, id)
	for oid, o := range r.m.orders {
		if o.BookID == id {
			delete(r.m.orders, oid)
		}
	}
	return nil
}

func (r memBooks) Exists(ctx context.Context, id int64) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	_, ok := r.m.books[id]
	return ok, nil
}

func (r memBooks) filtered(filter repository.BookFilter) []*repository.Book {
	contains := func(s, sub string) bool {
		return sub == "" || strings.Contains(strings.ToLower(s), strings.ToLower(sub))
	}
	var out []*repository.Book
	for _, b := range r.m.books {
		b := b
		if c, ok := r.m.categories[b.CategoryID]; ok {
			b.CategoryName = c.Name
		}
		if contains(b.Title, filter.Title) && contains(b.Author, filter.Author) && contains(b.CategoryName, filter.Category) {
			out = append(out, &b)
		}
	}
	return out
}

func (r memBooks) List(ctx context.Context, filter repository.BookFilter) ([]*repository.Book, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	books := r.filtered(filter)
	sort.Slice(books, func(i, j int) bool {
		if filter.SortOrder == "title_desc" {
			return books[i].Title > books[j].Title
		}
		return books[i].Title < books[j].Title
	})
	if filter.Offset >= len(books) {
		return nil, nil
	}
	books = books[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(books) {
		books = books[:filter.Limit]
	}
	return books, nil
}

func (r memBooks) Count(ctx context.Context, filter repository.BookFilter) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return len(r.filtered(filter)), nil
}

type memCategories struct{ m *memStore }

func (r memCategories) List(ctx context.Context) ([]*repository.Category, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*repository.Category
	for _, c := range r.m.categories {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memCategories) GetByID(ctx context.Context, id int64) (*repository.Category, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.categories[id]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	return &c, nil
}

func (r memCategories) Create(ctx context.Context, category *repository.Category) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, c := range r.m.categories {
		if c.Name == category.Name {
			return &pgconn.PgError{Code: "23505"}
		}
	}
	category.ID = r.m.id()
	r.m.categories[category.ID] = *category
	return nil
}

func (r memCategories) Update(ctx context.Context, category *repository.Category) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.categories[category.ID]; !ok {
		return repository.ErrObjectNotFound
	}
	r.m.categories[category.ID] = *category
	return nil
}

func (r memCategories) Delete(ctx context.Context, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.categories[id]; !ok {
		return repository.ErrObjectNotFound
	}
	for _, b := range r.m.books {
		if b.CategoryID == id {
			return &pgconn.PgError{Code: "23503"}
		}
	}
	delete(r.m.categories, id)
	return nil
}

func (r memCategories) Exists(ctx context.Context, id int64) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	_, ok := r.m.categories[id]
	return ok, nil
}

type memUsers struct{ m *memStore }

func (r memUsers) taken(user *repository.User) bool {
	for _, u := range r.m.users {
		if u.ID != user.ID && (strings.EqualFold(u.Name, user.Name) || strings.EqualFold(u.Email, user.Email)) {
			return true
		}
	}
	return false
}

func (r memUsers) Create(ctx context.Context, user *repository.User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.taken(user) {
		return &pgconn.PgError{Code: "23505"}
	}
	user.ID = r.m.id()
	r.m.users[user.ID] = *user
	return nil
}

func (r memUsers) GetByID(ctx context.Context, id int64) (*repository.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	return &u, nil
}

func (r memUsers) GetByLogin(ctx context.Context, login string) (*repository.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var byName *repository.User
	for _, u := range r.m.users {
		u := u
		if strings.EqualFold(u.Email, login) {
			return &u, nil
		}
		if strings.EqualFold(u.Name, login) && (byName == nil || u.ID < byName.ID) {
			byName = &u
		}
	}
	if byName == nil {
		return nil, repository.ErrObjectNotFound
	}
	return byName, nil
}

func (r memUsers) Update(ctx context.Context, user *repository.User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.users[user.ID]; !ok {
		return repository.ErrObjectNotFound
	}
	if r.taken(user) {
		return &pgconn.PgError{Code: "23505"}
	}
	r.m.users[user.ID] = *user
	return nil
}

type memOrders struct{ m *memStore }

func (r memOrders) CreateTx(ctx context.Context, tx db.Tx, order *repository.Order) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failOrderCreate != nil {
		return r.m.failOrderCreate
	}
	order.ID = r.m.id()
	order.Version = 1
	r.m.orders[order.ID] = *order
	return nil
}

func (r memOrders) GetByID(ctx context.Context, id int64) (*repository.Order, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	o, ok := r.m.orders[id]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	return &o, nil
}

func (r memOrders) GetByIDTx(ctx context.Context, tx db.Tx, id int64) (*repository.Order, error) {
	return r.GetByID(ctx, id)
}

func (r memOrders) UpdateTx(ctx context.Context, tx db.Tx, order *repository.Order) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.orders[order.ID]
	if !ok || stored.Version != order.Version {
		return repository.ErrOptimisticLock
	}
	order.Version++
	r.m.orders[order.ID] = *order
	return nil
}

func (r memOrders) DeleteTx(ctx context.Context, tx db.Tx, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.orders[id]; !ok {
		return repository.ErrObjectNotFound
	}
	delete(r.m.orders, id)
	return nil
}

func (r memOrders) Exists(ctx context.Context, id int64) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	_, ok := r.m.orders[id]
	return ok, nil
}

func (r memOrders) countActive(match func(repository.Order) bool) int {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	n := 0
	for _, o := range r.m.orders {
		if match(o) && OrderStatus(o.Status).HoldsReservation() {
			n++
		}
	}
	return n
}

func (r memOrders) CountActiveByUserTx(ctx context.Context, tx db.Tx, userID int64) (int, error) {
	return r.countActive(func(o repository.Order) bool { return o.UserID == userID }), nil
}

func (r memOrders) CountActiveByBookTx(ctx context.Context, tx db.Tx, bookID int64) (int, error) {
	return r.countActive(func(o repository.Order) bool { return o.BookID == bookID }), nil
}

func (r memOrders) list(match func(repository.Order) bool) []*repository.Order {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*repository.Order
	for _, o := range r.m.orders {
		o := o
		if match(o) {
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (r memOrders) GetByUserID(ctx context.Context, userID int64) ([]*repository.Order, error) {
	return r.list(func(o repository.Order) bool { return o.UserID == userID }), nil
}

func (r memOrders) GetAll(ctx context.Context, status string) ([]*repository.Order, error) {
	return r.list(func(o repository.Order) bool { return status == "" || o.Status == status }), nil
}

func (r memOrders) GetAllActiveOrders(ctx context.Context) ([]*repository.Order, error) {
	return r.list(func(o repository.Order) bool { return OrderStatus(o.Status).HoldsReservation() }), nil
}

type memHistory struct{ m *memStore }

func (r memHistory) CreateTx(ctx context.Context, tx db.Tx, entry *repository.HistoryEntry) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	entry.ID = int64(len(r.m.history) + 1)
	r.m.history = append(r.m.history, *entry)
	return nil
}

func (r memHistory) GetByOrderID(ctx context.Context, orderID int64) ([]*repository.HistoryEntry, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*repository.HistoryEntry
	for _, h := range r.m.history {
		h := h
		if h.OrderID == orderID {
			out = append(out, &h)
		}
	}
	return out, nil
}

type memOutbox struct{ m *memStore }

func (r memOutbox) CreateTx(ctx context.Context, tx db.Tx, task *repository.OutboxTask) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	task.ID = uuid.New()
	task.Status = repository.TaskStatusCreated
	r.m.outbox = append(r.m.outbox, *task)
	return nil
}

func (r memOutbox) GetProcessableTasksTx(ctx context.Context, tx db.Tx, limit, maxAttempts int, staleBefore time.Time) ([]*repository.OutboxTask, error) {
	return nil, nil
}

func (r memOutbox) UpdateTaskStatusTx(ctx context.Context, tx db.Tx, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error {
	return nil
}

func (r memOutbox) UpdateTaskStatus(ctx context.Context, conn db.DB, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error {
	return nil
}

func (r memOutbox) DeleteDoneBefore(ctx context.Context, conn db.DB, before time.Time, limit int) (int64, error) {
	return 0, nil
}
