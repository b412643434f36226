package storage

import (
	"time"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/repository"
)

type OrderStatus string

const (
	StatusPending  OrderStatus = "Pending"
	StatusApproved OrderStatus = "Approved"
	StatusDenied   OrderStatus = "Denied"
	StatusReturned OrderStatus = "Returned"

	// statusDeleted only appears in order history.
	statusDeleted = "Deleted"
)

// HoldsReservation reports whether an order in this status still keeps its
// quantity out of the book's available stock.
func (s OrderStatus) HoldsReservation() bool {
	return s == StatusPending || s == StatusApproved
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusDenied
	case StatusApproved:
		return next == StatusReturned
	default:
		return false
	}
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDenied, StatusReturned:
		return true
	}
	return false
}

type Book struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	CategoryID   int64     `json:"category_id"`
	CategoryName string    `json:"category_name,omitempty"`
	Description  string    `json:"description"`
	PictureURL   string    `json:"picture_url"`
	Quantity     int       `json:"quantity"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      auth.Role `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type Order struct {
	ID         int64       `json:"id"`
	BookID     int64       `json:"book_id"`
	UserID     int64       `json:"user_id"`
	Quantity   int         `json:"quantity"`
	Status     OrderStatus `json:"status"`
	OrderDate  time.Time   `json:"order_date"`
	ReturnDate time.Time   `json:"return_date"`
	Version    int64       `json:"version"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

type HistoryEntry struct {
	Status    string    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
}

func bookFromRepo(b *repository.Book) *Book {
	return &Book{
		ID:           b.ID,
		Title:        b.Title,
		Author:       b.Author,
		CategoryID:   b.CategoryID,
		CategoryName: b.CategoryName,
		Description:  b.Description,
		PictureURL:   b.PictureURL,
		Quantity:     b.Quantity,
		Version:      b.Version,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func bookToRepo(b *Book) *repository.Book {
	return &repository.Book{
		ID:          b.ID,
		Title:       b.Title,
		Author:      b.Author,
		CategoryID:  b.CategoryID,
		Description: b.Description,
		PictureURL:  b.PictureURL,
		Quantity:    b.Quantity,
		Version:     b.Version,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

func userFromRepo(u *repository.User) *User {
	return &User{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      auth.Role(u.Role),
		CreatedAt: u.CreatedAt,
	}
}

func orderFromRepo(o *repository.Order) *Order {
	return &Order{
		ID:         o.ID,
		BookID:     o.BookID,
		UserID:     o.UserID,
		Quantity:   o.Quantity,
		Status:     OrderStatus(o.Status),
		OrderDate:  o.OrderDate,
		ReturnDate: o.ReturnDate,
		Version:    o.Version,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func ordersFromRepo(repoOrders []*repository.Order) []Order {
	orders := make([]Order, len(repoOrders))
	for i, repoOrder := range repoOrders {
		orders[i] = *orderFromRepo(repoOrder)
	}
	return orders
}
